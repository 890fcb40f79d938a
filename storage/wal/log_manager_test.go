package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xstoragedb/xstorage/storage/common"
)

func TestAppendAndFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	lm, err := NewLogManager(path)
	require.NoError(t, err)

	lsn1, err := lm.AppendRecord([]byte("first record"))
	require.NoError(t, err)
	lsn2, err := lm.AppendRecord([]byte("second record"))
	require.NoError(t, err)

	// LSN单调递增
	assert.Equal(t, common.LSNT(1), lsn1)
	assert.Equal(t, common.LSNT(2), lsn2)
	assert.Equal(t, common.LSNT(3), lm.NextLSN())

	require.NoError(t, lm.Flush())

	info, err := os.Stat(path)
	require.NoError(t, err)
	// lsn(8) + len(4) + payload 两条
	expected := int64(8+4+len("first record")) + int64(8+4+len("second record"))
	assert.Equal(t, expected, info.Size())

	require.NoError(t, lm.Close())
}

func TestFlushEmptyBufferIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	lm, err := NewLogManager(path)
	require.NoError(t, err)
	defer lm.Close()

	require.NoError(t, lm.Flush())
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}
