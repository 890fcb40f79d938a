package buffer

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xstoragedb/xstorage/storage/common"
	"github.com/xstoragedb/xstorage/storage/disk"
	"github.com/xstoragedb/xstorage/storage/page"
)

func newTestBPM(t *testing.T, poolSize int) *BufferPoolManager {
	t.Helper()
	dir := t.TempDir()
	diskMgr, err := disk.NewFileDiskManager(filepath.Join(dir, "test.ibd"))
	require.NoError(t, err)
	t.Cleanup(func() { diskMgr.Close() })
	return NewBufferPoolManager(poolSize, 2, diskMgr, nil)
}

func TestBufferPoolManagerBasic(t *testing.T) {
	bpm := newTestBPM(t, 10)

	t.Run("新建页面并写入内容", func(t *testing.T) {
		pid, p := bpm.NewPage()
		require.NotNil(t, p)
		assert.Equal(t, 1, p.GetPinCount())

		copy(p.Data(), "Hello")
		assert.True(t, bpm.UnpinPage(pid, true))

		p2 := bpm.FetchPage(pid)
		require.NotNil(t, p2)
		assert.Equal(t, "Hello", string(p2.Data()[:5]))
		assert.True(t, bpm.UnpinPage(pid, false))
	})

	t.Run("重复unpin返回false", func(t *testing.T) {
		pid, p := bpm.NewPage()
		require.NotNil(t, p)
		assert.True(t, bpm.UnpinPage(pid, false))
		assert.False(t, bpm.UnpinPage(pid, false))
	})

	t.Run("不驻留的页面flush返回false", func(t *testing.T) {
		assert.False(t, bpm.FlushPage(common.PageID(9999)))
	})
}

func TestPoolExhaustion(t *testing.T) {
	const poolSize = 10
	bpm := newTestBPM(t, poolSize)

	pages := make([]common.PageID, 0, poolSize)
	for i := 0; i < poolSize; i++ {
		pid, p := bpm.NewPage()
		require.NotNil(t, p)
		pages = append(pages, pid)
	}

	// 所有帧都被pin住，再分配失败
	_, p := bpm.NewPage()
	assert.Nil(t, p)
	assert.Nil(t, bpm.FetchPage(common.PageID(500)))

	// 释放一个帧后恢复
	require.True(t, bpm.UnpinPage(pages[0], false))
	_, p = bpm.NewPage()
	assert.NotNil(t, p)
}

func TestDirtyPageSurvivesEviction(t *testing.T) {
	const poolSize = 4
	bpm := newTestBPM(t, poolSize)

	pid, p := bpm.NewPage()
	require.NotNil(t, p)
	copy(p.Data(), "persist me")
	require.True(t, bpm.UnpinPage(pid, true))

	// 占满缓冲池把脏页挤出去
	for i := 0; i < poolSize*2; i++ {
		newPid, np := bpm.NewPage()
		require.NotNil(t, np)
		require.True(t, bpm.UnpinPage(newPid, false))
	}

	p2 := bpm.FetchPage(pid)
	require.NotNil(t, p2)
	assert.Equal(t, "persist me", string(p2.Data()[:10]))
	require.True(t, bpm.UnpinPage(pid, false))
}

func TestDeletePage(t *testing.T) {
	bpm := newTestBPM(t, 10)

	pid, p := bpm.NewPage()
	require.NotNil(t, p)

	// pin住时删除失败且状态不变
	assert.False(t, bpm.DeletePage(pid))
	fetched := bpm.FetchPage(pid)
	require.NotNil(t, fetched)
	assert.Equal(t, 2, fetched.GetPinCount())

	require.True(t, bpm.UnpinPage(pid, false))
	require.True(t, bpm.UnpinPage(pid, false))
	assert.True(t, bpm.DeletePage(pid))

	// 不驻留的页面删除视为成功
	assert.True(t, bpm.DeletePage(common.PageID(4242)))
}

func TestConcurrentFetch(t *testing.T) {
	const poolSize = 16
	bpm := newTestBPM(t, poolSize)

	// 先创建poolSize个页面再全部释放
	pids := make([]common.PageID, 0, poolSize)
	for i := 0; i < poolSize; i++ {
		pid, p := bpm.NewPage()
		require.NotNil(t, p)
		require.True(t, bpm.UnpinPage(pid, false))
		pids = append(pids, pid)
	}

	var wg sync.WaitGroup
	fetched := make([]*page.Page, poolSize)
	for i := 0; i < poolSize; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fetched[i] = bpm.FetchPage(pids[i])
		}(i)
	}
	wg.Wait()

	for i := 0; i < poolSize; i++ {
		require.NotNil(t, fetched[i])
		assert.Equal(t, 1, fetched[i].GetPinCount())
	}

	// 第poolSize+1次fetch失败
	assert.Nil(t, bpm.FetchPage(common.PageID(999)))

	for i := 0; i < poolSize; i++ {
		assert.True(t, bpm.UnpinPage(pids[i], false))
	}
}

func TestFlushAllPages(t *testing.T) {
	bpm := newTestBPM(t, 8)

	pids := make([]common.PageID, 0, 4)
	for i := 0; i < 4; i++ {
		pid, p := bpm.NewPage()
		require.NotNil(t, p)
		p.Data()[0] = byte(i + 1)
		require.True(t, bpm.UnpinPage(pid, true))
		pids = append(pids, pid)
	}

	bpm.FlushAllPages()

	stats := bpm.Stats()
	assert.GreaterOrEqual(t, stats["flushes"], uint64(4))
}
