package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewCfg()
	assert.Equal(t, 4096, cfg.PageSize)
	assert.Equal(t, 1024, cfg.BufferPoolPages)
	assert.Equal(t, 2, cfg.ReplacerK)
	assert.Equal(t, filepath.Join("data", "xstorage.ibd"), cfg.DataFile())
	assert.Equal(t, filepath.Join("data", "xstorage.wal"), cfg.WalFile())
}

func TestLoadIni(t *testing.T) {
	dir := t.TempDir()
	iniPath := filepath.Join(dir, "my.ini")
	content := `[xstoraged]
user = storage
datadir = /tmp/xstorage-test
xstorage_buffer_pool_pages = 256
xstorage_replacer_k = 3
xstorage_leaf_max_size = 64
log_level = debug
`
	require.NoError(t, os.WriteFile(iniPath, []byte(content), 0644))

	cfg := NewCfg().Load(&CommandLineArgs{ConfigPath: iniPath})
	assert.Equal(t, "storage", cfg.User)
	assert.Equal(t, "/tmp/xstorage-test", cfg.DataDir)
	assert.Equal(t, 256, cfg.BufferPoolPages)
	assert.Equal(t, 3, cfg.ReplacerK)
	assert.Equal(t, 64, cfg.LeafMaxSize)
	assert.Equal(t, "debug", cfg.LogLevel)

	// 未出现的键保持默认值
	assert.Equal(t, 4096, cfg.PageSize)
}

func TestMissingConfigFallsBackToDefaults(t *testing.T) {
	cfg := NewCfg().Load(&CommandLineArgs{ConfigPath: "/nonexistent/my.ini"})
	assert.Equal(t, 1024, cfg.BufferPoolPages)
}

func TestTuningOverrides(t *testing.T) {
	dir := t.TempDir()

	tomlPath := filepath.Join(dir, "tuning.toml")
	tomlContent := `buffer_pool_pages = 512
replacer_k = 4
`
	require.NoError(t, os.WriteFile(tomlPath, []byte(tomlContent), 0644))

	iniPath := filepath.Join(dir, "my.ini")
	iniContent := `[xstoraged]
xstorage_buffer_pool_pages = 128
xstorage_tuning_overrides = ` + tomlPath + `
`
	require.NoError(t, os.WriteFile(iniPath, []byte(iniContent), 0644))

	cfg := NewCfg().Load(&CommandLineArgs{ConfigPath: iniPath})

	// toml覆盖ini
	assert.Equal(t, 512, cfg.BufferPoolPages)
	assert.Equal(t, 4, cfg.ReplacerK)
	// toml里没有的参数保持ini/默认值
	assert.Equal(t, 32, cfg.HashBucketSize)
}
