package buffer

import (
	"github.com/juju/errors"

	"github.com/xstoragedb/xstorage/conf"
	"github.com/xstoragedb/xstorage/storage/disk"
	"github.com/xstoragedb/xstorage/storage/wal"
)

// NewBufferPoolManagerWithConfig 按配置文件构建缓冲池，
// 连同其下层的磁盘管理器和WAL一起创建。
func NewBufferPoolManagerWithConfig(cfg *conf.Cfg) (*BufferPoolManager, error) {
	diskMgr, err := disk.NewFileDiskManager(cfg.DataFile())
	if err != nil {
		return nil, errors.Annotate(err, "create disk manager")
	}

	logMgr, err := wal.NewLogManager(cfg.WalFile())
	if err != nil {
		diskMgr.Close()
		return nil, errors.Annotate(err, "create log manager")
	}

	return NewBufferPoolManager(cfg.BufferPoolPages, cfg.ReplacerK, diskMgr, logMgr), nil
}
