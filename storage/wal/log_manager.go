package wal

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/errors"

	"github.com/xstoragedb/xstorage/storage/common"
	"github.com/xstoragedb/xstorage/util"
)

// LogManager 预写日志的落盘端。缓冲池只持有引用，
// 崩溃恢复不在当前实现范围内。
type LogManager struct {
	mu sync.Mutex

	logFile *os.File
	buffer  []byte
	nextLSN common.LSNT
}

func NewLogManager(filePath string) (*LogManager, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Annotatef(err, "create wal dir %s", dir)
	}

	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, errors.Annotatef(err, "open wal file %s", filePath)
	}

	return &LogManager{
		logFile: f,
		buffer:  make([]byte, 0, 65536),
		nextLSN: 1,
	}, nil
}

// AppendRecord 追加一条日志记录到内存缓冲，返回分配的LSN。
// 记录格式: lsn(8) | length(4) | payload
func (lm *LogManager) AppendRecord(payload []byte) (common.LSNT, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lsn := lm.nextLSN
	lm.nextLSN++

	lm.buffer = util.WriteUB8(lm.buffer, uint64(lsn))
	lm.buffer = util.WriteUB4(lm.buffer, uint32(len(payload)))
	lm.buffer = util.WriteBytes(lm.buffer, payload)

	return lsn, nil
}

// Flush 将缓冲的日志记录写入文件并落盘
func (lm *LogManager) Flush() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if len(lm.buffer) == 0 {
		return nil
	}

	if _, err := lm.logFile.Write(lm.buffer); err != nil {
		return errors.Annotate(err, "flush wal buffer")
	}
	lm.buffer = lm.buffer[:0]
	return errors.Trace(lm.logFile.Sync())
}

// NextLSN 返回下一个将要分配的LSN
func (lm *LogManager) NextLSN() common.LSNT {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.nextLSN
}

func (lm *LogManager) Close() error {
	if err := lm.Flush(); err != nil {
		return errors.Trace(err)
	}
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return errors.Trace(lm.logFile.Close())
}
