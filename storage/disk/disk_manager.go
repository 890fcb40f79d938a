package disk

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/errors"

	"github.com/xstoragedb/xstorage/storage/common"
)

// DiskManager 负责页面级别的磁盘读写
type DiskManager interface {
	// ReadPage 从磁盘读取pageNo对应的页面内容到buf
	ReadPage(pageNo common.PageID, buf []byte) error

	// WritePage 将buf持久化到pageNo对应的磁盘位置
	WritePage(pageNo common.PageID, buf []byte) error

	// Sync 将已写入的数据落盘
	Sync() error

	// NumWrites 返回累计写盘次数
	NumWrites() uint64

	Close() error
}

// FileDiskManager 基于单个数据文件实现DiskManager，
// 页面n存储在文件偏移 n*UNIV_PAGE_SIZE 处
type FileDiskManager struct {
	mu        sync.Mutex
	dbFile    *os.File
	filePath  string
	numWrites uint64
}

func NewFileDiskManager(filePath string) (*FileDiskManager, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Annotatef(err, "create data dir %s", dir)
	}

	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, errors.Annotatef(err, "open data file %s", filePath)
	}

	return &FileDiskManager{
		dbFile:   f,
		filePath: filePath,
	}, nil
}

// ReadPage reads a page from the data file. A page that has never been
// written reads back as all zeroes.
func (dm *FileDiskManager) ReadPage(pageNo common.PageID, buf []byte) error {
	if len(buf) != common.UNIV_PAGE_SIZE {
		panic("disk: read buffer is not page sized")
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	offset := int64(pageNo) * common.UNIV_PAGE_SIZE
	n, err := dm.dbFile.ReadAt(buf, offset)
	if err == io.EOF {
		// 文件尚未扩展到该页，返回全零页
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		return nil
	}
	if err != nil {
		return errors.Annotatef(err, "read page %d from %s", pageNo, dm.filePath)
	}
	return nil
}

// WritePage persists a page to the data file.
func (dm *FileDiskManager) WritePage(pageNo common.PageID, buf []byte) error {
	if len(buf) != common.UNIV_PAGE_SIZE {
		panic("disk: write buffer is not page sized")
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	offset := int64(pageNo) * common.UNIV_PAGE_SIZE
	if _, err := dm.dbFile.WriteAt(buf, offset); err != nil {
		return errors.Annotatef(err, "write page %d to %s", pageNo, dm.filePath)
	}
	dm.numWrites++
	return nil
}

func (dm *FileDiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return errors.Trace(dm.dbFile.Sync())
}

func (dm *FileDiskManager) NumWrites() uint64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.numWrites
}

func (dm *FileDiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if err := dm.dbFile.Sync(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(dm.dbFile.Close())
}
