package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/juju/errors"

	"github.com/xstoragedb/xstorage/logger"
	"github.com/xstoragedb/xstorage/storage/common"
	"github.com/xstoragedb/xstorage/storage/container/hash"
	"github.com/xstoragedb/xstorage/storage/disk"
	"github.com/xstoragedb/xstorage/storage/page"
	"github.com/xstoragedb/xstorage/storage/wal"
)

const (
	DEFAULT_POOL_SIZE        = 1024 // 默认缓冲池大小（页数）
	DEFAULT_REPLACER_K       = 2    // 默认LRU-K的K值
	DEFAULT_HASH_BUCKET_SIZE = 32   // 页表哈希桶容量
)

// BufferPoolManager 缓冲池管理器。持有固定数量的帧，
// 通过页表（可扩展哈希）定位驻留页面，通过LRU-K替换器挑选牺牲帧。
//
// 所有公开方法由单个互斥锁串行化；页面内容的并发
// 由Page自身的latch保护，调用方pin住页面后获取。
type BufferPoolManager struct {
	mu sync.Mutex

	poolSize   int
	pages      []*page.Page
	pageTable  *hash.ExtendibleHashTable[common.PageID, common.FrameID]
	replacer   *LRUKReplacer
	freeList   []common.FrameID
	diskMgr    disk.DiskManager
	logMgr     *wal.LogManager
	nextPageID common.PageID

	// 统计信息
	stats struct {
		hits      uint64 // 缓存命中次数
		misses    uint64 // 缓存未命中次数
		evictions uint64 // 页面驱逐次数
		flushes   uint64 // 页面刷新次数
	}
}

// NewBufferPoolManager creates a buffer pool manager over the given disk
// manager. The log manager reference is held for WAL integration and is
// not called on the core paths.
//
// 页面号0保留给头页面，新页面从1开始分配。
func NewBufferPoolManager(poolSize int, replacerK int, diskMgr disk.DiskManager, logMgr *wal.LogManager) *BufferPoolManager {
	if poolSize <= 0 {
		poolSize = DEFAULT_POOL_SIZE
	}
	if replacerK <= 0 {
		replacerK = DEFAULT_REPLACER_K
	}

	bpm := &BufferPoolManager{
		poolSize: poolSize,
		pages:    make([]*page.Page, poolSize),
		pageTable: hash.NewExtendibleHashTable[common.PageID, common.FrameID](
			DEFAULT_HASH_BUCKET_SIZE,
			func(pageNo common.PageID) uint64 { return hash.PageIDHasher(uint32(pageNo)) },
		),
		replacer:   NewLRUKReplacer(poolSize, replacerK),
		freeList:   make([]common.FrameID, 0, poolSize),
		diskMgr:    diskMgr,
		logMgr:     logMgr,
		nextPageID: common.HEADER_PAGE_ID + 1,
	}

	// 初始时所有帧都在空闲链表中
	for i := 0; i < poolSize; i++ {
		bpm.pages[i] = page.NewPage()
		bpm.freeList = append(bpm.freeList, common.FrameID(i))
	}

	return bpm
}

// acquireFrame 先从空闲链表取帧，取不到再淘汰。
// 脏的牺牲帧先写回磁盘，旧映射从页表移除。
func (bpm *BufferPoolManager) acquireFrame() (common.FrameID, error) {
	if len(bpm.freeList) > 0 {
		frameID := bpm.freeList[0]
		bpm.freeList = bpm.freeList[1:]
		return frameID, nil
	}

	frameID, evicted := bpm.replacer.Evict()
	if !evicted {
		return 0, errors.New("buffer pool exhausted: all frames pinned")
	}
	atomic.AddUint64(&bpm.stats.evictions, 1)

	victim := bpm.pages[frameID]
	if victim.IsDirty() {
		if err := bpm.diskMgr.WritePage(victim.GetPageId(), victim.Data()); err != nil {
			return 0, errors.Annotatef(err, "flush victim page %d", victim.GetPageId())
		}
		atomic.AddUint64(&bpm.stats.flushes, 1)
	}
	bpm.pageTable.Remove(victim.GetPageId())

	return frameID, nil
}

// NewPage 分配一个新页面并pin住返回。
// 没有空闲帧也没有可淘汰帧时返回nil。
func (bpm *BufferPoolManager) NewPage() (common.PageID, *page.Page) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, err := bpm.acquireFrame()
	if err != nil {
		logger.Debugf("NewPage: %v", err)
		return common.INVALID_PAGE_ID, nil
	}

	pageID := bpm.allocatePage()

	p := bpm.pages[frameID]
	p.ResetMemory()
	p.SetPageId(pageID)
	p.IncPinCount()

	bpm.replacer.RecordAccess(frameID)
	bpm.replacer.SetEvictable(frameID, false)
	bpm.pageTable.Insert(pageID, frameID)

	// 立刻写出零页，保证数据文件覆盖到该页面号
	if err := bpm.diskMgr.WritePage(pageID, p.Data()); err != nil {
		logger.Errorf("NewPage: write page %d: %v", pageID, err)
	}

	return pageID, p
}

// FetchPage 获取页面。驻留则直接pin，否则挑一个帧从磁盘装载。
// 缓冲池被pin满时返回nil。
func (bpm *BufferPoolManager) FetchPage(pageID common.PageID) *page.Page {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameID, ok := bpm.pageTable.Find(pageID); ok {
		atomic.AddUint64(&bpm.stats.hits, 1)
		p := bpm.pages[frameID]
		p.IncPinCount()
		bpm.replacer.RecordAccess(frameID)
		bpm.replacer.SetEvictable(frameID, false)
		return p
	}

	atomic.AddUint64(&bpm.stats.misses, 1)

	frameID, err := bpm.acquireFrame()
	if err != nil {
		logger.Debugf("FetchPage(%d): %v", pageID, err)
		return nil
	}

	p := bpm.pages[frameID]
	p.ResetMemory()
	p.SetPageId(pageID)
	if err := bpm.diskMgr.ReadPage(pageID, p.Data()); err != nil {
		// 读失败的帧退回空闲链表
		logger.Errorf("FetchPage: read page %d: %v", pageID, err)
		p.ResetMemory()
		bpm.freeList = append(bpm.freeList, frameID)
		return nil
	}
	bpm.pageTable.Insert(pageID, frameID)

	p.IncPinCount()
	bpm.replacer.RecordAccess(frameID)
	bpm.replacer.SetEvictable(frameID, false)

	return p
}

// UnpinPage 释放一次pin，并把dirty标记并入帧。
// 页面不驻留或pin计数已为0时返回false。
func (bpm *BufferPoolManager) UnpinPage(pageID common.PageID, isDirty bool) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return false
	}
	p := bpm.pages[frameID]
	if p.GetPinCount() == 0 {
		return false
	}

	if isDirty {
		p.SetDirty(true)
	}
	p.DecPinCount()
	if p.GetPinCount() == 0 {
		bpm.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage 将页面写回磁盘并清除脏标记，不论pin状态。
// 页面不驻留时返回false。
func (bpm *BufferPoolManager) FlushPage(pageID common.PageID) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.flushPageLocked(pageID)
}

func (bpm *BufferPoolManager) flushPageLocked(pageID common.PageID) bool {
	if pageID == common.INVALID_PAGE_ID {
		panic("buffer: flushing invalid page id")
	}
	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return false
	}
	p := bpm.pages[frameID]
	if err := bpm.diskMgr.WritePage(pageID, p.Data()); err != nil {
		logger.Errorf("FlushPage: write page %d: %v", pageID, err)
		return false
	}
	p.SetDirty(false)
	atomic.AddUint64(&bpm.stats.flushes, 1)
	return true
}

// FlushAllPages 刷新所有驻留页面
func (bpm *BufferPoolManager) FlushAllPages() {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	for _, p := range bpm.pages {
		if p.GetPageId() != common.INVALID_PAGE_ID {
			bpm.flushPageLocked(p.GetPageId())
		}
	}
}

// DeletePage 删除页面。不驻留视为成功；被pin住返回false。
// 帧清零后归还空闲链表，页面号回收交给磁盘层（本实现不复用）。
func (bpm *BufferPoolManager) DeletePage(pageID common.PageID) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return true
	}
	p := bpm.pages[frameID]
	if p.GetPinCount() != 0 {
		return false
	}

	bpm.replacer.Remove(frameID)
	bpm.pageTable.Remove(pageID)
	bpm.freeList = append(bpm.freeList, frameID)
	p.ResetMemory()
	bpm.deallocatePage(pageID)
	return true
}

// allocatePage 单调分配下一个页面号
func (bpm *BufferPoolManager) allocatePage() common.PageID {
	pageID := bpm.nextPageID
	bpm.nextPageID++
	return pageID
}

// deallocatePage 逻辑释放页面号。磁盘空间回收是磁盘管理器的事，
// 当前实现下是no-op。
func (bpm *BufferPoolManager) deallocatePage(pageID common.PageID) {
}

// Stats 返回统计信息快照
func (bpm *BufferPoolManager) Stats() map[string]uint64 {
	return map[string]uint64{
		"hits":      atomic.LoadUint64(&bpm.stats.hits),
		"misses":    atomic.LoadUint64(&bpm.stats.misses),
		"evictions": atomic.LoadUint64(&bpm.stats.evictions),
		"flushes":   atomic.LoadUint64(&bpm.stats.flushes),
	}
}

// PoolSize 返回缓冲池帧数
func (bpm *BufferPoolManager) PoolSize() int {
	return bpm.poolSize
}

// Close 刷新所有页面、落盘WAL并关闭磁盘管理器
func (bpm *BufferPoolManager) Close() error {
	bpm.FlushAllPages()
	if bpm.logMgr != nil {
		if err := bpm.logMgr.Flush(); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(bpm.diskMgr.Close())
}
