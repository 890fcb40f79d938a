package page

import (
	"sync"

	"github.com/xstoragedb/xstorage/storage/common"
	"github.com/xstoragedb/xstorage/util"
)

// Page 缓冲池中的一个帧。帧在缓冲池生命周期内复用，
// 其承载的页面随着淘汰而变化。
//
// pin count与dirty标记由缓冲池在自己的锁内维护；
// 页面内容并发由rwlatch保护，调用方在pin住页面之后获取。
type Page struct {
	rwlatch sync.RWMutex

	data     []byte
	pageID   common.PageID
	pinCount int
	isDirty  bool
}

func NewPage() *Page {
	return &Page{
		data:   make([]byte, common.UNIV_PAGE_SIZE),
		pageID: common.INVALID_PAGE_ID,
	}
}

// Data 返回页面字节内容，调用方持有latch时可直接读写
func (p *Page) Data() []byte {
	return p.data
}

// GetPageId 返回当前帧承载的页面号
func (p *Page) GetPageId() common.PageID {
	return p.pageID
}

// SetPageId 绑定帧到新的页面号，仅缓冲池调用
func (p *Page) SetPageId(pageID common.PageID) {
	p.pageID = pageID
}

// GetPinCount 返回pin计数
func (p *Page) GetPinCount() int {
	return p.pinCount
}

// IncPinCount pin计数加一
func (p *Page) IncPinCount() {
	p.pinCount++
}

// DecPinCount pin计数减一，减到负数属于编程错误
func (p *Page) DecPinCount() {
	p.pinCount--
	if p.pinCount < 0 {
		panic("page: pin count went negative")
	}
}

// IsDirty 返回脏页标记
func (p *Page) IsDirty() bool {
	return p.isDirty
}

// SetDirty 设置脏页标记
func (p *Page) SetDirty(dirty bool) {
	p.isDirty = dirty
}

// GetLSN 读取页面头中的LSN
func (p *Page) GetLSN() uint32 {
	_, lsn := util.ReadUB4(p.data, offsetLSN)
	return lsn
}

// SetLSN 写入页面头中的LSN
func (p *Page) SetLSN(lsn uint32) {
	util.WriteUB4At(p.data, offsetLSN, lsn)
}

// ResetMemory 清空帧，解除页面绑定
func (p *Page) ResetMemory() {
	for i := range p.data {
		p.data[i] = 0
	}
	p.pageID = common.INVALID_PAGE_ID
	p.pinCount = 0
	p.isDirty = false
}

// WLatch 获取页面内容写锁
func (p *Page) WLatch() {
	p.rwlatch.Lock()
}

// WUnlatch 释放页面内容写锁
func (p *Page) WUnlatch() {
	p.rwlatch.Unlock()
}

// RLatch 获取页面内容读锁
func (p *Page) RLatch() {
	p.rwlatch.RLock()
}

// RUnlatch 释放页面内容读锁
func (p *Page) RUnlatch() {
	p.rwlatch.RUnlock()
}
