package page

import (
	"github.com/xstoragedb/xstorage/storage/common"
	"github.com/xstoragedb/xstorage/util"
)

// 索引页面头布局，所有字段4字节:
// page_type | lsn | size | max_size | parent_page_id | page_id
// 叶子页面额外带 next_page_id
const (
	offsetPageType = 0
	offsetLSN      = 4
	offsetSize     = 8
	offsetMaxSize  = 12
	offsetParent   = 16
	offsetPageID   = 20

	commonHeaderSize = 24

	offsetNextPage = 24
	leafHeaderSize = 28

	keySize = 8

	internalEntrySize = keySize + 4 // key + child page id
	leafEntrySize     = keySize + 8 // key + RID
)

// BPlusTreePage 索引页面的公共头访问器，直接解释帧的字节内容
type BPlusTreePage struct {
	page *Page
}

func AsBPlusTreePage(p *Page) *BPlusTreePage {
	return &BPlusTreePage{page: p}
}

// Page 返回底层的帧
func (tp *BPlusTreePage) Page() *Page {
	return tp.page
}

func (tp *BPlusTreePage) data() []byte {
	return tp.page.Data()
}

// IsLeafPage 判断是否叶子页面
func (tp *BPlusTreePage) IsLeafPage() bool {
	return tp.GetPageType() == common.FILE_PAGE_INDEX_LEAF
}

// IsRootPage 根页面没有父页面
func (tp *BPlusTreePage) IsRootPage() bool {
	return tp.GetParentPageId() == common.INVALID_PAGE_ID
}

func (tp *BPlusTreePage) GetPageType() uint32 {
	_, v := util.ReadUB4(tp.data(), offsetPageType)
	return v
}

func (tp *BPlusTreePage) SetPageType(pageType uint32) {
	util.WriteUB4At(tp.data(), offsetPageType, pageType)
}

// GetSize 当前条目数
func (tp *BPlusTreePage) GetSize() int {
	_, v := util.ReadUB4(tp.data(), offsetSize)
	return int(v)
}

func (tp *BPlusTreePage) SetSize(size int) {
	if size < 0 {
		panic("btree page: size below zero")
	}
	util.WriteUB4At(tp.data(), offsetSize, uint32(size))
}

func (tp *BPlusTreePage) IncreaseSize(amount int) {
	tp.SetSize(tp.GetSize() + amount)
}

// GetMaxSize 容量上限
func (tp *BPlusTreePage) GetMaxSize() int {
	_, v := util.ReadUB4(tp.data(), offsetMaxSize)
	return int(v)
}

func (tp *BPlusTreePage) SetMaxSize(maxSize int) {
	util.WriteUB4At(tp.data(), offsetMaxSize, uint32(maxSize))
}

// GetMinSize 非根页面的最小占用，ceil(max_size/2)
func (tp *BPlusTreePage) GetMinSize() int {
	return (tp.GetMaxSize() + 1) / 2
}

func (tp *BPlusTreePage) GetParentPageId() common.PageID {
	_, v := util.ReadUB4(tp.data(), offsetParent)
	return common.PageID(v)
}

func (tp *BPlusTreePage) SetParentPageId(parentID common.PageID) {
	util.WriteUB4At(tp.data(), offsetParent, uint32(parentID))
}

func (tp *BPlusTreePage) GetPageId() common.PageID {
	_, v := util.ReadUB4(tp.data(), offsetPageID)
	return common.PageID(v)
}

func (tp *BPlusTreePage) SetPageId(pageID common.PageID) {
	util.WriteUB4At(tp.data(), offsetPageID, uint32(pageID))
}

// LeafPageCapacity 一个页面能容纳的叶子条目数
func LeafPageCapacity() int {
	return (common.UNIV_PAGE_SIZE - leafHeaderSize) / leafEntrySize
}

// InternalPageCapacity 一个页面能容纳的内部条目数，
// 预留一个插入后再分裂的临时槽位
func InternalPageCapacity() int {
	return (common.UNIV_PAGE_SIZE-commonHeaderSize)/internalEntrySize - 1
}
