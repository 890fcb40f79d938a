package page

import (
	"github.com/xstoragedb/xstorage/storage/common"
	"github.com/xstoragedb/xstorage/util"
)

// BPlusTreeLeafPage 叶子页面。条目按键严格递增排列，
// 值是记录标识RID。叶子之间由next_page_id串成单链。
type BPlusTreeLeafPage struct {
	BPlusTreePage
}

func AsLeafPage(p *Page) *BPlusTreeLeafPage {
	return &BPlusTreeLeafPage{BPlusTreePage{page: p}}
}

// Init 初始化一个空叶子页面
func (lp *BPlusTreeLeafPage) Init(pageID, parentID common.PageID, maxSize int) {
	if leafHeaderSize+maxSize*leafEntrySize > common.UNIV_PAGE_SIZE {
		panic("btree page: leaf max size exceeds page capacity")
	}
	lp.SetPageType(common.FILE_PAGE_INDEX_LEAF)
	lp.SetSize(0)
	lp.SetMaxSize(maxSize)
	lp.SetParentPageId(parentID)
	lp.SetPageId(pageID)
	lp.SetNextPageId(common.INVALID_PAGE_ID)
}

// GetNextPageId 叶子链中的下一个叶子
func (lp *BPlusTreeLeafPage) GetNextPageId() common.PageID {
	_, v := util.ReadUB4(lp.data(), offsetNextPage)
	return common.PageID(v)
}

func (lp *BPlusTreeLeafPage) SetNextPageId(next common.PageID) {
	util.WriteUB4At(lp.data(), offsetNextPage, uint32(next))
}

func (lp *BPlusTreeLeafPage) entryOffset(index int) int {
	return leafHeaderSize + index*leafEntrySize
}

// KeyAt 读取下标index处的键
func (lp *BPlusTreeLeafPage) KeyAt(index int) int64 {
	off := lp.entryOffset(index)
	_, v := util.ReadUB8(lp.data(), off)
	return int64(v)
}

// SetKeyAt 写入下标index处的键
func (lp *BPlusTreeLeafPage) SetKeyAt(index int, key int64) {
	off := lp.entryOffset(index)
	util.WriteUB8At(lp.data(), off, uint64(key))
}

// ValueAt 读取下标index处的RID
func (lp *BPlusTreeLeafPage) ValueAt(index int) common.RID {
	off := lp.entryOffset(index) + keySize
	_, pageNo := util.ReadUB4(lp.data(), off)
	_, slot := util.ReadUB4(lp.data(), off+4)
	return common.RID{PageNo: common.PageID(pageNo), SlotNum: slot}
}

// SetValueAt 写入下标index处的RID
func (lp *BPlusTreeLeafPage) SetValueAt(index int, rid common.RID) {
	off := lp.entryOffset(index) + keySize
	util.WriteUB4At(lp.data(), off, uint32(rid.PageNo))
	util.WriteUB4At(lp.data(), off+4, rid.SlotNum)
}

// KeyIndex 第一个不小于searchKey的下标，全部更小时返回size
func (lp *BPlusTreeLeafPage) KeyIndex(searchKey int64) int {
	sz := lp.GetSize()
	for i := 0; i < sz; i++ {
		if lp.KeyAt(i) >= searchKey {
			return i
		}
	}
	return sz
}

// Lookup 精确查找键对应的RID
func (lp *BPlusTreeLeafPage) Lookup(key int64) (common.RID, bool) {
	idx := lp.KeyIndex(key)
	if idx < lp.GetSize() && lp.KeyAt(idx) == key {
		return lp.ValueAt(idx), true
	}
	return common.RID{}, false
}

// Insert 保序插入，重复键返回false。
// 调用方负责随后的分裂判断。
func (lp *BPlusTreeLeafPage) Insert(key int64, rid common.RID) bool {
	idx := lp.KeyIndex(key)
	sz := lp.GetSize()
	if idx < sz && lp.KeyAt(idx) == key {
		return false
	}
	for i := sz; i > idx; i-- {
		lp.SetKeyAt(i, lp.KeyAt(i-1))
		lp.SetValueAt(i, lp.ValueAt(i-1))
	}
	lp.SetKeyAt(idx, key)
	lp.SetValueAt(idx, rid)
	lp.SetSize(sz + 1)
	return true
}

// RemoveRecord 删除键，不存在返回false
func (lp *BPlusTreeLeafPage) RemoveRecord(key int64) bool {
	idx := lp.KeyIndex(key)
	sz := lp.GetSize()
	if idx >= sz || lp.KeyAt(idx) != key {
		return false
	}
	for i := idx; i < sz-1; i++ {
		lp.SetKeyAt(i, lp.KeyAt(i+1))
		lp.SetValueAt(i, lp.ValueAt(i+1))
	}
	lp.SetSize(sz - 1)
	return true
}

// MoveUpperHalfTo 分裂时把条目[ceil_half(max), max)搬给新叶子
func (lp *BPlusTreeLeafPage) MoveUpperHalfTo(recipient *BPlusTreeLeafPage) {
	sz := lp.GetSize()
	middle := (lp.GetMaxSize() + 1) / 2

	moved := 0
	for i := middle; i < sz; i++ {
		recipient.SetKeyAt(moved, lp.KeyAt(i))
		recipient.SetValueAt(moved, lp.ValueAt(i))
		moved++
	}
	recipient.SetSize(moved)
	lp.SetSize(middle)
}

// MoveAllTo 合并时把全部条目搬到左兄弟尾部，
// 左兄弟继承本页的next指针。
func (lp *BPlusTreeLeafPage) MoveAllTo(recipient *BPlusTreeLeafPage) {
	recipientSize := recipient.GetSize()
	sz := lp.GetSize()
	for i := 0; i < sz; i++ {
		recipient.SetKeyAt(recipientSize+i, lp.KeyAt(i))
		recipient.SetValueAt(recipientSize+i, lp.ValueAt(i))
	}
	recipient.SetSize(recipientSize + sz)
	recipient.SetNextPageId(lp.GetNextPageId())
	lp.SetSize(0)
}

// MoveFirstToEndOf 重分配时把第一个条目借给左兄弟
func (lp *BPlusTreeLeafPage) MoveFirstToEndOf(recipient *BPlusTreeLeafPage) {
	recipientSize := recipient.GetSize()
	recipient.SetKeyAt(recipientSize, lp.KeyAt(0))
	recipient.SetValueAt(recipientSize, lp.ValueAt(0))
	recipient.SetSize(recipientSize + 1)
	lp.RemoveRecord(lp.KeyAt(0))
}

// MoveLastToFrontOf 重分配时把最后一个条目借给右兄弟
func (lp *BPlusTreeLeafPage) MoveLastToFrontOf(recipient *BPlusTreeLeafPage) {
	sz := lp.GetSize()
	key := lp.KeyAt(sz - 1)
	rid := lp.ValueAt(sz - 1)
	lp.SetSize(sz - 1)

	recipientSize := recipient.GetSize()
	for i := recipientSize; i > 0; i-- {
		recipient.SetKeyAt(i, recipient.KeyAt(i-1))
		recipient.SetValueAt(i, recipient.ValueAt(i-1))
	}
	recipient.SetKeyAt(0, key)
	recipient.SetValueAt(0, rid)
	recipient.SetSize(recipientSize + 1)
}
