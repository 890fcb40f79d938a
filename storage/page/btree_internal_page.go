package page

import (
	"github.com/xstoragedb/xstorage/storage/common"
	"github.com/xstoragedb/xstorage/util"
)

// BPlusTreeInternalPage 内部页面。size个条目对应size个孩子，
// key(0)不参与比较，只有value(0)是真实孩子。
// key(i) (i>=1) 大于孩子i-1子树中的所有键，且不大于孩子i子树中的最小键
// （删除子树首键时分隔键不更新，可能小于该子树当前的最小键）。
type BPlusTreeInternalPage struct {
	BPlusTreePage
}

func AsInternalPage(p *Page) *BPlusTreeInternalPage {
	return &BPlusTreeInternalPage{BPlusTreePage{page: p}}
}

// Init 初始化一个空内部页面
func (ip *BPlusTreeInternalPage) Init(pageID, parentID common.PageID, maxSize int) {
	// 内部页面插入后才分裂，需要容纳max_size+1个条目
	if commonHeaderSize+(maxSize+1)*internalEntrySize > common.UNIV_PAGE_SIZE {
		panic("btree page: internal max size exceeds page capacity")
	}
	ip.SetPageType(common.FILE_PAGE_INDEX_INTERNAL)
	ip.SetSize(0)
	ip.SetMaxSize(maxSize)
	ip.SetParentPageId(parentID)
	ip.SetPageId(pageID)
}

func (ip *BPlusTreeInternalPage) entryOffset(index int) int {
	return commonHeaderSize + index*internalEntrySize
}

// KeyAt 读取下标index处的键
func (ip *BPlusTreeInternalPage) KeyAt(index int) int64 {
	off := ip.entryOffset(index)
	_, v := util.ReadUB8(ip.data(), off)
	return int64(v)
}

// SetKeyAt 写入下标index处的键
func (ip *BPlusTreeInternalPage) SetKeyAt(index int, key int64) {
	off := ip.entryOffset(index)
	util.WriteUB8At(ip.data(), off, uint64(key))
}

// ValueAt 读取下标index处的孩子页面号
func (ip *BPlusTreeInternalPage) ValueAt(index int) common.PageID {
	off := ip.entryOffset(index) + keySize
	_, v := util.ReadUB4(ip.data(), off)
	return common.PageID(v)
}

// SetValueAt 写入下标index处的孩子页面号
func (ip *BPlusTreeInternalPage) SetValueAt(index int, child common.PageID) {
	off := ip.entryOffset(index) + keySize
	util.WriteUB4At(ip.data(), off, uint32(child))
}

// ValueIndex 返回孩子页面号所在的下标，不存在返回-1
func (ip *BPlusTreeInternalPage) ValueIndex(child common.PageID) int {
	for i := 0; i < ip.GetSize(); i++ {
		if ip.ValueAt(i) == child {
			return i
		}
	}
	return -1
}

// Lookup 返回searchKey应当下降的孩子页面号:
// 在[1, n-1]中找最小的i使得key(i) > searchKey，下降到孩子i-1；
// 不存在则下降到最后一个孩子。
func (ip *BPlusTreeInternalPage) Lookup(searchKey int64) common.PageID {
	sz := ip.GetSize()
	for i := 1; i < sz; i++ {
		if ip.KeyAt(i) > searchKey {
			return ip.ValueAt(i - 1)
		}
	}
	return ip.ValueAt(sz - 1)
}

// PopulateNewRoot 新根页面装入两个孩子
func (ip *BPlusTreeInternalPage) PopulateNewRoot(left common.PageID, key int64, right common.PageID) {
	ip.SetValueAt(0, left)
	ip.SetKeyAt(1, key)
	ip.SetValueAt(1, right)
	ip.SetSize(2)
}

// InsertNodeAfter 在oldChild之后插入(key, newChild)，返回新size。
// 调用方负责随后的分裂判断。
func (ip *BPlusTreeInternalPage) InsertNodeAfter(oldChild common.PageID, key int64, newChild common.PageID) int {
	idx := ip.ValueIndex(oldChild)
	if idx < 0 {
		panic("btree page: old child not found in parent")
	}
	sz := ip.GetSize()
	for i := sz; i > idx+1; i-- {
		ip.SetKeyAt(i, ip.KeyAt(i-1))
		ip.SetValueAt(i, ip.ValueAt(i-1))
	}
	ip.SetKeyAt(idx+1, key)
	ip.SetValueAt(idx+1, newChild)
	ip.SetSize(sz + 1)
	return sz + 1
}

// Remove 删除下标index处的条目
func (ip *BPlusTreeInternalPage) Remove(index int) {
	sz := ip.GetSize()
	for i := index; i < sz-1; i++ {
		ip.SetKeyAt(i, ip.KeyAt(i+1))
		ip.SetValueAt(i, ip.ValueAt(i+1))
	}
	ip.SetSize(sz - 1)
}

// MoveUpperHalfTo 分裂时把上半部分条目搬给新的右兄弟，
// 返回被提升的中间键。搬走的孩子的父指针由树层更新。
func (ip *BPlusTreeInternalPage) MoveUpperHalfTo(recipient *BPlusTreeInternalPage) int64 {
	sz := ip.GetSize()
	middle := (sz - 1) / 2
	middleKey := ip.KeyAt(middle + 1)

	moved := 0
	for i := middle + 1; i < sz; i++ {
		recipient.SetKeyAt(moved, ip.KeyAt(i))
		recipient.SetValueAt(moved, ip.ValueAt(i))
		moved++
	}
	recipient.SetSize(moved)
	ip.SetSize(middle + 1)
	return middleKey
}

// MoveAllTo 合并时把全部条目搬到左兄弟尾部。
// middleKey是父页面中的分隔键，落位为搬入首条目的键。
func (ip *BPlusTreeInternalPage) MoveAllTo(recipient *BPlusTreeInternalPage, middleKey int64) {
	recipientSize := recipient.GetSize()
	sz := ip.GetSize()

	recipient.SetKeyAt(recipientSize, middleKey)
	recipient.SetValueAt(recipientSize, ip.ValueAt(0))
	for i := 1; i < sz; i++ {
		recipient.SetKeyAt(recipientSize+i, ip.KeyAt(i))
		recipient.SetValueAt(recipientSize+i, ip.ValueAt(i))
	}
	recipient.SetSize(recipientSize + sz)
	ip.SetSize(0)
}

// MoveFirstToEndOf 重分配时把第一个孩子旋转到左兄弟尾部，
// 返回新的父分隔键（本页旋转后的key(1)原值）。
func (ip *BPlusTreeInternalPage) MoveFirstToEndOf(recipient *BPlusTreeInternalPage, middleKey int64) int64 {
	recipientSize := recipient.GetSize()
	recipient.SetKeyAt(recipientSize, middleKey)
	recipient.SetValueAt(recipientSize, ip.ValueAt(0))
	recipient.SetSize(recipientSize + 1)

	newSeparator := ip.KeyAt(1)
	ip.Remove(0)
	return newSeparator
}

// MoveLastToFrontOf 重分配时把最后一个孩子旋转到右兄弟头部，
// 返回新的父分隔键（本页原最后一个键）。
func (ip *BPlusTreeInternalPage) MoveLastToFrontOf(recipient *BPlusTreeInternalPage, middleKey int64) int64 {
	sz := ip.GetSize()
	lastKey := ip.KeyAt(sz - 1)
	lastChild := ip.ValueAt(sz - 1)

	recipientSize := recipient.GetSize()
	for i := recipientSize; i > 0; i-- {
		recipient.SetKeyAt(i, recipient.KeyAt(i-1))
		recipient.SetValueAt(i, recipient.ValueAt(i-1))
	}
	recipient.SetValueAt(0, lastChild)
	recipient.SetKeyAt(1, middleKey)
	recipient.SetSize(recipientSize + 1)

	ip.SetSize(sz - 1)
	return lastKey
}
