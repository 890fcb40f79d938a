package index

import (
	"github.com/xstoragedb/xstorage/storage/buffer"
	"github.com/xstoragedb/xstorage/storage/common"
	"github.com/xstoragedb/xstorage/storage/page"
)

// IndexIterator 叶子链上的正向游标，只持有(page_id, offset)，
// 每次取值临时pin住叶子读完即unpin。
type IndexIterator struct {
	bpm    *buffer.BufferPoolManager
	pageID common.PageID
	offset int

	// 当前条目的快照，Next或取值之前有效
	curKey   int64
	curValue common.RID
}

func newIndexIterator(bpm *buffer.BufferPoolManager, pageID common.PageID, offset int) *IndexIterator {
	return &IndexIterator{
		bpm:    bpm,
		pageID: pageID,
		offset: offset,
	}
}

// IsEnd 是否到达结束哨兵
func (it *IndexIterator) IsEnd() bool {
	return it.pageID == common.INVALID_PAGE_ID
}

// load 读出当前位置的条目快照
func (it *IndexIterator) load() {
	if it.IsEnd() {
		panic("index iterator: dereferencing end iterator")
	}
	pg := it.bpm.FetchPage(it.pageID)
	if pg == nil {
		panic("index iterator: buffer pool exhausted")
	}
	leaf := page.AsLeafPage(pg)

	pg.RLatch()
	it.curKey = leaf.KeyAt(it.offset)
	it.curValue = leaf.ValueAt(it.offset)
	pg.RUnlatch()

	it.bpm.UnpinPage(it.pageID, false)
}

// Key 当前条目的键
func (it *IndexIterator) Key() int64 {
	it.load()
	return it.curKey
}

// Value 当前条目的RID
func (it *IndexIterator) Value() common.RID {
	it.load()
	return it.curValue
}

// Entry 一次取出当前条目的键和RID
func (it *IndexIterator) Entry() (int64, common.RID) {
	it.load()
	return it.curKey, it.curValue
}

// Next 前进一个条目。叶子用尽时沿next指针进入下一个叶子，
// 先unpin当前叶子再pin下一个。
func (it *IndexIterator) Next() {
	if it.IsEnd() {
		return
	}

	pg := it.bpm.FetchPage(it.pageID)
	if pg == nil {
		panic("index iterator: buffer pool exhausted")
	}
	leaf := page.AsLeafPage(pg)

	pg.RLatch()
	size := leaf.GetSize()
	next := leaf.GetNextPageId()
	pg.RUnlatch()

	it.bpm.UnpinPage(it.pageID, false)

	if it.offset+1 < size {
		it.offset++
		return
	}
	it.pageID = next
	it.offset = 0
}

// Equals 迭代器相等当且仅当(page_id, offset)相同
func (it *IndexIterator) Equals(other *IndexIterator) bool {
	return it.pageID == other.pageID && it.offset == other.offset
}
