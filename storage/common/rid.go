package common

import "fmt"

// RID 记录标识，由页面号和槽位号组成
type RID struct {
	PageNo  PageID
	SlotNum uint32
}

func NewRID(pageNo PageID, slotNum uint32) RID {
	return RID{PageNo: pageNo, SlotNum: slotNum}
}

func (r RID) String() string {
	return fmt.Sprintf("RID{page=%d, slot=%d}", r.PageNo, r.SlotNum)
}
