package page

import (
	"github.com/xstoragedb/xstorage/storage/common"
	"github.com/xstoragedb/xstorage/util"
)

// 头页面布局: page_type(4) | record_count(4) | records...
// 每条记录: index_name(32字节，零填充) | root_page_id(4)
const (
	headerOffsetType  = 0
	headerOffsetCount = 4
	headerRecordStart = 8

	headerNameSize   = 32
	headerRecordSize = headerNameSize + 4
)

// HeaderPage 0号页面，保存 index_name -> root_page_id 的目录
type HeaderPage struct {
	page *Page
}

func AsHeaderPage(p *Page) *HeaderPage {
	return &HeaderPage{page: p}
}

// Init 初始化头页面，只在数据文件第一次使用时调用
func (hp *HeaderPage) Init() {
	util.WriteUB4At(hp.page.Data(), headerOffsetType, common.FILE_PAGE_TYPE_HEADER)
	hp.setRecordCount(0)
}

// IsInitialized 头页面是否已经初始化过
func (hp *HeaderPage) IsInitialized() bool {
	_, v := util.ReadUB4(hp.page.Data(), headerOffsetType)
	return v == common.FILE_PAGE_TYPE_HEADER
}

// GetRecordCount 返回目录记录数
func (hp *HeaderPage) GetRecordCount() int {
	_, v := util.ReadUB4(hp.page.Data(), headerOffsetCount)
	return int(v)
}

func (hp *HeaderPage) setRecordCount(count int) {
	util.WriteUB4At(hp.page.Data(), headerOffsetCount, uint32(count))
}

func maxHeaderRecords() int {
	return (common.UNIV_PAGE_SIZE - headerRecordStart) / headerRecordSize
}

func (hp *HeaderPage) recordOffset(index int) int {
	return headerRecordStart + index*headerRecordSize
}

func (hp *HeaderPage) nameAt(index int) string {
	off := hp.recordOffset(index)
	raw := hp.page.Data()[off : off+headerNameSize]
	end := 0
	for end < headerNameSize && raw[end] != 0 {
		end++
	}
	return string(raw[:end])
}

func (hp *HeaderPage) rootAt(index int) common.PageID {
	off := hp.recordOffset(index) + headerNameSize
	_, v := util.ReadUB4(hp.page.Data(), off)
	return common.PageID(v)
}

func (hp *HeaderPage) writeRecord(index int, name string, root common.PageID) {
	off := hp.recordOffset(index)
	data := hp.page.Data()
	for i := 0; i < headerNameSize; i++ {
		data[off+i] = 0
	}
	copy(data[off:off+headerNameSize], name)
	util.WriteUB4At(data, off+headerNameSize, uint32(root))
}

// findRecord 返回index_name的记录下标，不存在返回-1
func (hp *HeaderPage) findRecord(name string) int {
	count := hp.GetRecordCount()
	for i := 0; i < count; i++ {
		if hp.nameAt(i) == name {
			return i
		}
	}
	return -1
}

// InsertRecord 新增目录记录，已存在或页面已满返回false
func (hp *HeaderPage) InsertRecord(name string, root common.PageID) bool {
	if len(name) > headerNameSize {
		return false
	}
	if hp.findRecord(name) >= 0 {
		return false
	}
	count := hp.GetRecordCount()
	if count >= maxHeaderRecords() {
		return false
	}
	hp.writeRecord(count, name, root)
	hp.setRecordCount(count + 1)
	return true
}

// UpdateRecord 更新已有记录的根页面号，不存在返回false
func (hp *HeaderPage) UpdateRecord(name string, root common.PageID) bool {
	idx := hp.findRecord(name)
	if idx < 0 {
		return false
	}
	hp.writeRecord(idx, name, root)
	return true
}

// DeleteRecord 删除目录记录，不存在返回false
func (hp *HeaderPage) DeleteRecord(name string) bool {
	idx := hp.findRecord(name)
	if idx < 0 {
		return false
	}
	count := hp.GetRecordCount()
	for i := idx; i < count-1; i++ {
		hp.writeRecord(i, hp.nameAt(i+1), hp.rootAt(i+1))
	}
	hp.setRecordCount(count - 1)
	return true
}

// GetRootId 查询index_name对应的根页面号
func (hp *HeaderPage) GetRootId(name string) (common.PageID, bool) {
	idx := hp.findRecord(name)
	if idx < 0 {
		return common.INVALID_PAGE_ID, false
	}
	return hp.rootAt(idx), true
}
