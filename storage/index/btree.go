package index

import (
	"fmt"
	"os"
	"sync"

	"github.com/juju/errors"

	"github.com/xstoragedb/xstorage/logger"
	"github.com/xstoragedb/xstorage/storage/buffer"
	"github.com/xstoragedb/xstorage/storage/common"
	"github.com/xstoragedb/xstorage/storage/page"
)

// BPlusTree 磁盘B+树索引，键唯一，值为RID。
// 页面一律通过缓冲池按需fetch/unpin，树本身只记住根页面号。
//
// 结构变更由树级写锁串行化，页面内容读写各自持有页latch。
type BPlusTree struct {
	mu sync.RWMutex

	indexName       string
	rootPageID      common.PageID
	bpm             *buffer.BufferPoolManager
	leafMaxSize     int
	internalMaxSize int
}

// NewBPlusTree 创建或打开一个B+树索引。
// 根页面号持久化在头页面中，同名索引重新打开时恢复。
func NewBPlusTree(indexName string, bpm *buffer.BufferPoolManager, leafMaxSize, internalMaxSize int) *BPlusTree {
	if leafMaxSize <= 0 {
		leafMaxSize = page.LeafPageCapacity()
	}
	if internalMaxSize <= 0 {
		internalMaxSize = page.InternalPageCapacity()
	}
	if leafMaxSize < 3 || internalMaxSize < 3 {
		panic("btree: max size too small for split arithmetic")
	}

	tree := &BPlusTree{
		indexName:       indexName,
		rootPageID:      common.INVALID_PAGE_ID,
		bpm:             bpm,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
	}

	// 已有的根页面号从头页面恢复
	hp := tree.fetchHeaderPage()
	if root, ok := hp.GetRootId(indexName); ok {
		tree.rootPageID = root
	}
	bpm.UnpinPage(common.HEADER_PAGE_ID, false)

	return tree
}

// IsEmpty 树是否为空
func (t *BPlusTree) IsEmpty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootPageID == common.INVALID_PAGE_ID
}

// GetRootPageId 返回根页面号
func (t *BPlusTree) GetRootPageId() common.PageID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootPageID
}

// fetchHeaderPage pin住头页面，首次使用时初始化
func (t *BPlusTree) fetchHeaderPage() *page.HeaderPage {
	p := t.bpm.FetchPage(common.HEADER_PAGE_ID)
	if p == nil {
		panic("btree: buffer pool exhausted fetching header page")
	}
	hp := page.AsHeaderPage(p)
	if !hp.IsInitialized() {
		hp.Init()
	}
	return hp
}

// updateRootPageId 把根页面号写进头页面。
// insertRecord为true时新建目录记录，否则更新已有记录。
func (t *BPlusTree) updateRootPageId(insertRecord bool) {
	hp := t.fetchHeaderPage()
	if insertRecord {
		hp.InsertRecord(t.indexName, t.rootPageID)
	} else {
		if !hp.UpdateRecord(t.indexName, t.rootPageID) {
			hp.InsertRecord(t.indexName, t.rootPageID)
		}
	}
	t.bpm.UnpinPage(common.HEADER_PAGE_ID, true)
}

// fetchPage 带panic的fetch，树内部路径缓冲池耗尽无法恢复
func (t *BPlusTree) fetchPage(pageID common.PageID) *page.Page {
	p := t.bpm.FetchPage(pageID)
	if p == nil {
		panic(fmt.Sprintf("btree: buffer pool exhausted fetching page %d", pageID))
	}
	return p
}

// newPage 带panic的NewPage
func (t *BPlusTree) newPage() (common.PageID, *page.Page) {
	pid, p := t.bpm.NewPage()
	if p == nil {
		panic("btree: buffer pool exhausted allocating page")
	}
	return pid, p
}

// fetchLeaf 从根下降到包含key的叶子。
// 每层先unpin父亲再pin孩子，返回的叶子处于pin住状态。
func (t *BPlusTree) fetchLeaf(key int64) *page.Page {
	cur := t.fetchPage(t.rootPageID)
	for {
		tp := page.AsBPlusTreePage(cur)
		if tp.IsLeafPage() {
			return cur
		}
		internal := page.AsInternalPage(cur)

		cur.RLatch()
		next := internal.Lookup(key)
		cur.RUnlatch()

		t.bpm.UnpinPage(tp.GetPageId(), false)
		cur = t.fetchPage(next)
	}
}

// GetValue 点查询。树要求键唯一，结果最多一个RID。
func (t *BPlusTree) GetValue(key int64) []common.RID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.rootPageID == common.INVALID_PAGE_ID {
		return nil
	}

	leafPg := t.fetchLeaf(key)
	leaf := page.AsLeafPage(leafPg)

	leafPg.RLatch()
	rid, found := leaf.Lookup(key)
	leafPg.RUnlatch()

	t.bpm.UnpinPage(leaf.GetPageId(), false)

	if !found {
		return nil
	}
	return []common.RID{rid}
}

// Insert 唯一键插入，重复键不做任何修改并返回false
func (t *BPlusTree) Insert(key int64, rid common.RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rootPageID == common.INVALID_PAGE_ID {
		t.startNewTree(key, rid)
		return true
	}

	leafPg := t.fetchLeaf(key)
	leaf := page.AsLeafPage(leafPg)

	leafPg.WLatch()
	inserted := leaf.Insert(key, rid)
	if !inserted {
		leafPg.WUnlatch()
		t.bpm.UnpinPage(leaf.GetPageId(), false)
		return false
	}

	if leaf.GetSize() == t.leafMaxSize {
		t.splitLeaf(leafPg, leaf)
	}
	leafPg.WUnlatch()

	t.bpm.UnpinPage(leaf.GetPageId(), true)
	return true
}

// startNewTree 空树插入第一个键，新叶子同时是根
func (t *BPlusTree) startNewTree(key int64, rid common.RID) {
	pid, p := t.newPage()
	leaf := page.AsLeafPage(p)

	p.WLatch()
	leaf.Init(pid, common.INVALID_PAGE_ID, t.leafMaxSize)
	leaf.Insert(key, rid)
	p.WUnlatch()

	t.rootPageID = pid
	t.updateRootPageId(true)
	t.bpm.UnpinPage(pid, true)
}

// splitLeaf 叶子写满时分裂。
// 链表接法固定为：新叶子继承旧叶子的next，旧叶子的next指向新叶子，
// 保证正向遍历在任何时刻都成立。
func (t *BPlusTree) splitLeaf(leafPg *page.Page, leaf *page.BPlusTreeLeafPage) {
	newPid, newPg := t.newPage()
	newLeaf := page.AsLeafPage(newPg)

	newPg.WLatch()
	newLeaf.Init(newPid, leaf.GetParentPageId(), t.leafMaxSize)

	newLeaf.SetNextPageId(leaf.GetNextPageId())
	leaf.SetNextPageId(newPid)

	leaf.MoveUpperHalfTo(newLeaf)
	separator := newLeaf.KeyAt(0)

	t.insertInParent(&leaf.BPlusTreePage, &newLeaf.BPlusTreePage, separator)
	newPg.WUnlatch()

	t.bpm.UnpinPage(newPid, true)
}

// insertInParent 分裂后把(key, right)挂到父页面。
// left和right都由调用方pin住；本方法自己pin/unpin父页面。
func (t *BPlusTree) insertInParent(left, right *page.BPlusTreePage, key int64) {
	if left.IsRootPage() {
		// 根分裂，树长高一层
		rootPid, rootPg := t.newPage()
		root := page.AsInternalPage(rootPg)

		rootPg.WLatch()
		root.Init(rootPid, common.INVALID_PAGE_ID, t.internalMaxSize)
		root.PopulateNewRoot(left.GetPageId(), key, right.GetPageId())
		rootPg.WUnlatch()

		left.SetParentPageId(rootPid)
		right.SetParentPageId(rootPid)

		t.rootPageID = rootPid
		t.updateRootPageId(false)
		t.bpm.UnpinPage(rootPid, true)
		return
	}

	parentID := left.GetParentPageId()
	parentPg := t.fetchPage(parentID)
	parent := page.AsInternalPage(parentPg)

	parentPg.WLatch()
	parent.InsertNodeAfter(left.GetPageId(), key, right.GetPageId())
	right.SetParentPageId(parentID)

	if parent.GetSize() > t.internalMaxSize {
		t.splitInternal(parentPg, parent)
	}
	parentPg.WUnlatch()

	t.bpm.UnpinPage(parentID, true)
}

// splitInternal 内部页面溢出时分裂，被搬走的孩子逐个改父指针
func (t *BPlusTree) splitInternal(nodePg *page.Page, node *page.BPlusTreeInternalPage) {
	newPid, newPg := t.newPage()
	newNode := page.AsInternalPage(newPg)

	newPg.WLatch()
	newNode.Init(newPid, node.GetParentPageId(), t.internalMaxSize)
	middleKey := node.MoveUpperHalfTo(newNode)

	for i := 0; i < newNode.GetSize(); i++ {
		childPg := t.fetchPage(newNode.ValueAt(i))
		page.AsBPlusTreePage(childPg).SetParentPageId(newPid)
		t.bpm.UnpinPage(childPg.GetPageId(), true)
	}

	t.insertInParent(&node.BPlusTreePage, &newNode.BPlusTreePage, middleKey)
	newPg.WUnlatch()

	t.bpm.UnpinPage(newPid, true)
}

// Remove 删除键。键不存在时静默返回。
func (t *BPlusTree) Remove(key int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rootPageID == common.INVALID_PAGE_ID {
		return
	}

	leafPg := t.fetchLeaf(key)
	leaf := page.AsLeafPage(leafPg)

	leafPg.WLatch()
	removed := leaf.RemoveRecord(key)
	leafPg.WUnlatch()

	if !removed {
		t.bpm.UnpinPage(leaf.GetPageId(), false)
		return
	}

	if leaf.IsRootPage() {
		// 根叶子允许低于最小占用；删空后整棵树变空
		if leaf.GetSize() == 0 {
			pid := leaf.GetPageId()
			t.rootPageID = common.INVALID_PAGE_ID
			t.updateRootPageId(false)
			t.bpm.UnpinPage(pid, true)
			t.bpm.DeletePage(pid)
			return
		}
		t.bpm.UnpinPage(leaf.GetPageId(), true)
		return
	}

	if leaf.GetSize() >= leaf.GetMinSize() {
		t.bpm.UnpinPage(leaf.GetPageId(), true)
		return
	}

	// 接管leaf的pin
	t.handleLeafUnderflow(leafPg, leaf)
}

// handleLeafUnderflow 叶子低于最小占用时走合并或重分配。
// 兄弟优先选右边的；没有右兄弟才选左边的。
// 本方法消费leaf的pin。
func (t *BPlusTree) handleLeafUnderflow(leafPg *page.Page, leaf *page.BPlusTreeLeafPage) {
	parentID := leaf.GetParentPageId()
	parentPg := t.fetchPage(parentID)
	parent := page.AsInternalPage(parentPg)

	idx := parent.ValueIndex(leaf.GetPageId())
	if idx < 0 {
		panic("btree: leaf not found in its parent")
	}

	siblingIsRight := idx < parent.GetSize()-1
	var sibIdx int
	if siblingIsRight {
		sibIdx = idx + 1
	} else {
		sibIdx = idx - 1
	}
	sibPg := t.fetchPage(parent.ValueAt(sibIdx))
	sib := page.AsLeafPage(sibPg)

	if leaf.GetSize()+sib.GetSize() <= leaf.GetMaxSize() {
		// 合并到两者中靠左的一页
		var leftPg, rightPg *page.Page
		var left, right *page.BPlusTreeLeafPage
		var separatorIdx int
		if siblingIsRight {
			leftPg, left = leafPg, leaf
			rightPg, right = sibPg, sib
			separatorIdx = idx + 1
		} else {
			leftPg, left = sibPg, sib
			rightPg, right = leafPg, leaf
			separatorIdx = idx
		}

		leftPg.WLatch()
		rightPg.WLatch()
		right.MoveAllTo(left)
		rightPg.WUnlatch()
		leftPg.WUnlatch()

		rightPid := right.GetPageId()
		parentPg.WLatch()
		parent.Remove(separatorIdx)
		parentPg.WUnlatch()

		t.bpm.UnpinPage(left.GetPageId(), true)
		t.bpm.UnpinPage(rightPid, true)
		t.bpm.DeletePage(rightPid)

		t.finishParentAfterRemoval(parentPg, parent)
		return
	}

	// 重分配：从兄弟借一个条目，父分隔键改成右侧页的新首键
	leafPg.WLatch()
	sibPg.WLatch()
	parentPg.WLatch()
	if siblingIsRight {
		sib.MoveFirstToEndOf(leaf)
		parent.SetKeyAt(idx+1, sib.KeyAt(0))
	} else {
		sib.MoveLastToFrontOf(leaf)
		parent.SetKeyAt(idx, leaf.KeyAt(0))
	}
	parentPg.WUnlatch()
	sibPg.WUnlatch()
	leafPg.WUnlatch()

	t.bpm.UnpinPage(leaf.GetPageId(), true)
	t.bpm.UnpinPage(sib.GetPageId(), true)
	t.bpm.UnpinPage(parentID, true)
}

// finishParentAfterRemoval 分隔键删除后检查父页面。
// 根的处理交给adjustRoot，其余页面不足最小占用时继续级联。
// 本方法消费parent的pin。
func (t *BPlusTree) finishParentAfterRemoval(parentPg *page.Page, parent *page.BPlusTreeInternalPage) {
	if parent.IsRootPage() {
		t.adjustRoot(parentPg, parent)
		return
	}
	if parent.GetSize() < parent.GetMinSize() {
		t.handleInternalUnderflow(parentPg, parent)
		return
	}
	t.bpm.UnpinPage(parent.GetPageId(), true)
}

// adjustRoot 根内部页面只剩一个孩子时整棵树降高一层。
// 本方法消费root的pin。
func (t *BPlusTree) adjustRoot(rootPg *page.Page, root *page.BPlusTreeInternalPage) {
	if root.GetSize() > 1 {
		t.bpm.UnpinPage(root.GetPageId(), true)
		return
	}

	oldRootPid := root.GetPageId()
	childPid := root.ValueAt(0)

	childPg := t.fetchPage(childPid)
	page.AsBPlusTreePage(childPg).SetParentPageId(common.INVALID_PAGE_ID)
	t.bpm.UnpinPage(childPid, true)

	t.rootPageID = childPid
	t.updateRootPageId(false)

	t.bpm.UnpinPage(oldRootPid, true)
	t.bpm.DeletePage(oldRootPid)
}

// handleInternalUnderflow 内部页面低于最小占用时的级联处理。
// 合并把父分隔键拉下来，重分配把孩子经过父分隔键旋转过去。
// 本方法消费node的pin。
func (t *BPlusTree) handleInternalUnderflow(nodePg *page.Page, node *page.BPlusTreeInternalPage) {
	parentID := node.GetParentPageId()
	parentPg := t.fetchPage(parentID)
	parent := page.AsInternalPage(parentPg)

	idx := parent.ValueIndex(node.GetPageId())
	if idx < 0 {
		panic("btree: internal node not found in its parent")
	}

	siblingIsRight := idx < parent.GetSize()-1
	var sibIdx int
	if siblingIsRight {
		sibIdx = idx + 1
	} else {
		sibIdx = idx - 1
	}
	sibPg := t.fetchPage(parent.ValueAt(sibIdx))
	sib := page.AsInternalPage(sibPg)

	if node.GetSize()+sib.GetSize() <= t.internalMaxSize {
		var leftPg, rightPg *page.Page
		var left, right *page.BPlusTreeInternalPage
		var separatorIdx int
		if siblingIsRight {
			leftPg, left = nodePg, node
			rightPg, right = sibPg, sib
			separatorIdx = idx + 1
		} else {
			leftPg, left = sibPg, sib
			rightPg, right = nodePg, node
			separatorIdx = idx
		}

		// 先记下要搬家的孩子，搬完改它们的父指针
		movedChildren := make([]common.PageID, 0, right.GetSize())
		for i := 0; i < right.GetSize(); i++ {
			movedChildren = append(movedChildren, right.ValueAt(i))
		}

		middleKey := parent.KeyAt(separatorIdx)

		leftPg.WLatch()
		rightPg.WLatch()
		right.MoveAllTo(left, middleKey)
		rightPg.WUnlatch()
		leftPg.WUnlatch()

		leftPid := left.GetPageId()
		for _, childPid := range movedChildren {
			childPg := t.fetchPage(childPid)
			page.AsBPlusTreePage(childPg).SetParentPageId(leftPid)
			t.bpm.UnpinPage(childPid, true)
		}

		rightPid := right.GetPageId()
		parentPg.WLatch()
		parent.Remove(separatorIdx)
		parentPg.WUnlatch()

		t.bpm.UnpinPage(leftPid, true)
		t.bpm.UnpinPage(rightPid, true)
		t.bpm.DeletePage(rightPid)

		t.finishParentAfterRemoval(parentPg, parent)
		return
	}

	// 重分配：孩子连同分隔键一起旋转
	nodePg.WLatch()
	sibPg.WLatch()
	parentPg.WLatch()
	if siblingIsRight {
		movedChild := sib.ValueAt(0)
		newSeparator := sib.MoveFirstToEndOf(node, parent.KeyAt(idx+1))
		parent.SetKeyAt(idx+1, newSeparator)

		childPg := t.fetchPage(movedChild)
		page.AsBPlusTreePage(childPg).SetParentPageId(node.GetPageId())
		t.bpm.UnpinPage(movedChild, true)
	} else {
		movedChild := sib.ValueAt(sib.GetSize() - 1)
		newSeparator := sib.MoveLastToFrontOf(node, parent.KeyAt(idx))
		parent.SetKeyAt(idx, newSeparator)

		childPg := t.fetchPage(movedChild)
		page.AsBPlusTreePage(childPg).SetParentPageId(node.GetPageId())
		t.bpm.UnpinPage(movedChild, true)
	}
	parentPg.WUnlatch()
	sibPg.WUnlatch()
	nodePg.WUnlatch()

	t.bpm.UnpinPage(node.GetPageId(), true)
	t.bpm.UnpinPage(sib.GetPageId(), true)
	t.bpm.UnpinPage(parentID, true)
}

// Begin 返回指向最左叶子第一个条目的迭代器
func (t *BPlusTree) Begin() *IndexIterator {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.rootPageID == common.INVALID_PAGE_ID {
		return t.End()
	}

	cur := t.fetchPage(t.rootPageID)
	for {
		tp := page.AsBPlusTreePage(cur)
		if tp.IsLeafPage() {
			break
		}
		internal := page.AsInternalPage(cur)
		next := internal.ValueAt(0)
		t.bpm.UnpinPage(tp.GetPageId(), false)
		cur = t.fetchPage(next)
	}

	leafPid := page.AsBPlusTreePage(cur).GetPageId()
	t.bpm.UnpinPage(leafPid, false)
	return newIndexIterator(t.bpm, leafPid, 0)
}

// BeginAt 返回指向key精确匹配处的迭代器，键不存在时返回End
func (t *BPlusTree) BeginAt(key int64) *IndexIterator {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.rootPageID == common.INVALID_PAGE_ID {
		return t.End()
	}

	leafPg := t.fetchLeaf(key)
	leaf := page.AsLeafPage(leafPg)

	leafPg.RLatch()
	idx := leaf.KeyIndex(key)
	match := idx < leaf.GetSize() && leaf.KeyAt(idx) == key
	leafPg.RUnlatch()

	pid := leaf.GetPageId()
	t.bpm.UnpinPage(pid, false)

	if !match {
		return t.End()
	}
	return newIndexIterator(t.bpm, pid, idx)
}

// End 迭代结束哨兵，page_id为INVALID
func (t *BPlusTree) End() *IndexIterator {
	return newIndexIterator(t.bpm, common.INVALID_PAGE_ID, 0)
}

// Print 调试输出整棵树
func (t *BPlusTree) Print() {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.rootPageID == common.INVALID_PAGE_ID {
		logger.Warn("Print an empty tree")
		return
	}
	t.printPage(t.rootPageID)
}

func (t *BPlusTree) printPage(pageID common.PageID) {
	pg := t.fetchPage(pageID)
	tp := page.AsBPlusTreePage(pg)

	if tp.IsLeafPage() {
		leaf := page.AsLeafPage(pg)
		line := ""
		for i := 0; i < leaf.GetSize(); i++ {
			line += fmt.Sprintf("%d,", leaf.KeyAt(i))
		}
		logger.Infof("Leaf Page: %d parent: %d next: %d | %s",
			leaf.GetPageId(), leaf.GetParentPageId(), leaf.GetNextPageId(), line)
		t.bpm.UnpinPage(pageID, false)
		return
	}

	internal := page.AsInternalPage(pg)
	line := ""
	for i := 0; i < internal.GetSize(); i++ {
		line += fmt.Sprintf("%d: %d,", internal.KeyAt(i), internal.ValueAt(i))
	}
	logger.Infof("Internal Page: %d parent: %d | %s",
		internal.GetPageId(), internal.GetParentPageId(), line)

	childCount := internal.GetSize()
	children := make([]common.PageID, 0, childCount)
	for i := 0; i < childCount; i++ {
		children = append(children, internal.ValueAt(i))
	}
	t.bpm.UnpinPage(pageID, false)

	for _, child := range children {
		t.printPage(child)
	}
}

// Draw 把整棵树导出成graphviz dot文件
func (t *BPlusTree) Draw(outFile string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.rootPageID == common.INVALID_PAGE_ID {
		logger.Warn("Draw an empty tree")
		return nil
	}

	f, err := os.Create(outFile)
	if err != nil {
		return errors.Annotatef(err, "create dot file %s", outFile)
	}
	defer f.Close()

	fmt.Fprintln(f, "digraph G {")
	t.drawPage(t.rootPageID, f)
	fmt.Fprintln(f, "}")
	return nil
}

func (t *BPlusTree) drawPage(pageID common.PageID, f *os.File) {
	pg := t.fetchPage(pageID)
	tp := page.AsBPlusTreePage(pg)

	if tp.IsLeafPage() {
		leaf := page.AsLeafPage(pg)
		label := fmt.Sprintf("P=%d size=%d/%d", pageID, leaf.GetSize(), leaf.GetMaxSize())
		for i := 0; i < leaf.GetSize(); i++ {
			label += fmt.Sprintf("|%d", leaf.KeyAt(i))
		}
		fmt.Fprintf(f, "  LEAF_%d [shape=record color=green label=\"%s\"];\n", pageID, label)
		if leaf.GetNextPageId() != common.INVALID_PAGE_ID {
			fmt.Fprintf(f, "  LEAF_%d -> LEAF_%d;\n", pageID, leaf.GetNextPageId())
		}
		t.bpm.UnpinPage(pageID, false)
		return
	}

	internal := page.AsInternalPage(pg)
	label := fmt.Sprintf("P=%d size=%d/%d", pageID, internal.GetSize(), internal.GetMaxSize())
	for i := 1; i < internal.GetSize(); i++ {
		label += fmt.Sprintf("|%d", internal.KeyAt(i))
	}
	fmt.Fprintf(f, "  INT_%d [shape=record color=pink label=\"%s\"];\n", pageID, label)

	childCount := internal.GetSize()
	children := make([]common.PageID, 0, childCount)
	for i := 0; i < childCount; i++ {
		children = append(children, internal.ValueAt(i))
	}
	t.bpm.UnpinPage(pageID, false)

	for _, child := range children {
		childPg := t.fetchPage(child)
		isLeaf := page.AsBPlusTreePage(childPg).IsLeafPage()
		t.bpm.UnpinPage(child, false)
		if isLeaf {
			fmt.Fprintf(f, "  INT_%d -> LEAF_%d;\n", pageID, child)
		} else {
			fmt.Fprintf(f, "  INT_%d -> INT_%d;\n", pageID, child)
		}
		t.drawPage(child, f)
	}
}
