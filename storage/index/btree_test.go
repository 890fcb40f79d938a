package index

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xstoragedb/xstorage/storage/buffer"
	"github.com/xstoragedb/xstorage/storage/common"
	"github.com/xstoragedb/xstorage/storage/disk"
	"github.com/xstoragedb/xstorage/storage/page"
)

func newTestTree(t *testing.T, poolSize, leafMax, internalMax int) (*BPlusTree, *buffer.BufferPoolManager) {
	t.Helper()
	dir := t.TempDir()
	diskMgr, err := disk.NewFileDiskManager(filepath.Join(dir, "index.ibd"))
	require.NoError(t, err)
	t.Cleanup(func() { diskMgr.Close() })
	bpm := buffer.NewBufferPoolManager(poolSize, 2, diskMgr, nil)
	return NewBPlusTree("test_index", bpm, leafMax, internalMax), bpm
}

// treeHeight 沿最左路径数层数
func treeHeight(t *testing.T, tree *BPlusTree, bpm *buffer.BufferPoolManager) int {
	t.Helper()
	pid := tree.GetRootPageId()
	if pid == common.INVALID_PAGE_ID {
		return 0
	}
	height := 1
	for {
		pg := bpm.FetchPage(pid)
		require.NotNil(t, pg)
		tp := page.AsBPlusTreePage(pg)
		if tp.IsLeafPage() {
			bpm.UnpinPage(pid, false)
			return height
		}
		next := page.AsInternalPage(pg).ValueAt(0)
		bpm.UnpinPage(pid, false)
		pid = next
		height++
	}
}

// collectLeafSizes 沿叶子链收集每个叶子的条目数
func collectLeafSizes(t *testing.T, tree *BPlusTree, bpm *buffer.BufferPoolManager) []int {
	t.Helper()
	pid := tree.GetRootPageId()
	if pid == common.INVALID_PAGE_ID {
		return nil
	}
	for {
		pg := bpm.FetchPage(pid)
		require.NotNil(t, pg)
		tp := page.AsBPlusTreePage(pg)
		if tp.IsLeafPage() {
			bpm.UnpinPage(pid, false)
			break
		}
		next := page.AsInternalPage(pg).ValueAt(0)
		bpm.UnpinPage(pid, false)
		pid = next
	}

	sizes := make([]int, 0)
	for pid != common.INVALID_PAGE_ID {
		pg := bpm.FetchPage(pid)
		require.NotNil(t, pg)
		leaf := page.AsLeafPage(pg)
		sizes = append(sizes, leaf.GetSize())
		next := leaf.GetNextPageId()
		bpm.UnpinPage(pid, false)
		pid = next
	}
	return sizes
}

// checkInvariants 递归校验占用率、键序和父指针
func checkInvariants(t *testing.T, tree *BPlusTree, bpm *buffer.BufferPoolManager) {
	t.Helper()
	root := tree.GetRootPageId()
	if root == common.INVALID_PAGE_ID {
		return
	}
	checkSubtree(t, bpm, root, common.INVALID_PAGE_ID, true)
}

func checkSubtree(t *testing.T, bpm *buffer.BufferPoolManager, pid, expectedParent common.PageID, isRoot bool) (minKey, maxKey int64, height int) {
	t.Helper()
	pg := bpm.FetchPage(pid)
	require.NotNil(t, pg)
	tp := page.AsBPlusTreePage(pg)

	assert.Equalf(t, expectedParent, tp.GetParentPageId(), "parent pointer of page %d", pid)

	if tp.IsLeafPage() {
		leaf := page.AsLeafPage(pg)
		sz := leaf.GetSize()
		require.Greater(t, sz, 0)
		if !isRoot {
			assert.GreaterOrEqualf(t, sz, leaf.GetMinSize(), "leaf %d below min occupancy", pid)
		}
		assert.LessOrEqual(t, sz, leaf.GetMaxSize())
		for i := 1; i < sz; i++ {
			assert.Less(t, leaf.KeyAt(i-1), leaf.KeyAt(i))
		}
		minKey, maxKey = leaf.KeyAt(0), leaf.KeyAt(sz-1)
		bpm.UnpinPage(pid, false)
		return minKey, maxKey, 1
	}

	internal := page.AsInternalPage(pg)
	sz := internal.GetSize()
	if isRoot {
		require.GreaterOrEqual(t, sz, 2)
	} else {
		assert.GreaterOrEqualf(t, sz, internal.GetMinSize(), "internal %d below min occupancy", pid)
	}
	assert.LessOrEqual(t, sz, internal.GetMaxSize())

	keys := make([]int64, sz)
	children := make([]common.PageID, sz)
	for i := 0; i < sz; i++ {
		keys[i] = internal.KeyAt(i)
		children[i] = internal.ValueAt(i)
	}
	for i := 2; i < sz; i++ {
		assert.Less(t, keys[i-1], keys[i])
	}
	bpm.UnpinPage(pid, false)

	childHeight := 0
	for i := 0; i < sz; i++ {
		cMin, cMax, h := checkSubtree(t, bpm, children[i], pid, false)
		if i == 0 {
			minKey = cMin
			childHeight = h
		} else {
			// 分隔键正确路由：左子树全部小于分隔键，右子树不小于它。
			// 删除可能留下偏小的分隔键，所以不要求恰好等于右子树最小键。
			assert.Lessf(t, maxKey, keys[i], "separator %d of page %d", i, pid)
			assert.LessOrEqualf(t, keys[i], cMin, "separator %d of page %d", i, pid)
			assert.Equal(t, childHeight, h)
		}
		maxKey = cMax
	}
	return minKey, maxKey, childHeight + 1
}

func TestEmptyTree(t *testing.T) {
	tree, _ := newTestTree(t, 32, 4, 5)

	assert.True(t, tree.IsEmpty())
	assert.Nil(t, tree.GetValue(1))
	tree.Remove(1)
	assert.True(t, tree.Begin().IsEnd())
	assert.True(t, tree.BeginAt(1).IsEnd())
}

func TestInsertAndGet(t *testing.T) {
	tree, bpm := newTestTree(t, 32, 4, 5)

	for key := int64(1); key <= 16; key++ {
		require.Truef(t, tree.Insert(key, common.NewRID(common.PageID(key), uint32(key))), "insert %d", key)
	}

	// 重复键拒绝且不改动树
	assert.False(t, tree.Insert(7, common.NewRID(99, 99)))

	for key := int64(1); key <= 16; key++ {
		result := tree.GetValue(key)
		require.Lenf(t, result, 1, "key %d", key)
		assert.Equal(t, common.NewRID(common.PageID(key), uint32(key)), result[0])
	}
	assert.Nil(t, tree.GetValue(0))
	assert.Nil(t, tree.GetValue(17))

	checkInvariants(t, tree, bpm)
}

func TestSeedScenario(t *testing.T) {
	tree, bpm := newTestTree(t, 32, 4, 5)

	for key := int64(1); key <= 16; key++ {
		require.True(t, tree.Insert(key, common.NewRID(common.PageID(key), uint32(key))))
	}

	// 高度3，8个叶子，各2个键
	assert.Equal(t, 3, treeHeight(t, tree, bpm))
	sizes := collectLeafSizes(t, tree, bpm)
	assert.Equal(t, []int{2, 2, 2, 2, 2, 2, 2, 2}, sizes)

	it := tree.BeginAt(7)
	require.False(t, it.IsEnd())
	assert.Equal(t, int64(7), it.Key())

	// 删除8..11触发合并
	for _, key := range []int64{8, 9, 10, 11} {
		tree.Remove(key)
	}
	checkInvariants(t, tree, bpm)

	remaining := []int64{1, 2, 3, 4, 5, 6, 7, 12, 13, 14, 15, 16}
	for _, key := range remaining {
		require.Lenf(t, tree.GetValue(key), 1, "key %d after merge", key)
	}
	for _, key := range []int64{8, 9, 10, 11} {
		assert.Nil(t, tree.GetValue(key))
	}

	// 遍历仍然有序完整
	got := make([]int64, 0, len(remaining))
	for it := tree.Begin(); !it.IsEnd(); it.Next() {
		got = append(got, it.Key())
	}
	assert.Equal(t, remaining, got)
}

func TestIterator(t *testing.T) {
	tree, _ := newTestTree(t, 32, 4, 5)

	for key := int64(1); key <= 32; key++ {
		require.True(t, tree.Insert(key, common.NewRID(common.PageID(key), uint32(key))))
	}

	expected := int64(1)
	for it := tree.Begin(); !it.IsEnd(); it.Next() {
		key, rid := it.Entry()
		assert.Equal(t, expected, key)
		assert.Equal(t, uint32(expected), rid.SlotNum)
		expected++
	}
	assert.Equal(t, int64(33), expected)

	// 精确定位；不存在的键落到End
	it := tree.BeginAt(20)
	require.False(t, it.IsEnd())
	assert.Equal(t, int64(20), it.Key())
	assert.True(t, tree.BeginAt(100).IsEnd())

	// 相等性按(page_id, offset)
	assert.True(t, tree.Begin().Equals(tree.Begin()))
	assert.True(t, tree.End().Equals(tree.End()))
	assert.False(t, tree.Begin().Equals(tree.End()))
}

func TestRandomRoundTrip(t *testing.T) {
	tree, bpm := newTestTree(t, 64, 4, 5)

	const n = 300
	keys := make([]int64, n)
	for i := range keys {
		keys[i] = int64(i + 1)
	}
	rng := rand.New(rand.NewSource(42))
	rng.Shuffle(n, func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	for _, key := range keys {
		require.Truef(t, tree.Insert(key, common.NewRID(common.PageID(key), uint32(key))), "insert %d", key)
	}
	checkInvariants(t, tree, bpm)

	for _, key := range keys {
		require.Lenf(t, tree.GetValue(key), 1, "key %d", key)
	}

	// 删掉一半
	rng.Shuffle(n, func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	removed := keys[:n/2]
	kept := keys[n/2:]
	for _, key := range removed {
		tree.Remove(key)
	}
	checkInvariants(t, tree, bpm)

	for _, key := range removed {
		assert.Nilf(t, tree.GetValue(key), "removed key %d still present", key)
	}
	for _, key := range kept {
		require.Lenf(t, tree.GetValue(key), 1, "kept key %d missing", key)
	}

	// 遍历有序且数量正确
	var prev int64 = -1
	count := 0
	for it := tree.Begin(); !it.IsEnd(); it.Next() {
		key := it.Key()
		assert.Greater(t, key, prev)
		prev = key
		count++
	}
	assert.Equal(t, len(kept), count)
}

func TestDeleteToEmptyAndReuse(t *testing.T) {
	tree, bpm := newTestTree(t, 32, 4, 5)

	for key := int64(1); key <= 10; key++ {
		require.True(t, tree.Insert(key, common.NewRID(common.PageID(key), uint32(key))))
	}
	for key := int64(1); key <= 10; key++ {
		tree.Remove(key)
	}

	assert.True(t, tree.IsEmpty())
	assert.Equal(t, common.INVALID_PAGE_ID, tree.GetRootPageId())

	// 删空后可以重新使用
	require.True(t, tree.Insert(42, common.NewRID(1, 42)))
	require.Len(t, tree.GetValue(42), 1)
	checkInvariants(t, tree, bpm)
}

func TestRootPageIdPersistence(t *testing.T) {
	tree, bpm := newTestTree(t, 32, 4, 5)

	for key := int64(1); key <= 20; key++ {
		require.True(t, tree.Insert(key, common.NewRID(common.PageID(key), uint32(key))))
	}
	root := tree.GetRootPageId()
	require.NotEqual(t, common.INVALID_PAGE_ID, root)

	// 同名索引重新打开时从头页面恢复根页面号
	reopened := NewBPlusTree("test_index", bpm, 4, 5)
	assert.Equal(t, root, reopened.GetRootPageId())
	require.Len(t, reopened.GetValue(13), 1)
}

func TestPinLeakFree(t *testing.T) {
	// 缓冲池很小，任何pin泄漏都会很快耗尽帧
	tree, bpm := newTestTree(t, 16, 4, 5)

	for key := int64(1); key <= 200; key++ {
		require.Truef(t, tree.Insert(key, common.NewRID(common.PageID(key), uint32(key))), "insert %d", key)
	}
	for key := int64(1); key <= 200; key += 2 {
		tree.Remove(key)
	}
	for key := int64(2); key <= 200; key += 2 {
		require.Lenf(t, tree.GetValue(key), 1, "key %d", key)
	}
	checkInvariants(t, tree, bpm)
}
