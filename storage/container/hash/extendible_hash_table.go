package hash

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/xstoragedb/xstorage/util"
)

// Hasher 计算键的哈希值，低位用于目录索引
type Hasher[K comparable] func(K) uint64

// Uint32Hasher 整型键直接取值，与目录低位对齐
func Uint32Hasher(key uint32) uint64 {
	return uint64(key)
}

// Int64Hasher 整型键直接取值
func Int64Hasher(key int64) uint64 {
	return uint64(key)
}

// IntHasher 整型键直接取值
func IntHasher(key int) uint64 {
	return uint64(key)
}

// StringHasher 字符串键使用xxhash
func StringHasher(key string) uint64 {
	return xxhash.Sum64String(key)
}

// BytesHasher 字节串键使用xxhash
func BytesHasher(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// PageIDHasher 页表专用，与页面号的4字节编码哈希保持一致
func PageIDHasher(pageNo uint32) uint64 {
	return util.HashCode(util.ConvertUInt4Bytes(pageNo))
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// bucket 哈希桶。桶被分裂替换而不是原地变换，
// 多个目录槽可共享同一个桶。
type bucket[K comparable, V any] struct {
	capacity int
	depth    int
	items    []entry[K, V]
}

func newBucket[K comparable, V any](capacity, depth int) *bucket[K, V] {
	return &bucket[K, V]{
		capacity: capacity,
		depth:    depth,
		items:    make([]entry[K, V], 0, capacity),
	}
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, item := range b.items {
		if item.key == key {
			return item.value, true
		}
	}
	var zero V
	return zero, false
}

func (b *bucket[K, V]) remove(key K) bool {
	for i, item := range b.items {
		if item.key == key {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}

// insert 更新已有键或追加新键，桶满且键不存在时返回false
func (b *bucket[K, V]) insert(key K, value V) bool {
	for i, item := range b.items {
		if item.key == key {
			b.items[i].value = value
			return true
		}
	}
	if b.isFull() {
		return false
	}
	b.items = append(b.items, entry[K, V]{key: key, value: value})
	return true
}

func (b *bucket[K, V]) isFull() bool {
	return len(b.items) >= b.capacity
}

// ExtendibleHashTable 可扩展哈希表。目录长度恒为 1<<globalDepth，
// localDepth < globalDepth 的桶被多个目录槽共享。
type ExtendibleHashTable[K comparable, V any] struct {
	mu sync.RWMutex

	globalDepth int
	bucketSize  int
	numBuckets  int
	hasher      Hasher[K]
	dir         []*bucket[K, V]
}

func NewExtendibleHashTable[K comparable, V any](bucketSize int, hasher Hasher[K]) *ExtendibleHashTable[K, V] {
	if bucketSize <= 0 {
		panic("hash: bucket size must be positive")
	}
	if hasher == nil {
		panic("hash: hasher is required")
	}
	table := &ExtendibleHashTable[K, V]{
		globalDepth: 0,
		bucketSize:  bucketSize,
		numBuckets:  1,
		hasher:      hasher,
		dir:         []*bucket[K, V]{newBucket[K, V](bucketSize, 0)},
	}
	return table
}

// indexOf 取哈希值的低globalDepth位作为目录下标
func (t *ExtendibleHashTable[K, V]) indexOf(key K) int {
	mask := uint64(1)<<t.globalDepth - 1
	return int(t.hasher(key) & mask)
}

// GetGlobalDepth 返回目录深度
func (t *ExtendibleHashTable[K, V]) GetGlobalDepth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.globalDepth
}

// GetLocalDepth 返回目录槽dirIndex指向的桶的局部深度
func (t *ExtendibleHashTable[K, V]) GetLocalDepth(dirIndex int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dir[dirIndex].depth
}

// GetNumBuckets 返回桶的数量
func (t *ExtendibleHashTable[K, V]) GetNumBuckets() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.numBuckets
}

// Find 查找键对应的值
func (t *ExtendibleHashTable[K, V]) Find(key K) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dir[t.indexOf(key)].find(key)
}

// Remove 删除键，返回是否存在。空桶允许存在，不做合并。
func (t *ExtendibleHashTable[K, V]) Remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[t.indexOf(key)].remove(key)
}

// Insert 插入或更新键值。目标桶满时分裂，
// 必要时先将目录翻倍。
func (t *ExtendibleHashTable[K, V]) Insert(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		idx := t.indexOf(key)
		b := t.dir[idx]
		if b.insert(key, value) {
			return
		}

		// 桶满，分裂后重试。所有条目都落到同一侧时
		// 会连续分裂，深度每轮加一，必然终止。
		t.splitBucket(idx)
	}
}

// splitBucket 分裂目录槽idx指向的桶
func (t *ExtendibleHashTable[K, V]) splitBucket(idx int) {
	b := t.dir[idx]
	localDepth := b.depth

	if localDepth == t.globalDepth {
		// 目录翻倍，新增槽先与低位镜像槽共享原桶
		oldSize := len(t.dir)
		t.dir = append(t.dir, make([]*bucket[K, V], oldSize)...)
		for i := oldSize; i < 2*oldSize; i++ {
			t.dir[i] = t.dir[i&^(1<<t.globalDepth)]
		}
		t.globalDepth++
	}

	// 旧桶的规范下标与新桶的规范下标只差在第localDepth位
	canonical := idx & (1<<localDepth - 1)
	newCanonical := canonical | 1<<localDepth

	newBkt := newBucket[K, V](t.bucketSize, localDepth+1)
	oldBkt := newBucket[K, V](t.bucketSize, localDepth+1)
	t.numBuckets++

	// 低localDepth+1位匹配新规范下标的槽指向新桶，其余仍指向旧桶
	highMask := 1<<(localDepth+1) - 1
	for i := range t.dir {
		if t.dir[i] != b {
			continue
		}
		if i&highMask == newCanonical {
			t.dir[i] = newBkt
		} else {
			t.dir[i] = oldBkt
		}
	}

	// 按新的局部深度重新散列旧桶的所有条目
	for _, item := range b.items {
		if int(t.hasher(item.key))&highMask == newCanonical {
			newBkt.items = append(newBkt.items, item)
		} else {
			oldBkt.items = append(oldBkt.items, item)
		}
	}
}
