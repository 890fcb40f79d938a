package hash

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertFindRemove(t *testing.T) {
	table := NewExtendibleHashTable[string, int](4, StringHasher)

	table.Insert("a", 1)
	table.Insert("b", 2)
	table.Insert("c", 3)

	v, ok := table.Find("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	// 覆盖已有键
	table.Insert("b", 20)
	v, ok = table.Find("b")
	require.True(t, ok)
	assert.Equal(t, 20, v)

	assert.True(t, table.Remove("b"))
	_, ok = table.Find("b")
	assert.False(t, ok)
	assert.False(t, table.Remove("b"))
}

func TestDirectoryGrowth(t *testing.T) {
	table := NewExtendibleHashTable[int64, string](2, Int64Hasher)

	values := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i"}
	for i, v := range values {
		table.Insert(int64(i+1), v)
	}

	assert.Equal(t, 3, table.GetGlobalDepth())
	assert.Equal(t, 5, table.GetNumBuckets())

	// 目录槽的局部深度序列
	expectedDepths := []int{2, 3, 2, 2, 2, 3, 2, 2}
	for i, want := range expectedDepths {
		assert.Equalf(t, want, table.GetLocalDepth(i), "local depth at dir slot %d", i)
	}

	v, ok := table.Find(9)
	require.True(t, ok)
	assert.Equal(t, "i", v)

	_, ok = table.Find(10)
	assert.False(t, ok)
}

func TestDepthInvariants(t *testing.T) {
	table := NewExtendibleHashTable[int64, int64](3, Int64Hasher)

	for i := int64(0); i < 500; i++ {
		table.Insert(i*7, i)
	}

	gd := table.GetGlobalDepth()
	dirSize := 1 << gd
	for i := 0; i < dirSize; i++ {
		assert.LessOrEqual(t, table.GetLocalDepth(i), gd)
	}

	for i := int64(0); i < 500; i++ {
		v, ok := table.Find(i * 7)
		require.Truef(t, ok, "key %d missing", i*7)
		assert.Equal(t, i, v)
	}
}

func TestLastWriteWins(t *testing.T) {
	table := NewExtendibleHashTable[int64, string](2, Int64Hasher)

	for round := 0; round < 3; round++ {
		for k := int64(0); k < 64; k++ {
			table.Insert(k, fmt.Sprintf("r%d-%d", round, k))
		}
	}
	for k := int64(0); k < 64; k++ {
		v, ok := table.Find(k)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("r2-%d", k), v)
	}
}

func TestConcurrentAccess(t *testing.T) {
	table := NewExtendibleHashTable[int64, int64](4, Int64Hasher)

	const goroutines = 8
	const perGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(base int64) {
			defer wg.Done()
			for i := int64(0); i < perGoroutine; i++ {
				key := base*perGoroutine + i
				table.Insert(key, key*2)
			}
		}(int64(g))
	}
	wg.Wait()

	for k := int64(0); k < goroutines*perGoroutine; k++ {
		v, ok := table.Find(k)
		require.Truef(t, ok, "key %d missing after concurrent insert", k)
		assert.Equal(t, k*2, v)
	}
}
