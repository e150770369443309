package table

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidCapacity(t *testing.T) {
	_, err := New[int]("bad", 0, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity must be positive")
}

func TestNew_ShardsReducedForSmallCapacity(t *testing.T) {
	tbl, err := New[int]("small", 3, 64)
	require.NoError(t, err)

	assert.Len(t, tbl.shards, 2)
	assert.Equal(t, 3, tbl.Capacity())
}

func TestTable_PutTake(t *testing.T) {
	tbl, err := New[string]("inflight", 16, 4)
	require.NoError(t, err)

	tbl.Put(7, "first")

	v, ok := tbl.Take(7)
	require.True(t, ok)
	assert.Equal(t, "first", v)

	// Second take finds nothing.
	_, ok = tbl.Take(7)
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Len())
}

func TestTable_PutOverwritesLastWins(t *testing.T) {
	tbl, err := New[string]("inflight", 16, 4)
	require.NoError(t, err)

	tbl.Put(1, "a")
	tbl.Put(1, "b")

	assert.Equal(t, 1, tbl.Len())

	v, ok := tbl.Take(1)
	require.True(t, ok)
	assert.Equal(t, "b", v)
	assert.Equal(t, uint64(0), tbl.Evictions())
}

func TestTable_TakeMissing(t *testing.T) {
	tbl, err := New[int]("resources", 8, 1)
	require.NoError(t, err)

	v, ok := tbl.Take(0xdead)
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestTable_EvictsLeastRecentlyUsed(t *testing.T) {
	tbl, err := New[int]("resources", 2, 1)
	require.NoError(t, err)

	tbl.Put(1, 10)
	tbl.Put(2, 20)
	tbl.Put(3, 30)

	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, uint64(1), tbl.Evictions())

	_, ok := tbl.Get(1)
	assert.False(t, ok, "oldest entry should be evicted")

	v, ok := tbl.Get(3)
	require.True(t, ok)
	assert.Equal(t, 30, v)
}

func TestTable_GetDoesNotRemove(t *testing.T) {
	tbl, err := New[int]("resources", 4, 1)
	require.NoError(t, err)

	tbl.Put(5, 50)

	_, ok := tbl.Get(5)
	require.True(t, ok)
	assert.Equal(t, 1, tbl.Len())
}

func TestTable_RangeAndSnapshot(t *testing.T) {
	tbl, err := New[int]("resources", 64, 8)
	require.NoError(t, err)

	for i := uint64(1); i <= 10; i++ {
		tbl.Put(i, int(i*2))
	}

	snap := tbl.Snapshot()
	require.Len(t, snap, 10)

	seen := make(map[uint64]int, len(snap))
	for _, e := range snap {
		seen[e.Key] = e.Value
	}

	for i := uint64(1); i <= 10; i++ {
		assert.Equal(t, int(i*2), seen[i])
	}

	count := 0
	tbl.Range(func(_ uint64, _ int) bool {
		count++

		return count < 3
	})
	assert.Equal(t, 3, count)
}

func TestTable_RangeAllowsReentrantTake(t *testing.T) {
	tbl, err := New[int]("resources", 16, 2)
	require.NoError(t, err)

	tbl.Put(1, 1)
	tbl.Put(2, 2)

	tbl.Range(func(key uint64, _ int) bool {
		tbl.Take(key)

		return true
	})

	assert.Equal(t, 0, tbl.Len())
}

func TestTable_ConcurrentAccess(t *testing.T) {
	tbl, err := New[uint64]("inflight", 100_000, 16)
	require.NoError(t, err)

	const goroutines = 50
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for g := range goroutines {
		go func() {
			defer wg.Done()

			for i := range iterations {
				key := uint64(g)<<32 | uint64(i)
				tbl.Put(key, key)

				v, ok := tbl.Take(key)
				if !ok || v != key {
					t.Errorf("key %d: got %d, %v", key, v, ok)
				}
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, uint64(0), tbl.Evictions())
}
