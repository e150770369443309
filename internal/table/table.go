// Package table provides the bounded keyed tables used by the correlation
// engine. The same structure backs both the context-keyed in-flight tables
// and the address-keyed live resource tables.
package table

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultShards is the number of shards used when none is configured.
const DefaultShards = 64

// Table is a fixed-capacity map from a 64-bit key to a record. Capacity is
// split across independently locked shards, each evicting its least
// recently used entry when full. Every operation touches exactly one shard.
type Table[V any] struct {
	name      string
	capacity  int
	mask      uint64
	shards    []*shard[V]
	evictions atomic.Uint64
}

type shard[V any] struct {
	mu  sync.Mutex
	lru *simplelru.LRU[uint64, V]
}

// Entry is a key/record pair returned by Range snapshots.
type Entry[V any] struct {
	Key   uint64
	Value V
}

// New creates a table holding at most capacity records. The shard count is
// rounded up to a power of two and reduced so no shard has zero capacity.
func New[V any](name string, capacity, shards int) (*Table[V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("table %s: capacity must be positive", name)
	}

	if shards <= 0 {
		shards = DefaultShards
	}

	n := 1
	for n < shards {
		n <<= 1
	}

	for n > 1 && capacity/n == 0 {
		n >>= 1
	}

	t := &Table[V]{
		name:     name,
		capacity: capacity,
		mask:     uint64(n - 1),
		shards:   make([]*shard[V], n),
	}

	per := capacity / n
	extra := capacity % n

	for i := range t.shards {
		size := per
		if i < extra {
			size++
		}

		lru, err := simplelru.NewLRU[uint64, V](size, nil)
		if err != nil {
			return nil, fmt.Errorf("table %s: creating shard %d: %w", name, i, err)
		}

		t.shards[i] = &shard[V]{lru: lru}
	}

	return t, nil
}

// Name returns the table name used in metrics and logs.
func (t *Table[V]) Name() string { return t.name }

// Capacity returns the configured maximum number of records.
func (t *Table[V]) Capacity() int { return t.capacity }

// Put inserts or overwrites the record for key.
func (t *Table[V]) Put(key uint64, value V) {
	s := t.shardFor(key)

	s.mu.Lock()
	evicted := s.lru.Add(key, value)
	s.mu.Unlock()

	if evicted {
		t.evictions.Add(1)
	}
}

// Take removes and returns the record for key. A missing key yields false.
func (t *Table[V]) Take(key uint64) (V, bool) {
	s := t.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.lru.Peek(key)
	if ok {
		s.lru.Remove(key)
	}

	return value, ok
}

// Get returns the record for key without changing its eviction order.
func (t *Table[V]) Get(key uint64) (V, bool) {
	s := t.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lru.Peek(key)
}

// Len returns the number of records currently held.
func (t *Table[V]) Len() int {
	total := 0

	for _, s := range t.shards {
		s.mu.Lock()
		total += s.lru.Len()
		s.mu.Unlock()
	}

	return total
}

// Evictions returns how many records were dropped by capacity pressure.
func (t *Table[V]) Evictions() uint64 {
	return t.evictions.Load()
}

// Range calls fn for every record. Each shard is copied under its lock and
// fn runs without any lock held, so fn may call back into the table.
// Iteration stops when fn returns false.
func (t *Table[V]) Range(fn func(key uint64, value V) bool) {
	for _, s := range t.shards {
		s.mu.Lock()
		keys := s.lru.Keys()
		entries := make([]Entry[V], 0, len(keys))

		for _, k := range keys {
			if v, ok := s.lru.Peek(k); ok {
				entries = append(entries, Entry[V]{Key: k, Value: v})
			}
		}
		s.mu.Unlock()

		for _, e := range entries {
			if !fn(e.Key, e.Value) {
				return
			}
		}
	}
}

// Snapshot returns a copy of every record.
func (t *Table[V]) Snapshot() []Entry[V] {
	result := make([]Entry[V], 0, t.Len())

	t.Range(func(key uint64, value V) bool {
		result = append(result, Entry[V]{Key: key, Value: value})

		return true
	})

	return result
}

func (t *Table[V]) shardFor(key uint64) *shard[V] {
	// Fibonacci hashing spreads sequential thread ids and aligned
	// addresses across shards.
	h := key * 0x9E3779B97F4A7C15

	return t.shards[(h>>32)&t.mask]
}
