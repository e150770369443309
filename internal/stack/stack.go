// Package stack implements a bounded, deduplicating store of captured call
// stacks. Identical frame sequences share one small integer id.
package stack

import (
	"encoding/binary"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// ID identifies a stored stack. It is stable for the lifetime of a Table.
type ID int32

const (
	// InvalidID marks a failed or skipped capture.
	InvalidID ID = -1

	// MaxDepth is the maximum number of frames kept per stack.
	MaxDepth = 127

	// DefaultCapacity matches the stack map size of the allocation probes.
	DefaultCapacity = 10240
)

// Valid reports whether the id refers to a stored stack.
func (id ID) Valid() bool { return id >= 0 }

// Table stores unique stacks up to a fixed capacity. Once full, new stacks
// are not stored and capture yields InvalidID; known stacks still resolve.
type Table struct {
	capacity int

	mu     sync.RWMutex
	byHash map[uint64][]ID
	frames [][]uint64

	dropped atomic.Uint64
}

// NewTable creates a stack table. A non-positive capacity uses
// DefaultCapacity.
func NewTable(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Table{
		capacity: capacity,
		byHash:   make(map[uint64][]ID, 1024),
		frames:   make([][]uint64, 0, 1024),
	}
}

// Capture returns the id for frames, storing the sequence if it is new.
// Capture is best-effort: an empty sequence or a full table yields
// InvalidID.
func (t *Table) Capture(frames []uint64) ID {
	if len(frames) == 0 {
		return InvalidID
	}

	if len(frames) > MaxDepth {
		frames = frames[:MaxDepth]
	}

	h := hashFrames(frames)

	t.mu.RLock()
	id, ok := t.lookupLocked(h, frames)
	t.mu.RUnlock()

	if ok {
		return id
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Another capture may have stored it between the locks.
	if id, ok := t.lookupLocked(h, frames); ok {
		return id
	}

	if len(t.frames) >= t.capacity {
		t.dropped.Add(1)

		return InvalidID
	}

	id = ID(len(t.frames))
	t.frames = append(t.frames, slices.Clone(frames))
	t.byHash[h] = append(t.byHash[h], id)

	return id
}

// Lookup returns a copy of the frames stored under id.
func (t *Table) Lookup(id ID) ([]uint64, bool) {
	if !id.Valid() {
		return nil, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if int(id) >= len(t.frames) {
		return nil, false
	}

	return slices.Clone(t.frames[id]), true
}

// Len returns the number of unique stacks stored.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.frames)
}

// Dropped returns how many new stacks were rejected because the table
// was full.
func (t *Table) Dropped() uint64 {
	return t.dropped.Load()
}

func (t *Table) lookupLocked(h uint64, frames []uint64) (ID, bool) {
	for _, id := range t.byHash[h] {
		if slices.Equal(t.frames[id], frames) {
			return id, true
		}
	}

	return InvalidID, false
}

func hashFrames(frames []uint64) uint64 {
	d := xxhash.New()

	var buf [8]byte

	for _, pc := range frames {
		binary.LittleEndian.PutUint64(buf[:], pc)
		_, _ = d.Write(buf[:])
	}

	return d.Sum64()
}
