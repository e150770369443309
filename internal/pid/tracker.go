package pid

import (
	"sync"
)

// Tracker holds the current set of traced PIDs. It is safe for
// concurrent use.
type Tracker struct {
	mu   sync.RWMutex
	pids map[uint32]struct{}
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{pids: make(map[uint32]struct{})}
}

// Replace swaps the tracked set and reports which PIDs were added and
// which were removed.
func (t *Tracker) Replace(pids []uint32) (added, removed []uint32) {
	next := make(map[uint32]struct{}, len(pids))
	for _, pid := range pids {
		next[pid] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for pid := range next {
		if _, ok := t.pids[pid]; !ok {
			added = append(added, pid)
		}
	}

	for pid := range t.pids {
		if _, ok := next[pid]; !ok {
			removed = append(removed, pid)
		}
	}

	t.pids = next

	return added, removed
}

// Contains reports whether pid is tracked.
func (t *Tracker) Contains(pid uint32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.pids[pid]

	return ok
}

// Len returns the number of tracked PIDs.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.pids)
}
