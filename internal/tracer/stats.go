package tracer

import (
	"fmt"
	"sync/atomic"
)

// Counter identifies a correlation outcome tracked by the engine.
type Counter uint8

const (
	// AllocMissed counts allocation exits without a matching entry.
	AllocMissed Counter = iota
	// AllocSampledOut counts allocation entries skipped by the sampler.
	AllocSampledOut
	// AllocFailed counts allocation exits that resolved a null address.
	AllocFailed
	// AllocTracked counts allocations that became live.
	AllocTracked
	// AllocFreed counts frees that retired a live allocation.
	AllocFreed
	// FreeUntracked counts frees of addresses not in the table.
	FreeUntracked

	SessionMissed
	SessionFailed
	// SessionUnresolved counts successful opens whose out-parameter
	// could not be read.
	SessionUnresolved
	SessionOpened
	SessionClosed
	SessionCloseFailed
	SessionCloseUntracked

	TxnMissed
	TxnFailed
	TxnBegun
	TxnEnded
	TxnCloseFailed
	TxnCloseUntracked

	CallMissed
	// CallFiltered counts calls shorter than the duration threshold.
	CallFiltered
	CallEmitted

	numCounters
)

var counterNames = [numCounters]string{
	AllocMissed:           "alloc_missed",
	AllocSampledOut:       "alloc_sampled_out",
	AllocFailed:           "alloc_failed",
	AllocTracked:          "alloc_tracked",
	AllocFreed:            "alloc_freed",
	FreeUntracked:         "free_untracked",
	SessionMissed:         "session_missed",
	SessionFailed:         "session_failed",
	SessionUnresolved:     "session_unresolved",
	SessionOpened:         "session_opened",
	SessionClosed:         "session_closed",
	SessionCloseFailed:    "session_close_failed",
	SessionCloseUntracked: "session_close_untracked",
	TxnMissed:             "txn_missed",
	TxnFailed:             "txn_failed",
	TxnBegun:              "txn_begun",
	TxnEnded:              "txn_ended",
	TxnCloseFailed:        "txn_close_failed",
	TxnCloseUntracked:     "txn_close_untracked",
	CallMissed:            "call_missed",
	CallFiltered:          "call_filtered",
	CallEmitted:           "call_emitted",
}

// String returns the metric label for the counter.
func (c Counter) String() string {
	if c >= numCounters {
		return fmt.Sprintf("unknown(%d)", c)
	}

	return counterNames[c]
}

// Counters provides lock-free per-Counter counts. Firings only ever
// increment, so the probe path never contends on a lock.
type Counters struct {
	counts [numCounters]atomic.Uint64
}

// NewCounters creates a new Counters instance.
func NewCounters() *Counters {
	return &Counters{}
}

// Record increments the given counter by one.
func (s *Counters) Record(c Counter) {
	if c >= numCounters {
		return
	}

	s.counts[c].Add(1)
}

// Load returns the current value of a counter without resetting it.
func (s *Counters) Load(c Counter) uint64 {
	if c >= numCounters {
		return 0
	}

	return s.counts[c].Load()
}

// Snapshot atomically reads and resets all counters, returning
// a map of only non-zero entries.
func (s *Counters) Snapshot() map[Counter]uint64 {
	result := make(map[Counter]uint64, numCounters)

	for i := range s.counts {
		v := s.counts[i].Swap(0)
		if v > 0 {
			result[Counter(i)] = v
		}
	}

	return result
}
