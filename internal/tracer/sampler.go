package tracer

import "sync/atomic"

// Sampler decides whether an allocation entry is recorded.
// Implementations must be safe for concurrent use and must not block.
type Sampler interface {
	Sample() bool
}

// Always keeps every entry.
type Always struct{}

// Sample always returns true.
func (Always) Sample() bool { return true }

// EveryN keeps exactly one entry in every n, counted across all
// contexts. Over any run of k entries it keeps at most ceil(k/n).
type EveryN struct {
	n     uint64
	count atomic.Uint64
}

// NewEveryN creates a sampler keeping one entry in every n.
// n of 0 or 1 keeps every entry.
func NewEveryN(n uint64) *EveryN {
	if n == 0 {
		n = 1
	}

	return &EveryN{n: n}
}

// Sample returns true for the first entry and every n-th one after it.
func (s *EveryN) Sample() bool {
	if s.n == 1 {
		return true
	}

	return (s.count.Add(1)-1)%s.n == 0
}

// newSampler returns the sampler matching the configured rate.
func newSampler(every uint64) Sampler {
	if every <= 1 {
		return Always{}
	}

	return NewEveryN(every)
}
