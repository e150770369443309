package tracer

import "sync/atomic"

// Latency bucket boundaries in nanoseconds.
// 10 buckets: 1us, 10us, 100us, 1ms, 10ms, 100ms, 1s, 10s, 100s, +inf.
const (
	bucket1us   = 1_000
	bucket10us  = 10_000
	bucket100us = 100_000
	bucket1ms   = 1_000_000
	bucket10ms  = 10_000_000
	bucket100ms = 100_000_000
	bucket1s    = 1_000_000_000
	bucket10s   = 10_000_000_000
	bucket100s  = 100_000_000_000

	// NumBuckets is the number of latency buckets.
	NumBuckets = 10
)

// Histogram is a decade histogram of call durations plus a running
// count and total. All operations are atomic.
type Histogram struct {
	buckets [NumBuckets]atomic.Uint64
	count   atomic.Uint64
	totalNs atomic.Uint64
}

// Add records a duration in nanoseconds.
func (h *Histogram) Add(valueNs uint64) {
	h.buckets[bucketIndex(valueNs)].Add(1)
	h.count.Add(1)
	h.totalNs.Add(valueNs)
}

// Summary returns the current state without resetting it.
func (h *Histogram) Summary() LatencySummary {
	var s LatencySummary

	for i := range h.buckets {
		s.Buckets[i] = h.buckets[i].Load()
	}

	s.Count = h.count.Load()
	s.TotalNs = h.totalNs.Load()

	return s
}

// LatencySummary is a point-in-time copy of a Histogram.
type LatencySummary struct {
	Count   uint64
	TotalNs uint64

	// Buckets holds [<1us, <10us, <100us, <1ms, <10ms, <100ms, <1s,
	// <10s, <100s, +inf] counts.
	Buckets [NumBuckets]uint64
}

// Mean returns the mean duration in nanoseconds, or 0 when empty.
func (s LatencySummary) Mean() uint64 {
	if s.Count == 0 {
		return 0
	}

	return s.TotalNs / s.Count
}

func bucketIndex(valueNs uint64) int {
	switch {
	case valueNs < bucket1us:
		return 0
	case valueNs < bucket10us:
		return 1
	case valueNs < bucket100us:
		return 2
	case valueNs < bucket1ms:
		return 3
	case valueNs < bucket10ms:
		return 4
	case valueNs < bucket100ms:
		return 5
	case valueNs < bucket1s:
		return 6
	case valueNs < bucket10s:
		return 7
	case valueNs < bucket100s:
		return 8
	default:
		return 9
	}
}

// BucketBoundaries returns the upper bound of each bucket in
// nanoseconds. The last bucket is unbounded and reported as 0.
func BucketBoundaries() [NumBuckets]uint64 {
	return [NumBuckets]uint64{
		bucket1us,
		bucket10us,
		bucket100us,
		bucket1ms,
		bucket10ms,
		bucket100ms,
		bucket1s,
		bucket10s,
		bucket100s,
		0,
	}
}
