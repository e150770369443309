package sink

import (
	"sync/atomic"
	"time"

	"github.com/ethpandaops/wtscope/internal/tracer"
)

// Bucket aggregates finished events over one window.
type Bucket struct {
	StartTime time.Time

	// Call metrics
	CallCount      atomic.Int64
	CallDurationNs atomic.Int64
	CallMaxNs      atomic.Int64
	CallErrorCount atomic.Int64

	// Allocation metrics
	AllocCount     atomic.Int64
	AllocBytes     atomic.Int64
	FreeCount      atomic.Int64
	FreeBytes      atomic.Int64
	FreeAgeNs      atomic.Int64
	AllocFreeDelta atomic.Int64

	// Session lifecycle
	SessionOpenCount  atomic.Int64
	SessionCloseCount atomic.Int64
	SessionAgeNs      atomic.Int64

	// Transaction lifecycle
	TxnBeginCount    atomic.Int64
	TxnCommitCount   atomic.Int64
	TxnRollbackCount atomic.Int64
	TxnAgeNs         atomic.Int64

	// Total event count
	EventCount atomic.Int64
}

// NewBucket creates a new aggregation bucket starting at startTime.
func NewBucket(startTime time.Time) *Bucket {
	return &Bucket{StartTime: startTime}
}

// Add incorporates a finished event into the bucket's counters.
func (b *Bucket) Add(event tracer.Event) {
	b.EventCount.Add(1)

	switch e := event.Typed.(type) {
	case tracer.CallEvent:
		b.addCall(e)
	case tracer.AllocEvent:
		b.addAlloc(event.Header.Type, e)
	case tracer.SessionEvent:
		b.addSession(event.Header.Type, e)
	case tracer.TxnEvent:
		b.addTxn(event.Header.Type, e)
	}
}

func (b *Bucket) addCall(e tracer.CallEvent) {
	b.CallCount.Add(1)
	b.CallDurationNs.Add(int64(e.DurationNs))

	for {
		cur := b.CallMaxNs.Load()
		if int64(e.DurationNs) <= cur ||
			b.CallMaxNs.CompareAndSwap(cur, int64(e.DurationNs)) {
			break
		}
	}

	// WiredTiger returns zero on success.
	if int32(e.Return) != 0 {
		b.CallErrorCount.Add(1)
	}
}

func (b *Bucket) addAlloc(eventType tracer.EventType, e tracer.AllocEvent) {
	switch eventType {
	case tracer.EventTypeAlloc:
		b.AllocCount.Add(1)
		b.AllocBytes.Add(int64(e.Size))
		b.AllocFreeDelta.Add(int64(e.Size))
	case tracer.EventTypeFree:
		b.FreeCount.Add(1)
		b.FreeBytes.Add(int64(e.Size))
		b.FreeAgeNs.Add(int64(e.AgeNs))
		b.AllocFreeDelta.Add(-int64(e.Size))
	}
}

func (b *Bucket) addSession(eventType tracer.EventType, e tracer.SessionEvent) {
	switch eventType {
	case tracer.EventTypeSessionOpen:
		b.SessionOpenCount.Add(1)
	case tracer.EventTypeSessionClose:
		b.SessionCloseCount.Add(1)
		b.SessionAgeNs.Add(int64(e.AgeNs))
	}
}

func (b *Bucket) addTxn(eventType tracer.EventType, e tracer.TxnEvent) {
	switch eventType {
	case tracer.EventTypeTxnBegin:
		b.TxnBeginCount.Add(1)
	case tracer.EventTypeTxnEnd:
		b.TxnAgeNs.Add(int64(e.AgeNs))

		switch e.Outcome {
		case tracer.OutcomeCommit:
			b.TxnCommitCount.Add(1)
		case tracer.OutcomeRollback:
			b.TxnRollbackCount.Add(1)
		}
	}
}

// BucketSnapshot is a point-in-time copy of the bucket's counters.
type BucketSnapshot struct {
	StartTime time.Time

	CallCount      int64
	CallDurationNs int64
	CallMaxNs      int64
	CallErrorCount int64

	AllocCount     int64
	AllocBytes     int64
	FreeCount      int64
	FreeBytes      int64
	FreeAgeNs      int64
	AllocFreeDelta int64

	SessionOpenCount  int64
	SessionCloseCount int64
	SessionAgeNs      int64

	TxnBeginCount    int64
	TxnCommitCount   int64
	TxnRollbackCount int64
	TxnAgeNs         int64

	EventCount int64
}

// Snapshot returns a point-in-time snapshot of the bucket.
func (b *Bucket) Snapshot() BucketSnapshot {
	return BucketSnapshot{
		StartTime: b.StartTime,

		CallCount:      b.CallCount.Load(),
		CallDurationNs: b.CallDurationNs.Load(),
		CallMaxNs:      b.CallMaxNs.Load(),
		CallErrorCount: b.CallErrorCount.Load(),

		AllocCount:     b.AllocCount.Load(),
		AllocBytes:     b.AllocBytes.Load(),
		FreeCount:      b.FreeCount.Load(),
		FreeBytes:      b.FreeBytes.Load(),
		FreeAgeNs:      b.FreeAgeNs.Load(),
		AllocFreeDelta: b.AllocFreeDelta.Load(),

		SessionOpenCount:  b.SessionOpenCount.Load(),
		SessionCloseCount: b.SessionCloseCount.Load(),
		SessionAgeNs:      b.SessionAgeNs.Load(),

		TxnBeginCount:    b.TxnBeginCount.Load(),
		TxnCommitCount:   b.TxnCommitCount.Load(),
		TxnRollbackCount: b.TxnRollbackCount.Load(),
		TxnAgeNs:         b.TxnAgeNs.Load(),

		EventCount: b.EventCount.Load(),
	}
}

// MeanCallNs returns the mean call duration, or zero without calls.
func (s BucketSnapshot) MeanCallNs() int64 {
	if s.CallCount == 0 {
		return 0
	}

	return s.CallDurationNs / s.CallCount
}
