package tracer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters_Record(t *testing.T) {
	s := NewCounters()

	s.Record(AllocTracked)
	s.Record(AllocTracked)
	s.Record(CallEmitted)

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap[AllocTracked])
	assert.Equal(t, uint64(1), snap[CallEmitted])
	assert.Len(t, snap, 2)
}

func TestCounters_SnapshotResetsCounters(t *testing.T) {
	s := NewCounters()

	s.Record(SessionOpened)
	assert.Equal(t, uint64(1), s.Load(SessionOpened))

	snap1 := s.Snapshot()
	require.Len(t, snap1, 1)

	snap2 := s.Snapshot()
	assert.Empty(t, snap2)
	assert.Equal(t, uint64(0), s.Load(SessionOpened))
}

func TestCounters_IgnoresUnknown(t *testing.T) {
	s := NewCounters()

	s.Record(numCounters)
	s.Record(Counter(200))

	assert.Empty(t, s.Snapshot())
	assert.Equal(t, uint64(0), s.Load(Counter(200)))
}

func TestCounters_Concurrent(t *testing.T) {
	s := NewCounters()

	const (
		goroutines   = 10
		perGoroutine = 1000
	)

	var wg sync.WaitGroup

	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()

			for range perGoroutine {
				s.Record(CallMissed)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, uint64(goroutines*perGoroutine), s.Snapshot()[CallMissed])
}

func TestCounter_String(t *testing.T) {
	assert.Equal(t, "alloc_missed", AllocMissed.String())
	assert.Equal(t, "session_unresolved", SessionUnresolved.String())
	assert.Equal(t, "txn_close_untracked", TxnCloseUntracked.String())
	assert.Equal(t, "call_emitted", CallEmitted.String())
	assert.Equal(t, "unknown(200)", Counter(200).String())

	for c := Counter(0); c < numCounters; c++ {
		assert.NotEmpty(t, c.String(), "counter %d has no name", c)
	}
}
