package tracer

import (
	"sort"
	"sync"

	"github.com/ethpandaops/wtscope/internal/probe"
	"github.com/ethpandaops/wtscope/internal/table"
)

// callEntry is recorded at traced function entry.
type callEntry struct {
	callSite uint64
	args     [6]uint64
	startNs  uint64
}

// CallTracer correlates traced function entries with their returns,
// measuring duration and emitting calls at or above the configured
// threshold.
type CallTracer struct {
	e         *Engine
	inflight  *table.Table[callEntry]
	minDurNs  uint64
	latencies sync.Map // call site -> *Histogram
}

func newCallTracer(e *Engine) (*CallTracer, error) {
	inflight, err := newTable[callEntry](TableCallInFlight, e.cfg.InFlightCapacity, e.cfg.Shards)
	if err != nil {
		return nil, err
	}

	return &CallTracer{
		e:        e,
		inflight: inflight,
		minDurNs: uint64(e.cfg.CallMinDuration.Nanoseconds()),
	}, nil
}

// Entry records a call to callSite with its argument words.
func (c *CallTracer) Entry(h probe.Header, callSite uint64, args [6]uint64) {
	c.inflight.Put(uint64(h.Context), callEntry{
		callSite: callSite,
		args:     args,
		startNs:  h.TimestampNs,
	})
}

// Exit completes a call. Every correlated return feeds the call site
// latency histogram; only calls lasting at least the threshold get a
// stack captured and are emitted.
func (c *CallTracer) Exit(h probe.Header, ret uint64) {
	entry, ok := c.inflight.Take(uint64(h.Context))
	if !ok {
		c.e.counters.Record(CallMissed)

		return
	}

	duration := elapsed(entry.startNs, h.TimestampNs)
	c.histogram(entry.callSite).Add(duration)

	if duration < c.minDurNs {
		c.e.counters.Record(CallFiltered)

		return
	}

	c.e.counters.Record(CallEmitted)
	c.e.emit(h, EventTypeCall, CallEvent{
		CallSite:   entry.callSite,
		StartNs:    entry.startNs,
		DurationNs: duration,
		Return:     ret,
		Args:       entry.args,
		StackID:    c.e.stacks.Capture(h.Stack),
	})
}

// Latency returns the latency summary of a call site.
func (c *CallTracer) Latency(callSite uint64) (LatencySummary, bool) {
	v, ok := c.latencies.Load(callSite)
	if !ok {
		return LatencySummary{}, false
	}

	return v.(*Histogram).Summary(), true
}

// CallSiteLatency is the latency summary of one call site.
type CallSiteLatency struct {
	CallSite uint64
	LatencySummary
}

// Latencies returns the summary of every call site seen, ordered by
// call site.
func (c *CallTracer) Latencies() []CallSiteLatency {
	result := make([]CallSiteLatency, 0, 16)

	c.latencies.Range(func(k, v any) bool {
		result = append(result, CallSiteLatency{
			CallSite:       k.(uint64),
			LatencySummary: v.(*Histogram).Summary(),
		})

		return true
	})

	sort.Slice(result, func(i, j int) bool {
		return result[i].CallSite < result[j].CallSite
	})

	return result
}

// InFlight returns the number of calls awaiting their return.
func (c *CallTracer) InFlight() int {
	return c.inflight.Len()
}

func (c *CallTracer) histogram(callSite uint64) *Histogram {
	if v, ok := c.latencies.Load(callSite); ok {
		return v.(*Histogram)
	}

	v, _ := c.latencies.LoadOrStore(callSite, &Histogram{})

	return v.(*Histogram)
}
