package tracer

import (
	"math"
	"math/bits"
	"sort"
	"time"

	"github.com/ethpandaops/wtscope/internal/probe"
	"github.com/ethpandaops/wtscope/internal/stack"
	"github.com/ethpandaops/wtscope/internal/table"
)

// allocEntry is recorded at allocation entry.
type allocEntry struct {
	size    uint64
	slot    Slot
	startNs uint64
}

// AllocRecord is a live allocation, keyed by its address.
type AllocRecord struct {
	Size      uint64
	CreatedNs uint64
	StackID   stack.ID
	Context   probe.Context
}

// AllocTracer correlates allocation entries and exits and tracks live
// allocations so frees can retire them.
type AllocTracer struct {
	e        *Engine
	inflight *table.Table[allocEntry]
	live     *table.Table[AllocRecord]
}

func newAllocTracer(e *Engine) (*AllocTracer, error) {
	inflight, err := newTable[allocEntry](TableAllocInFlight, e.cfg.InFlightCapacity, e.cfg.Shards)
	if err != nil {
		return nil, err
	}

	live, err := newTable[AllocRecord](TableAllocs, e.cfg.ResourceCapacity, e.cfg.Shards)
	if err != nil {
		return nil, err
	}

	return &AllocTracer{e: e, inflight: inflight, live: live}, nil
}

// Enter records an allocation request of size bytes. slotAddr is the
// out-parameter the callee writes the new address to, or 0 when the
// address is returned directly. Entries rejected by the sampler leave
// no record, so their exits count as missed.
func (a *AllocTracer) Enter(h probe.Header, size, slotAddr uint64) {
	if !a.e.sampler.Sample() {
		a.e.counters.Record(AllocSampledOut)

		return
	}

	slot := Resolved(0)
	if slotAddr != 0 {
		slot = Pending(slotAddr)
	}

	a.inflight.Put(uint64(h.Context), allocEntry{
		size:    size,
		slot:    slot,
		startNs: h.TimestampNs,
	})
}

// Exit completes an allocation whose address was written through the
// out-parameter recorded at entry.
func (a *AllocTracer) Exit(h probe.Header) {
	entry, ok := a.inflight.Take(uint64(h.Context))
	if !ok {
		a.e.counters.Record(AllocMissed)

		return
	}

	a.finish(h, entry, entry.slot.Resolve(a.e.mem, h.Context.PID()))
}

// ExitAddress completes an allocation that returned addr directly.
// A null addr marks a failed allocation.
func (a *AllocTracer) ExitAddress(h probe.Header, addr uint64) {
	entry, ok := a.inflight.Take(uint64(h.Context))
	if !ok {
		a.e.counters.Record(AllocMissed)

		return
	}

	a.finish(h, entry, addr)
}

func (a *AllocTracer) finish(h probe.Header, entry allocEntry, addr uint64) {
	if addr == 0 {
		a.e.counters.Record(AllocFailed)

		return
	}

	rec := AllocRecord{
		Size:      entry.size,
		CreatedNs: h.TimestampNs,
		StackID:   a.e.stacks.Capture(h.Stack),
		Context:   h.Context,
	}

	a.live.Put(addr, rec)
	a.e.counters.Record(AllocTracked)

	if a.e.cfg.EmitLifecycle {
		a.e.emit(h, EventTypeAlloc, AllocEvent{
			Address: addr,
			Size:    rec.Size,
			StackID: rec.StackID,
		})
	}
}

// Free retires the live allocation at addr. Freeing an untracked or
// null address is a no-op.
func (a *AllocTracer) Free(h probe.Header, addr uint64) {
	if addr == 0 {
		return
	}

	rec, ok := a.live.Take(addr)
	if !ok {
		a.e.counters.Record(FreeUntracked)

		return
	}

	a.e.counters.Record(AllocFreed)

	if a.e.cfg.EmitLifecycle {
		a.e.emit(h, EventTypeFree, AllocEvent{
			Address: addr,
			Size:    rec.Size,
			StackID: rec.StackID,
			AgeNs:   elapsed(rec.CreatedNs, h.TimestampNs),
		})
	}
}

// Realloc frees the allocation at oldAddr and enters a new allocation
// of newSize bytes.
func (a *AllocTracer) Realloc(h probe.Header, oldAddr, newSize, slotAddr uint64) {
	a.Free(h, oldAddr)
	a.Enter(h, newSize, slotAddr)
}

// Calloc enters an allocation of count elements of size bytes each.
// A product that overflows saturates at the maximum size.
func (a *AllocTracer) Calloc(h probe.Header, count, size, slotAddr uint64) {
	hi, total := bits.Mul64(count, size)
	if hi != 0 {
		total = math.MaxUint64
	}

	a.Enter(h, total, slotAddr)
}

// Lookup returns the live allocation at addr.
func (a *AllocTracer) Lookup(addr uint64) (AllocRecord, bool) {
	return a.live.Get(addr)
}

// Live returns the number of live allocations.
func (a *AllocTracer) Live() int {
	return a.live.Len()
}

// InFlight returns the number of allocations awaiting their exit.
func (a *AllocTracer) InFlight() int {
	return a.inflight.Len()
}

// OutstandingStack aggregates live allocations made from one stack.
type OutstandingStack struct {
	StackID  stack.ID
	Count    uint64
	Bytes    uint64
	OldestNs uint64
}

// Outstanding groups live allocations at least minAge old by their
// allocation stack, largest total first. Allocations without a stack
// are skipped. topN of 0 returns every group.
func (a *AllocTracer) Outstanding(nowNs uint64, minAge time.Duration, topN int) []OutstandingStack {
	groups := make(map[stack.ID]*OutstandingStack, 64)
	minAgeNs := uint64(minAge.Nanoseconds())

	a.live.Range(func(_ uint64, rec AllocRecord) bool {
		if !rec.StackID.Valid() || elapsed(rec.CreatedNs, nowNs) < minAgeNs {
			return true
		}

		g, ok := groups[rec.StackID]
		if !ok {
			g = &OutstandingStack{StackID: rec.StackID, OldestNs: rec.CreatedNs}
			groups[rec.StackID] = g
		}

		g.Count++
		g.Bytes += rec.Size

		if rec.CreatedNs < g.OldestNs {
			g.OldestNs = rec.CreatedNs
		}

		return true
	})

	result := make([]OutstandingStack, 0, len(groups))
	for _, g := range groups {
		result = append(result, *g)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Bytes != result[j].Bytes {
			return result[i].Bytes > result[j].Bytes
		}

		return result[i].StackID < result[j].StackID
	})

	if topN > 0 && len(result) > topN {
		result = result[:topN]
	}

	return result
}
