package tracer

import (
	"sync/atomic"

	"github.com/ethpandaops/wtscope/internal/probe"
	"github.com/ethpandaops/wtscope/internal/table"
)

// sessionEntry is recorded at session open entry.
type sessionEntry struct {
	config []byte
	slot   Slot
}

// SessionRecord is a live session, keyed by its address.
type SessionRecord struct {
	Address   uint64
	Seq       uint64
	Config    []byte
	CreatedNs uint64
	Context   probe.Context
}

// SessionTracer correlates session open entries and exits and tracks
// live sessions until they are closed.
type SessionTracer struct {
	e        *Engine
	inflight *table.Table[sessionEntry]
	live     *table.Table[SessionRecord]
	seq      atomic.Uint64
}

func newSessionTracer(e *Engine) (*SessionTracer, error) {
	inflight, err := newTable[sessionEntry](TableSessionInFlight, e.cfg.InFlightCapacity, e.cfg.Shards)
	if err != nil {
		return nil, err
	}

	live, err := newTable[SessionRecord](TableSessions, e.cfg.ResourceCapacity, e.cfg.Shards)
	if err != nil {
		return nil, err
	}

	return &SessionTracer{e: e, inflight: inflight, live: live}, nil
}

// CreateEnter records a session open request. config is truncated to
// MaxConfigLen bytes. slotAddr is where the callee stores the new
// session handle.
func (s *SessionTracer) CreateEnter(h probe.Header, config []byte, slotAddr uint64) {
	s.inflight.Put(uint64(h.Context), sessionEntry{
		config: truncateConfig(config),
		slot:   Pending(slotAddr),
	})
}

// CreateExit completes a session open. A non-zero code discards the
// request; otherwise the session handle is read from the out-parameter
// and the session becomes live.
func (s *SessionTracer) CreateExit(h probe.Header, code int32) {
	entry, ok := s.inflight.Take(uint64(h.Context))
	if !ok {
		s.e.counters.Record(SessionMissed)

		return
	}

	if code != 0 {
		s.e.counters.Record(SessionFailed)

		return
	}

	addr := entry.slot.Resolve(s.e.mem, h.Context.PID())
	if addr == 0 {
		s.e.counters.Record(SessionUnresolved)

		return
	}

	rec := SessionRecord{
		Address:   addr,
		Seq:       s.seq.Add(1),
		Config:    entry.config,
		CreatedNs: h.TimestampNs,
		Context:   h.Context,
	}

	s.live.Put(addr, rec)
	s.e.counters.Record(SessionOpened)

	if s.e.cfg.EmitLifecycle {
		s.e.emit(h, EventTypeSessionOpen, SessionEvent{
			Address: addr,
			Seq:     rec.Seq,
			Config:  string(rec.Config),
		})
	}
}

// Close retires the session at addr when code reports success. A
// failed close leaves the session live; closing an unknown session is
// a no-op.
func (s *SessionTracer) Close(h probe.Header, addr uint64, code int32) {
	if code != 0 {
		s.e.counters.Record(SessionCloseFailed)

		return
	}

	rec, ok := s.live.Take(addr)
	if !ok {
		s.e.counters.Record(SessionCloseUntracked)

		return
	}

	s.e.counters.Record(SessionClosed)

	if s.e.cfg.EmitLifecycle {
		s.e.emit(h, EventTypeSessionClose, SessionEvent{
			Address: addr,
			Seq:     rec.Seq,
			Config:  string(rec.Config),
			AgeNs:   elapsed(rec.CreatedNs, h.TimestampNs),
		})
	}
}

// Lookup returns the live session at addr.
func (s *SessionTracer) Lookup(addr uint64) (SessionRecord, bool) {
	return s.live.Get(addr)
}

// Live returns the number of live sessions.
func (s *SessionTracer) Live() int {
	return s.live.Len()
}

// InFlight returns the number of session opens awaiting their exit.
func (s *SessionTracer) InFlight() int {
	return s.inflight.Len()
}
