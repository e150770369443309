package tracer

import (
	"github.com/ethpandaops/wtscope/internal/probe"
	"github.com/ethpandaops/wtscope/internal/table"
)

// txnEntry is recorded at transaction begin entry.
type txnEntry struct {
	session uint64
	config  []byte
}

// TxnRecord is an open transaction, keyed by its session address.
// Only one open transaction per session is modelled.
type TxnRecord struct {
	Session   uint64
	Config    []byte
	CreatedNs uint64
	Context   probe.Context
}

// TxnTracer correlates transaction begin entries and exits and tracks
// open transactions until commit or rollback.
type TxnTracer struct {
	e        *Engine
	inflight *table.Table[txnEntry]
	live     *table.Table[TxnRecord]
}

func newTxnTracer(e *Engine) (*TxnTracer, error) {
	inflight, err := newTable[txnEntry](TableTxnInFlight, e.cfg.InFlightCapacity, e.cfg.Shards)
	if err != nil {
		return nil, err
	}

	live, err := newTable[TxnRecord](TableTxns, e.cfg.ResourceCapacity, e.cfg.Shards)
	if err != nil {
		return nil, err
	}

	return &TxnTracer{e: e, inflight: inflight, live: live}, nil
}

// BeginEnter records a transaction begin on session. config is
// truncated to MaxConfigLen bytes.
func (t *TxnTracer) BeginEnter(h probe.Header, session uint64, config []byte) {
	t.inflight.Put(uint64(h.Context), txnEntry{
		session: session,
		config:  truncateConfig(config),
	})
}

// BeginExit completes a transaction begin. On success the transaction
// becomes open, replacing any stale record for the same session.
func (t *TxnTracer) BeginExit(h probe.Header, code int32) {
	entry, ok := t.inflight.Take(uint64(h.Context))
	if !ok {
		t.e.counters.Record(TxnMissed)

		return
	}

	if code != 0 {
		t.e.counters.Record(TxnFailed)

		return
	}

	t.live.Put(entry.session, TxnRecord{
		Session:   entry.session,
		Config:    entry.config,
		CreatedNs: h.TimestampNs,
		Context:   h.Context,
	})
	t.e.counters.Record(TxnBegun)

	if t.e.cfg.EmitLifecycle {
		t.e.emit(h, EventTypeTxnBegin, TxnEvent{
			Session: entry.session,
			Config:  string(entry.config),
		})
	}
}

// Close ends the open transaction on session when code reports
// success. Commit and rollback share this path. A failed close leaves
// the transaction open; closing with no open transaction is a no-op.
func (t *TxnTracer) Close(h probe.Header, session uint64, code int32, outcome TxnOutcome) {
	if code != 0 {
		t.e.counters.Record(TxnCloseFailed)

		return
	}

	rec, ok := t.live.Take(session)
	if !ok {
		t.e.counters.Record(TxnCloseUntracked)

		return
	}

	t.e.counters.Record(TxnEnded)

	if t.e.cfg.EmitLifecycle {
		t.e.emit(h, EventTypeTxnEnd, TxnEvent{
			Session: session,
			Config:  string(rec.Config),
			Outcome: outcome,
			AgeNs:   elapsed(rec.CreatedNs, h.TimestampNs),
		})
	}
}

// Lookup returns the open transaction on session.
func (t *TxnTracer) Lookup(session uint64) (TxnRecord, bool) {
	return t.live.Get(session)
}

// Live returns the number of open transactions.
func (t *TxnTracer) Live() int {
	return t.live.Len()
}

// InFlight returns the number of begins awaiting their exit.
func (t *TxnTracer) InFlight() int {
	return t.inflight.Len()
}
