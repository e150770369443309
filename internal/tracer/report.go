package tracer

import (
	"sort"

	"github.com/ethpandaops/wtscope/internal/probe"
)

// TableStats describes the occupancy of one engine table.
type TableStats struct {
	Name      string
	Len       int
	Capacity  int
	Evictions uint64
}

// Tables returns occupancy statistics for every engine table.
func (e *Engine) Tables() []TableStats {
	return []TableStats{
		tableStats(e.alloc.inflight),
		tableStats(e.alloc.live),
		tableStats(e.session.inflight),
		tableStats(e.session.live),
		tableStats(e.txn.inflight),
		tableStats(e.txn.live),
		tableStats(e.call.inflight),
	}
}

type statser interface {
	Name() string
	Len() int
	Capacity() int
	Evictions() uint64
}

func tableStats(t statser) TableStats {
	return TableStats{
		Name:      t.Name(),
		Len:       t.Len(),
		Capacity:  t.Capacity(),
		Evictions: t.Evictions(),
	}
}

// ActiveTxn is the open transaction of an active session.
type ActiveTxn struct {
	Context probe.Context
	Config  string
	AgeNs   uint64
}

// ActiveSession is a live session joined with its open transaction.
type ActiveSession struct {
	Address uint64
	Seq     uint64
	Context probe.Context
	Config  string
	AgeNs   uint64

	// Txn is nil when the session has no open transaction.
	Txn *ActiveTxn
}

// ActiveSessions returns every live session in open order, each joined
// to its open transaction if any.
func (e *Engine) ActiveSessions(nowNs uint64) []ActiveSession {
	result := make([]ActiveSession, 0, e.session.live.Len())

	e.session.live.Range(func(addr uint64, rec SessionRecord) bool {
		s := ActiveSession{
			Address: addr,
			Seq:     rec.Seq,
			Context: rec.Context,
			Config:  string(rec.Config),
			AgeNs:   elapsed(rec.CreatedNs, nowNs),
		}

		if txn, ok := e.txn.live.Get(addr); ok {
			s.Txn = &ActiveTxn{
				Context: txn.Context,
				Config:  string(txn.Config),
				AgeNs:   elapsed(txn.CreatedNs, nowNs),
			}
		}

		result = append(result, s)

		return true
	})

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})

	return result
}

// OrphanTransactions returns open transactions whose session is not
// live, typically because the session was opened before tracing began
// or its record was evicted.
func (e *Engine) OrphanTransactions() []TxnRecord {
	var result []TxnRecord

	e.txn.live.Range(func(session uint64, rec TxnRecord) bool {
		if _, ok := e.session.live.Get(session); !ok {
			result = append(result, rec)
		}

		return true
	})

	sort.Slice(result, func(i, j int) bool {
		return result[i].Session < result[j].Session
	})

	return result
}
