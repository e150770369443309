// Package tracer is the correlation engine. It matches entry and exit
// probe firings per execution context, keeps bounded tables of
// in-flight calls and live resources, and hands finished events to an
// export channel. No method on the probe path blocks or returns an
// error: failures are counted and the firing is dropped.
package tracer

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/wtscope/internal/probe"
	"github.com/ethpandaops/wtscope/internal/stack"
	"github.com/ethpandaops/wtscope/internal/table"
)

// Table names, also used as metric labels.
const (
	TableAllocInFlight   = "alloc_inflight"
	TableAllocs          = "allocs"
	TableSessionInFlight = "session_inflight"
	TableSessions        = "sessions"
	TableTxnInFlight     = "txn_inflight"
	TableTxns            = "txns"
	TableCallInFlight    = "call_inflight"
)

// Engine owns every table shared by the tracers. Independent engines
// share no state.
type Engine struct {
	log      logrus.FieldLogger
	cfg      Config
	mem      probe.Memory
	sampler  Sampler
	stacks   *stack.Table
	events   *Channel
	counters *Counters

	alloc   *AllocTracer
	session *SessionTracer
	txn     *TxnTracer
	call    *CallTracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithSampler overrides the allocation sampler derived from
// Config.AllocSampleEvery.
func WithSampler(s Sampler) Option {
	return func(e *Engine) {
		e.sampler = s
	}
}

// New creates an engine. mem is used to resolve out-parameters and
// read configuration strings from the traced process.
func New(
	log logrus.FieldLogger,
	cfg Config,
	mem probe.Memory,
	opts ...Option,
) (*Engine, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	e := &Engine{
		log:      log.WithField("component", "engine"),
		cfg:      cfg,
		mem:      mem,
		sampler:  newSampler(cfg.AllocSampleEvery),
		stacks:   stack.NewTable(cfg.StackCapacity),
		events:   NewChannel(cfg.ExportQueueSize),
		counters: NewCounters(),
	}

	for _, opt := range opts {
		opt(e)
	}

	var err error

	if e.alloc, err = newAllocTracer(e); err != nil {
		return nil, err
	}

	if e.session, err = newSessionTracer(e); err != nil {
		return nil, err
	}

	if e.txn, err = newTxnTracer(e); err != nil {
		return nil, err
	}

	if e.call, err = newCallTracer(e); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"inflight_capacity": cfg.InFlightCapacity,
		"resource_capacity": cfg.ResourceCapacity,
		"stack_capacity":    cfg.StackCapacity,
		"shards":            cfg.Shards,
		"alloc_sample":      cfg.AllocSampleEvery,
		"call_min_duration": cfg.CallMinDuration,
	}).Info("Correlation engine created")

	return e, nil
}

// Alloc returns the allocation tracer.
func (e *Engine) Alloc() *AllocTracer { return e.alloc }

// Session returns the session tracer.
func (e *Engine) Session() *SessionTracer { return e.session }

// Txn returns the transaction tracer.
func (e *Engine) Txn() *TxnTracer { return e.txn }

// Call returns the generic call tracer.
func (e *Engine) Call() *CallTracer { return e.call }

// Stacks returns the stack table used to resolve event stack ids.
func (e *Engine) Stacks() *stack.Table { return e.stacks }

// Events returns the export channel.
func (e *Engine) Events() *Channel { return e.events }

// Counters returns the correlation outcome counters.
func (e *Engine) Counters() *Counters { return e.counters }

// Dispatch routes a raw probe firing to its tracer callback. Argument
// positions follow the traced WiredTiger functions:
//
//	__wt_malloc(session, bytes, retp)
//	__wt_calloc(session, number, size, retp)
//	__wt_realloc(session, bytes_allocated, bytes_to_allocate, retp)
//	__wt_free_int(session, p_arg)
//	__wt_open_session(conn, event_handler, config, open_metadata, sessionp)
//	__wt_session_close_internal(session)
//	__session_begin_transaction(wt_session, config)
//	__session_commit_transaction(wt_session, config)
//	__session_rollback_transaction(wt_session, config)
//
// Unknown probes are ignored.
func (e *Engine) Dispatch(f probe.Firing) {
	h := f.Header
	pid := h.Context.PID()

	switch f.Probe {
	case probe.MallocEnter:
		e.alloc.Enter(h, f.Args[1], f.Args[2])
	case probe.CallocEnter:
		e.alloc.Calloc(h, f.Args[1], f.Args[2], f.Args[3])
	case probe.ReallocEnter:
		old := probe.ReadWord(e.mem, pid, f.Args[3])
		e.alloc.Realloc(h, old, f.Args[2], f.Args[3])
	case probe.MallocExit, probe.CallocExit, probe.ReallocExit:
		if f.RetCode() != 0 {
			e.alloc.ExitAddress(h, 0)

			return
		}

		e.alloc.Exit(h)
	case probe.FreeEnter:
		e.alloc.Free(h, probe.ReadWord(e.mem, pid, f.Args[1]))
	case probe.SessionOpenEnter:
		cfg := probe.ReadCString(e.mem, pid, f.Args[2], MaxConfigLen)
		e.session.CreateEnter(h, cfg, f.Args[4])
	case probe.SessionOpenExit:
		e.session.CreateExit(h, f.RetCode())
	case probe.SessionCloseExit:
		e.session.Close(h, f.Args[0], f.RetCode())
	case probe.TxnBeginEnter:
		cfg := probe.ReadCString(e.mem, pid, f.Args[1], MaxConfigLen)
		e.txn.BeginEnter(h, f.Args[0], cfg)
	case probe.TxnBeginExit:
		e.txn.BeginExit(h, f.RetCode())
	case probe.TxnCommitExit:
		e.txn.Close(h, f.Args[0], f.RetCode(), OutcomeCommit)
	case probe.TxnRollbackExit:
		e.txn.Close(h, f.Args[0], f.RetCode(), OutcomeRollback)
	case probe.CallEntry:
		e.call.Entry(h, f.CallSite, f.Args)
	case probe.CallReturn:
		e.call.Exit(h, f.Ret)
	}
}

// emit builds a finished event from the exit firing header and offers
// it to the export channel.
func (e *Engine) emit(h probe.Header, t EventType, typed any) {
	e.events.Offer(Event{
		Header: EventHeader{
			TimestampNs: h.TimestampNs,
			Context:     h.Context,
			Type:        t,
			Comm:        h.Comm,
		},
		Typed: typed,
	})
}

// newTable creates a named engine table, wrapping errors with its name.
func newTable[V any](name string, capacity, shards int) (*table.Table[V], error) {
	t, err := table.New[V](name, capacity, shards)
	if err != nil {
		return nil, fmt.Errorf("creating %s table: %w", name, err)
	}

	return t, nil
}

// truncateConfig copies at most MaxConfigLen bytes of a configuration
// string so records never alias caller memory.
func truncateConfig(config []byte) []byte {
	if len(config) > MaxConfigLen {
		config = config[:MaxConfigLen]
	}

	out := make([]byte, len(config))
	copy(out, config)

	return out
}

// elapsed returns end - start, or 0 when the clock went backwards.
func elapsed(start, end uint64) uint64 {
	if end < start {
		return 0
	}

	return end - start
}
