package tracer

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/wtscope/internal/probe"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func testConfig() Config {
	return Config{
		InFlightCapacity: 1024,
		ResourceCapacity: 1024,
		StackCapacity:    64,
		Shards:           4,
		ExportQueueSize:  64,
	}
}

func newTestEngine(t *testing.T, cfg Config, mem probe.Memory, opts ...Option) *Engine {
	t.Helper()

	e, err := New(testLog(), cfg, mem, opts...)
	require.NoError(t, err)

	return e
}

func hdr(ctx probe.Context, ts uint64) probe.Header {
	return probe.Header{TimestampNs: ts, Context: ctx, Comm: "worker"}
}

// drain returns every event queued on the engine channel.
func drain(e *Engine) []Event {
	var events []Event

	for {
		select {
		case ev := <-e.Events().Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.CallMinDuration = -1

	_, err := New(testLog(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call_min_duration")
}

func TestNew_AppliesDefaults(t *testing.T) {
	e := newTestEngine(t, Config{}, nil)

	for _, ts := range e.Tables() {
		assert.Equal(t, 1_000_000, ts.Capacity, ts.Name)
	}

	assert.Equal(t, 65536, e.Events().Cap())
}

func TestEngines_AreIndependent(t *testing.T) {
	a := newTestEngine(t, testConfig(), nil)
	b := newTestEngine(t, testConfig(), nil)

	a.Call().Entry(hdr(1, 10), 0x1, [6]uint64{})

	assert.Equal(t, 1, a.Call().InFlight())
	assert.Equal(t, 0, b.Call().InFlight())
}

func TestDispatch_SessionScenario(t *testing.T) {
	mem := probe.NewSparseMemory()
	mem.WriteString(0x1000, "isolation=snapshot")
	mem.WriteWord(0xAA, 0xBEEF)

	e := newTestEngine(t, testConfig(), mem)
	ctx := probe.Context(7)

	e.Dispatch(probe.Firing{
		Header: hdr(ctx, 100),
		Probe:  probe.SessionOpenEnter,
		Args:   [6]uint64{0x1, 0x2, 0x1000, 0, 0xAA},
	})
	e.Dispatch(probe.Firing{Header: hdr(ctx, 200), Probe: probe.SessionOpenExit, Ret: 0})

	rec, ok := e.Session().Lookup(0xBEEF)
	require.True(t, ok)
	assert.Equal(t, "isolation=snapshot", string(rec.Config))
	assert.Equal(t, ctx, rec.Context)
	assert.Equal(t, uint64(200), rec.CreatedNs)

	e.Dispatch(probe.Firing{Header: hdr(ctx, 300), Probe: probe.SessionCloseExit, Args: [6]uint64{0xBEEF}})

	_, ok = e.Session().Lookup(0xBEEF)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), e.Counters().Load(SessionClosed))

	e.Dispatch(probe.Firing{Header: hdr(ctx, 400), Probe: probe.SessionCloseExit, Args: [6]uint64{0xBEEF}})

	assert.Equal(t, uint64(1), e.Counters().Load(SessionClosed))
	assert.Equal(t, uint64(1), e.Counters().Load(SessionCloseUntracked))
	assert.Equal(t, 0, e.Session().Live())
}

func TestDispatch_Malloc(t *testing.T) {
	mem := probe.NewSparseMemory()
	mem.WriteWord(0x500, 0xCAFE)

	e := newTestEngine(t, testConfig(), mem)
	h := hdr(probe.NewContext(10, 11), 1000)
	h.Stack = []uint64{0x10, 0x20}

	e.Dispatch(probe.Firing{Header: h, Probe: probe.MallocEnter, Args: [6]uint64{0, 64, 0x500}})
	e.Dispatch(probe.Firing{Header: h, Probe: probe.MallocExit})

	rec, ok := e.Alloc().Lookup(0xCAFE)
	require.True(t, ok)
	assert.Equal(t, uint64(64), rec.Size)
	assert.True(t, rec.StackID.Valid())

	frames, ok := e.Stacks().Lookup(rec.StackID)
	require.True(t, ok)
	assert.Equal(t, []uint64{0x10, 0x20}, frames)
}

func TestDispatch_MallocFailureCode(t *testing.T) {
	mem := probe.NewSparseMemory()
	mem.WriteWord(0x500, 0xCAFE)

	e := newTestEngine(t, testConfig(), mem)
	h := hdr(1, 1000)

	e.Dispatch(probe.Firing{Header: h, Probe: probe.MallocEnter, Args: [6]uint64{0, 64, 0x500}})
	e.Dispatch(probe.Firing{Header: h, Probe: probe.MallocExit, Ret: 12})

	assert.Equal(t, 0, e.Alloc().Live())
	assert.Equal(t, 0, e.Alloc().InFlight())
	assert.Equal(t, uint64(1), e.Counters().Load(AllocFailed))
}

func TestDispatch_FreeReadsPointerArgument(t *testing.T) {
	mem := probe.NewSparseMemory()
	mem.WriteWord(0x500, 0xCAFE)
	mem.WriteWord(0x600, 0xCAFE)

	e := newTestEngine(t, testConfig(), mem)
	h := hdr(1, 1000)

	e.Dispatch(probe.Firing{Header: h, Probe: probe.MallocEnter, Args: [6]uint64{0, 64, 0x500}})
	e.Dispatch(probe.Firing{Header: h, Probe: probe.MallocExit})
	require.Equal(t, 1, e.Alloc().Live())

	e.Dispatch(probe.Firing{Header: h, Probe: probe.FreeEnter, Args: [6]uint64{0, 0x600}})
	assert.Equal(t, 0, e.Alloc().Live())
}

func TestDispatch_Realloc(t *testing.T) {
	mem := probe.NewSparseMemory()
	mem.WriteWord(0x500, 0xA000)

	e := newTestEngine(t, testConfig(), mem)
	h := hdr(1, 1000)

	e.Dispatch(probe.Firing{Header: h, Probe: probe.MallocEnter, Args: [6]uint64{0, 16, 0x500}})
	e.Dispatch(probe.Firing{Header: h, Probe: probe.MallocExit})
	require.Equal(t, 1, e.Alloc().Live())

	// realloc reads the old pointer from retp, then the callee writes
	// the new one back to the same slot.
	e.Dispatch(probe.Firing{Header: h, Probe: probe.ReallocEnter, Args: [6]uint64{0, 16, 128, 0x500}})
	mem.WriteWord(0x500, 0xB000)
	e.Dispatch(probe.Firing{Header: h, Probe: probe.ReallocExit})

	_, ok := e.Alloc().Lookup(0xA000)
	assert.False(t, ok)

	rec, ok := e.Alloc().Lookup(0xB000)
	require.True(t, ok)
	assert.Equal(t, uint64(128), rec.Size)
}

func TestDispatch_Calloc(t *testing.T) {
	mem := probe.NewSparseMemory()
	mem.WriteWord(0x500, 0xA000)

	e := newTestEngine(t, testConfig(), mem)
	h := hdr(1, 1000)

	e.Dispatch(probe.Firing{Header: h, Probe: probe.CallocEnter, Args: [6]uint64{0, 10, 24, 0x500}})
	e.Dispatch(probe.Firing{Header: h, Probe: probe.CallocExit})

	rec, ok := e.Alloc().Lookup(0xA000)
	require.True(t, ok)
	assert.Equal(t, uint64(240), rec.Size)
}

func TestDispatch_Transaction(t *testing.T) {
	mem := probe.NewSparseMemory()
	mem.WriteString(0x2000, "isolation=read-committed")

	e := newTestEngine(t, testConfig(), mem)
	h := hdr(3, 50)

	e.Dispatch(probe.Firing{Header: h, Probe: probe.TxnBeginEnter, Args: [6]uint64{0xBEEF, 0x2000}})
	e.Dispatch(probe.Firing{Header: h, Probe: probe.TxnBeginExit})

	rec, ok := e.Txn().Lookup(0xBEEF)
	require.True(t, ok)
	assert.Equal(t, "isolation=read-committed", string(rec.Config))

	// A failed rollback leaves the transaction open.
	e.Dispatch(probe.Firing{Header: h, Probe: probe.TxnRollbackExit, Args: [6]uint64{0xBEEF}, Ret: uint64(0xFFFFFFFF)})
	assert.Equal(t, 1, e.Txn().Live())

	e.Dispatch(probe.Firing{Header: h, Probe: probe.TxnCommitExit, Args: [6]uint64{0xBEEF}})
	assert.Equal(t, 0, e.Txn().Live())
	assert.Equal(t, uint64(1), e.Counters().Load(TxnCloseFailed))
	assert.Equal(t, uint64(1), e.Counters().Load(TxnEnded))
}

func TestDispatch_Call(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	args := [6]uint64{1, 2, 3, 4, 5, 6}

	e.Dispatch(probe.Firing{Header: hdr(9, 1_000), Probe: probe.CallEntry, CallSite: 0x4242, Args: args})
	e.Dispatch(probe.Firing{Header: hdr(9, 6_000), Probe: probe.CallReturn, Ret: 77})

	events := drain(e)
	require.Len(t, events, 1)

	call, ok := events[0].Typed.(CallEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(0x4242), call.CallSite)
	assert.Equal(t, uint64(5_000), call.DurationNs)
	assert.Equal(t, uint64(77), call.Return)
	assert.Equal(t, args, call.Args)
}

func TestDispatch_UnknownProbeIgnored(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)

	assert.NotPanics(t, func() {
		e.Dispatch(probe.Firing{Header: hdr(1, 1), Probe: probe.ID(200)})
	})
	assert.Empty(t, e.Counters().Snapshot())
}

func TestDispatch_ExitsWithoutEntries(t *testing.T) {
	e := newTestEngine(t, testConfig(), probe.NewSparseMemory())

	exits := []probe.ID{
		probe.MallocExit,
		probe.CallocExit,
		probe.ReallocExit,
		probe.SessionOpenExit,
		probe.TxnBeginExit,
		probe.CallReturn,
	}

	for _, id := range exits {
		e.Dispatch(probe.Firing{Header: hdr(5, 10), Probe: id})
	}

	assert.Empty(t, drain(e))

	for _, ts := range e.Tables() {
		assert.Zero(t, ts.Len, ts.Name)
	}

	assert.Equal(t, uint64(3), e.Counters().Load(AllocMissed))
	assert.Equal(t, uint64(1), e.Counters().Load(SessionMissed))
	assert.Equal(t, uint64(1), e.Counters().Load(TxnMissed))
	assert.Equal(t, uint64(1), e.Counters().Load(CallMissed))
}

func TestTruncateConfig_Copies(t *testing.T) {
	src := []byte("abc")
	out := truncateConfig(src)
	src[0] = 'x'

	assert.Equal(t, "abc", string(out))
}

func TestElapsed(t *testing.T) {
	assert.Equal(t, uint64(5), elapsed(10, 15))
	assert.Equal(t, uint64(0), elapsed(15, 10))
}
