package tracer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxn_CommitAndRollback(t *testing.T) {
	tests := []struct {
		name    string
		outcome TxnOutcome
	}{
		{"commit", OutcomeCommit},
		{"rollback", OutcomeRollback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.EmitLifecycle = true

			e := newTestEngine(t, cfg, nil)

			e.Txn().BeginEnter(hdr(4, 100), 0xBEEF, []byte("isolation=snapshot"))
			e.Txn().BeginExit(hdr(4, 110), 0)
			e.Txn().Close(hdr(4, 200), 0xBEEF, 0, tt.outcome)
			e.Txn().Close(hdr(4, 210), 0xBEEF, 0, tt.outcome)

			events := drain(e)
			require.Len(t, events, 2)
			assert.Equal(t, EventTypeTxnBegin, events[0].Header.Type)
			assert.Equal(t, TxnEvent{
				Session: 0xBEEF,
				Config:  "isolation=snapshot",
				Outcome: tt.outcome,
				AgeNs:   90,
			}, events[1].Typed)

			assert.Equal(t, uint64(1), e.Counters().Load(TxnEnded))
			assert.Equal(t, uint64(1), e.Counters().Load(TxnCloseUntracked))
		})
	}
}

func TestTxn_FailedBegin(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)

	e.Txn().BeginEnter(hdr(4, 100), 0xBEEF, nil)
	e.Txn().BeginExit(hdr(4, 110), -1)

	assert.Equal(t, 0, e.Txn().Live())
	assert.Equal(t, uint64(1), e.Counters().Load(TxnFailed))

	e.Txn().Close(hdr(4, 120), 0xBEEF, 0, OutcomeCommit)
	assert.Equal(t, uint64(1), e.Counters().Load(TxnCloseUntracked))
}

func TestTxn_NewBeginOverwritesStale(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)

	e.Txn().BeginEnter(hdr(4, 100), 0xBEEF, []byte("first"))
	e.Txn().BeginExit(hdr(4, 110), 0)
	e.Txn().BeginEnter(hdr(5, 300), 0xBEEF, []byte("second"))
	e.Txn().BeginExit(hdr(5, 310), 0)

	rec, ok := e.Txn().Lookup(0xBEEF)
	require.True(t, ok)
	assert.Equal(t, "second", string(rec.Config))
	assert.Equal(t, uint64(310), rec.CreatedNs)
	assert.Equal(t, 1, e.Txn().Live())
}

func TestTxn_CorrelationKeepsEntryState(t *testing.T) {
	e := newTestEngine(t, testConfig(), nil)
	config := strings.Repeat("c", MaxConfigLen*2)

	// Interleave two contexts; each exit must see its own entry.
	e.Txn().BeginEnter(hdr(1, 10), 0x1000, []byte("one"))
	e.Txn().BeginEnter(hdr(2, 11), 0x2000, []byte(config))
	e.Txn().BeginExit(hdr(2, 12), 0)
	e.Txn().BeginExit(hdr(1, 13), 0)

	one, ok := e.Txn().Lookup(0x1000)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), one.Config)

	two, ok := e.Txn().Lookup(0x2000)
	require.True(t, ok)
	assert.Equal(t, []byte(config[:MaxConfigLen]), two.Config)
}
