package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestStreamSource_ReadsRecords(t *testing.T) {
	var buf bytes.Buffer

	for i := range 3 {
		require.NoError(t, WriteRecord(&buf, Firing{
			Header: Header{TimestampNs: uint64(i), Context: NewContext(1, uint32(i))},
			Probe:  CallEntry,
		}))
	}

	src := NewStreamSource(testLog(), &buf)

	var (
		mu  sync.Mutex
		got []Firing
	)

	src.OnFiring(func(f Firing) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})

	require.NoError(t, src.Start(context.Background()))

	select {
	case <-src.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream source did not finish")
	}

	require.NoError(t, src.Stop())

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, got, 3)

	for i, f := range got {
		assert.Equal(t, uint64(i), f.TimestampNs)
		assert.Equal(t, CallEntry, f.Probe)
	}
}

func TestStreamSource_ReportsBadRecords(t *testing.T) {
	var buf bytes.Buffer

	// A record with an unknown probe id, followed by a valid one.
	bad := make([]byte, FiringHeaderSize)
	bad[16] = 200

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(bad)))
	buf.Write(lenBuf[:])
	buf.Write(bad)

	require.NoError(t, WriteRecord(&buf, Firing{Probe: FreeEnter}))

	src := NewStreamSource(testLog(), &buf)

	var (
		mu     sync.Mutex
		errs   []error
		probes []ID
	)

	src.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})
	src.OnFiring(func(f Firing) {
		mu.Lock()
		probes = append(probes, f.Probe)
		mu.Unlock()
	})

	require.NoError(t, src.Start(context.Background()))
	<-src.Done()
	require.NoError(t, src.Stop())

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrUnknownProbe)
	assert.Equal(t, []ID{FreeEnter}, probes)
}

func TestStreamSource_OversizedRecord(t *testing.T) {
	var buf bytes.Buffer

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], maxRecordLen+1)
	buf.Write(lenBuf[:])

	src := NewStreamSource(testLog(), &buf)

	var gotErr error

	src.OnError(func(err error) { gotErr = err })

	require.NoError(t, src.Start(context.Background()))
	<-src.Done()
	require.NoError(t, src.Stop())

	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "exceeds")
}

func TestSourceConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SourceConfig
		wantErr string
	}{
		{"ringbuf ok", SourceConfig{Type: SourceRingbuf, PinPath: "/sys/fs/bpf/wt"}, ""},
		{"default type needs pin", SourceConfig{}, "pin_path is required"},
		{"file ok", SourceConfig{Type: SourceFile, File: "firings.bin"}, ""},
		{"file missing", SourceConfig{Type: SourceFile}, "source.file is required"},
		{"unknown", SourceConfig{Type: "kafka"}, "unknown source type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
