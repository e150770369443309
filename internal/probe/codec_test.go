package probe

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFiring_Encoded(t *testing.T) {
	in := Firing{
		Header: Header{
			TimestampNs: 111,
			Context:     NewContext(10, 11),
			Comm:        "WT_worker",
			Stack:       []uint64{0x401000, 0x402000},
		},
		Probe:    CallReturn,
		CallSite: 3,
		Args:     [6]uint64{1, 2, 3, 4, 5, 6},
		Ret:      42,
	}

	data := AppendFiring(nil, in)
	require.Len(t, data, FiringHeaderSize+16)

	out, err := ParseFiring(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseFiring_Layout(t *testing.T) {
	data := make([]byte, FiringHeaderSize)
	binary.LittleEndian.PutUint64(data[0:8], 999)
	binary.LittleEndian.PutUint64(data[8:16], uint64(NewContext(7, 8)))
	data[16] = byte(MallocEnter)
	copy(data[32:48], "mongod")
	binary.LittleEndian.PutUint64(data[56:64], 4096)

	f, err := ParseFiring(data)
	require.NoError(t, err)

	assert.Equal(t, uint64(999), f.TimestampNs)
	assert.Equal(t, uint32(7), f.Context.PID())
	assert.Equal(t, MallocEnter, f.Probe)
	assert.Equal(t, "mongod", f.Comm)
	assert.Equal(t, uint64(4096), f.Args[1])
	assert.Nil(t, f.Stack)
}

func TestParseFiring_CommStopsAtFirstNUL(t *testing.T) {
	data := make([]byte, FiringHeaderSize)
	data[16] = byte(CallEntry)
	// A renamed thread keeps stale bytes after the terminator.
	copy(data[32:48], "ftdc\x00d_worker-1")

	f, err := ParseFiring(data)
	require.NoError(t, err)
	assert.Equal(t, "ftdc", f.Comm)
}

func TestParseFiring_TruncatedCases(t *testing.T) {
	_, err := ParseFiring([]byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShortRecord))

	data := AppendFiring(nil, Firing{
		Header: Header{Stack: []uint64{1, 2, 3}},
		Probe:  CallEntry,
	})

	_, err = ParseFiring(data[:len(data)-1])
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShortRecord))
	assert.Contains(t, err.Error(), "for 3 frames")
}

func TestParseFiring_UnknownProbe(t *testing.T) {
	data := make([]byte, FiringHeaderSize)
	data[16] = 99

	_, err := ParseFiring(data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownProbe))
}

func TestAppendFiring_TruncatesCommAndStack(t *testing.T) {
	stack := make([]uint64, MaxStackDepth+5)

	data := AppendFiring(nil, Firing{
		Header: Header{Comm: "a-very-long-thread-name", Stack: stack},
		Probe:  CallReturn,
	})

	f, err := ParseFiring(data)
	require.NoError(t, err)
	assert.Equal(t, "a-very-long-thr", f.Comm)
	assert.Len(t, f.Stack, MaxStackDepth)
}
