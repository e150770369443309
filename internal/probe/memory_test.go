package probe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSparseMemory_ReadWord(t *testing.T) {
	m := NewSparseMemory()
	m.WriteWord(0xAA, 0xBEEF)

	assert.Equal(t, uint64(0xBEEF), ReadWord(m, 1, 0xAA))
	assert.Equal(t, uint64(0), ReadWord(m, 1, 0xBB), "unmapped reads yield zero")
	assert.Equal(t, uint64(0), ReadWord(m, 1, 0), "null reads yield zero")
	assert.Equal(t, uint64(0), ReadWord(nil, 1, 0xAA))
}

func TestSparseMemory_PartialWord(t *testing.T) {
	m := NewSparseMemory()
	m.WriteBytes(0x100, []byte{1, 2, 3, 4})

	assert.Equal(t, uint64(0), ReadWord(m, 1, 0x100))

	buf := make([]byte, 8)
	n, err := m.ReadAt(1, buf, 0x102)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnmapped))
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{3, 4}, buf[:n])
}

func TestSparseMemory_Overwrite(t *testing.T) {
	m := NewSparseMemory()
	m.WriteWord(0x10, 1)
	m.WriteWord(0x30, 3)
	m.WriteWord(0x20, 2)
	m.WriteWord(0x10, 11)

	assert.Equal(t, uint64(11), ReadWord(m, 0, 0x10))
	assert.Equal(t, uint64(2), ReadWord(m, 0, 0x20))
	assert.Equal(t, uint64(3), ReadWord(m, 0, 0x30))
}

func TestReadCString(t *testing.T) {
	m := NewSparseMemory()
	m.WriteString(0x1000, "isolation=snapshot")

	assert.Equal(t, "isolation=snapshot", string(ReadCString(m, 1, 0x1000, 300)))
	assert.Equal(t, "isolation", string(ReadCString(m, 1, 0x1000, 9)))
	assert.Empty(t, ReadCString(m, 1, 0x2000, 300))
	assert.Empty(t, ReadCString(m, 1, 0, 300))
}

func TestReadBytes_Bounded(t *testing.T) {
	m := NewSparseMemory()
	m.WriteBytes(0x1000, make([]byte, MaxReadLen*2))

	assert.Len(t, ReadBytes(m, 1, 0x1000, MaxReadLen*2), MaxReadLen)
	assert.Empty(t, ReadBytes(m, 1, 0x1000, 0))
}
