package probe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// MaxReadLen bounds every variable-length read from target memory.
const MaxReadLen = 4096

// ErrUnmapped is returned when an address is not readable.
var ErrUnmapped = errors.New("address not mapped")

// Memory reads the address space of a traced process.
type Memory interface {
	// ReadAt reads up to len(p) bytes at addr in process pid. A short read
	// returns the number of bytes copied along with an error.
	ReadAt(pid uint32, p []byte, addr uint64) (int, error)
}

// ReadWord reads a little-endian 64-bit word at addr. Unreadable memory
// and a null address yield zero.
func ReadWord(m Memory, pid uint32, addr uint64) uint64 {
	if m == nil || addr == 0 {
		return 0
	}

	var buf [8]byte

	n, err := m.ReadAt(pid, buf[:], addr)
	if err != nil || n != len(buf) {
		return 0
	}

	return binary.LittleEndian.Uint64(buf[:])
}

// ReadBytes reads at most n bytes at addr, returning whatever prefix was
// readable. Unreadable memory yields an empty slice.
func ReadBytes(m Memory, pid uint32, addr uint64, n int) []byte {
	if m == nil || addr == 0 || n <= 0 {
		return []byte{}
	}

	if n > MaxReadLen {
		n = MaxReadLen
	}

	buf := make([]byte, n)

	read, _ := m.ReadAt(pid, buf, addr)
	if read < 0 {
		read = 0
	}

	return buf[:read]
}

// ReadCString reads a NUL-terminated string of at most n bytes at addr.
// Longer strings are truncated; the terminator is not included.
func ReadCString(m Memory, pid uint32, addr uint64, n int) []byte {
	b := ReadBytes(m, pid, addr, n)

	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}

	return b
}

// SparseMemory is an in-process Memory made of explicitly written regions.
// It serves every pid identically and is safe for concurrent use.
type SparseMemory struct {
	mu      sync.RWMutex
	regions []region
}

type region struct {
	start uint64
	data  []byte
}

func (r region) end() uint64 { return r.start + uint64(len(r.data)) }

// NewSparseMemory creates an empty SparseMemory.
func NewSparseMemory() *SparseMemory {
	return &SparseMemory{}
}

// WriteWord stores a little-endian 64-bit word at addr.
func (m *SparseMemory) WriteWord(addr, value uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	m.WriteBytes(addr, buf[:])
}

// WriteString stores s followed by a NUL terminator at addr.
func (m *SparseMemory) WriteString(addr uint64, s string) {
	m.WriteBytes(addr, append([]byte(s), 0))
}

// WriteBytes stores a copy of data at addr, replacing any region that
// starts at the same address.
func (m *SparseMemory) WriteBytes(addr uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := region{start: addr, data: append([]byte(nil), data...)}

	i := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].start >= addr
	})

	if i < len(m.regions) && m.regions[i].start == addr {
		m.regions[i] = r

		return
	}

	m.regions = append(m.regions, region{})
	copy(m.regions[i+1:], m.regions[i:])
	m.regions[i] = r
}

// ReadAt implements Memory.
func (m *SparseMemory) ReadAt(_ uint32, p []byte, addr uint64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Last region starting at or before addr.
	i := sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].start > addr
	}) - 1

	if i < 0 || addr >= m.regions[i].end() {
		return 0, fmt.Errorf("%w: 0x%x", ErrUnmapped, addr)
	}

	r := m.regions[i]
	n := copy(p, r.data[addr-r.start:])

	if n < len(p) {
		return n, fmt.Errorf("%w: 0x%x", ErrUnmapped, r.end())
	}

	return n, nil
}
