//go:build !linux

package probe

import "fmt"

// ProcessMemory reads live process memory. Only Linux is supported; on
// other platforms every read fails and yields zero values.
type ProcessMemory struct{}

// NewProcessMemory creates a Memory backed by the target processes.
func NewProcessMemory() *ProcessMemory {
	return &ProcessMemory{}
}

// ReadAt implements Memory.
func (ProcessMemory) ReadAt(pid uint32, _ []byte, addr uint64) (int, error) {
	return 0, fmt.Errorf("reading pid %d at 0x%x: process memory requires Linux", pid, addr)
}
