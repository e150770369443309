//go:build linux

package probe

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ProcessMemory reads live process memory with process_vm_readv. It needs
// the same privileges as ptrace attach on the target.
type ProcessMemory struct{}

// NewProcessMemory creates a Memory backed by the target processes.
func NewProcessMemory() *ProcessMemory {
	return &ProcessMemory{}
}

// ReadAt implements Memory.
func (ProcessMemory) ReadAt(pid uint32, p []byte, addr uint64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	local := []unix.Iovec{{Base: &p[0]}}
	local[0].SetLen(len(p))

	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(p)}}

	n, err := unix.ProcessVMReadv(int(pid), local, remote, 0)
	if err != nil {
		return 0, fmt.Errorf("reading pid %d at 0x%x: %w", pid, addr, err)
	}

	if n < len(p) {
		return n, fmt.Errorf("%w: short read at 0x%x", ErrUnmapped, addr+uint64(n))
	}

	return n, nil
}
