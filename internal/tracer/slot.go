package tracer

import "github.com/ethpandaops/wtscope/internal/probe"

// Slot is a value an in-flight record either already knows or must
// read from the target's memory once the call has returned. Callees
// that hand back results through an out-parameter are recorded as a
// pending location at entry and resolved at exit.
type Slot struct {
	value   uint64
	pending bool
}

// Resolved returns a slot holding a known value.
func Resolved(v uint64) Slot {
	return Slot{value: v}
}

// Pending returns a slot that resolves by reading a word at addr.
func Pending(addr uint64) Slot {
	return Slot{value: addr, pending: true}
}

// IsPending reports whether the slot still needs a memory read.
func (s Slot) IsPending() bool { return s.pending }

// Location returns the out-parameter address of a pending slot, or 0.
func (s Slot) Location() uint64 {
	if !s.pending {
		return 0
	}

	return s.value
}

// Resolve returns the slot value, reading it from mem for pending
// slots. An unreadable or null location yields 0.
func (s Slot) Resolve(mem probe.Memory, pid uint32) uint64 {
	if !s.pending {
		return s.value
	}

	return probe.ReadWord(mem, pid, s.value)
}
