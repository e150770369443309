// Package probe defines the contract between the probe attachment layer and
// the correlation engine: execution context keys, probe identifiers, the
// raw firing record and its wire encoding, bounded target memory reads,
// and sources that deliver firings to user space.
package probe

import "fmt"

// Context identifies the logical thread of control that fired a probe.
// It packs the thread group id in the upper 32 bits and the thread id in
// the lower 32 bits, matching bpf_get_current_pid_tgid.
type Context uint64

// NewContext builds a Context from a process and thread id.
func NewContext(pid, tid uint32) Context {
	return Context(uint64(pid)<<32 | uint64(tid))
}

// PID returns the thread group (process) id.
func (c Context) PID() uint32 { return uint32(c >> 32) }

// TID returns the thread id.
func (c Context) TID() uint32 { return uint32(c) }

func (c Context) String() string {
	return fmt.Sprintf("%d/%d", c.PID(), c.TID())
}

// ID identifies which traced entry or exit point fired.
type ID uint8

const (
	MallocEnter      ID = 1
	MallocExit       ID = 2
	CallocEnter      ID = 3
	CallocExit       ID = 4
	ReallocEnter     ID = 5
	ReallocExit      ID = 6
	FreeEnter        ID = 7
	SessionOpenEnter ID = 8
	SessionOpenExit  ID = 9
	SessionCloseExit ID = 10
	TxnBeginEnter    ID = 11
	TxnBeginExit     ID = 12
	TxnCommitExit    ID = 13
	TxnRollbackExit  ID = 14
	CallEntry        ID = 15
	CallReturn       ID = 16
)

// MaxID is the highest defined probe id.
const MaxID = CallReturn

// String returns the human-readable name of the probe.
func (p ID) String() string {
	switch p {
	case MallocEnter:
		return "malloc_enter"
	case MallocExit:
		return "malloc_exit"
	case CallocEnter:
		return "calloc_enter"
	case CallocExit:
		return "calloc_exit"
	case ReallocEnter:
		return "realloc_enter"
	case ReallocExit:
		return "realloc_exit"
	case FreeEnter:
		return "free_enter"
	case SessionOpenEnter:
		return "session_open_enter"
	case SessionOpenExit:
		return "session_open_exit"
	case SessionCloseExit:
		return "session_close_exit"
	case TxnBeginEnter:
		return "txn_begin_enter"
	case TxnBeginExit:
		return "txn_begin_exit"
	case TxnCommitExit:
		return "txn_commit_exit"
	case TxnRollbackExit:
		return "txn_rollback_exit"
	case CallEntry:
		return "call_entry"
	case CallReturn:
		return "call_return"
	default:
		return fmt.Sprintf("unknown(%d)", p)
	}
}

// Valid reports whether p is a defined probe id.
func (p ID) Valid() bool {
	return p >= MallocEnter && p <= MaxID
}

// CommLen is the fixed size of a thread name, as in TASK_COMM_LEN.
const CommLen = 16

// Header is the part of every firing that describes when and where it
// happened.
type Header struct {
	TimestampNs uint64  `json:"timestamp_ns"`
	Context     Context `json:"context"`

	// Comm is the name of the firing thread.
	Comm string `json:"comm"`

	// Stack is the user stack at the firing, innermost frame first.
	Stack []uint64 `json:"stack,omitempty"`
}

// Firing is one raw probe invocation as delivered by the attachment layer.
type Firing struct {
	Header

	Probe ID

	// CallSite identifies the traced function for CallEntry and CallReturn.
	CallSite uint64

	// Args holds the first six argument registers, when available.
	Args [6]uint64

	// Ret is the raw return register for exit probes.
	Ret uint64
}

// RetCode interprets the return register as a C int result code.
func (f Firing) RetCode() int32 {
	return int32(uint32(f.Ret))
}
