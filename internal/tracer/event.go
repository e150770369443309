package tracer

import (
	"fmt"

	"github.com/ethpandaops/wtscope/internal/probe"
	"github.com/ethpandaops/wtscope/internal/stack"
)

// EventType identifies the kind of finished event.
type EventType uint8

const (
	EventTypeCall         EventType = 1
	EventTypeAlloc        EventType = 2
	EventTypeFree         EventType = 3
	EventTypeSessionOpen  EventType = 4
	EventTypeSessionClose EventType = 5
	EventTypeTxnBegin     EventType = 6
	EventTypeTxnEnd       EventType = 7
)

// maxEventType is the highest defined event type.
const maxEventType = EventTypeTxnEnd

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventTypeCall:
		return "call"
	case EventTypeAlloc:
		return "alloc"
	case EventTypeFree:
		return "free"
	case EventTypeSessionOpen:
		return "session_open"
	case EventTypeSessionClose:
		return "session_close"
	case EventTypeTxnBegin:
		return "txn_begin"
	case EventTypeTxnEnd:
		return "txn_end"
	default:
		return fmt.Sprintf("unknown(%d)", e)
	}
}

// AllEventTypes returns every defined event type in order.
func AllEventTypes() []EventType {
	types := make([]EventType, 0, maxEventType)
	for t := EventTypeCall; t <= maxEventType; t++ {
		types = append(types, t)
	}

	return types
}

// TxnOutcome tells how a transaction ended.
type TxnOutcome uint8

const (
	OutcomeCommit   TxnOutcome = 1
	OutcomeRollback TxnOutcome = 2
)

// String returns the human-readable name of the outcome.
func (o TxnOutcome) String() string {
	switch o {
	case OutcomeCommit:
		return "commit"
	case OutcomeRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// EventHeader is the common header for all finished events.
type EventHeader struct {
	TimestampNs uint64        `json:"timestamp_ns"`
	Context     probe.Context `json:"context"`
	Type        EventType     `json:"event_type"`
	Comm        string        `json:"comm"`
}

// CallEvent is a correlated traced call that met the duration threshold.
type CallEvent struct {
	CallSite   uint64    `json:"call_site"`
	StartNs    uint64    `json:"start_ns"`
	DurationNs uint64    `json:"duration_ns"`
	Return     uint64    `json:"ret"`
	Args       [6]uint64 `json:"args"`
	StackID    stack.ID  `json:"stack_id"`
}

// AllocEvent describes an allocation becoming live or being freed.
type AllocEvent struct {
	Address uint64   `json:"address"`
	Size    uint64   `json:"size"`
	StackID stack.ID `json:"stack_id"`

	// AgeNs is set on free and is the time the allocation was live.
	AgeNs uint64 `json:"age_ns,omitempty"`
}

// SessionEvent describes a session being opened or closed.
type SessionEvent struct {
	Address uint64 `json:"address"`
	Seq     uint64 `json:"seq"`
	Config  string `json:"config"`

	// AgeNs is set on close and is the time the session was live.
	AgeNs uint64 `json:"age_ns,omitempty"`
}

// TxnEvent describes a transaction beginning or ending.
type TxnEvent struct {
	Session uint64     `json:"session"`
	Config  string     `json:"config"`
	Outcome TxnOutcome `json:"outcome,omitempty"`

	// AgeNs is set on end and is the time the transaction was open.
	AgeNs uint64 `json:"age_ns,omitempty"`
}

// Event is a finished event ready for export. It holds no references
// into engine state and is never mutated after creation.
type Event struct {
	// Header is the common event header.
	Header EventHeader

	// Typed is one of CallEvent, AllocEvent, SessionEvent or TxnEvent.
	Typed any
}
