package sink

import (
	"time"
)

// EventJSON is the JSON schema for HTTP export of finished events.
type EventJSON struct {
	TimestampNs    uint64   `json:"timestamp_ns"`
	Timestamp      string   `json:"timestamp"`
	PID            uint32   `json:"pid"`
	TID            uint32   `json:"tid"`
	Comm           string   `json:"comm"`
	EventType      string   `json:"event_type"`
	CallSite       uint64   `json:"call_site,omitempty"`
	DurationNs     uint64   `json:"duration_ns,omitempty"`
	Return         uint64   `json:"ret,omitempty"`
	Args           []uint64 `json:"args,omitempty"`
	StackID        int32    `json:"stack_id"`
	Stack          []uint64 `json:"stack,omitempty"`
	Address        uint64   `json:"address,omitempty"`
	Size           uint64   `json:"size,omitempty"`
	Seq            uint64   `json:"seq,omitempty"`
	Session        uint64   `json:"session,omitempty"`
	Config         string   `json:"config,omitempty"`
	Outcome        string   `json:"outcome,omitempty"`
	AgeNs          uint64   `json:"age_ns,omitempty"`
	MetaHostName   string   `json:"meta_host_name,omitempty"`
	MetaDeployment string   `json:"meta_deployment,omitempty"`
}

// toEventJSON converts an eventRow to EventJSON for HTTP export.
func toEventJSON(row eventRow, metaHostName, metaDeployment string) EventJSON {
	return EventJSON{
		TimestampNs:    row.TimestampNs,
		Timestamp:      time.Unix(0, int64(row.TimestampNs)).UTC().Format(time.RFC3339Nano),
		PID:            row.PID,
		TID:            row.TID,
		Comm:           row.Comm,
		EventType:      row.EventType,
		CallSite:       row.CallSite,
		DurationNs:     row.DurationNs,
		Return:         row.Return,
		Args:           row.Args,
		StackID:        row.StackID,
		Stack:          row.Stack,
		Address:        row.Address,
		Size:           row.Size,
		Seq:            row.Seq,
		Session:        row.Session,
		Config:         row.Config,
		Outcome:        row.Outcome,
		AgeNs:          row.AgeNs,
		MetaHostName:   metaHostName,
		MetaDeployment: metaDeployment,
	}
}
