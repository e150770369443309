package sink

import (
	"context"

	"github.com/ethpandaops/wtscope/internal/stack"
	"github.com/ethpandaops/wtscope/internal/tracer"
)

// Config holds configuration for all sinks.
type Config struct {
	Events EventsConfig `yaml:"events"`
	Window WindowConfig `yaml:"window"`
}

// Sink defines the interface for finished event consumers.
type Sink interface {
	// Name returns the sink's name for logging and metrics.
	Name() string
	// Start initializes the sink.
	Start(ctx context.Context) error
	// Stop flushes pending events and shuts down the sink.
	Stop() error
	// HandleEvent accepts a finished event. It must not block.
	HandleEvent(event tracer.Event)
}

// StackResolver resolves stack ids carried by events into frames.
type StackResolver interface {
	Lookup(id stack.ID) ([]uint64, bool)
}
