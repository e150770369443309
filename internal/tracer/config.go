package tracer

import (
	"fmt"
	"time"

	"github.com/ethpandaops/wtscope/internal/stack"
	"github.com/ethpandaops/wtscope/internal/table"
)

// MaxConfigLen is the fixed capacity of captured configuration strings.
// Longer strings are silently truncated.
const MaxConfigLen = 300

// Config configures the correlation engine.
type Config struct {
	// InFlightCapacity bounds each context-keyed in-flight table.
	// Defaults to 1000000.
	InFlightCapacity int `yaml:"inflight_capacity"`

	// ResourceCapacity bounds each address-keyed live resource table.
	// Defaults to 1000000.
	ResourceCapacity int `yaml:"resource_capacity"`

	// StackCapacity bounds the number of unique stacks stored.
	// Defaults to 10240.
	StackCapacity int `yaml:"stack_capacity"`

	// Shards is the number of independently locked shards per table.
	// Defaults to 64.
	Shards int `yaml:"shards"`

	// AllocSampleEvery keeps one allocation entry in every N.
	// 0 or 1 keeps all of them.
	AllocSampleEvery uint64 `yaml:"alloc_sample_every"`

	// CallMinDuration drops traced calls shorter than this.
	// Zero emits every correlated call.
	CallMinDuration time.Duration `yaml:"call_min_duration"`

	// ExportQueueSize is the capacity of the finished event queue.
	// Defaults to 65536.
	ExportQueueSize int `yaml:"export_queue_size"`

	// EmitLifecycle exports an event for every resource created or
	// destroyed, in addition to traced call events.
	EmitLifecycle bool `yaml:"emit_lifecycle"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		InFlightCapacity: 1_000_000,
		ResourceCapacity: 1_000_000,
		StackCapacity:    stack.DefaultCapacity,
		Shards:           table.DefaultShards,
		ExportQueueSize:  65536,
	}
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.InFlightCapacity == 0 {
		c.InFlightCapacity = defaults.InFlightCapacity
	}

	if c.ResourceCapacity == 0 {
		c.ResourceCapacity = defaults.ResourceCapacity
	}

	if c.StackCapacity == 0 {
		c.StackCapacity = defaults.StackCapacity
	}

	if c.Shards == 0 {
		c.Shards = defaults.Shards
	}

	if c.ExportQueueSize == 0 {
		c.ExportQueueSize = defaults.ExportQueueSize
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.InFlightCapacity < 0 {
		return fmt.Errorf("engine.inflight_capacity must not be negative")
	}

	if c.ResourceCapacity < 0 {
		return fmt.Errorf("engine.resource_capacity must not be negative")
	}

	if c.StackCapacity < 0 {
		return fmt.Errorf("engine.stack_capacity must not be negative")
	}

	if c.Shards < 0 {
		return fmt.Errorf("engine.shards must not be negative")
	}

	if c.CallMinDuration < 0 {
		return fmt.Errorf("engine.call_min_duration must not be negative")
	}

	if c.ExportQueueSize < 0 {
		return fmt.Errorf("engine.export_queue_size must not be negative")
	}

	return nil
}
