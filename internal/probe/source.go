package probe

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// FiringHandler is called for each decoded firing.
type FiringHandler func(f Firing)

// ErrorHandler is called for read or decode errors.
type ErrorHandler func(err error)

// Source delivers firings produced by the attachment layer.
type Source interface {
	// Start begins reading firings in the background.
	Start(ctx context.Context) error
	// Stop halts reading and releases the underlying resources.
	Stop() error
	// OnFiring registers a handler for decoded firings. Handlers must be
	// registered before Start.
	OnFiring(handler FiringHandler)
	// OnError registers a handler for read and decode errors.
	OnError(handler ErrorHandler)
}

// Source types.
const (
	SourceRingbuf = "ringbuf"
	SourceFile    = "file"
)

// SourceConfig selects where firings are read from.
type SourceConfig struct {
	// Type is either "ringbuf" or "file". Defaults to "ringbuf".
	Type string `yaml:"type"`

	// PinPath is the bpffs path of the ring buffer map pinned by the
	// attachment layer, used with the ringbuf type.
	PinPath string `yaml:"pin_path"`

	// File is a replay file of length-prefixed firings, used with the
	// file type.
	File string `yaml:"file"`
}

// Validate checks the source configuration.
func (c *SourceConfig) Validate() error {
	switch c.Type {
	case SourceRingbuf, "":
		if c.PinPath == "" {
			return fmt.Errorf("source.pin_path is required for ringbuf source")
		}
	case SourceFile:
		if c.File == "" {
			return fmt.Errorf("source.file is required for file source")
		}
	default:
		return fmt.Errorf("unknown source type %q", c.Type)
	}

	return nil
}

// NewSource creates the Source described by cfg.
func NewSource(log logrus.FieldLogger, cfg SourceConfig) (Source, error) {
	switch cfg.Type {
	case SourceRingbuf, "":
		return NewRingbufSource(log, cfg.PinPath), nil
	case SourceFile:
		f, err := os.Open(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("opening replay file %s: %w", cfg.File, err)
		}

		return NewStreamSource(log, f), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}
