//go:build !linux

package probe

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// RingbufSource reads firings from a pinned BPF ring buffer.
// On non-Linux platforms Start always fails.
type RingbufSource struct {
	log      logrus.FieldLogger
	pinPath  string
	handlers []FiringHandler
	errs     []ErrorHandler
}

var _ Source = (*RingbufSource)(nil)

// NewRingbufSource creates a source for the ring buffer pinned at pinPath.
func NewRingbufSource(log logrus.FieldLogger, pinPath string) *RingbufSource {
	return &RingbufSource{
		log:      log.WithField("component", "ringbuf_source"),
		pinPath:  pinPath,
		handlers: make([]FiringHandler, 0, 2),
	}
}

func (s *RingbufSource) OnFiring(handler FiringHandler) {
	s.handlers = append(s.handlers, handler)
}

func (s *RingbufSource) OnError(handler ErrorHandler) {
	s.errs = append(s.errs, handler)
}

func (s *RingbufSource) Start(_ context.Context) error {
	return fmt.Errorf("ring buffer source requires Linux")
}

func (s *RingbufSource) Stop() error {
	return nil
}
