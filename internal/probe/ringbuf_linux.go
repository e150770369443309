//go:build linux

package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/sirupsen/logrus"
)

// RingbufSource reads firings from a BPF ring buffer map pinned on bpffs by
// the attachment layer.
type RingbufSource struct {
	log      logrus.FieldLogger
	pinPath  string
	handlers []FiringHandler
	errs     []ErrorHandler
	events   *ebpf.Map
	reader   *ringbuf.Reader
	cancel   context.CancelFunc
	wg       sync.WaitGroup
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

func (s *RingbufSource) Start(ctx context.Context) error {
	m, err := ebpf.LoadPinnedMap(s.pinPath, nil)
	if err != nil {
		return fmt.Errorf("loading pinned ring buffer %s: %w", s.pinPath, err)
	}

	if m.Type() != ebpf.RingBuf {
		m.Close()

		return fmt.Errorf("pinned map %s is %s, not a ring buffer", s.pinPath, m.Type())
	}

	s.events = m

	s.reader, err = ringbuf.NewReader(m)
	if err != nil {
		s.cleanup()

		return fmt.Errorf("creating ring buffer reader: %w", err)
	}

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)

	go s.readLoop(ctx)

	s.log.WithFields(logrus.Fields{
		"pin_path": s.pinPath,
		"size":     s.reader.BufferSize(),
	}).Info("Ring buffer source started")

	return nil
}

func (s *RingbufSource) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}

	if s.reader != nil {
		s.reader.Close()
	}

	s.wg.Wait()
	s.cleanup()

	return nil
}

func (s *RingbufSource) readLoop(ctx context.Context) {
	defer s.wg.Done()

	var record ringbuf.Record

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.reader.ReadInto(&record); err != nil {
			if errors.Is(err, os.ErrClosed) {
				return
			}

			s.reportError(fmt.Errorf("reading ring buffer: %w", err))

			continue
		}

		f, err := ParseFiring(record.RawSample)
		if err != nil {
			s.reportError(err)

			continue
		}

		for _, handler := range s.handlers {
			handler(f)
		}
	}
}

func (s *RingbufSource) reportError(err error) {
	for _, handler := range s.errs {
		handler(err)
	}
}

func (s *RingbufSource) cleanup() {
	if s.events != nil {
		s.events.Close()
		s.events = nil
	}
}
