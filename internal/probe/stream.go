package probe

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// maxRecordLen rejects corrupt length prefixes.
const maxRecordLen = FiringHeaderSize + MaxStackDepth*8

// StreamSource reads length-prefixed firing records from a stream, such as
// a replay file captured from a ring buffer. Each record is a little-endian
// uint32 length followed by the encoded firing.
type StreamSource struct {
	log      logrus.FieldLogger
	r        io.Reader
	handlers []FiringHandler
	errs     []ErrorHandler
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

var _ Source = (*StreamSource)(nil)

// NewStreamSource creates a source reading from r. If r is an io.Closer it
// is closed on Stop.
func NewStreamSource(log logrus.FieldLogger, r io.Reader) *StreamSource {
	return &StreamSource{
		log:      log.WithField("component", "stream_source"),
		r:        r,
		handlers: make([]FiringHandler, 0, 2),
		done:     make(chan struct{}),
	}
}

func (s *StreamSource) OnFiring(handler FiringHandler) {
	s.handlers = append(s.handlers, handler)
}

func (s *StreamSource) OnError(handler ErrorHandler) {
	s.errs = append(s.errs, handler)
}

func (s *StreamSource) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	go s.readLoop(ctx)

	s.log.Info("Stream source started")

	return nil
}

// Done is closed once the stream is exhausted or the source is stopped.
func (s *StreamSource) Done() <-chan struct{} {
	return s.done
}

func (s *StreamSource) Stop() error {
	var err error

	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}

		if c, ok := s.r.(io.Closer); ok {
			err = c.Close()
		}
	})

	if s.cancel != nil {
		<-s.done
	}

	return err
}

func (s *StreamSource) readLoop(ctx context.Context) {
	defer close(s.done)

	br := bufio.NewReaderSize(s.r, 64*1024)

	var (
		lenBuf [4]byte
		record = make([]byte, maxRecordLen)
		count  int
	)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			if !errors.Is(err, io.EOF) {
				s.reportError(fmt.Errorf("reading record length: %w", err))
			}

			s.log.WithField("records", count).Info("Stream source exhausted")

			return
		}

		n := binary.LittleEndian.Uint32(lenBuf[:])
		if n > maxRecordLen {
			s.reportError(fmt.Errorf("record length %d exceeds %d", n, maxRecordLen))

			return
		}

		if _, err := io.ReadFull(br, record[:n]); err != nil {
			s.reportError(fmt.Errorf("reading record: %w", err))

			return
		}

		count++

		f, err := ParseFiring(record[:n])
		if err != nil {
			s.reportError(err)

			continue
		}

		for _, handler := range s.handlers {
			handler(f)
		}
	}
}

func (s *StreamSource) reportError(err error) {
	for _, handler := range s.errs {
		handler(err)
	}
}

// WriteRecord writes f to w in the StreamSource framing.
func WriteRecord(w io.Writer, f Firing) error {
	payload := AppendFiring(make([]byte, 4, 4+FiringHeaderSize+len(f.Stack)*8), f)
	binary.LittleEndian.PutUint32(payload[:4], uint32(len(payload)-4))

	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing firing record: %w", err)
	}

	return nil
}
