package sink

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/wtscope/internal/tracer"
)

// WindowConfig configures the windowed summary sink.
type WindowConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// WindowSink aggregates events over fixed time windows and logs one
// summary per non-empty window.
type WindowSink struct {
	log logrus.FieldLogger
	cfg WindowConfig

	mu     sync.Mutex
	bucket *Bucket
	last   BucketSnapshot

	onSnapshot func(BucketSnapshot)

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Sink = (*WindowSink)(nil)

// NewWindowSink creates a new window aggregation sink.
func NewWindowSink(
	log logrus.FieldLogger,
	cfg WindowConfig,
) *WindowSink {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}

	return &WindowSink{
		log:    log.WithField("sink", "window"),
		cfg:    cfg,
		bucket: NewBucket(time.Now()),
		done:   make(chan struct{}),
	}
}

// OnSnapshot registers a callback invoked with every non-empty window.
func (s *WindowSink) OnSnapshot(fn func(BucketSnapshot)) {
	s.onSnapshot = fn
}

func (s *WindowSink) Name() string { return "window" }

func (s *WindowSink) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	go s.runTimer(ctx)

	s.log.WithField("interval", s.cfg.Interval).
		Info("Window sink started")

	return nil
}

func (s *WindowSink) Stop() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	s.flushWindow()

	return nil
}

func (s *WindowSink) HandleEvent(event tracer.Event) {
	s.mu.Lock()
	b := s.bucket
	s.mu.Unlock()

	b.Add(event)
}

// Last returns the most recent non-empty window.
func (s *WindowSink) Last() BucketSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.last
}

func (s *WindowSink) runTimer(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flushWindow()
		}
	}
}

func (s *WindowSink) flushWindow() {
	s.mu.Lock()
	oldBucket := s.bucket
	s.bucket = NewBucket(time.Now())
	s.mu.Unlock()

	if oldBucket.EventCount.Load() == 0 {
		return
	}

	snap := oldBucket.Snapshot()

	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()

	s.logSnapshot(snap)

	if s.onSnapshot != nil {
		s.onSnapshot(snap)
	}
}

func (s *WindowSink) logSnapshot(snap BucketSnapshot) {
	s.log.WithFields(logrus.Fields{
		"events":          snap.EventCount,
		"calls":           snap.CallCount,
		"call_mean_ns":    snap.MeanCallNs(),
		"call_max_ns":     snap.CallMaxNs,
		"call_errors":     snap.CallErrorCount,
		"allocs":          snap.AllocCount,
		"alloc_bytes":     snap.AllocBytes,
		"frees":           snap.FreeCount,
		"free_bytes":      snap.FreeBytes,
		"net_bytes":       snap.AllocFreeDelta,
		"sessions_opened": snap.SessionOpenCount,
		"sessions_closed": snap.SessionCloseCount,
		"txns_begun":      snap.TxnBeginCount,
		"txns_committed":  snap.TxnCommitCount,
		"txns_rolledback": snap.TxnRollbackCount,
	}).Info("Window snapshot")
}
