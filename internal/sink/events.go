package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ethpandaops/wtscope/internal/export"
	httpexport "github.com/ethpandaops/wtscope/internal/export/http"
	"github.com/ethpandaops/wtscope/internal/stack"
	"github.com/ethpandaops/wtscope/internal/tracer"
)

const sinkName = "events"

// EventsConfig configures the finished event sink.
type EventsConfig struct {
	Enabled bool `yaml:"enabled"`

	// ClickHouse receives every event in batches when an endpoint is set.
	ClickHouse export.ClickHouseConfig `yaml:"clickhouse"`

	// HTTP configures optional HTTP export (e.g., to Vector).
	HTTP httpexport.Config `yaml:"http"`

	// ChannelSize bounds events waiting to be batched.
	// Defaults to 65536.
	ChannelSize int `yaml:"channel_size"`

	// IncludeStacks resolves stack ids into frames on every row.
	// Defaults to true when unset.
	IncludeStacks *bool `yaml:"include_stacks"`
}

// Validate checks the sink configuration.
func (c *EventsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.ClickHouse.Endpoint == "" && !c.HTTP.Enabled {
		return errors.New("events sink needs a clickhouse endpoint or http export")
	}

	if c.ChannelSize < 0 {
		return errors.New("events.channel_size must not be negative")
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("events.http: %w", err)
	}

	return nil
}

// EventSink writes every finished event to ClickHouse and/or an HTTP
// endpoint in batches.
type EventSink struct {
	log    logrus.FieldLogger
	cfg    EventsConfig
	writer *export.ClickHouseWriter
	health *export.HealthMetrics
	stacks StackResolver

	// HTTP export processor (optional).
	httpProcessor *processor.BatchItemProcessor[EventJSON]

	monotonicOffsetNs int64
	includeStacks     bool
	batchSize         int
	flushInterval     time.Duration

	mu      sync.Mutex
	batch   []eventRow
	cancel  context.CancelFunc
	done    chan struct{}
	eventCh chan tracer.Event
}

type eventRow struct {
	TimestampNs uint64
	PID         uint32
	TID         uint32
	Comm        string
	EventType   string
	CallSite    uint64
	DurationNs  uint64
	Return      uint64
	Args        []uint64
	StackID     int32
	Stack       []uint64
	Address     uint64
	Size        uint64
	Seq         uint64
	Session     uint64
	Config      string
	Outcome     string
	AgeNs       uint64
}

var _ Sink = (*EventSink)(nil)

// NewEventSink creates a new finished event sink. stacks may be nil,
// in which case rows carry stack ids only.
func NewEventSink(
	log logrus.FieldLogger,
	cfg EventsConfig,
	health *export.HealthMetrics,
	stacks StackResolver,
) (*EventSink, error) {
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = 65536
	}

	includeStacks := true
	if cfg.IncludeStacks != nil {
		includeStacks = *cfg.IncludeStacks
	}

	s := &EventSink{
		log:           log.WithField("sink", sinkName),
		cfg:           cfg,
		health:        health,
		stacks:        stacks,
		includeStacks: includeStacks && stacks != nil,
		batchSize:     10000,
		flushInterval: time.Second,
		done:          make(chan struct{}),
		eventCh:       make(chan tracer.Event, cfg.ChannelSize),
	}

	if cfg.ClickHouse.Endpoint != "" {
		s.writer = export.NewClickHouseWriter(log, cfg.ClickHouse)
		s.batchSize = s.writer.Config().BatchSize
		s.flushInterval = s.writer.Config().FlushInterval
	}

	s.batch = make([]eventRow, 0, s.batchSize)

	// Initialize HTTP processor if enabled.
	if cfg.HTTP.Enabled {
		proc, err := httpexport.NewProcessor[EventJSON](
			log,
			cfg.HTTP,
			"events_http",
		)
		if err != nil {
			return nil, fmt.Errorf("creating HTTP processor: %w", err)
		}

		s.httpProcessor = proc
	}

	return s, nil
}

func (s *EventSink) Name() string { return sinkName }

func (s *EventSink) Start(ctx context.Context) error {
	if s.writer != nil {
		if err := s.writer.Start(ctx); err != nil {
			return err
		}

		if s.health != nil {
			s.health.ClickHouseConnected.WithLabelValues(sinkName).Set(1)
		}
	}

	if s.health != nil {
		s.health.SinkEventChannelCapacity.WithLabelValues(sinkName).
			Set(float64(cap(s.eventCh)))
	}

	offset, err := monotonicOffsetNs()
	if err != nil {
		s.log.WithError(err).
			Warn("Failed to compute monotonic offset")
	} else {
		s.monotonicOffsetNs = offset
	}

	ctx, s.cancel = context.WithCancel(ctx)

	// Start HTTP processor if enabled.
	if s.httpProcessor != nil {
		s.httpProcessor.Start(ctx)
		s.log.Info("HTTP export started")
	}

	go s.runLoop(ctx)

	s.log.Info("Event sink started")

	return nil
}

func (s *EventSink) Stop() error {
	if s.cancel == nil {
		return s.stopWriter()
	}

	s.cancel()
	<-s.done

	// Drain whatever was queued before the loop exited.
	for drained := false; !drained; {
		select {
		case event := <-s.eventCh:
			s.addEvent(context.Background(), event)
		default:
			drained = true
		}
	}

	s.mu.Lock()
	remaining := s.batch
	s.batch = nil
	s.mu.Unlock()

	if len(remaining) > 0 {
		if err := s.flush(context.Background(), remaining); err != nil {
			s.log.WithError(err).Error("Final flush failed")
			s.reportExportError()
		}
	}

	if s.httpProcessor != nil {
		if err := s.httpProcessor.Shutdown(context.Background()); err != nil {
			s.log.WithError(err).Error("HTTP processor shutdown failed")
		}
	}

	return s.stopWriter()
}

func (s *EventSink) stopWriter() error {
	if s.writer == nil {
		return nil
	}

	return s.writer.Stop()
}

func (s *EventSink) HandleEvent(event tracer.Event) {
	select {
	case s.eventCh <- event:
		if s.health != nil {
			s.health.SinkEventsProcessed.WithLabelValues(sinkName).Inc()
		}
	default:
		s.reportDrop()
	}
}

func (s *EventSink) runLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.eventCh:
			s.addEvent(ctx, event)
		case <-ticker.C:
			if s.health != nil {
				s.health.SinkEventChannelLength.WithLabelValues(sinkName).
					Set(float64(len(s.eventCh)))
			}

			s.refreshMonotonicOffset()
			s.tickFlush(ctx)
		}
	}
}

func (s *EventSink) addEvent(ctx context.Context, event tracer.Event) {
	if toFlush := s.appendRow(s.toRow(event)); toFlush != nil {
		if err := s.flush(ctx, toFlush); err != nil {
			s.log.WithError(err).Error("Batch flush failed")
			s.reportExportError()
		}
	}
}

// appendRow adds a row and returns the batch to flush once full.
func (s *EventSink) appendRow(row eventRow) []eventRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batch = append(s.batch, row)
	if len(s.batch) < s.batchSize {
		return nil
	}

	toFlush := s.batch
	s.batch = make([]eventRow, 0, s.batchSize)

	return toFlush
}

func (s *EventSink) tickFlush(ctx context.Context) {
	s.mu.Lock()

	if len(s.batch) == 0 {
		s.mu.Unlock()

		return
	}

	toFlush := s.batch
	s.batch = make([]eventRow, 0, s.batchSize)
	s.mu.Unlock()

	if err := s.flush(ctx, toFlush); err != nil {
		s.log.WithError(err).Error("Periodic flush failed")
		s.reportExportError()
	}
}

func (s *EventSink) flush(ctx context.Context, rows []eventRow) error {
	if len(rows) == 0 {
		return nil
	}

	if s.httpProcessor != nil {
		s.exportHTTP(ctx, rows)
	}

	if s.writer == nil {
		return nil
	}

	start := time.Now()
	cfg := s.writer.Config()

	batch, err := s.writer.Conn().PrepareBatch(
		ctx,
		fmt.Sprintf(
			"INSERT INTO %s (timestamp_ns, pid, tid, comm, event_type, call_site, duration_ns, ret, args, stack_id, stack, address, size, seq, session, config, outcome, age_ns, meta_host_name, meta_deployment)",
			cfg.QualifiedTable(),
		),
	)
	if err != nil {
		s.recordBatchError("prepare")

		return fmt.Errorf("preparing batch: %w", err)
	}

	for _, row := range rows {
		if err := batch.Append(
			row.TimestampNs,
			row.PID,
			row.TID,
			row.Comm,
			row.EventType,
			row.CallSite,
			row.DurationNs,
			row.Return,
			row.Args,
			row.StackID,
			row.Stack,
			row.Address,
			row.Size,
			row.Seq,
			row.Session,
			row.Config,
			row.Outcome,
			row.AgeNs,
			cfg.MetaHostName,
			cfg.MetaDeployment,
		); err != nil {
			s.recordBatchError("append")

			return fmt.Errorf("appending row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		s.recordBatchError("send")

		return fmt.Errorf("sending batch of %d rows: %w", len(rows), err)
	}

	if s.health != nil {
		duration := time.Since(start)
		s.health.SinkFlushDuration.WithLabelValues(sinkName).Observe(duration.Seconds())
		s.health.SinkBatchSize.WithLabelValues(sinkName).Observe(float64(len(rows)))
		s.health.ClickHouseBatchDuration.WithLabelValues("send").Observe(duration.Seconds())
	}

	s.log.WithField("rows", len(rows)).
		Debug("Flushed events")

	return nil
}

// exportHTTP exports rows to the HTTP processor.
func (s *EventSink) exportHTTP(ctx context.Context, rows []eventRow) {
	events := make([]*EventJSON, 0, len(rows))

	for _, row := range rows {
		event := toEventJSON(row, s.cfg.HTTP.MetaHostName, s.cfg.HTTP.MetaDeployment)
		events = append(events, &event)
	}

	if err := s.httpProcessor.Write(ctx, events); err != nil {
		s.log.WithError(err).Debug("HTTP export failed (queue may be full)")
		s.recordBatchError("http_write")
	}
}

func (s *EventSink) toRow(event tracer.Event) eventRow {
	row := toEventRow(event, s.monotonicOffsetNs)

	if s.includeStacks && row.StackID >= 0 {
		if frames, ok := s.stacks.Lookup(stack.ID(row.StackID)); ok {
			row.Stack = frames
		}
	}

	return row
}

func toEventRow(event tracer.Event, monotonicOffsetNs int64) eventRow {
	timestampNs := int64(event.Header.TimestampNs) + monotonicOffsetNs
	if timestampNs < 0 {
		timestampNs = 0
	}

	row := eventRow{
		// Probe timestamps are monotonic (since boot), not Unix epoch.
		TimestampNs: uint64(timestampNs),
		PID:         event.Header.Context.PID(),
		TID:         event.Header.Context.TID(),
		Comm:        event.Header.Comm,
		EventType:   event.Header.Type.String(),
		StackID:     -1,
		Args:        []uint64{},
		Stack:       []uint64{},
	}

	switch e := event.Typed.(type) {
	case tracer.CallEvent:
		row.CallSite = e.CallSite
		row.DurationNs = e.DurationNs
		row.Return = e.Return
		row.Args = e.Args[:]
		row.StackID = int32(e.StackID)
	case tracer.AllocEvent:
		row.Address = e.Address
		row.Size = e.Size
		row.StackID = int32(e.StackID)
		row.AgeNs = e.AgeNs
	case tracer.SessionEvent:
		row.Address = e.Address
		row.Seq = e.Seq
		row.Config = e.Config
		row.AgeNs = e.AgeNs
	case tracer.TxnEvent:
		row.Session = e.Session
		row.Config = e.Config
		row.AgeNs = e.AgeNs

		if e.Outcome != 0 {
			row.Outcome = e.Outcome.String()
		}
	}

	return row
}

func (s *EventSink) refreshMonotonicOffset() {
	offset, err := monotonicOffsetNs()
	if err != nil {
		s.log.WithError(err).
			Debug("Failed to refresh monotonic offset")

		return
	}

	s.mu.Lock()
	s.monotonicOffsetNs = offset
	s.mu.Unlock()
}

func monotonicOffsetNs() (int64, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, err
	}

	mono := ts.Nano()
	now := time.Now().UnixNano()

	return now - mono, nil
}

func (s *EventSink) reportDrop() {
	if s.health == nil {
		return
	}

	s.health.EventsDropped.WithLabelValues(sinkName).Inc()
}

func (s *EventSink) reportExportError() {
	if s.health == nil {
		return
	}

	s.health.ExportErrors.Inc()
}

// recordBatchError records a batch error with categorized error type.
func (s *EventSink) recordBatchError(errorType string) {
	if s.health == nil {
		return
	}

	s.health.ExportBatchErrors.WithLabelValues(sinkName, errorType).Inc()
}
