// Package agent wires a probe source, the correlation engine and the
// configured sinks into one long-running process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ethpandaops/wtscope/internal/export"
	"github.com/ethpandaops/wtscope/internal/pid"
	"github.com/ethpandaops/wtscope/internal/probe"
	"github.com/ethpandaops/wtscope/internal/sink"
	"github.com/ethpandaops/wtscope/internal/tracer"
)

// Agent is the top-level orchestrator for wtscope.
type Agent interface {
	// Start initializes all components and begins consuming firings.
	Start(ctx context.Context) error
	// Stop shuts down all components gracefully.
	Stop() error
}

type agent struct {
	log     logrus.FieldLogger
	cfg     *Config
	health  *export.HealthMetrics
	disc    pid.Discovery
	tracked *pid.Tracker
	engine  *tracer.Engine
	source  probe.Source
	sinks   []sink.Sink

	lastEvictions map[string]uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Agent.
func New(log logrus.FieldLogger, cfg *Config) (Agent, error) {
	return newAgent(log, cfg, probe.NewProcessMemory())
}

func newAgent(log logrus.FieldLogger, cfg *Config, mem probe.Memory) (*agent, error) {
	health := export.NewHealthMetrics(log, cfg.Health)

	engine, err := tracer.New(log, cfg.Engine, mem)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	a := &agent{
		log:           log.WithField("component", "agent"),
		cfg:           cfg,
		health:        health,
		tracked:       pid.NewTracker(),
		engine:        engine,
		sinks:         make([]sink.Sink, 0, 2),
		lastEvictions: make(map[string]uint64, 8),
	}

	a.disc = pid.NewDiscovery(log, cfg.Target, func(src string, _ error) {
		health.PIDDiscoveryErrors.WithLabelValues(src).Inc()
	})

	// Configure enabled sinks.
	if cfg.Sinks.Events.Enabled {
		events, err := sink.NewEventSink(log, cfg.Sinks.Events, health, engine.Stacks())
		if err != nil {
			return nil, fmt.Errorf("creating events sink: %w", err)
		}

		a.sinks = append(a.sinks, events)
	}

	if cfg.Sinks.Window.Enabled {
		a.sinks = append(a.sinks, sink.NewWindowSink(log, cfg.Sinks.Window))
	}

	// The source may hold a file open, so it is created last.
	if a.source, err = probe.NewSource(log, cfg.Source); err != nil {
		return nil, fmt.Errorf("creating source: %w", err)
	}

	return a, nil
}

func (a *agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// 1. Start health metrics server.
	phase := time.Now()

	if err := a.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	a.health.AgentStartDuration.WithLabelValues("health").Set(time.Since(phase).Seconds())

	// 2. Discover target PIDs.
	if a.cfg.FilterPIDs {
		phase = time.Now()

		if err := a.refreshPIDs(ctx); err != nil {
			return fmt.Errorf("discovering PIDs: %w", err)
		}

		if a.tracked.Len() == 0 {
			a.log.Warn("No target processes found yet, firings are ignored until discovery succeeds")
		}

		a.health.AgentStartDuration.WithLabelValues("pid").Set(time.Since(phase).Seconds())
	}

	// 3. Start all enabled sinks.
	phase = time.Now()

	for _, s := range a.sinks {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("starting sink %s: %w", s.Name(), err)
		}

		a.log.WithField("sink", s.Name()).Info("Sink started")
	}

	a.health.AgentStartDuration.WithLabelValues("sinks").Set(time.Since(phase).Seconds())

	// 4. Forward finished events to sinks.
	a.wg.Add(1)

	go a.drainEvents(ctx)

	// 5. Register source handlers and start reading firings.
	a.source.OnFiring(a.handleFiring)
	a.source.OnError(a.handleSourceError)

	phase = time.Now()

	if err := a.source.Start(ctx); err != nil {
		return fmt.Errorf("starting source: %w", err)
	}

	a.health.AgentStartDuration.WithLabelValues("source").Set(time.Since(phase).Seconds())

	// 6. Publish engine state periodically.
	a.wg.Add(1)

	go a.reportLoop(ctx)

	// 7. Keep the PID filter current.
	if a.cfg.FilterPIDs {
		a.wg.Add(1)

		go a.monitorPIDs(ctx)
	}

	a.log.WithFields(logrus.Fields{
		"source":      a.cfg.Source.Type,
		"filter_pids": a.cfg.FilterPIDs,
		"sinks":       len(a.sinks),
	}).Info("Agent fully started")

	return nil
}

func (a *agent) Stop() error {
	// Stop in reverse order: no new firings, then drain, then sinks.
	if a.source != nil {
		if err := a.source.Stop(); err != nil {
			a.log.WithError(err).Warn("Error stopping source")
		}
	}

	if a.cancel != nil {
		a.cancel()
	}

	a.wg.Wait()

	a.report()

	for _, s := range a.sinks {
		if err := s.Stop(); err != nil {
			a.log.WithError(err).WithField("sink", s.Name()).
				Error("Error stopping sink")
		}
	}

	if a.health != nil {
		a.health.Stop()
	}

	return nil
}

// handleFiring runs on the source goroutine for every decoded firing.
func (a *agent) handleFiring(f probe.Firing) {
	start := time.Now()

	a.health.FiringsReceived.WithLabelValues(f.Probe.String()).Inc()

	if a.cfg.FilterPIDs && !a.tracked.Contains(f.Context.PID()) {
		a.health.FiringsIgnored.Inc()

		return
	}

	a.engine.Dispatch(f)

	a.health.FiringDuration.Observe(time.Since(start).Seconds())
}

func (a *agent) handleSourceError(err error) {
	a.health.FiringDecodeErrors.WithLabelValues(decodeErrorType(err)).Inc()
	a.log.WithError(err).Debug("Source error")
}

func decodeErrorType(err error) string {
	switch {
	case errors.Is(err, probe.ErrShortRecord):
		return "short_record"
	case errors.Is(err, probe.ErrUnknownProbe):
		return "unknown_probe"
	default:
		return "read"
	}
}

// drainEvents forwards finished events from the engine to every sink.
// On cancellation whatever is already queued is still delivered.
func (a *agent) drainEvents(ctx context.Context) {
	defer a.wg.Done()

	events := a.engine.Events().Events()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case event := <-events:
					a.forward(event)
				default:
					return
				}
			}
		case event := <-events:
			a.forward(event)
		}
	}
}

func (a *agent) forward(event tracer.Event) {
	a.health.EventsExported.WithLabelValues(event.Header.Type.String()).Inc()

	for _, s := range a.sinks {
		s.HandleEvent(event)
	}
}

func (a *agent) reportLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.report()
		}
	}
}

// report publishes table occupancy, correlation outcomes and resource
// summaries. Only the report goroutine and Stop call it.
func (a *agent) report() {
	for _, t := range a.engine.Tables() {
		a.health.TableEntries.WithLabelValues(t.Name).Set(float64(t.Len))
		a.health.TableCapacity.WithLabelValues(t.Name).Set(float64(t.Capacity))

		if delta := t.Evictions - a.lastEvictions[t.Name]; delta > 0 {
			a.health.TableEvictions.WithLabelValues(t.Name).Add(float64(delta))
		}

		a.lastEvictions[t.Name] = t.Evictions
	}

	for counter, n := range a.engine.Counters().Snapshot() {
		a.health.CorrelationOutcomes.WithLabelValues(counter.String()).Add(float64(n))
	}

	stacks := a.engine.Stacks()
	a.health.StackTableSize.Set(float64(stacks.Len()))
	a.health.StackTableDropped.Set(float64(stacks.Dropped()))

	queue := a.engine.Events()
	a.health.ExportQueueLength.Set(float64(queue.Len()))
	a.health.ExportQueueCapacity.Set(float64(queue.Cap()))
	a.health.ExportQueueDropped.Set(float64(queue.Dropped()))

	nowNs := monotonicNowNs()

	outstanding := a.engine.Alloc().Outstanding(nowNs, a.cfg.OutstandingMinAge, 0)

	var outstandingBytes uint64
	for _, o := range outstanding {
		outstandingBytes += o.Bytes
	}

	a.health.OutstandingBytes.Set(float64(outstandingBytes))

	sessions := a.engine.ActiveSessions(nowNs)
	a.health.ActiveSessions.Set(float64(len(sessions)))
	a.health.OpenTransactions.Set(float64(a.engine.Txn().Live()))

	top := outstanding
	if n := a.cfg.OutstandingTopN; n > 0 && len(top) > n {
		top = top[:n]
	}

	for _, o := range top {
		a.log.WithFields(logrus.Fields{
			"stack_id": o.StackID,
			"count":    o.Count,
			"bytes":    o.Bytes,
			"age":      time.Duration(nowNs - min(o.OldestNs, nowNs)),
		}).Debug("Outstanding allocations")
	}

	a.reportLatencies()

	a.log.WithFields(logrus.Fields{
		"active_sessions":   len(sessions),
		"open_transactions": a.engine.Txn().Live(),
		"live_allocations":  a.engine.Alloc().Live(),
		"orphan_txns":       len(a.engine.OrphanTransactions()),
	}).Debug("Engine report")
}

// reportLatencies publishes the per call site latency histograms with
// cumulative buckets, the layout Prometheus histograms expect.
func (a *agent) reportLatencies() {
	bounds := tracer.BucketBoundaries()
	latencies := a.engine.Call().Latencies()
	out := make([]export.CallLatency, 0, len(latencies))

	for _, l := range latencies {
		buckets := make(map[float64]uint64, tracer.NumBuckets-1)

		var cumulative uint64

		// The last bucket is +Inf, carried by Count.
		for i := 0; i < tracer.NumBuckets-1; i++ {
			cumulative += l.Buckets[i]
			buckets[float64(bounds[i])/1e9] = cumulative
		}

		out = append(out, export.CallLatency{
			CallSite: l.CallSite,
			Count:    l.Count,
			TotalNs:  l.TotalNs,
			Buckets:  buckets,
		})

		a.log.WithFields(logrus.Fields{
			"call_site": fmt.Sprintf("%#x", l.CallSite),
			"count":     l.Count,
			"mean":      time.Duration(l.Mean()),
			"total":     time.Duration(l.TotalNs),
		}).Debug("Call latency")
	}

	a.health.SetCallLatencies(out)
}

func (a *agent) monitorPIDs(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.PIDRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.refreshPIDs(ctx); err != nil && ctx.Err() == nil {
				a.log.WithError(err).
					Warn("PID refresh failed")
			}
		}
	}
}

func (a *agent) refreshPIDs(ctx context.Context) error {
	start := time.Now()

	pids, err := a.disc.Discover(ctx)
	if err != nil {
		return err
	}

	added, removed := a.tracked.Replace(pids)

	a.health.PIDsTracked.Set(float64(len(pids)))
	a.health.PIDRefreshDuration.Observe(time.Since(start).Seconds())

	if len(added) > 0 || len(removed) > 0 {
		a.log.WithFields(logrus.Fields{
			"added":   added,
			"removed": removed,
			"tracked": len(pids),
		}).Info("Target processes changed")
	}

	return nil
}

// monotonicNowNs returns CLOCK_MONOTONIC, the clock probe timestamps use.
func monotonicNowNs() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return uint64(time.Now().UnixNano())
	}

	return uint64(ts.Nano())
}
