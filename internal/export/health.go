package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "wtscope"

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for agent health.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Source layer
	FiringsReceived    *prometheus.CounterVec // probe
	FiringsIgnored     prometheus.Counter     // firings from untracked PIDs
	FiringDecodeErrors *prometheus.CounterVec // error_type
	FiringDuration     prometheus.Histogram   // 1us-1ms buckets

	// Engine layer
	CorrelationOutcomes *prometheus.CounterVec // outcome
	TableEntries        *prometheus.GaugeVec   // table
	TableCapacity       *prometheus.GaugeVec   // table
	TableEvictions      *prometheus.CounterVec // table
	StackTableSize      prometheus.Gauge
	StackTableDropped   prometheus.Gauge
	ExportQueueLength   prometheus.Gauge
	ExportQueueCapacity prometheus.Gauge
	ExportQueueDropped  prometheus.Gauge
	OutstandingBytes    prometheus.Gauge
	ActiveSessions      prometheus.Gauge
	OpenTransactions    prometheus.Gauge

	// Event flow
	EventsExported *prometheus.CounterVec // event_type
	EventsDropped  *prometheus.CounterVec // sink

	// Discovery layer
	PIDsTracked        prometheus.Gauge
	PIDDiscoveryErrors *prometheus.CounterVec // source (process/cgroup)
	PIDRefreshDuration prometheus.Histogram

	// Sink and export layer
	ExportErrors             prometheus.Counter
	ClickHouseConnected      *prometheus.GaugeVec     // sink
	ExportBatchErrors        *prometheus.CounterVec   // sink, error_type
	SinkEventChannelLength   *prometheus.GaugeVec     // sink
	SinkEventChannelCapacity *prometheus.GaugeVec     // sink
	SinkFlushDuration        *prometheus.HistogramVec // sink
	SinkBatchSize            *prometheus.HistogramVec // sink
	SinkEventsProcessed      *prometheus.CounterVec   // sink
	ClickHouseBatchDuration  *prometheus.HistogramVec // operation

	AgentStartDuration *prometheus.GaugeVec // phase

	callLatency *callLatencyCollector

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:         log.WithField("component", "health"),
		addr:        cfg.Addr,
		registry:    reg,
		callLatency: newCallLatencyCollector(),

		FiringsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "firings_received_total",
				Help:      "Total probe firings received from the source by probe.",
			},
			[]string{"probe"},
		),
		FiringsIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "firings_ignored_total",
			Help:      "Total probe firings from processes outside the PID filter.",
		}),
		FiringDecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "firing_decode_errors_total",
				Help:      "Total probe firings that could not be decoded by error type.",
			},
			[]string{"error_type"},
		),
		FiringDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "firing_processing_duration_seconds",
			Help:      "Time to correlate a single probe firing.",
			Buckets:   []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.001}, // 1us-1ms
		}),

		CorrelationOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "correlation_outcomes_total",
				Help:      "Total correlation outcomes by outcome.",
			},
			[]string{"outcome"},
		),
		TableEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "table_entries",
				Help:      "Number of records held per engine table.",
			},
			[]string{"table"},
		),
		TableCapacity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "table_capacity",
				Help:      "Configured capacity per engine table.",
			},
			[]string{"table"},
		),
		TableEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "table_evictions_total",
				Help:      "Total records evicted by capacity pressure per engine table.",
			},
			[]string{"table"},
		),
		StackTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stack_table_size",
			Help:      "Number of unique stacks stored.",
		}),
		StackTableDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stack_table_dropped",
			Help:      "Number of stack captures rejected because the table was full.",
		}),
		ExportQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "export_queue_length",
			Help:      "Current number of finished events awaiting export.",
		}),
		ExportQueueCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "export_queue_capacity",
			Help:      "Capacity of the finished event queue.",
		}),
		ExportQueueDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "export_queue_dropped",
			Help:      "Finished events dropped because the export queue was full.",
		}),
		OutstandingBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outstanding_alloc_bytes",
			Help:      "Bytes held by live allocations older than the report age.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live sessions.",
		}),
		OpenTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_transactions",
			Help:      "Number of open transactions.",
		}),

		EventsExported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_exported_total",
				Help:      "Total finished events handed to sinks by event type.",
			},
			[]string{"event_type"},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Total finished events dropped by a full sink channel.",
			},
			[]string{"sink"},
		),

		PIDsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pids_tracked",
			Help:      "Number of target PIDs currently tracked.",
		}),
		PIDDiscoveryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pid_discovery_errors_total",
				Help:      "Total PID discovery errors by source.",
			},
			[]string{"source"},
		),
		PIDRefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pid_refresh_duration_seconds",
			Help:      "Time to refresh PID discovery.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		ExportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_errors_total",
			Help:      "Total export errors across all sinks.",
		}),
		ClickHouseConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "clickhouse_connected",
				Help:      "Whether ClickHouse connection is established (1=yes, 0=no).",
			},
			[]string{"sink"},
		),
		ExportBatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_batch_errors_total",
				Help:      "Total export batch errors by sink and error type.",
			},
			[]string{"sink", "error_type"},
		),
		SinkEventChannelLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sink_event_channel_length",
				Help:      "Current number of events in sink channel.",
			},
			[]string{"sink"},
		),
		SinkEventChannelCapacity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sink_event_channel_capacity",
				Help:      "Capacity of sink event channel.",
			},
			[]string{"sink"},
		),
		SinkFlushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sink_flush_duration_seconds",
				Help:      "Time to flush a batch by sink.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}, // 1ms-1s
			},
			[]string{"sink"},
		),
		SinkBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sink_batch_size",
				Help:      "Number of rows per batch flush by sink.",
				Buckets:   []float64{100, 500, 1000, 5000, 10000, 25000, 50000},
			},
			[]string{"sink"},
		),
		SinkEventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_events_processed_total",
				Help:      "Total events processed by sink.",
			},
			[]string{"sink"},
		),
		ClickHouseBatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "clickhouse_batch_duration_seconds",
				Help:      "Time to write a batch to ClickHouse by operation.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5}, // 1ms-500ms
			},
			[]string{"operation"},
		),

		AgentStartDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "agent_start_duration_seconds",
				Help:      "Duration of agent startup phases.",
			},
			[]string{"phase"},
		),
	}

	// Source and engine metrics
	reg.MustRegister(
		h.FiringsReceived,
		h.FiringsIgnored,
		h.FiringDecodeErrors,
		h.FiringDuration,
		h.CorrelationOutcomes,
		h.TableEntries,
		h.TableCapacity,
		h.TableEvictions,
		h.StackTableSize,
		h.StackTableDropped,
		h.ExportQueueLength,
		h.ExportQueueCapacity,
		h.ExportQueueDropped,
		h.OutstandingBytes,
		h.ActiveSessions,
		h.OpenTransactions,
		h.callLatency,
	)

	// Event flow and discovery metrics
	reg.MustRegister(
		h.EventsExported,
		h.EventsDropped,
		h.PIDsTracked,
		h.PIDDiscoveryErrors,
		h.PIDRefreshDuration,
	)

	// Sink and export metrics
	reg.MustRegister(
		h.ExportErrors,
		h.ClickHouseConnected,
		h.ExportBatchErrors,
		h.SinkEventChannelLength,
		h.SinkEventChannelCapacity,
		h.SinkFlushDuration,
		h.SinkBatchSize,
		h.SinkEventsProcessed,
		h.ClickHouseBatchDuration,
		h.AgentStartDuration,
	)

	return h
}

// Registry returns the registry backing the metrics endpoint.
func (h *HealthMetrics) Registry() *prometheus.Registry {
	return h.registry
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	// pprof endpoints for CPU/memory profiling.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop gracefully shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
