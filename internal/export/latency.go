package export

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CallLatency is the latency histogram of one call site.
type CallLatency struct {
	CallSite uint64
	Count    uint64
	TotalNs  uint64

	// Buckets maps an upper bound in seconds to the cumulative number
	// of calls at or below it.
	Buckets map[float64]uint64
}

// callLatencyCollector serves the latest call latency snapshot as
// constant histograms labelled by call site.
type callLatencyCollector struct {
	desc *prometheus.Desc

	mu     sync.Mutex
	latest []CallLatency
}

func newCallLatencyCollector() *callLatencyCollector {
	return &callLatencyCollector{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "call_duration_seconds"),
			"Duration of correlated calls by call site.",
			[]string{"call_site"},
			nil,
		),
	}
}

func (c *callLatencyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *callLatencyCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	latest := c.latest
	c.mu.Unlock()

	for _, l := range latest {
		m, err := prometheus.NewConstHistogram(
			c.desc,
			l.Count,
			float64(l.TotalNs)/1e9,
			l.Buckets,
			fmt.Sprintf("%#x", l.CallSite),
		)
		if err != nil {
			continue
		}

		ch <- m
	}
}

func (c *callLatencyCollector) set(latencies []CallLatency) {
	c.mu.Lock()
	c.latest = latencies
	c.mu.Unlock()
}

// SetCallLatencies replaces the call latency histograms served on
// /metrics.
func (h *HealthMetrics) SetCallLatencies(latencies []CallLatency) {
	h.callLatency.set(latencies)
}
