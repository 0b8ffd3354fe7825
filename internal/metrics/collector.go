// Package metrics is a lightweight Prometheus-compatible collector.
// It renders text/plain exposition format without pulling in
// prometheus/client_golang.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide collector.
var Default = NewCollector()

// Collector aggregates counters, gauges, and histograms.
type Collector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Counter returns or creates a counter with the given name.
func (c *Collector) Counter(name, help string) *Counter {
	if v, ok := c.counters.Load(name); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help}
	actual, _ := c.counters.LoadOrStore(name, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *Collector) Gauge(name, help string) *Gauge {
	if v, ok := c.gauges.Load(name); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help}
	actual, _ := c.gauges.LoadOrStore(name, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name. A
// +Inf bucket is appended when the caller omits it.
func (c *Collector) Histogram(name, help string, buckets []float64) *Histogram {
	if v, ok := c.histograms.Load(name); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	if len(buckets) == 0 || !math.IsInf(buckets[len(buckets)-1], 1) {
		buckets = append(buckets, math.Inf(1))
	}
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(name, h)
	return actual.(*Histogram)
}

// Render produces the Prometheus text exposition of all metrics.
func (c *Collector) Render() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP tally_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE tally_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "tally_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	c.counters.Range(func(_, value any) bool {
		ctr := value.(*Counter)
		fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
		fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
		fmt.Fprintf(&sb, "%s %d\n", ctr.name, ctr.Value())
		return true
	})

	c.gauges.Range(func(_, value any) bool {
		g := value.(*Gauge)
		fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
		fmt.Fprintf(&sb, "%s %d\n", g.name, g.Value())
		return true
	})

	c.histograms.Range(func(_, value any) bool {
		h := value.(*Histogram)
		h.mu.Lock()
		defer h.mu.Unlock()

		fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
		fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			fmt.Fprintf(&sb, "%s_bucket{le=%q} %d\n", h.name, le, b.count)
		}
		fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)
		fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
		return true
	})

	return sb.String()
}

// Handler renders metrics in Prometheus text format.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// Metrics used across the gateway.
var (
	MessagesTotal  = Default.Counter("tally_messages_total", "Inbound messages processed")
	DuplicatesSeen = Default.Counter("tally_duplicates_total", "Messages suppressed as duplicates")
	BusyRejections = Default.Counter("tally_busy_rejections_total", "Messages rejected while a previous one was in flight")
	FallbacksTotal = Default.Counter("tally_fallbacks_total", "Turns answered by the local responder")
	ToolExecutions = Default.Counter("tally_tool_executions_total", "Tool handler executions")
	NudgesTotal    = Default.Counter("tally_nudges_total", "Proactive nudges delivered")
	LinksTotal     = Default.Counter("tally_links_total", "Accounts linked via deep-link codes")

	BreakerState = Default.Gauge("tally_breaker_state", "AI circuit breaker state (0 closed, 1 open, 2 half-open)")

	PhaseALatency = Default.Histogram("tally_phase_a_latency_seconds", "Phase A decision latency in seconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60})
	PhaseBLatency = Default.Histogram("tally_phase_b_latency_seconds", "Phase B phrasing latency in seconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60})
)
