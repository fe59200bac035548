// Package metrics keeps in-process counters for a chat session: queries,
// tool calls and their latencies. Values are rendered in Prometheus text
// exposition format on demand.
package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }

func (c *Counter) Value() int64 { return c.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the total of all observations.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// Collector groups the metrics recorded while processing queries.
type Collector struct {
	start time.Time

	Queries       *Counter
	QueryFailures *Counter
	ToolCalls     *Counter
	ToolFailures  *Counter
	QueryLatency  *Histogram
	ToolLatency   *Histogram
}

func New() *Collector {
	return &Collector{
		start:         time.Now(),
		Queries:       &Counter{name: "mcpchat_queries_total", help: "Queries processed"},
		QueryFailures: &Counter{name: "mcpchat_query_failures_total", help: "Queries that ended in an error"},
		ToolCalls:     &Counter{name: "mcpchat_tool_calls_total", help: "Tool calls dispatched"},
		ToolFailures:  &Counter{name: "mcpchat_tool_failures_total", help: "Tool calls that failed"},
		QueryLatency: newHistogram("mcpchat_query_latency_seconds", "End-to-end query latency in seconds",
			[]float64{0.5, 1, 2, 5, 10, 30, 60, 120}),
		ToolLatency: newHistogram("mcpchat_tool_latency_seconds", "Tool call latency in seconds",
			[]float64{0.1, 0.5, 1, 5, 10, 30}),
	}
}

func newHistogram(name, help string, bounds []float64) *Histogram {
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{name: name, help: help, bounds: sorted, buckets: make([]int64, len(sorted))}
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.start)
}

// ObserveQuery records one processed query.
func (c *Collector) ObserveQuery(elapsed time.Duration, err error) {
	c.Queries.Inc()
	if err != nil {
		c.QueryFailures.Inc()
	}
	c.QueryLatency.Observe(elapsed.Seconds())
}

// ObserveTool records one tool call.
func (c *Collector) ObserveTool(elapsed time.Duration, err error) {
	c.ToolCalls.Inc()
	if err != nil {
		c.ToolFailures.Inc()
	}
	c.ToolLatency.Observe(elapsed.Seconds())
}

// --- Prometheus text rendering ---

// WriteText renders all metrics in Prometheus text format.
func (c *Collector) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "# HELP mcpchat_uptime_seconds Time since start in seconds\n# TYPE mcpchat_uptime_seconds gauge\nmcpchat_uptime_seconds %d\n\n",
		int64(c.Uptime().Seconds())); err != nil {
		return err
	}
	for _, ctr := range []*Counter{c.Queries, c.QueryFailures, c.ToolCalls, c.ToolFailures} {
		if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n",
			ctr.name, ctr.help, ctr.name, ctr.name, ctr.Value()); err != nil {
			return err
		}
	}
	for _, h := range []*Histogram{c.QueryLatency, c.ToolLatency} {
		if err := h.writeText(w); err != nil {
			return err
		}
	}
	return nil
}

func (h *Histogram) writeText(w io.Writer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name); err != nil {
		return err
	}
	for i, le := range h.bounds {
		bound := fmt.Sprintf("%g", le)
		if math.IsInf(le, 1) {
			bound = "+Inf"
		}
		if _, err := fmt.Fprintf(w, "%s_bucket{le=\"%s\"} %d\n", h.name, bound, h.buckets[i]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n%s_count %d\n%s_sum %f\n",
		h.name, h.count, h.name, h.count, h.name, h.sum)
	return err
}
