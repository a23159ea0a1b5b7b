// Package metrics keeps relay and ingress counters and renders them in the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector holds every series the relay reports. Series are keyed by
// name and label set and live for the life of the process.
type MetricsCollector struct {
	series    sync.Map // name{labels} -> series
	startTime time.Time
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

type series interface {
	desc() *seriesDesc
	writeSamples(w io.Writer)
}

type seriesDesc struct {
	name   string
	help   string
	labels string
	kind   string
}

func (d *seriesDesc) desc() *seriesDesc { return d }

// sample renders one line, with extra joined after the series labels.
func (d *seriesDesc) sample(w io.Writer, suffix, extra string, value any) {
	labels := d.labels
	if extra != "" {
		if labels != "" {
			labels += ","
		}
		labels += extra
	}
	if labels == "" {
		fmt.Fprintf(w, "%s%s %v\n", d.name, suffix, value)
		return
	}
	fmt.Fprintf(w, "%s%s{%s} %v\n", d.name, suffix, labels, value)
}

// Counter only goes up.
type Counter struct {
	seriesDesc
	value atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }
func (c *Counter) writeSamples(w io.Writer) { c.sample(w, "", "", c.Value()) }

// Gauge reports a current level, such as the number of cached webhooks.
type Gauge struct {
	seriesDesc
	value atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Inc() { g.value.Add(1) }
func (g *Gauge) Dec() { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }
func (g *Gauge) writeSamples(w io.Writer) { g.sample(w, "", "", g.Value()) }

// Histogram counts observations into cumulative buckets. The +Inf bucket is
// implied by the total count.
type Histogram struct {
	seriesDesc
	mu     sync.Mutex
	bounds []float64
	counts []int64
	count  int64
	sum    float64
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

func (h *Histogram) writeSamples(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, le := range h.bounds {
		h.sample(w, "_bucket", fmt.Sprintf(`le="%g"`, le), h.counts[i])
	}
	h.sample(w, "_bucket", `le="+Inf"`, h.count)
	h.sample(w, "_count", "", h.count)
	h.sample(w, "_sum", "", fmt.Sprintf("%f", h.sum))
}

// Counter returns the counter for name and labels, creating it on first use.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	return register(c, &Counter{seriesDesc: seriesDesc{name: name, help: help, labels: labels, kind: "counter"}})
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	return register(c, &Gauge{seriesDesc: seriesDesc{name: name, help: help, labels: labels, kind: "gauge"}})
}

// Histogram returns the histogram for name and labels, creating it on first
// use. Bounds are copied and sorted; a +Inf bound is dropped.
func (c *MetricsCollector) Histogram(name, help, labels string, bounds []float64) *Histogram {
	sorted := make([]float64, 0, len(bounds))
	for _, b := range bounds {
		if !math.IsInf(b, 1) {
			sorted = append(sorted, b)
		}
	}
	sort.Float64s(sorted)
	return register(c, &Histogram{
		seriesDesc: seriesDesc{name: name, help: help, labels: labels, kind: "histogram"},
		bounds:     sorted,
		counts:     make([]int64, len(sorted)),
	})
}

// register stores s unless a series with the same key exists, and returns
// whichever won.
func register[T series](c *MetricsCollector, s T) T {
	d := s.desc()
	key := d.name + "{" + d.labels + "}"
	if v, ok := c.series.Load(key); ok {
		return v.(T)
	}
	actual, _ := c.series.LoadOrStore(key, s)
	return actual.(T)
}

// Handler renders all series in Prometheus text format, grouped by name in
// lexical order.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP nanabot_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE nanabot_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "nanabot_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

		var all []series
		c.series.Range(func(_, v any) bool {
			all = append(all, v.(series))
			return true
		})
		sort.Slice(all, func(i, j int) bool {
			a, b := all[i].desc(), all[j].desc()
			if a.name != b.name {
				return a.name < b.name
			}
			return a.labels < b.labels
		})

		last := ""
		for _, s := range all {
			d := s.desc()
			if d.name != last {
				fmt.Fprintf(&sb, "# HELP %s %s\n", d.name, d.help)
				fmt.Fprintf(&sb, "# TYPE %s %s\n", d.name, d.kind)
				last = d.name
			}
			s.writeSamples(&sb)
		}

		io.WriteString(w, sb.String())
	}
}
