// Package metrics provides lightweight metric collection for cachepool.
// Metrics are exposed in the Prometheus text format so a host process can
// mount Handler next to its own instrumentation.
package metrics

import (
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// metric renders itself in the exposition format.
type metric interface {
	writeTo(w io.Writer)
}

// Registry holds metrics keyed by name. Registering a name twice replaces
// the earlier metric.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]metric
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]metric)}
}

var defaultRegistry = NewRegistry()

func (r *Registry) register(name string, m metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = m
}

// writeText writes every metric in name order.
func (r *Registry) writeText(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range slices.Sorted(maps.Keys(r.metrics)) {
		r.metrics[name].writeTo(w)
		io.WriteString(w, "\n")
	}
}

// Expose returns all metrics in Prometheus exposition format.
func (r *Registry) Expose() string {
	var sb strings.Builder
	r.writeText(&sb)
	return sb.String()
}

// Expose returns the default registry in Prometheus exposition format.
func Expose() string {
	return defaultRegistry.Expose()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		defaultRegistry.writeText(w)
	})
}

type desc struct {
	name string
	help string
}

func (d desc) header(w io.Writer, kind string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", d.name, d.help, d.name, kind)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	desc
	value atomic.Uint64
}

// NewCounter creates a counter registered with the default registry.
func NewCounter(name, help string) *Counter {
	return defaultRegistry.NewCounter(name, help)
}

// NewCounter creates a counter in r.
func (r *Registry) NewCounter(name, help string) *Counter {
	c := &Counter{desc: desc{name, help}}
	r.register(name, c)
	return c
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add adds v to the counter.
func (c *Counter) Add(v uint64) { c.value.Add(v) }

// Value returns the current counter value.
func (c *Counter) Value() uint64 { return c.value.Load() }

func (c *Counter) writeTo(w io.Writer) {
	c.header(w, "counter")
	fmt.Fprintf(w, "%s %d\n", c.name, c.Value())
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	desc
	value atomic.Int64
}

// NewGauge creates a gauge registered with the default registry.
func NewGauge(name, help string) *Gauge {
	return defaultRegistry.NewGauge(name, help)
}

// NewGauge creates a gauge in r.
func (r *Registry) NewGauge(name, help string) *Gauge {
	g := &Gauge{desc: desc{name, help}}
	r.register(name, g)
	return g
}

// Set sets the gauge.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Add adds v to the gauge.
func (g *Gauge) Add(v int64) { g.value.Add(v) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) writeTo(w io.Writer) {
	g.header(w, "gauge")
	fmt.Fprintf(w, "%s %d\n", g.name, g.Value())
}

// GaugeVec is a family of gauges partitioned by a single label, such as one
// gauge per backend address.
type GaugeVec struct {
	desc
	label  string
	mu     sync.RWMutex
	values map[string]int64
}

// NewGaugeVec creates a labelled gauge family registered with the default
// registry.
func NewGaugeVec(name, help, label string) *GaugeVec {
	return defaultRegistry.NewGaugeVec(name, help, label)
}

// NewGaugeVec creates a labelled gauge family in r.
func (r *Registry) NewGaugeVec(name, help, label string) *GaugeVec {
	v := &GaugeVec{
		desc:   desc{name, help},
		label:  label,
		values: make(map[string]int64),
	}
	r.register(name, v)
	return v
}

// Set sets the gauge for labelValue.
func (v *GaugeVec) Set(labelValue string, value int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[labelValue] = value
}

// Value returns the gauge for labelValue and whether it exists.
func (v *GaugeVec) Value(labelValue string) (int64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	value, ok := v.values[labelValue]
	return value, ok
}

// Delete drops the series for labelValue.
func (v *GaugeVec) Delete(labelValue string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.values, labelValue)
}

// Reset drops every series.
func (v *GaugeVec) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.values)
}

func (v *GaugeVec) writeTo(w io.Writer) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	v.header(w, "gauge")
	for _, l := range slices.Sorted(maps.Keys(v.values)) {
		fmt.Fprintf(w, "%s{%s=%q} %d\n", v.name, v.label, l, v.values[l])
	}
}

// DefaultLatencyBuckets are second-based buckets suited to cache round trips
// and pool waits.
var DefaultLatencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

// Histogram tracks the distribution of observed values.
type Histogram struct {
	desc
	mu      sync.Mutex
	buckets []float64
	// counts[i] holds observations in (buckets[i-1], buckets[i]]; the last
	// slot holds those above every bucket.
	counts []uint64
	sum    float64
	count  uint64
}

// NewHistogram creates a histogram registered with the default registry.
// buckets must be sorted in increasing order.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	return defaultRegistry.NewHistogram(name, help, buckets)
}

// NewHistogram creates a histogram in r.
func (r *Registry) NewHistogram(name, help string, buckets []float64) *Histogram {
	h := &Histogram{
		desc:    desc{name, help},
		buckets: slices.Clone(buckets),
		counts:  make([]uint64, len(buckets)+1),
	}
	r.register(name, h)
	return h
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	i, _ := slices.BinarySearch(h.buckets, v)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[i]++
	h.sum += v
	h.count++
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) writeTo(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.header(w, "histogram")
	var cumulative uint64
	for i, b := range h.buckets {
		cumulative += h.counts[i]
		fmt.Fprintf(w, "%s_bucket{le=\"%g\"} %d\n", h.name, b, cumulative)
	}
	fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
	fmt.Fprintf(w, "%s_sum %g\n", h.name, h.sum)
	fmt.Fprintf(w, "%s_count %d\n", h.name, h.count)
}
