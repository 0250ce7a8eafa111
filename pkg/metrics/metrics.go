// Prometheus text format metrics
//
// Counters, gauges and histograms keyed by label sets. Series are written
// sorted by label key so the exposition output is stable.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	}
	return "untyped"
}

// Labels represents metric labels as key-value pairs
type Labels map[string]string

// Key returns a canonical string for the label set.
func (l Labels) Key() string {
	keys := l.sortedKeys()
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(l[k])
	}
	return sb.String()
}

// String returns labels in Prometheus format, e.g. {kind="exhausted"}.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=%q", k, l[k])
	}
	sb.WriteByte('}')
	return sb.String()
}

// With returns a copy of l with key set to value.
func (l Labels) With(key, value string) Labels {
	out := l.clone()
	out[key] = value
	return out
}

func (l Labels) clone() Labels {
	out := make(Labels, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	return out
}

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Metric is the interface for all metric types
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

// family holds the per label set series of one metric.
type family[V any] struct {
	name   string
	help   string
	mu     sync.Mutex
	series map[string]*series[V]
}

type series[V any] struct {
	labels Labels
	value  V
}

func newFamily[V any](name, help string) family[V] {
	return family[V]{name: name, help: help, series: make(map[string]*series[V])}
}

func (f *family[V]) Name() string { return f.name }
func (f *family[V]) Help() string { return f.help }

// get returns the series for labels, creating it. Caller holds f.mu.
func (f *family[V]) get(labels Labels, init func() V) *series[V] {
	key := labels.Key()
	s, ok := f.series[key]
	if !ok {
		s = &series[V]{labels: labels.clone()}
		if init != nil {
			s.value = init()
		}
		f.series[key] = s
	}
	return s
}

// sorted returns the series ordered by label key. Caller holds f.mu.
func (f *family[V]) sorted() []*series[V] {
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*series[V], len(keys))
	for i, k := range keys {
		out[i] = f.series[k]
	}
	return out
}

func (f *family[V]) writeHeader(sb *strings.Builder, t MetricType) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, t)
}

// Counter is a monotonically increasing metric
type Counter struct {
	family[uint64]
}

// NewCounter creates a new counter metric
func NewCounter(name, help string) *Counter {
	return &Counter{newFamily[uint64](name, help)}
}

func (c *Counter) Type() MetricType { return TypeCounter }

// Inc increments the counter by 1
func (c *Counter) Inc(labels Labels) {
	c.Add(labels, 1)
}

// Add increments the counter by delta
func (c *Counter) Add(labels Labels, delta uint64) {
	c.mu.Lock()
	c.get(labels, nil).value += delta
	c.mu.Unlock()
}

// Get returns the current counter value for labels
func (c *Counter) Get(labels Labels) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.series[labels.Key()]; ok {
		return s.value
	}
	return 0
}

func (c *Counter) Write(sb *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeHeader(sb, TypeCounter)
	for _, s := range c.sorted() {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, s.labels, s.value)
	}
}

// Gauge is a metric that can go up and down
type Gauge struct {
	family[float64]
}

// NewGauge creates a new gauge metric
func NewGauge(name, help string) *Gauge {
	return &Gauge{newFamily[float64](name, help)}
}

func (g *Gauge) Type() MetricType { return TypeGauge }

// Set sets the gauge to value
func (g *Gauge) Set(labels Labels, value float64) {
	g.mu.Lock()
	g.get(labels, nil).value = value
	g.mu.Unlock()
}

// Add adds delta to the gauge
func (g *Gauge) Add(labels Labels, delta float64) {
	g.mu.Lock()
	g.get(labels, nil).value += delta
	g.mu.Unlock()
}

// Get returns the current gauge value for labels
func (g *Gauge) Get(labels Labels) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.series[labels.Key()]; ok {
		return s.value
	}
	return 0
}

func (g *Gauge) Write(sb *strings.Builder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writeHeader(sb, TypeGauge)
	for _, s := range g.sorted() {
		fmt.Fprintf(sb, "%s%s %s\n", g.name, s.labels, formatFloat(s.value))
	}
}

// histogramValue keeps per bucket counts; bucket i counts observations in
// (bound[i-1], bound[i]].
type histogramValue struct {
	count   uint64
	sum     float64
	buckets []uint64
}

// Histogram tracks the distribution of observations
type Histogram struct {
	family[*histogramValue]
	bounds []float64
}

// NewHistogram creates a new histogram metric with the given bucket upper
// bounds.
func NewHistogram(name, help string, bounds []float64) *Histogram {
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{family: newFamily[*histogramValue](name, help), bounds: sorted}
}

// DefaultBuckets returns buckets suited to capture durations in seconds.
func DefaultBuckets() []float64 {
	return []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}
}

// ExponentialBuckets creates count buckets starting at start with factor
// multiplier.
func ExponentialBuckets(start, factor float64, count int) []float64 {
	buckets := make([]float64, count)
	for i := range buckets {
		buckets[i] = start
		start *= factor
	}
	return buckets
}

func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records a value in the histogram
func (h *Histogram) Observe(labels Labels, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hv := h.get(labels, func() *histogramValue {
		return &histogramValue{buckets: make([]uint64, len(h.bounds))}
	}).value
	hv.count++
	hv.sum += value
	if i := sort.SearchFloat64s(h.bounds, value); i < len(h.bounds) {
		hv.buckets[i]++
	}
}

// Timer returns a function that records the elapsed time when called
func (h *Histogram) Timer(labels Labels) func() {
	start := time.Now()
	return func() {
		h.Observe(labels, time.Since(start).Seconds())
	}
}

// HistogramSnapshot contains a point-in-time copy of one series, with
// cumulative bucket counts keyed by upper bound.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

// Snapshot returns the series for labels.
func (h *Histogram) Snapshot(labels Labels) HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.bounds))}
	s, ok := h.series[labels.Key()]
	if !ok {
		return snap
	}
	snap.Count, snap.Sum = s.value.count, s.value.sum
	var cumulative uint64
	for i, bound := range h.bounds {
		cumulative += s.value.buckets[i]
		snap.Buckets[bound] = cumulative
	}
	return snap
}

func (h *Histogram) Write(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeHeader(sb, TypeHistogram)
	for _, s := range h.sorted() {
		var cumulative uint64
		for i, bound := range h.bounds {
			cumulative += s.value.buckets[i]
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, s.labels.With("le", formatFloat(bound)), cumulative)
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, s.labels.With("le", "+Inf"), s.value.count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, s.labels, formatFloat(s.value.sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, s.labels, s.value.count)
	}
}

// Registry holds metrics in registration order
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

// NewRegistry creates a new metrics registry
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds a metric to the registry
func (r *Registry) Register(metric Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := metric.Name()
	if _, exists := r.metrics[name]; exists {
		return fmt.Errorf("metric %q already registered", name)
	}
	r.metrics[name] = metric
	r.order = append(r.order, name)
	return nil
}

// MustRegister adds a metric and panics on error
func (r *Registry) MustRegister(metric Metric) {
	if err := r.Register(metric); err != nil {
		panic(err)
	}
}

// Get returns a metric by name
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather collects all metrics in Prometheus text format
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
