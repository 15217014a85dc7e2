// Metric primitives in Prometheus text format
//
// Counters, gauges and histograms keyed by label sets, and a registry that
// renders them in registration order. Series within a metric are written
// sorted by their labels so scrapes are stable.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gantry-go/pkg/errors"
)

// MetricType is the Prometheus metric type.
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
	default:
		return "unknown"
	}
}

// Labels are the label pairs of one series.
type Labels map[string]string

// String returns the labels in exposition format, "" when empty.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=\"%s\"", k, escapeLabel(l[k]))
	}
	sb.WriteByte('}')
	return sb.String()
}

// with returns a copy of l with k set to v.
func (l Labels) with(k, v string) Labels {
	out := make(Labels, len(l)+1)
	for key, val := range l {
		out[key] = val
	}
	out[k] = v
	return out
}

func copyLabels(l Labels) Labels {
	out := make(Labels, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(s string) string { return labelEscaper.Replace(s) }

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// Metric is implemented by every metric type.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

// family holds the series of one metric.
type family[V any] struct {
	name, help string
	mu         sync.Mutex
	series     map[string]*series[V]
}

type series[V any] struct {
	labels Labels
	value  V
}

func (f *family[V]) init(name, help string) {
	f.name, f.help = name, help
	f.series = make(map[string]*series[V])
}

func (f *family[V]) Name() string { return f.name }
func (f *family[V]) Help() string { return f.help }

// get returns the series for labels, creating it with init. Callers hold mu.
func (f *family[V]) get(labels Labels, init func() V) *series[V] {
	key := labels.String()
	s, ok := f.series[key]
	if !ok {
		s = &series[V]{labels: copyLabels(labels)}
		if init != nil {
			s.value = init()
		}
		f.series[key] = s
	}
	return s
}

// sorted returns the series ordered by their label text. Callers hold mu.
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

func writeHeader(sb *strings.Builder, name, help string, t MetricType) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, t)
}

// Counter only goes up.
type Counter struct{ family[uint64] }

// NewCounter creates a counter.
func NewCounter(name, help string) *Counter {
	c := &Counter{}
	c.init(name, help)
	return c
}

// Type implements Metric.
func (c *Counter) Type() MetricType { return TypeCounter }

// Inc adds one.
func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

// Add adds delta.
func (c *Counter) Add(labels Labels, delta uint64) {
	c.mu.Lock()
	c.get(labels, nil).value += delta
	c.mu.Unlock()
}

// Get returns the value for labels.
func (c *Counter) Get(labels Labels) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.series[labels.String()]; ok {
		return s.value
	}
	return 0
}

// Write implements Metric.
func (c *Counter) Write(sb *strings.Builder) {
	writeHeader(sb, c.name, c.help, TypeCounter)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sorted() {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, s.labels, s.value)
	}
}

// Gauge goes up and down.
type Gauge struct{ family[float64] }

// NewGauge creates a gauge.
func NewGauge(name, help string) *Gauge {
	g := &Gauge{}
	g.init(name, help)
	return g
}

// Type implements Metric.
func (g *Gauge) Type() MetricType { return TypeGauge }

// Set sets the value.
func (g *Gauge) Set(labels Labels, value float64) {
	g.mu.Lock()
	g.get(labels, nil).value = value
	g.mu.Unlock()
}

// Add adds delta, which may be negative.
func (g *Gauge) Add(labels Labels, delta float64) {
	g.mu.Lock()
	g.get(labels, nil).value += delta
	g.mu.Unlock()
}

// Inc adds one.
func (g *Gauge) Inc(labels Labels) { g.Add(labels, 1) }

// Dec subtracts one.
func (g *Gauge) Dec(labels Labels) { g.Add(labels, -1) }

// Get returns the value for labels.
func (g *Gauge) Get(labels Labels) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.series[labels.String()]; ok {
		return s.value
	}
	return 0
}

// Write implements Metric.
func (g *Gauge) Write(sb *strings.Builder) {
	writeHeader(sb, g.name, g.help, TypeGauge)
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.sorted() {
		fmt.Fprintf(sb, "%s%s %s\n", g.name, s.labels, formatFloat(s.value))
	}
}

type histValue struct {
	count   uint64
	sum     float64
	buckets []uint64 // per bucket, not cumulative
}

// Histogram counts observations into buckets.
type Histogram struct {
	family[*histValue]
	bounds []float64
}

// NewHistogram creates a histogram with the given upper bounds.
func NewHistogram(name, help string, bounds []float64) *Histogram {
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	h := &Histogram{bounds: b}
	h.init(name, help)
	return h
}

// DefaultBuckets are latency buckets in seconds.
func DefaultBuckets() []float64 {
	return []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
}

// Type implements Metric.
func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records value.
func (h *Histogram) Observe(labels Labels, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v := h.get(labels, func() *histValue { return &histValue{buckets: make([]uint64, len(h.bounds))} }).value
	v.count++
	v.sum += value
	if i := sort.SearchFloat64s(h.bounds, value); i < len(h.bounds) {
		v.buckets[i]++
	}
}

// Timer returns a function that observes the wall time since Timer was
// called.
func (h *Histogram) Timer(labels Labels) func() {
	start := time.Now()
	return func() { h.Observe(labels, time.Since(start).Seconds()) }
}

// HistogramSnapshot is a point-in-time copy of one series. Buckets are
// cumulative.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

// GetSnapshot returns the series for labels.
func (h *Histogram) GetSnapshot(labels Labels) HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.bounds))}
	s, ok := h.series[labels.String()]
	if !ok {
		return snap
	}
	snap.Count, snap.Sum = s.value.count, s.value.sum
	var cum uint64
	for i, b := range h.bounds {
		cum += s.value.buckets[i]
		snap.Buckets[b] = cum
	}
	return snap
}

// Write implements Metric.
func (h *Histogram) Write(sb *strings.Builder) {
	writeHeader(sb, h.name, h.help, TypeHistogram)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sorted() {
		var cum uint64
		for i, b := range h.bounds {
			cum += s.value.buckets[i]
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, s.labels.with("le", formatFloat(b)), cum)
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, s.labels.with("le", "+Inf"), s.value.count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, s.labels, formatFloat(s.value.sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, s.labels, s.value.count)
	}
}

// Registry renders a set of metrics.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds metric. Names must be unique.
func (r *Registry) Register(metric Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := metric.Name()
	if _, exists := r.metrics[name]; exists {
		return errors.Newf(errors.ErrRuntime, "metric %q already registered", name)
	}
	r.metrics[name] = metric
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register that panics on a duplicate.
func (r *Registry) MustRegister(metric Metric) {
	if err := r.Register(metric); err != nil {
		panic(err)
	}
}

// Get returns the metric called name, or nil.
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather renders every metric in registration order.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
