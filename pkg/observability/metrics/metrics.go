package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultBuckets are latency buckets in seconds.
var DefaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

type desc struct {
	name string
	help string
	typ  MetricType
}

func (d desc) Name() string     { return d.name }
func (d desc) Help() string     { return d.help }
func (d desc) Type() MetricType { return d.typ }

func (d desc) header(sb *strings.Builder) {
	fmt.Fprintf(sb, "# HELP %s %s\n", d.name, d.help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", d.name, d.typ)
}

// atomicFloat is a float64 updated with CAS on its bit pattern.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) add(v float64) {
	for {
		old := f.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (f *atomicFloat) set(v float64) { f.bits.Store(math.Float64bits(v)) }
func (f *atomicFloat) get() float64  { return math.Float64frombits(f.bits.Load()) }

type counter struct {
	desc
	val atomicFloat
}

// NewCounter creates a counter.
func NewCounter(name, help string) Counter {
	return &counter{desc: desc{name: name, help: help, typ: TypeCounter}}
}

func (c *counter) Inc() { c.val.add(1) }

// Add ignores negative values.
func (c *counter) Add(v float64) {
	if v < 0 {
		return
	}
	c.val.add(v)
}

func (c *counter) Get() float64 { return c.val.get() }

func (c *counter) Describe() string {
	var sb strings.Builder
	c.header(&sb)
	fmt.Fprintf(&sb, "%s %s\n", c.name, formatValue(c.Get()))
	return sb.String()
}

type gauge struct {
	desc
	val atomicFloat
}

// NewGauge creates a gauge.
func NewGauge(name, help string) Gauge {
	return &gauge{desc: desc{name: name, help: help, typ: TypeGauge}}
}

func (g *gauge) Set(v float64) { g.val.set(v) }
func (g *gauge) Inc()          { g.val.add(1) }
func (g *gauge) Dec()          { g.val.add(-1) }
func (g *gauge) Add(v float64) { g.val.add(v) }
func (g *gauge) Get() float64  { return g.val.get() }

func (g *gauge) Describe() string {
	var sb strings.Builder
	g.header(&sb)
	fmt.Fprintf(&sb, "%s %s\n", g.name, formatValue(g.Get()))
	return sb.String()
}

type histogram struct {
	desc
	buckets []float64

	mu     sync.Mutex
	counts []uint64
	sum    float64
	count  uint64
}

// NewHistogram creates a histogram. Nil buckets selects DefaultBuckets.
func NewHistogram(name, help string, buckets []float64) Histogram {
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	b := append([]float64(nil), buckets...)
	sort.Float64s(b)
	return &histogram{
		desc:    desc{name: name, help: help, typ: TypeHistogram},
		buckets: b,
		counts:  make([]uint64, len(b)),
	}
}

func (h *histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.buckets {
		if v <= le {
			h.counts[i]++
		}
	}
}

func (h *histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

func (h *histogram) Describe() string {
	var sb strings.Builder
	h.header(&sb)
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, le := range h.buckets {
		fmt.Fprintf(&sb, "%s_bucket{le=\"%g\"} %d\n", h.name, le, h.counts[i])
	}
	fmt.Fprintf(&sb, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
	fmt.Fprintf(&sb, "%s_sum %s\n", h.name, formatValue(h.sum))
	fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)
	return sb.String()
}

// vec holds the series of a labelled family, keyed by rendered labels.
type vec[T any] struct {
	desc
	series sync.Map
	make   func() T
}

func (v *vec[T]) with(labels map[string]string) T {
	key := renderLabels(labels)
	if s, ok := v.series.Load(key); ok {
		return s.(T)
	}
	s, _ := v.series.LoadOrStore(key, v.make())
	return s.(T)
}

func (v *vec[T]) keys() []string {
	var keys []string
	v.series.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

type counterVec struct {
	vec[*counter]
}

// NewCounterVec creates a labelled counter family.
func NewCounterVec(name, help string) CounterVec {
	d := desc{name: name, help: help, typ: TypeCounter}
	return &counterVec{vec[*counter]{desc: d, make: func() *counter { return &counter{desc: d} }}}
}

func (v *counterVec) With(labels map[string]string) Counter { return v.with(labels) }

func (v *counterVec) Values() map[string]float64 {
	out := make(map[string]float64)
	for _, k := range v.keys() {
		s, _ := v.series.Load(k)
		out[k] = s.(*counter).Get()
	}
	return out
}

func (v *counterVec) Describe() string {
	var sb strings.Builder
	v.header(&sb)
	for _, k := range v.keys() {
		s, _ := v.series.Load(k)
		fmt.Fprintf(&sb, "%s%s %s\n", v.name, k, formatValue(s.(*counter).Get()))
	}
	return sb.String()
}

type gaugeVec struct {
	vec[*gauge]
}

// NewGaugeVec creates a labelled gauge family.
func NewGaugeVec(name, help string) GaugeVec {
	d := desc{name: name, help: help, typ: TypeGauge}
	return &gaugeVec{vec[*gauge]{desc: d, make: func() *gauge { return &gauge{desc: d} }}}
}

func (v *gaugeVec) With(labels map[string]string) Gauge { return v.with(labels) }

func (v *gaugeVec) Values() map[string]float64 {
	out := make(map[string]float64)
	for _, k := range v.keys() {
		s, _ := v.series.Load(k)
		out[k] = s.(*gauge).Get()
	}
	return out
}

func (v *gaugeVec) Describe() string {
	var sb strings.Builder
	v.header(&sb)
	for _, k := range v.keys() {
		s, _ := v.series.Load(k)
		fmt.Fprintf(&sb, "%s%s %s\n", v.name, k, formatValue(s.(*gauge).Get()))
	}
	return sb.String()
}

// renderLabels renders {a="1",b="2"} with keys sorted. No labels renders
// as the empty string.
func renderLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.6f", v)
}
