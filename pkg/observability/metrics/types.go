// Package metrics is a small registry of counters, gauges and histograms
// exported in the Prometheus text format.
package metrics

// MetricType is the Prometheus TYPE of a metric.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Metric is anything the registry can export.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	// Describe renders the metric with its HELP and TYPE lines.
	Describe() string
}

// Counter only goes up.
type Counter interface {
	Metric
	Inc()
	Add(float64)
	Get() float64
}

// Gauge may go up and down.
type Gauge interface {
	Metric
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Get() float64
}

// Histogram counts observations into cumulative buckets.
type Histogram interface {
	Metric
	Observe(float64)
	Count() uint64
	Sum() float64
}

// CounterVec is a family of counters keyed by label values.
type CounterVec interface {
	Metric
	With(labels map[string]string) Counter
	// Values returns the current value of every series, keyed by its
	// rendered label set.
	Values() map[string]float64
}

// GaugeVec is a family of gauges keyed by label values.
type GaugeVec interface {
	Metric
	With(labels map[string]string) Gauge
	Values() map[string]float64
}
