// Package metrics collects process-wide counters of the retrieval engine.
package metrics

import (
	"sync"
	"time"

	"github.com/kart-io/statute-agent/internal/retrieval/model"
	obs "github.com/kart-io/statute-agent/pkg/observability/metrics"
)

// RetrievalMetrics aggregates every run served by the process.
type RetrievalMetrics struct {
	registry *obs.Registry
	prefix   string

	runs          obs.CounterVec
	runDuration   obs.Histogram
	iterations    obs.Counter
	queries       obs.CounterVec
	queryErrors   obs.CounterVec
	embedCalls    obs.Counter
	searchCalls   obs.Counter
	llmCalls      obs.CounterVec
	llmErrors     obs.CounterVec
	llmDuration   obs.Histogram
	hydeFallbacks obs.Counter
	crossRefs     obs.Counter
	crossRefErrs  obs.Counter
	articles      obs.Histogram
	breakerState  obs.GaugeVec
	breakerOpens  obs.CounterVec

	startTime time.Time
}

var (
	global     *RetrievalMetrics
	globalOnce sync.Once
)

// Get returns the process-wide metrics.
func Get() *RetrievalMetrics {
	globalOnce.Do(func() {
		global = New("statute_agent", "retrieval")
	})
	return global
}

// New creates an independent set of metrics named namespace_subsystem_*.
func New(namespace, subsystem string) *RetrievalMetrics {
	prefix := namespace
	if subsystem != "" {
		prefix += "_" + subsystem
	}
	r := obs.NewRegistry()
	n := func(s string) string { return prefix + "_" + s }

	return &RetrievalMetrics{
		registry:      r,
		prefix:        prefix,
		runs:          obs.Register(r, obs.NewCounterVec(n("runs_total"), "Completed retrieval runs by stop reason")),
		runDuration:   obs.Register(r, obs.NewHistogram(n("run_duration_seconds"), "Wall time of a retrieval run", nil)),
		iterations:    obs.Register(r, obs.NewCounter(n("iterations_total"), "Executed phases")),
		queries:       obs.Register(r, obs.NewCounterVec(n("queries_total"), "Searched queries by type")),
		queryErrors:   obs.Register(r, obs.NewCounterVec(n("query_errors_total"), "Failed queries by type")),
		embedCalls:    obs.Register(r, obs.NewCounter(n("embedding_calls_total"), "Embedding calls")),
		searchCalls:   obs.Register(r, obs.NewCounter(n("search_calls_total"), "Corpus searches")),
		llmCalls:      obs.Register(r, obs.NewCounterVec(n("llm_calls_total"), "Language model calls by purpose")),
		llmErrors:     obs.Register(r, obs.NewCounterVec(n("llm_errors_total"), "Failed language model calls by purpose")),
		llmDuration:   obs.Register(r, obs.NewHistogram(n("llm_call_duration_seconds"), "Language model call latency", nil)),
		hydeFallbacks: obs.Register(r, obs.NewCounter(n("hyde_fallbacks_total"), "Issues searched with the raw question after hypothetical generation failed")),
		crossRefs:     obs.Register(r, obs.NewCounter(n("crossrefs_fetched_total"), "Cited articles fetched")),
		crossRefErrs:  obs.Register(r, obs.NewCounter(n("crossref_errors_total"), "Cited article fetches that failed")),
		articles:      obs.Register(r, obs.NewHistogram(n("articles_per_run"), "Final article count of a run", []float64{0, 1, 5, 10, 20, 30, 50})),
		breakerState:  obs.Register(r, obs.NewGaugeVec(n("circuit_breaker_state"), "Breaker state (0=closed, 1=open, 2=half-open)")),
		breakerOpens:  obs.Register(r, obs.NewCounterVec(n("circuit_breaker_opens_total"), "Breaker transitions to open")),
		startTime:     time.Now(),
	}
}

// RecordRun records a finished run.
func (m *RetrievalMetrics) RecordRun(reason model.StopReason, iterations, articles int, d time.Duration) {
	m.runs.With(map[string]string{"reason": string(reason)}).Inc()
	m.iterations.Add(float64(iterations))
	m.articles.Observe(float64(articles))
	m.runDuration.Observe(d.Seconds())
}

// RecordQuery records one searched query.
func (m *RetrievalMetrics) RecordQuery(typ model.QueryType, err error) {
	l := map[string]string{"type": string(typ)}
	m.queries.With(l).Inc()
	if err != nil {
		m.queryErrors.With(l).Inc()
	}
}

// RecordEmbedding records one embedding call.
func (m *RetrievalMetrics) RecordEmbedding() { m.embedCalls.Inc() }

// RecordSearch records one corpus search.
func (m *RetrievalMetrics) RecordSearch() { m.searchCalls.Inc() }

// RecordLLMCall records one language model call; purpose is hyde or assess.
func (m *RetrievalMetrics) RecordLLMCall(purpose string, d time.Duration, err error) {
	l := map[string]string{"purpose": purpose}
	m.llmCalls.With(l).Inc()
	m.llmDuration.Observe(d.Seconds())
	if err != nil {
		m.llmErrors.With(l).Inc()
	}
}

// RecordHyDEFallback records an issue searched without hypotheticals.
func (m *RetrievalMetrics) RecordHyDEFallback() { m.hydeFallbacks.Inc() }

// RecordCrossRef records one cited-article fetch.
func (m *RetrievalMetrics) RecordCrossRef(err error) {
	if err != nil {
		m.crossRefErrs.Inc()
		return
	}
	m.crossRefs.Inc()
}

// RecordBreakerState records a breaker transition for provider. state uses
// the numbering of the exported gauge.
func (m *RetrievalMetrics) RecordBreakerState(provider string, state int) {
	m.breakerState.With(map[string]string{"provider": provider}).Set(float64(state))
	if state == 1 {
		m.breakerOpens.With(map[string]string{"provider": provider}).Inc()
	}
}

// Export renders the metrics in Prometheus text format.
func (m *RetrievalMetrics) Export() string {
	uptime := obs.NewGauge(m.prefix+"_uptime_seconds", "Seconds since the metrics were created")
	uptime.Set(time.Since(m.startTime).Seconds())
	return m.registry.Export() + uptime.Describe()
}

// Stats returns a JSON-friendly summary.
func (m *RetrievalMetrics) Stats() map[string]any {
	return map[string]any{
		"runs":              m.runs.Values(),
		"iterations":        m.iterations.Get(),
		"queries":           m.queries.Values(),
		"query_errors":      m.queryErrors.Values(),
		"embedding_calls":   m.embedCalls.Get(),
		"search_calls":      m.searchCalls.Get(),
		"llm_calls":         m.llmCalls.Values(),
		"llm_errors":        m.llmErrors.Values(),
		"hyde_fallbacks":    m.hydeFallbacks.Get(),
		"crossrefs_fetched": m.crossRefs.Get(),
		"crossref_errors":   m.crossRefErrs.Get(),
		"breaker_state":     m.breakerState.Values(),
		"uptime_seconds":    time.Since(m.startTime).Seconds(),
	}
}
