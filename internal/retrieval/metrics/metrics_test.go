package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/statute-agent/internal/retrieval/model"
)

func TestRecordRun(t *testing.T) {
	m := New("test", "retrieval")
	m.RecordRun(model.StopCoverageThreshold, 2, 7, 1500*time.Millisecond)
	m.RecordRun(model.StopCoverageThreshold, 1, 3, time.Second)
	m.RecordRun(model.StopHardLimit, 3, 30, 2*time.Second)

	stats := m.Stats()
	runs := stats["runs"].(map[string]float64)
	assert.Equal(t, 2.0, runs[`{reason="coverage_threshold_met"}`])
	assert.Equal(t, 1.0, runs[`{reason="hard_limit_reached"}`])
	assert.Equal(t, 6.0, stats["iterations"])
}

func TestRecordCalls(t *testing.T) {
	m := New("test", "")
	m.RecordQuery(model.QueryHyDE, nil)
	m.RecordQuery(model.QueryHyDE, errors.New("boom"))
	m.RecordQuery(model.QueryDirect, nil)
	m.RecordEmbedding()
	m.RecordSearch()
	m.RecordSearch()
	m.RecordLLMCall("hyde", 100*time.Millisecond, nil)
	m.RecordLLMCall("assess", 200*time.Millisecond, errors.New("timeout"))
	m.RecordHyDEFallback()
	m.RecordCrossRef(nil)
	m.RecordCrossRef(errors.New("missing"))

	stats := m.Stats()
	assert.Equal(t, 2.0, stats["queries"].(map[string]float64)[`{type="hyde_hypothetical"}`])
	assert.Equal(t, 1.0, stats["query_errors"].(map[string]float64)[`{type="hyde_hypothetical"}`])
	assert.Equal(t, 1.0, stats["embedding_calls"])
	assert.Equal(t, 2.0, stats["search_calls"])
	assert.Equal(t, 1.0, stats["llm_errors"].(map[string]float64)[`{purpose="assess"}`])
	assert.Equal(t, 1.0, stats["hyde_fallbacks"])
	assert.Equal(t, 1.0, stats["crossrefs_fetched"])
	assert.Equal(t, 1.0, stats["crossref_errors"])
}

func TestBreakerState(t *testing.T) {
	m := New("test", "retrieval")
	m.RecordBreakerState("openai", 1)
	m.RecordBreakerState("openai", 2)
	m.RecordBreakerState("openai", 0)
	m.RecordBreakerState("openai", 1)

	out := m.Export()
	assert.Contains(t, out, `test_retrieval_circuit_breaker_state{provider="openai"} 1`)
	assert.Contains(t, out, `test_retrieval_circuit_breaker_opens_total{provider="openai"} 2`)
}

func TestExport(t *testing.T) {
	m := New("test", "retrieval")
	m.RecordRun(model.StopDiminishingReturns, 2, 4, time.Second)

	out := m.Export()
	for _, want := range []string{
		"# TYPE test_retrieval_runs_total counter",
		`test_retrieval_runs_total{reason="diminishing_returns"} 1`,
		"# TYPE test_retrieval_run_duration_seconds histogram",
		"test_retrieval_run_duration_seconds_count 1",
		`test_retrieval_articles_per_run_bucket{le="5"} 1`,
		"test_retrieval_uptime_seconds",
	} {
		assert.Contains(t, out, want)
	}
	assert.Less(t, strings.Index(out, "articles_per_run"), strings.Index(out, "runs_total"))
}

func TestGetIsShared(t *testing.T) {
	assert.Same(t, Get(), Get())
}
