// Package artifact assembles and stores the trace of a retrieval run.
package artifact

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kart-io/statute-agent/internal/retrieval/model"
)

// Per-call cost estimates in USD.
const (
	LLMCallCostUSD       = 0.001
	EmbeddingCallCostUSD = 0.0001
)

// Phase is what the agent reports about one completed phase.
type Phase struct {
	Iteration      int
	Purpose        model.Phase
	Queries        []model.Query
	Hypotheticals  []string
	Retrieved      []int
	New            []int
	CrossRefs      []int
	Before         model.Coverage
	After          model.Coverage
	Gaps           []string
	LLMCalls       int
	EmbeddingCalls int
	Latency        time.Duration
	Reasoning      string
}

// Outcome is the final state of a run.
type Outcome struct {
	Articles      []*model.RetrievedArticle
	Coverage      model.Coverage
	StopReason    model.StopReason
	StopDetail    model.StopDetail
	StopIteration int
	Metrics       model.Metrics
	Counters      model.Counters
	// Err is the code of a surfaced run failure.
	Err string
}

// Recorder builds the artifact of one run. It copies everything it is
// given, so callers may keep mutating their state.
type Recorder struct {
	artifact model.RetrievalArtifact
	now      func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// Begin starts the artifact of a run.
func (r *Recorder) Begin(req model.Request, startedAt time.Time) {
	r.artifact = model.RetrievalArtifact{
		RunID:      ulid.Make().String(),
		CaseID:     req.CaseID,
		CaseType:   req.CaseType,
		Issues:     cloneIssues(req.Issues),
		Iterations: []model.IterationArtifact{},
		StartedAt:  startedAt,
	}
}

// RunID returns the id assigned by Begin.
func (r *Recorder) RunID() string {
	return r.artifact.RunID
}

// Snapshot records a completed phase and returns its artifact.
func (r *Recorder) Snapshot(p Phase) model.IterationArtifact {
	it := model.IterationArtifact{
		Iteration:         p.Iteration,
		Purpose:           p.Purpose,
		Queries:           append([]model.Query{}, p.Queries...),
		Hypotheticals:     append([]string{}, p.Hypotheticals...),
		ArticlesRetrieved: append([]int{}, p.Retrieved...),
		NewArticles:       append([]int{}, p.New...),
		CrossRefsFound:    append([]int(nil), p.CrossRefs...),
		CoverageBefore:    p.Before.Summary(),
		CoverageAfter:     p.After.Summary(),
		GapsIdentified:    append([]string(nil), p.Gaps...),
		LLMCalls:          p.LLMCalls,
		EmbeddingCalls:    p.EmbeddingCalls,
		LatencyMs:         p.Latency.Milliseconds(),
		AgentReasoning:    p.Reasoning,
	}
	r.artifact.Iterations = append(r.artifact.Iterations, it)
	return it
}

// Finish completes the artifact. The returned value shares nothing with
// the Outcome or the Recorder.
func (r *Recorder) Finish(o Outcome) *model.RetrievalArtifact {
	a := r.artifact

	a.Issues = cloneIssues(a.Issues)
	a.Iterations = append([]model.IterationArtifact{}, a.Iterations...)

	a.FinalArticles = make([]*model.RetrievedArticle, len(o.Articles))
	for i, art := range o.Articles {
		a.FinalArticles[i] = art.Clone()
	}
	model.SortArticles(a.FinalArticles)

	a.FinalCoverage = o.Coverage.Clone()
	if a.FinalCoverage == nil {
		a.FinalCoverage = model.Coverage{}
	}
	a.StopReason = o.StopReason
	a.StopDetail = o.StopDetail
	a.StopIteration = o.StopIteration
	a.Metrics = o.Metrics
	a.Counters = o.Counters
	a.EstimatedCostUSD = EstimateCost(o.Counters)
	a.Error = o.Err
	a.CompletedAt = r.now()
	return &a
}

// EstimateCost prices the LLM and embedding calls of a run.
func EstimateCost(c model.Counters) float64 {
	return float64(c.LLMCalls)*LLMCallCostUSD + float64(c.EmbeddingCalls)*EmbeddingCallCostUSD
}

func cloneIssues(in []model.LegalIssue) []model.LegalIssue {
	out := make([]model.LegalIssue, len(in))
	for i, is := range in {
		is.SearchQueries = append([]string(nil), is.SearchQueries...)
		out[i] = is
	}
	return out
}
