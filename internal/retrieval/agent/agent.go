// Package agent runs the bounded retrieval loop: broad retrieval, gap
// filling and reference expansion, with a stopping decision after each
// phase.
package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/logger/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/statute-agent/internal/retrieval/artifact"
	"github.com/kart-io/statute-agent/internal/retrieval/coverage"
	"github.com/kart-io/statute-agent/internal/retrieval/metrics"
	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/internal/retrieval/policy"
	"github.com/kart-io/statute-agent/internal/retrieval/store"
	"github.com/kart-io/statute-agent/pkg/errors"
	logctx "github.com/kart-io/statute-agent/pkg/infra/logger"
	"github.com/kart-io/statute-agent/pkg/infra/pool"
)

var tracer = otel.Tracer("statute-agent/agent")

// Searcher embeds text and queries the corpus.
type Searcher interface {
	Supports(lang model.Language) bool
	Embed(ctx context.Context, text string, lang model.Language) ([]float32, error)
	Search(ctx context.Context, vector []float32, threshold float64, topK int, lang model.Language) ([]store.Hit, error)
	Fetch(ctx context.Context, id int) (*model.Article, error)
}

// Generator drafts hypothetical articles for a question.
type Generator interface {
	Generate(ctx context.Context, question string, n int) ([]string, error)
}

// Agent executes retrieval runs. It is safe for concurrent use; each Run
// owns its own state.
type Agent struct {
	cfg      model.Config
	search   Searcher
	hyde     Generator
	analyzer *coverage.Analyzer
	policy   *policy.Policy
	pool     *pool.Pool
	ownPool  bool
	metrics  *metrics.RetrievalMetrics
	now      func() time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithPool runs phase tasks on p instead of a pool owned by the agent.
func WithPool(p *pool.Pool) Option {
	return func(a *Agent) { a.pool = p }
}

// WithMetrics records to m instead of the process-wide metrics.
func WithMetrics(m *metrics.RetrievalMetrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New creates an Agent.
func New(cfg model.Config, search Searcher, hyde Generator, analyzer *coverage.Analyzer, opts ...Option) (*Agent, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errors.ErrConfig.WithCause(utilerrors.NewAggregate(errs))
	}
	if search == nil || hyde == nil || analyzer == nil {
		return nil, errors.ErrConfig.WithMessage("agent needs a searcher, a generator and an analyzer")
	}

	a := &Agent{
		cfg:      cfg,
		search:   search,
		hyde:     hyde,
		analyzer: analyzer,
		policy:   policy.New(cfg),
		metrics:  metrics.Get(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.pool == nil {
		p, err := pool.NewPool("retrieval", pool.RetrievalPoolConfig(cfg.Concurrency))
		if err != nil {
			return nil, err
		}
		a.pool = p
		a.ownPool = true
	}
	return a, nil
}

// drainTimeout bounds how long Close waits for in-flight phase tasks.
const drainTimeout = 5 * time.Second

// Close releases the worker pool if the agent created it, letting running
// tasks finish first.
func (a *Agent) Close() {
	if !a.ownPool {
		return
	}
	if err := a.pool.ReleaseTimeout(drainTimeout); err != nil {
		logctx.FromContext(context.Background()).Warnw("worker pool not drained", "error", err)
	}
}

// run is the state of one Run call.
type run struct {
	req      model.Request
	state    *model.RetrievalState
	recorder *artifact.Recorder
	started  time.Time
	log      core.Logger
}

// Run executes one retrieval run and returns its artifact. The only error
// is ErrRetrievalExhausted, returned together with the artifact, when the
// first phase found nothing and no call succeeded. A malformed request is
// rejected with ErrRetrievalInvalidRequest and no artifact.
func (a *Agent) Run(ctx context.Context, req model.Request) (*model.RetrievalArtifact, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	started := a.now()
	ctx, cancel := context.WithTimeout(ctx, a.cfg.MaxLatency)
	defer cancel()

	ctx, span := tracer.Start(ctx, "agent.run")
	defer span.End()

	r := &run{
		req:      req,
		state:    model.NewRetrievalState(started),
		recorder: artifact.NewRecorder(),
		started:  started,
	}
	r.recorder.Begin(req, started)
	r.state.Coverage = a.analyzer.Analyze(nil, req.CaseType, req.HasEntity)
	span.SetAttributes(
		attribute.String("run_id", r.recorder.RunID()),
		attribute.String("case_id", req.CaseID),
	)
	ctx = logctx.WithTraceFields(logctx.WithCaseID(logctx.WithRunID(ctx, r.recorder.RunID()), req.CaseID))
	r.log = logctx.FromContext(ctx)

	r.log.Infow("retrieval run started",
		"case_type", req.CaseType,
		"issues", len(req.Issues),
	)

	for iteration := 1; ; iteration++ {
		phase, ok := model.PhaseForIteration(iteration)
		if !ok {
			// MaxIterations is validated to at most the phase count, so the
			// policy stops the run before this.
			return a.finish(r, iteration-1, policy.Decision{
				Stop:   true,
				Reason: model.StopHardLimit,
				Detail: model.DetailMaxIterations,
			}), nil
		}

		r.state.Iteration = iteration
		res := a.runPhase(ctx, r, phase)
		added, dropped := r.state.Merge(res.candidates, a.cfg.MaxArticles)
		res.attributeNew(added)

		articles := r.state.ArticleList()
		before := r.state.Coverage.Clone()
		r.state.Coverage = a.analyzer.Analyze(articles, req.CaseType, req.HasEntity)

		if iteration == 1 && len(r.state.Articles) == 0 && r.state.SuccessfulCalls.Load() == 0 {
			res.reasoning = "no articles retrieved and no search succeeded"
			a.snapshot(r, phase, res, before, added)
			art := a.finish(r, iteration, policy.Decision{Stop: true, Reason: model.StopRetrievalExhausted})
			r.log.Warnw("retrieval exhausted", "phase", phase)
			return art, errors.ErrRetrievalExhausted.WithMessagef("case %s: phase %s found nothing", req.CaseID, phase)
		}

		decision := a.policy.Evaluate(ctx, policy.Input{
			Iteration:    iteration,
			ArticleCount: len(r.state.Articles),
			LLMCalls:     int(r.state.LLMCalls.Load()),
			Elapsed:      a.elapsed(ctx, r),
			Coverage:     r.state.Coverage,
			Confidence:   coverage.ConfidenceOf(articles),
			NewArticles:  len(added),
			Assess:       a.assessor(r, articles),
		})
		res.reasoning = decision.Reasoning

		it := a.snapshot(r, phase, res, before, added)
		r.log.Infow("phase completed",
			"iteration", iteration,
			"phase", phase,
			"queries", len(res.queries),
			"new_articles", len(added),
			"dropped", dropped,
			"total_articles", len(r.state.Articles),
			"gaps", it.GapsIdentified,
			"latency_ms", it.LatencyMs,
		)

		if decision.Stop {
			return a.finish(r, iteration, decision), nil
		}
	}
}

func validateRequest(req model.Request) error {
	if strings.TrimSpace(req.CaseID) == "" {
		return errors.ErrRetrievalInvalidRequest.WithMessage("case_id is required")
	}
	if len(req.Issues) == 0 {
		return errors.ErrRetrievalInvalidRequest.WithMessage("at least one issue is required")
	}
	for i, is := range req.Issues {
		if strings.TrimSpace(is.Question) == "" {
			return errors.ErrRetrievalInvalidRequest.WithMessagef("issue %d has no question", i)
		}
	}
	return nil
}

// elapsed is the run time so far. A done context counts as the full
// latency budget.
func (a *Agent) elapsed(ctx context.Context, r *run) time.Duration {
	if ctx.Err() != nil {
		return a.cfg.MaxLatency
	}
	return a.now().Sub(r.started)
}

// assessor returns the self-assessment callback handed to the policy. It
// takes one unit of the LLM budget and reports a skip when none is left.
func (a *Agent) assessor(r *run, articles []*model.RetrievedArticle) policy.AssessFunc {
	return func(ctx context.Context) (model.Assessment, bool) {
		if !r.state.ReserveLLMCall(a.cfg.MaxLLMCalls) {
			r.log.Debugw("self-assessment skipped, llm budget spent")
			return model.Assessment{}, false
		}
		ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		defer cancel()

		start := a.now()
		verdict, err := a.analyzer.Assess(ctx, joinQuestions(r.req.Issues), articles, r.state.Coverage)
		a.metrics.RecordLLMCall("assess", a.now().Sub(start), err)
		if err != nil {
			r.log.Warnw("self-assessment failed", "error", err.Error())
		}
		return verdict, true
	}
}

func joinQuestions(issues []model.LegalIssue) string {
	qs := make([]string, len(issues))
	for i, is := range issues {
		qs[i] = is.Question
	}
	return strings.Join(qs, "\n")
}

func (a *Agent) snapshot(r *run, phase model.Phase, res *phaseResult, before model.Coverage, added []int) model.IterationArtifact {
	return r.recorder.Snapshot(artifact.Phase{
		Iteration:      r.state.Iteration,
		Purpose:        phase,
		Queries:        res.queries,
		Hypotheticals:  res.hypotheticals,
		Retrieved:      res.retrievedIDs(),
		New:            added,
		CrossRefs:      res.crossRefs,
		Before:         before,
		After:          r.state.Coverage,
		Gaps:           coverage.GapIDs(r.state.Coverage),
		LLMCalls:       int(r.state.LLMCalls.Load() - res.llmBefore),
		EmbeddingCalls: int(r.state.EmbeddingCalls.Load() - res.embedBefore),
		Latency:        a.now().Sub(res.started),
		Reasoning:      res.reasoning,
	})
}

func (a *Agent) finish(r *run, iteration int, d policy.Decision) *model.RetrievalArtifact {
	articles := r.state.ArticleList()
	conf := coverage.ConfidenceOf(articles)
	total := a.now().Sub(r.started)

	out := artifact.Outcome{
		Articles:      articles,
		Coverage:      r.state.Coverage,
		StopReason:    d.Reason,
		StopDetail:    d.Detail,
		StopIteration: iteration,
		Metrics: model.Metrics{
			MeanSimilarity: conf.Mean,
			Top3Similarity: conf.Top3Mean,
			CoverageScore:  coverage.Score(r.state.Coverage),
		},
		Counters: model.Counters{
			LLMCalls:       int(r.state.LLMCalls.Load()),
			EmbeddingCalls: int(r.state.EmbeddingCalls.Load()),
			SearchCalls:    int(r.state.SearchCalls.Load()),
			TotalLatencyMs: total.Milliseconds(),
		},
	}
	if d.Reason == model.StopRetrievalExhausted {
		out.Err = fmt.Sprintf("%d", errors.ErrRetrievalExhausted.Code)
	}

	art := r.recorder.Finish(out)
	a.metrics.RecordRun(d.Reason, iteration, len(articles), total)

	r.log.Infow("retrieval run finished",
		"stop_reason", art.StopReason,
		"stop_detail", art.StopDetail,
		"iterations", iteration,
		"articles", len(art.FinalArticles),
		"coverage_score", art.Metrics.CoverageScore,
		"llm_calls", art.Counters.LLMCalls,
		"cost_usd", art.EstimatedCostUSD,
	)
	return art
}

// isCancel reports a context error, which is not worth a warning.
func isCancel(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
