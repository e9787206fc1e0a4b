package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/statute-agent/internal/retrieval/artifact"
	"github.com/kart-io/statute-agent/internal/retrieval/coverage"
	"github.com/kart-io/statute-agent/internal/retrieval/hyde"
	"github.com/kart-io/statute-agent/internal/retrieval/metrics"
	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/internal/retrieval/search"
	"github.com/kart-io/statute-agent/internal/retrieval/store"
	"github.com/kart-io/statute-agent/pkg/errors"
	logctx "github.com/kart-io/statute-agent/pkg/infra/logger"
	"github.com/kart-io/statute-agent/pkg/llm"
)

const testTaxonomy = `
legal_areas:
  capacity:
    keywords_ar: [أهلية]
    template_queries_ar: [أهلية الموكل]
  scope:
    keywords_ar: [نطاق]
    template_queries_ar: [نطاق الوكالة]
  formalities:
    keywords_ar: [توثيق]
    template_queries_ar: [توثيق الوكالة]
transaction_requirements:
  FULL:
    required_areas: [capacity, scope, formalities]
default_requirements:
  required_areas: [capacity, scope]
`

var (
	vecCapacity = []float32{1, 0, 0, 0, 0}
	vecScope    = []float32{0, 1, 0, 0, 0}
	vecFormal   = []float32{0, 0, 1, 0, 0}
	vecMisc     = []float32{0, 0, 0, 1, 0}
	vecOther    = []float32{0, 0, 0, 0, 1}
)

// topicEmbedder maps text to a fixed vector by the first keyword it holds.
type topicEmbedder struct {
	fail  bool
	calls atomic.Int64
}

func (e *topicEmbedder) Name() string { return "topic" }

func (e *topicEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedSingle(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *topicEmbedder) EmbedSingle(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.fail {
		return nil, stderrors.New("embedding service down")
	}
	switch {
	case strings.Contains(text, "أهلية"):
		return vecCapacity, nil
	case strings.Contains(text, "نطاق"):
		return vecScope, nil
	case strings.Contains(text, "توثيق"):
		return vecFormal, nil
	}
	return vecOther, nil
}

const (
	capacityDrafts = "المادة (هـ): يشترط لصحة الوكالة أهلية الموكل للتصرف.\n\nالمادة (هـ): تقوم أهلية الموكل على بلوغ سن الرشد."
	scopeDraft     = "المادة (هـ): يحدد نطاق الوكالة ما يدخل فيها من أعمال."
	formalDraft    = "المادة (هـ): يجب توثيق الوكالة لدى الجهة المختصة."

	insufficient = `{"sufficient": false, "confidence": 0.3, "reasoning_ar": "الأدلة ناقصة", "missing_areas": ["formalities"], "suggested_queries_ar": []}`
	sufficient   = `{"sufficient": true, "confidence": 0.9, "reasoning_ar": "الأدلة كافية", "missing_areas": [], "suggested_queries_ar": []}`
)

// stubChat answers HyDE prompts by topic and assessment prompts with a
// fixed verdict.
type stubChat struct {
	hydeErr     error
	assess      string
	hydeCalls   atomic.Int64
	assessCalls atomic.Int64
}

func (c *stubChat) Name() string { return "stub" }

func (c *stubChat) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return c.Generate(ctx, messages[len(messages)-1].Content, "")
}

func (c *stubChat) Generate(_ context.Context, prompt, system string) (string, error) {
	if strings.Contains(system, "تقييم") {
		c.assessCalls.Add(1)
		if c.assess == "" {
			return insufficient, nil
		}
		return c.assess, nil
	}

	c.hydeCalls.Add(1)
	if c.hydeErr != nil {
		return "", c.hydeErr
	}
	switch {
	case strings.Contains(prompt, "نطاق"):
		return scopeDraft, nil
	case strings.Contains(prompt, "توثيق"):
		return formalDraft, nil
	}
	return capacityDrafts, nil
}

type fixture struct {
	corpus  *store.MemoryCorpus
	embed   *topicEmbedder
	chat    *stubChat
	cfg     model.Config
	metrics *metrics.RetrievalMetrics
	opts    []Option
	// arabicOnly leaves the English space without an embedder.
	arabicOnly bool
}

func newFixture() *fixture {
	f := &fixture{
		corpus:  store.NewMemoryCorpus(),
		embed:   &topicEmbedder{},
		chat:    &stubChat{},
		cfg:     model.DefaultConfig(),
		metrics: metrics.New("test", "agent"),
	}
	f.corpus.Add(model.Article{
		ArticleID:  1,
		TextArabic: "يشترط أهلية الموكل وفقاً لما نصت عليه المادة (5) والمادة (6).",
	}, map[model.Language][]float32{model.LangArabic: vecCapacity})
	f.corpus.Add(model.Article{
		ArticleID:  2,
		TextArabic: "يحدد نطاق الوكالة العامة أعمال الإدارة.",
	}, map[model.Language][]float32{model.LangArabic: vecScope})
	return f
}

// withSecondScopeArticle adds an article close to the scope topic.
func (f *fixture) withSecondScopeArticle() *fixture {
	f.corpus.Add(model.Article{
		ArticleID:  3,
		TextArabic: "تدخل في نطاق الوكالة الخاصة أعمال التصرف.",
	}, map[model.Language][]float32{model.LangArabic: {0, 0.9, 0, 0.1, 0}})
	return f
}

// withCitedArticle adds article 5, cited by article 1 and found by no query.
func (f *fixture) withCitedArticle() *fixture {
	f.corpus.Add(model.Article{
		ArticleID:  5,
		TextArabic: "تسري أحكام النيابة على الوكالة.",
	}, map[model.Language][]float32{model.LangArabic: vecMisc})
	return f
}

func (f *fixture) client() *search.Client {
	embedders := map[model.Language]llm.EmbeddingProvider{
		model.LangArabic:  f.embed,
		model.LangEnglish: f.embed,
	}
	if f.arabicOnly {
		delete(embedders, model.LangEnglish)
	}
	return search.NewClient(embedders, f.corpus, search.Config{Attempts: 1, FallbackThreshold: 0.2})
}

func (f *fixture) agent(t *testing.T) *Agent {
	t.Helper()
	tax, err := coverage.ParseTaxonomy([]byte(testTaxonomy))
	require.NoError(t, err)

	analyzer := coverage.NewAnalyzer(tax, f.chat, f.cfg.CoverageMinArticles, f.cfg.CoverageMinSimilarity)
	opts := append([]Option{WithMetrics(f.metrics)}, f.opts...)
	a, err := New(f.cfg, f.client(), hyde.New(f.chat), analyzer, opts...)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func request(caseType string, issues ...model.LegalIssue) model.Request {
	return model.Request{CaseID: "case-1", CaseType: caseType, Issues: issues}
}

func capacityIssue() model.LegalIssue {
	return model.LegalIssue{ID: "i1", Category: "capacity", Question: "ما أهلية الموكل"}
}

func articleIDs(arts []*model.RetrievedArticle) []int {
	ids := make([]int, len(arts))
	for i, a := range arts {
		ids[i] = a.ArticleID
	}
	return ids
}

func TestRunStopsWhenCoverageMet(t *testing.T) {
	f := newFixture()
	issue := capacityIssue()
	issue.SearchQueries = []string{"نطاق الوكالة العامة"}

	art, err := f.agent(t).Run(context.Background(), request("", issue))
	require.NoError(t, err)

	assert.Equal(t, model.StopCoverageThreshold, art.StopReason)
	assert.Empty(t, art.StopDetail)
	assert.Equal(t, 1, art.StopIteration)
	require.Len(t, art.Iterations, 1)
	assert.Equal(t, []int{1, 2}, articleIDs(art.FinalArticles))
	assert.Equal(t, 1.0, art.Metrics.CoverageScore)
	assert.Equal(t, 1, art.Counters.LLMCalls)
	assert.NotEmpty(t, art.RunID)

	it := art.Iterations[0]
	assert.Equal(t, model.PhaseBroadRetrieval, it.Purpose)
	assert.Len(t, it.Hypotheticals, 2)
	assert.Equal(t, []int{1, 2}, it.NewArticles)
	assert.Equal(t, model.AreaMissing, it.CoverageBefore["capacity"])
	assert.Equal(t, model.AreaCovered, it.CoverageAfter["capacity"])
	assert.Equal(t, model.AreaCovered, it.CoverageAfter["scope"])

	var types []string
	for _, q := range it.Queries {
		types = append(types, fmt.Sprintf("%s/%s", q.Type, q.Language))
	}
	// two drafts, one direct query, the question in English
	assert.Equal(t, []string{"hyde_hypothetical/ar", "hyde_hypothetical/ar", "direct/ar", "direct/en"}, types)
	assert.Equal(t, 1, it.Queries[0].NewArticles)
	assert.Equal(t, 0, it.Queries[1].NewArticles)
	assert.Equal(t, 1, it.Queries[2].NewArticles)

	first := art.FinalArticles[0]
	assert.Equal(t, []string{"capacity"}, first.MatchedAreas)
	assert.Len(t, first.Provenance, 2)
	assert.InDelta(t, artifact.EstimateCost(art.Counters), art.EstimatedCostUSD, 1e-9)
}

func TestRunSkipsEnglishWithoutEmbedder(t *testing.T) {
	f := newFixture()
	f.arabicOnly = true
	issue := capacityIssue()
	issue.SearchQueries = []string{"نطاق الوكالة العامة"}

	art, err := f.agent(t).Run(context.Background(), request("", issue))
	require.NoError(t, err)
	assert.Equal(t, model.StopCoverageThreshold, art.StopReason)

	it := art.Iterations[0]
	require.Len(t, it.Queries, 3)
	for _, q := range it.Queries {
		assert.Equal(t, model.LangArabic, q.Language)
		assert.Empty(t, q.Error)
	}
	assert.Equal(t, 3, art.Counters.EmbeddingCalls)
	assert.Equal(t, int64(3), f.embed.calls.Load())
	assert.InDelta(t, artifact.EstimateCost(art.Counters), art.EstimatedCostUSD, 1e-9)
}

func TestRunFillsGaps(t *testing.T) {
	f := newFixture()

	art, err := f.agent(t).Run(context.Background(), request("", capacityIssue()))
	require.NoError(t, err)

	assert.Equal(t, model.StopCoverageThreshold, art.StopReason)
	assert.Equal(t, 2, art.StopIteration)
	require.Len(t, art.Iterations, 2)

	first := art.Iterations[0]
	assert.Equal(t, []string{"scope"}, first.GapsIdentified)

	gap := art.Iterations[1]
	assert.Equal(t, model.PhaseGapFilling, gap.Purpose)
	require.Len(t, gap.Queries, 1)
	assert.Equal(t, "scope", gap.Queries[0].AreaID)
	assert.Equal(t, model.QueryHyDE, gap.Queries[0].Type)
	assert.Equal(t, []int{2}, gap.NewArticles)
	assert.Equal(t, model.AreaMissing, gap.CoverageBefore["scope"])
	assert.Equal(t, model.AreaCovered, gap.CoverageAfter["scope"])
	assert.Empty(t, gap.GapsIdentified)

	// coverage met before the self-assessment would run
	assert.Equal(t, int64(0), f.chat.assessCalls.Load())
	assert.Equal(t, 2, art.Counters.LLMCalls)
}

func TestRunFallsBackToQuestionWhenHyDEFails(t *testing.T) {
	f := newFixture()
	f.chat.hydeErr = stderrors.New("model overloaded")

	art, err := f.agent(t).Run(context.Background(), request("", capacityIssue()))
	require.NoError(t, err)

	first := art.Iterations[0]
	assert.Empty(t, first.Hypotheticals)
	require.NotEmpty(t, first.Queries)
	assert.Equal(t, model.QueryDirect, first.Queries[0].Type)
	assert.Equal(t, "ما أهلية الموكل", first.Queries[0].Text)
	assert.Contains(t, articleIDs(art.FinalArticles), 1)
	// the gap draft fails too
	assert.Equal(t, 2.0, f.metrics.Stats()["hyde_fallbacks"])
}

func TestRunExhausted(t *testing.T) {
	f := newFixture()
	f.embed.fail = true

	art, err := f.agent(t).Run(context.Background(), request("", capacityIssue()))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrRetrievalExhausted))

	require.NotNil(t, art)
	assert.Equal(t, model.StopRetrievalExhausted, art.StopReason)
	assert.Equal(t, 1, art.StopIteration)
	require.Len(t, art.Iterations, 1)
	assert.Empty(t, art.FinalArticles)
	assert.Equal(t, fmt.Sprintf("%d", errors.ErrRetrievalExhausted.Code), art.Error)
	for _, q := range art.Iterations[0].Queries {
		assert.NotEmpty(t, q.Error)
	}
}

func TestEmptyCorpusIsNotExhaustion(t *testing.T) {
	f := newFixture()
	f.corpus = store.NewMemoryCorpus()

	art, err := f.agent(t).Run(context.Background(), request("", capacityIssue()))
	require.NoError(t, err)

	assert.Equal(t, model.StopDiminishingReturns, art.StopReason)
	assert.Equal(t, 2, art.StopIteration)
	assert.Empty(t, art.FinalArticles)
	assert.Equal(t, int64(1), f.chat.assessCalls.Load())
	assert.Equal(t, "الأدلة ناقصة", art.Iterations[1].AgentReasoning)
}

func TestHardLimitOverridesCoverage(t *testing.T) {
	f := newFixture().withSecondScopeArticle()
	f.cfg.MaxArticles = 2
	issue := capacityIssue()
	issue.SearchQueries = []string{"نطاق الوكالة العامة"}

	art, err := f.agent(t).Run(context.Background(), request("", issue))
	require.NoError(t, err)

	assert.Equal(t, model.StopHardLimit, art.StopReason)
	assert.Equal(t, model.DetailMaxArticles, art.StopDetail)
	// article 3 scores below article 2 and is dropped at the cap
	assert.Equal(t, []int{1, 2}, articleIDs(art.FinalArticles))
	assert.Equal(t, model.AreaCovered, art.FinalCoverage["scope"].Status)
}

func TestHardLimitIterationsOverridesGaps(t *testing.T) {
	f := newFixture()
	f.cfg.MaxIterations = 1

	art, err := f.agent(t).Run(context.Background(), request("FULL", capacityIssue()))
	require.NoError(t, err)

	assert.Equal(t, model.StopHardLimit, art.StopReason)
	assert.Equal(t, model.DetailMaxIterations, art.StopDetail)
	assert.Equal(t, 1, art.StopIteration)
	require.Len(t, art.Iterations, 1)
	assert.ElementsMatch(t, []string{"scope", "formalities"}, art.Iterations[0].GapsIdentified)
	assert.InDelta(t, 1.0/3, art.Metrics.CoverageScore, 1e-2)
}

func TestHardLimitLatency(t *testing.T) {
	f := newFixture()
	var tick atomic.Int64
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.opts = []Option{WithClock(func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Minute)
	})}

	art, err := f.agent(t).Run(context.Background(), request("", capacityIssue()))
	require.NoError(t, err)
	assert.Equal(t, model.StopHardLimit, art.StopReason)
	assert.Equal(t, model.DetailMaxLatency, art.StopDetail)
	assert.Equal(t, 1, art.StopIteration)
}

func TestLLMBudgetIsNeverExceeded(t *testing.T) {
	f := newFixture()
	f.cfg.MaxLLMCalls = 1
	scope := model.LegalIssue{ID: "i2", Question: "ما نطاق الوكالة"}

	art, err := f.agent(t).Run(context.Background(), request("", capacityIssue(), scope))
	require.NoError(t, err)

	assert.Equal(t, 1, art.Counters.LLMCalls)
	assert.Equal(t, int64(1), f.chat.hydeCalls.Load())
	assert.Equal(t, model.StopHardLimit, art.StopReason)
	assert.Equal(t, model.DetailMaxLLMCalls, art.StopDetail)

	var directAr int
	for _, q := range art.Iterations[0].Queries {
		if q.Type == model.QueryDirect && q.Language == model.LangArabic {
			directAr++
		}
	}
	assert.Equal(t, 1, directAr)
}

func TestAgentAssessmentStops(t *testing.T) {
	f := newFixture().withSecondScopeArticle()
	f.chat.assess = sufficient

	art, err := f.agent(t).Run(context.Background(), request("FULL", capacityIssue()))
	require.NoError(t, err)

	assert.Equal(t, model.StopAgentAssessment, art.StopReason)
	assert.Equal(t, 2, art.StopIteration)
	assert.Equal(t, "الأدلة كافية", art.Iterations[1].AgentReasoning)
	// two gap drafts and the assessment
	assert.Equal(t, 3, art.Iterations[1].LLMCalls)
}

func TestDiminishingReturns(t *testing.T) {
	f := newFixture()

	art, err := f.agent(t).Run(context.Background(), request("FULL", capacityIssue()))
	require.NoError(t, err)

	assert.Equal(t, model.StopDiminishingReturns, art.StopReason)
	assert.Equal(t, 2, art.StopIteration)
	assert.Equal(t, []int{2}, art.Iterations[1].NewArticles)
	assert.Equal(t, []string{"formalities"}, art.Iterations[1].GapsIdentified)
}

func TestReferenceExpansion(t *testing.T) {
	f := newFixture().withSecondScopeArticle().withCitedArticle()

	art, err := f.agent(t).Run(context.Background(), request("FULL", capacityIssue()))
	require.NoError(t, err)

	assert.Equal(t, model.StopHardLimit, art.StopReason)
	assert.Equal(t, model.DetailMaxIterations, art.StopDetail)
	require.Len(t, art.Iterations, 3)

	exp := art.Iterations[2]
	assert.Equal(t, model.PhaseReferenceExpansion, exp.Purpose)
	assert.Equal(t, []int{5}, exp.CrossRefsFound)
	assert.Equal(t, []int{5}, exp.NewArticles)
	assert.Empty(t, exp.Queries)

	var cited *model.RetrievedArticle
	for _, a := range art.FinalArticles {
		if a.ArticleID == 5 {
			cited = a
		}
	}
	require.NotNil(t, cited)
	assert.True(t, cited.IsCrossReference)
	assert.Equal(t, []int{1}, cited.ReferencedBy)
	assert.Equal(t, f.cfg.CrossRefSimilarity, cited.Similarity)
	assert.Equal(t, 3, cited.FoundInIteration)
}

func TestRunIsDeterministic(t *testing.T) {
	type view struct {
		ID         int
		Similarity float64
		FoundBy    string
		Provenance []model.Discovery
		Referenced []int
	}
	project := func(arts []*model.RetrievedArticle) []view {
		out := make([]view, len(arts))
		for i, a := range arts {
			out[i] = view{a.ArticleID, a.Similarity, a.FoundByQuery, a.Provenance, a.ReferencedBy}
		}
		return out
	}

	var want []view
	for i := 0; i < 5; i++ {
		f := newFixture().withSecondScopeArticle().withCitedArticle()
		issue := capacityIssue()
		issue.SearchQueries = []string{"أهلية الموكل للتصرف", "نطاق الوكالة العامة"}

		art, err := f.agent(t).Run(context.Background(), request("FULL", issue))
		require.NoError(t, err)
		got := project(art.FinalArticles)
		if i == 0 {
			want = got
			continue
		}
		assert.Equal(t, want, got, "run %d", i)
	}
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	a := newFixture().agent(t)

	_, err := a.Run(context.Background(), model.Request{CaseID: "c"})
	assert.True(t, stderrors.Is(err, errors.ErrRetrievalInvalidRequest))

	_, err = a.Run(context.Background(), request("", model.LegalIssue{ID: "x", Question: "  "}))
	assert.True(t, stderrors.Is(err, errors.ErrRetrievalInvalidRequest))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	f := newFixture()
	f.cfg.MaxIterations = 0
	tax, err := coverage.DefaultTaxonomy()
	require.NoError(t, err)

	_, err = New(f.cfg, f.client(), hyde.New(f.chat), coverage.NewAnalyzer(tax, f.chat, 1, 0.5))
	assert.True(t, stderrors.Is(err, errors.ErrConfig))
}

type countingSearcher struct {
	Searcher
	fetches atomic.Int64
}

func (c *countingSearcher) Fetch(ctx context.Context, id int) (*model.Article, error) {
	c.fetches.Add(1)
	return c.Searcher.Fetch(ctx, id)
}

func TestReferenceExpansionIsIdempotent(t *testing.T) {
	f := newFixture().withCitedArticle()
	a := f.agent(t)
	counter := &countingSearcher{Searcher: f.client()}
	a.search = counter

	req := request("", capacityIssue())
	r := &run{req: req, state: model.NewRetrievalState(time.Now()), recorder: artifact.NewRecorder(), log: logctx.FromContext(context.Background())}
	r.recorder.Begin(req, time.Now())
	r.state.Iteration = 3
	art, err := f.corpus.FetchByID(context.Background(), 1)
	require.NoError(t, err)
	r.state.Merge([]model.Candidate{{Article: *art, Similarity: 0.9, Query: "q"}}, f.cfg.MaxArticles)

	first := &phaseResult{owner: map[int]int{}}
	a.referenceExpansion(context.Background(), r, first)
	added, _ := r.state.Merge(first.candidates, f.cfg.MaxArticles)
	assert.Equal(t, []int{5}, added)
	// 5 exists, 6 is missing; both count as fetched
	assert.Equal(t, int64(2), counter.fetches.Load())
	assert.Len(t, r.state.CrossRefsFetched, 2)

	second := &phaseResult{owner: map[int]int{}}
	a.referenceExpansion(context.Background(), r, second)
	assert.Empty(t, second.candidates)
	assert.Equal(t, int64(2), counter.fetches.Load())
}

func TestReferenceExpansionRespectsArticleCap(t *testing.T) {
	f := newFixture().withCitedArticle()
	f.cfg.MaxArticles = 2
	a := f.agent(t)

	req := request("", capacityIssue())
	r := &run{req: req, state: model.NewRetrievalState(time.Now()), recorder: artifact.NewRecorder(), log: logctx.FromContext(context.Background())}
	r.recorder.Begin(req, time.Now())
	art, err := f.corpus.FetchByID(context.Background(), 1)
	require.NoError(t, err)
	r.state.Merge([]model.Candidate{{Article: *art, Similarity: 0.9}}, f.cfg.MaxArticles)

	res := &phaseResult{owner: map[int]int{}}
	a.referenceExpansion(context.Background(), r, res)
	assert.Equal(t, []int{5}, res.crossRefs)
	_, ok := r.state.CrossRefsFetched[6]
	assert.False(t, ok)
}
