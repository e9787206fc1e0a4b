package artifact

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/pkg/errors"
)

func request() model.Request {
	return model.Request{
		CaseID:   "case-1",
		CaseType: "POA_SPECIAL",
		Issues:   []model.LegalIssue{{ID: "i1", Question: "س", SearchQueries: []string{"ق"}}},
	}
}

func TestRecorder_Lifecycle(t *testing.T) {
	r := NewRecorder()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	req := request()
	r.Begin(req, start)
	require.Len(t, r.RunID(), 26)

	before := model.Coverage{"a": {AreaID: "a", Status: model.AreaMissing}}
	after := model.Coverage{"a": {AreaID: "a", Status: model.AreaCovered, ArticleIDs: []int{2}}}
	queries := []model.Query{{ID: "q1", Text: "نص"}}

	it := r.Snapshot(Phase{
		Iteration:      1,
		Purpose:        model.PhaseBroadRetrieval,
		Queries:        queries,
		Retrieved:      []int{1, 2},
		New:            []int{1, 2},
		Before:         before,
		After:          after,
		LLMCalls:       1,
		EmbeddingCalls: 3,
		Latency:        1500 * time.Millisecond,
	})
	assert.Equal(t, int64(1500), it.LatencyMs)
	assert.Equal(t, model.AreaMissing, it.CoverageBefore["a"])
	assert.Equal(t, model.AreaCovered, it.CoverageAfter["a"])

	queries[0].Text = "changed"
	req.Issues[0].SearchQueries[0] = "changed"

	articles := []*model.RetrievedArticle{
		{Article: model.Article{ArticleID: 2}, Similarity: 0.6},
		{Article: model.Article{ArticleID: 1}, Similarity: 0.9, Provenance: []model.Discovery{{Query: "q"}}},
	}
	a := r.Finish(Outcome{
		Articles:      articles,
		Coverage:      after,
		StopReason:    model.StopCoverageThreshold,
		StopIteration: 1,
		Counters:      model.Counters{LLMCalls: 3, EmbeddingCalls: 10},
	})

	assert.Equal(t, "case-1", a.CaseID)
	assert.Equal(t, start, a.StartedAt)
	assert.False(t, a.CompletedAt.IsZero())
	require.Len(t, a.Iterations, 1)
	assert.Equal(t, "نص", a.Iterations[0].Queries[0].Text)
	assert.Equal(t, "ق", a.Issues[0].SearchQueries[0])
	assert.Equal(t, []int{1, 2}, []int{a.FinalArticles[0].ArticleID, a.FinalArticles[1].ArticleID})
	assert.InDelta(t, 0.004, a.EstimatedCostUSD, 1e-12)

	articles[1].Provenance[0].Query = "changed"
	after["a"] = model.CoverageStatus{Status: model.AreaWeak}
	assert.Equal(t, "q", a.FinalArticles[0].Provenance[0].Query)
	assert.Equal(t, model.AreaCovered, a.FinalCoverage["a"].Status)
}

func TestRecorder_UniqueRunIDs(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		r := NewRecorder()
		r.Begin(request(), time.Now())
		assert.False(t, seen[r.RunID()])
		seen[r.RunID()] = true
	}
}

func newRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo := NewRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func TestRepository_SaveGet(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	r := NewRecorder()
	r.Begin(request(), time.Now())
	a := r.Finish(Outcome{
		Articles:   []*model.RetrievedArticle{{Article: model.Article{ArticleID: 7, TextArabic: "نص"}, Similarity: 0.7}},
		StopReason: model.StopHardLimit,
		StopDetail: model.DetailMaxIterations,
		Metrics:    model.Metrics{CoverageScore: 0.5},
	})

	require.NoError(t, repo.Save(ctx, a))

	got, err := repo.Get(ctx, a.RunID)
	require.NoError(t, err)
	assert.Equal(t, a.RunID, got.RunID)
	assert.Equal(t, model.StopHardLimit, got.StopReason)
	assert.Equal(t, model.DetailMaxIterations, got.StopDetail)
	require.Len(t, got.FinalArticles, 1)
	assert.Equal(t, "نص", got.FinalArticles[0].TextArabic)

	// saving again replaces the record
	a.StopReason = model.StopCoverageThreshold
	require.NoError(t, repo.Save(ctx, a))
	got, err = repo.Get(ctx, a.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.StopCoverageThreshold, got.StopReason)
}

func TestRepository_GetMissing(t *testing.T) {
	_, err := newRepo(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, errors.ErrArtifactNotFound)
}

func TestRepository_SaveInvalid(t *testing.T) {
	err := newRepo(t).Save(context.Background(), &model.RetrievalArtifact{})
	assert.ErrorIs(t, err, errors.ErrInvalidParam)
}

func TestRepository_ListByCase(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r := NewRecorder()
		r.Begin(request(), time.Now())
		require.NoError(t, repo.Save(ctx, r.Finish(Outcome{StopReason: model.StopDiminishingReturns})))
	}
	other := NewRecorder()
	req := request()
	req.CaseID = "case-2"
	other.Begin(req, time.Now())
	require.NoError(t, repo.Save(ctx, other.Finish(Outcome{})))

	list, err := repo.ListByCase(ctx, "case-1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = repo.ListByCase(ctx, "case-1", 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
