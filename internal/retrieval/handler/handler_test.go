package handler

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/statute-agent/internal/retrieval/artifact"
	"github.com/kart-io/statute-agent/internal/retrieval/metrics"
	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/pkg/component"
	"github.com/kart-io/statute-agent/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRunner struct {
	art   *model.RetrievalArtifact
	err   error
	calls int
	got   model.Request
}

func (s *stubRunner) Run(_ context.Context, req model.Request) (*model.RetrievalArtifact, error) {
	s.calls++
	s.got = req
	return s.art, s.err
}

func sampleArtifact(runID string, reason model.StopReason) *model.RetrievalArtifact {
	return &model.RetrievalArtifact{
		RunID:      runID,
		CaseID:     "case-1",
		StopReason: reason,
		FinalArticles: []*model.RetrievedArticle{
			{Article: model.Article{ArticleID: 7, TextArabic: "نص"}, Similarity: 0.9},
		},
		FinalCoverage: model.Coverage{},
		StartedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CompletedAt:   time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}
}

func newStore(t *testing.T) *artifact.Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo := artifact.NewRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id"`
}

func do(t *testing.T, r http.Handler, method, path, body string, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

const validBody = `{"case_id":"case-1","case_type":"POA_GENERAL","issues":[{"id":"i1","question":"ما أهلية الموكل"}]}`

func TestRetrieve(t *testing.T) {
	runner := &stubRunner{art: sampleArtifact("run-1", model.StopCoverageThreshold)}
	store := newStore(t)
	r := NewRouter(NewRetrievalHandler(runner, store, metrics.New("test", "http")))

	w, env := do(t, r, http.MethodPost, "/v1/retrievals", validBody, HeaderXRequestID, "req-42")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 0, env.Code)
	assert.Equal(t, "req-42", env.RequestID)
	assert.Equal(t, "req-42", w.Header().Get(HeaderXRequestID))
	assert.Equal(t, "POA_GENERAL", runner.got.CaseType)

	var art model.RetrievalArtifact
	require.NoError(t, json.Unmarshal(env.Data, &art))
	assert.Equal(t, "run-1", art.RunID)

	saved, err := store.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StopCoverageThreshold, saved.StopReason)
}

func TestRetrieveValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"case_id":`, errors.ErrInvalidParam.Code},
		{"no issues", `{"case_id":"c","issues":[]}`, errors.ErrValidationFailed.Code},
		{"missing case id", `{"issues":[{"id":"i","question":"q"}]}`, errors.ErrValidationFailed.Code},
		{"blank question", `{"case_id":"c","issues":[{"id":"i","question":" "}]}`, errors.ErrValidationFailed.Code},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{}
			r := NewRouter(NewRetrievalHandler(runner, nil, metrics.New("test", "http")))

			w, env := do(t, r, http.MethodPost, "/v1/retrievals", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, env.Code)
			assert.NotEmpty(t, env.RequestID)
			assert.Zero(t, runner.calls)
		})
	}
}

func TestRetrieveExhausted(t *testing.T) {
	runner := &stubRunner{
		art: sampleArtifact("run-x", model.StopRetrievalExhausted),
		err: errors.ErrRetrievalExhausted.WithMessage("nothing found"),
	}
	store := newStore(t)
	r := NewRouter(NewRetrievalHandler(runner, store, metrics.New("test", "http")))

	w, env := do(t, r, http.MethodPost, "/v1/retrievals", validBody)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, errors.ErrRetrievalExhausted.Code, env.Code)

	var art model.RetrievalArtifact
	require.NoError(t, json.Unmarshal(env.Data, &art))
	assert.Equal(t, model.StopRetrievalExhausted, art.StopReason)

	_, err := store.Get(context.Background(), "run-x")
	assert.NoError(t, err)
}

func TestRetrieveArabicMessage(t *testing.T) {
	runner := &stubRunner{err: errors.ErrRetrievalInvalidRequest}
	r := NewRouter(NewRetrievalHandler(runner, nil, metrics.New("test", "http")))

	w, env := do(t, r, http.MethodPost, "/v1/retrievals", validBody, "Accept-Language", "ar-QA")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrRetrievalInvalidRequest.MessageAR, env.Message)
}

func TestGet(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Save(context.Background(), sampleArtifact("run-1", model.StopHardLimit)))
	r := NewRouter(NewRetrievalHandler(&stubRunner{}, store, metrics.New("test", "http")))

	w, env := do(t, r, http.MethodGet, "/v1/retrievals/run-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var art model.RetrievalArtifact
	require.NoError(t, json.Unmarshal(env.Data, &art))
	assert.Equal(t, model.StopHardLimit, art.StopReason)

	w, env = do(t, r, http.MethodGet, "/v1/retrievals/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errors.ErrArtifactNotFound.Code, env.Code)
}

func TestGetWithoutStore(t *testing.T) {
	r := NewRouter(NewRetrievalHandler(&stubRunner{}, nil, metrics.New("test", "http")))
	w, _ := do(t, r, http.MethodGet, "/v1/retrievals/run-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListByCase(t *testing.T) {
	store := newStore(t)
	for _, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, store.Save(context.Background(), sampleArtifact(id, model.StopCoverageThreshold)))
	}
	r := NewRouter(NewRetrievalHandler(&stubRunner{}, store, metrics.New("test", "http")))

	w, env := do(t, r, http.MethodGet, "/v1/cases/case-1/retrievals?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var arts []model.RetrievalArtifact
	require.NoError(t, json.Unmarshal(env.Data, &arts))
	assert.Len(t, arts, 2)

	w, _ = do(t, r, http.MethodGet, "/v1/cases/case-1/retrievals?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsAndHealth(t *testing.T) {
	m := metrics.New("test", "http")
	m.RecordRun(model.StopCoverageThreshold, 1, 2, time.Second)
	r := NewRouter(NewRetrievalHandler(&stubRunner{}, nil, m))

	w, _ := do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `test_http_runs_total{reason="coverage_threshold_met"} 1`)

	w, env := do(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
}

func TestReady(t *testing.T) {
	up := component.PingerFunc{ID: "redis", Fn: func(context.Context) error { return nil }}
	down := component.PingerFunc{ID: "postgres", Fn: func(context.Context) error { return stderrors.New("refused") }}

	r := NewRouter(NewRetrievalHandler(&stubRunner{}, nil, nil).WithProbes(up))
	w, env := do(t, r, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)

	r = NewRouter(NewRetrievalHandler(&stubRunner{}, nil, nil).WithProbes(up, down))
	w, env = do(t, r, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, errors.ErrUnavailable.Code, env.Code)

	var data struct {
		Backends []component.Status `json:"backends"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Backends, 2)
	assert.Equal(t, "postgres", data.Backends[0].Name)
	assert.Equal(t, "refused", data.Backends[0].Error)
}

type panicRunner struct{}

func (panicRunner) Run(context.Context, model.Request) (*model.RetrievalArtifact, error) {
	panic("boom")
}

func TestRecovery(t *testing.T) {
	r := NewRouter(NewRetrievalHandler(panicRunner{}, nil, metrics.New("test", "http")))
	w, env := do(t, r, http.MethodPost, "/v1/retrievals", validBody)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, errors.ErrInternal.Code, env.Code)
}
