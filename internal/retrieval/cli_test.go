package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/pkg/errors"
)

type stubRunner struct {
	art *model.RetrievalArtifact
	err error
	got model.Request
}

func (s *stubRunner) Run(_ context.Context, req model.Request) (*model.RetrievalArtifact, error) {
	s.got = req
	return s.art, s.err
}

type memStore struct {
	saved []*model.RetrievalArtifact
}

func (m *memStore) Save(_ context.Context, a *model.RetrievalArtifact) error {
	m.saved = append(m.saved, a)
	return nil
}

func (m *memStore) Get(context.Context, string) (*model.RetrievalArtifact, error) {
	return nil, errors.ErrArtifactNotFound
}

func (m *memStore) ListByCase(context.Context, string, int) ([]*model.RetrievalArtifact, error) {
	return nil, nil
}

func summaryArtifact() *model.RetrievalArtifact {
	return &model.RetrievalArtifact{
		RunID:         "01J0000000000000000000TEST",
		CaseID:        "case-42",
		StopReason:    model.StopCoverageThreshold,
		StopIteration: 1,
		FinalArticles: []*model.RetrievedArticle{
			{Article: model.Article{ArticleID: 1}, Similarity: 0.91, FoundByQuery: "أهلية الموكل"},
		},
		FinalCoverage: model.Coverage{
			"capacity": {AreaID: "capacity", Required: true, ArticleIDs: []int{1}, MaxSimilarity: 0.91, Status: model.AreaCovered},
			"scope":    {AreaID: "scope", Required: true, Status: model.AreaMissing},
		},
		Counters:    model.Counters{LLMCalls: 2, EmbeddingCalls: 4, SearchCalls: 4},
		StartedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC),
	}
}

func TestReadRequest(t *testing.T) {
	req, err := ReadRequest(filepath.Join("testdata", "issues.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "case-42", req.CaseID)
	assert.Equal(t, "POA_GENERAL", req.CaseType)
	require.Len(t, req.Issues, 2)
	assert.Equal(t, []string{"أهلية الموكل"}, req.Issues[0].SearchQueries)
}

func TestReadRequestJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"case_id":"c","issues":[{"id":"i","question":"q"}]}`), 0o600))

	req, err := ReadRequest(path)
	require.NoError(t, err)
	assert.Equal(t, "c", req.CaseID)
	assert.Equal(t, "q", req.Issues[0].Question)
}

func TestReadRequestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no issues", "case_id: c\nissues: []\n"},
		{"blank question", "case_id: c\nissues:\n  - id: i\n    question: '   '\n"},
		{"no case", "issues:\n  - id: i\n    question: q\n"},
		{"not yaml", "case_id: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "issues.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := ReadRequest(path)
			assert.ErrorIs(t, err, errors.ErrRetrievalInvalidRequest)
		})
	}

	_, err := ReadRequest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, errors.ErrRetrievalInvalidRequest)
}

func TestRunIssuesFile(t *testing.T) {
	color.NoColor = true

	runner := &stubRunner{art: summaryArtifact()}
	store := &memStore{}
	var stdout, stderr bytes.Buffer

	err := runIssuesFile(context.Background(), runner, store, filepath.Join("testdata", "issues.yaml"), &stdout, &stderr)
	require.NoError(t, err)

	assert.Equal(t, "case-42", runner.got.CaseID)
	require.Len(t, store.saved, 1)

	var decoded model.RetrievalArtifact
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &decoded))
	assert.Equal(t, model.StopCoverageThreshold, decoded.StopReason)

	summary := stderr.String()
	assert.Contains(t, summary, "coverage_threshold_met after iteration 1")
	assert.Contains(t, summary, "covered  capacity*")
	assert.Contains(t, summary, "missing  scope*")
	assert.Contains(t, summary, "أهلية الموكل")
}

func TestRunIssuesFileExhausted(t *testing.T) {
	color.NoColor = true

	art := summaryArtifact()
	art.StopReason = model.StopRetrievalExhausted
	art.FinalArticles = nil
	art.Error = "exhausted"
	runner := &stubRunner{art: art, err: errors.ErrRetrievalExhausted}
	store := &memStore{}
	var stdout, stderr bytes.Buffer

	err := runIssuesFile(context.Background(), runner, store, filepath.Join("testdata", "issues.yaml"), &stdout, &stderr)
	assert.ErrorIs(t, err, errors.ErrRetrievalExhausted)
	assert.Len(t, store.saved, 1)
	assert.NotEmpty(t, stdout.String())
	assert.Contains(t, stderr.String(), "error: exhausted")
}

func TestRunIssuesFileWithoutStore(t *testing.T) {
	runner := &stubRunner{art: summaryArtifact()}
	var stdout, stderr bytes.Buffer

	err := runIssuesFile(context.Background(), runner, nil, filepath.Join("testdata", "issues.yaml"), &stdout, &stderr)
	assert.NoError(t, err)
}
