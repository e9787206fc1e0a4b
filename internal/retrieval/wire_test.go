package retrieval

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/statute-agent/internal/retrieval/metrics"
	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/pkg/errors"
	"github.com/kart-io/statute-agent/pkg/llm"
	"github.com/kart-io/statute-agent/pkg/llm/resilience"
)

// lengthEmbedder maps a text to a 2-dim vector derived from its length.
type lengthEmbedder struct {
	calls [][]string
}

func (e *lengthEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls = append(e.calls, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (e *lengthEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (e *lengthEmbedder) Name() string { return "length" }

func TestLoadMemoryCorpus(t *testing.T) {
	ar, en := &lengthEmbedder{}, &lengthEmbedder{}
	corpus, err := loadMemoryCorpus(context.Background(), filepath.Join("testdata", "corpus.json"),
		map[model.Language]llm.EmbeddingProvider{model.LangArabic: ar, model.LangEnglish: en})
	require.NoError(t, err)

	assert.Equal(t, 3, corpus.Len())
	// empty texts are not embedded
	require.Len(t, ar.calls, 1)
	assert.Len(t, ar.calls[0], 2)
	require.Len(t, en.calls, 1)
	assert.Len(t, en.calls[0], 2)

	a, err := corpus.FetchByID(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "تحدد الوكالة نطاق تصرفات الوكيل", a.TextArabic)

	// article 3 is only searchable in English
	hits, err := corpus.Search(context.Background(), []float32{float32(len("English only.")), 1}, 0.99, 5, model.LangEnglish)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, 3, hits[0].ArticleID)
}

func TestLoadMemoryCorpusMissingFile(t *testing.T) {
	_, err := loadMemoryCorpus(context.Background(), filepath.Join(t.TempDir(), "none.json"), nil)
	assert.ErrorIs(t, err, errors.ErrConfig)
}

func TestRepositoryBackends(t *testing.T) {
	opts := NewOptions()
	d := &dependencies{opts: opts, metrics: metrics.New("test", "wire")}

	opts.Retrieval.Artifacts = ArtifactsNone
	repo, err := d.repository(context.Background())
	require.NoError(t, err)
	assert.Nil(t, repo)

	opts.Retrieval.Artifacts = ArtifactsSQLite
	opts.Retrieval.SQLitePath = filepath.Join(t.TempDir(), "artifacts.db")
	repo, err = d.repository(context.Background())
	require.NoError(t, err)
	require.NotNil(t, repo)

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, errors.ErrArtifactNotFound)
}

func TestBreakerStateIsRecorded(t *testing.T) {
	m := metrics.New("test", "breaker")
	d := &dependencies{opts: NewOptions(), metrics: m}

	cfg := d.breakerConfig("chat", d.opts.Chat)
	assert.Equal(t, d.opts.Chat.BreakerThreshold, cfg.MaxFailures)

	cfg.OnStateChange(resilience.StateClosed, resilience.StateOpen)
	assert.Contains(t, m.Export(), `test_breaker_circuit_breaker_state{provider="chat"} 1`)
}

func TestLoadTaxonomyDefault(t *testing.T) {
	tax, err := loadTaxonomy("")
	require.NoError(t, err)
	assert.NotEmpty(t, tax.Areas)

	_, err = loadTaxonomy(filepath.Join(t.TempDir(), "none.yaml"))
	assert.ErrorIs(t, err, errors.ErrConfig)
}
