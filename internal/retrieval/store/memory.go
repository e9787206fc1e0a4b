package store

import (
	"context"
	"math"
	"sync"

	"github.com/kart-io/statute-agent/internal/retrieval/model"
)

// MemoryCorpus is an in-process corpus with brute-force cosine search.
type MemoryCorpus struct {
	mu       sync.RWMutex
	articles map[int]*model.Article
	vectors  map[model.Language]map[int][]float32
}

var _ Corpus = (*MemoryCorpus)(nil)

// NewMemoryCorpus creates an empty corpus.
func NewMemoryCorpus() *MemoryCorpus {
	return &MemoryCorpus{
		articles: make(map[int]*model.Article),
		vectors:  make(map[model.Language]map[int][]float32),
	}
}

// Name returns "memory".
func (m *MemoryCorpus) Name() string { return "memory" }

// Add stores an article with its embedding in each language space. A nil
// vector leaves the article unsearchable in that language.
func (m *MemoryCorpus) Add(a model.Article, vectors map[model.Language][]float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := a
	m.articles[a.ArticleID] = &cp
	for lang, v := range vectors {
		if v == nil {
			continue
		}
		if m.vectors[lang] == nil {
			m.vectors[lang] = make(map[int][]float32)
		}
		m.vectors[lang][a.ArticleID] = v
	}
}

// Len returns the number of stored articles.
func (m *MemoryCorpus) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.articles)
}

// Search implements Corpus.
func (m *MemoryCorpus) Search(ctx context.Context, vector []float32, threshold float64, topK int, lang model.Language) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	space := m.vectors[lang]
	hits := make([]Hit, 0, len(space))
	for id, v := range space {
		a := *m.articles[id]
		hits = append(hits, Hit{ArticleID: id, Similarity: Cosine(vector, v), Article: &a})
	}
	return finish(hits, threshold, topK), nil
}

// FetchByID implements Corpus.
func (m *MemoryCorpus) FetchByID(ctx context.Context, id int) (*model.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.articles[id]
	if !ok {
		return nil, missing(id)
	}
	cp := *a
	return &cp, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
