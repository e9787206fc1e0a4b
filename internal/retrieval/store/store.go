// Package store holds the read-only statute corpus backends.
//
// Every backend reports similarity as cosine similarity clamped to [0, 1]
// and orders hits by similarity descending, ties broken by lower article id.
package store

import (
	"context"
	"sort"

	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/pkg/errors"
)

// Hit is one search result.
type Hit struct {
	ArticleID  int     `json:"article_id"`
	Similarity float64 `json:"similarity"`
	Article    *model.Article
}

// Corpus is the vector-searchable article collection.
type Corpus interface {
	// Search returns at most topK hits with similarity >= threshold.
	Search(ctx context.Context, vector []float32, threshold float64, topK int, lang model.Language) ([]Hit, error)
	// FetchByID returns the article or an error matching errors.ErrArticleMissing.
	FetchByID(ctx context.Context, id int) (*model.Article, error)
	// Name identifies the backend in logs.
	Name() string
}

// SortHits orders hits by similarity desc, then article id asc.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ArticleID < hits[j].ArticleID
	})
}

// clampSimilarity maps a cosine similarity onto [0, 1].
func clampSimilarity(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// finish applies threshold, ordering and topK to raw hits.
func finish(hits []Hit, threshold float64, topK int) []Hit {
	out := hits[:0]
	for _, h := range hits {
		h.Similarity = clampSimilarity(h.Similarity)
		if h.Similarity >= threshold {
			out = append(out, h)
		}
	}
	SortHits(out)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

func missing(id int) error {
	return errors.ErrArticleMissing.WithMessagef("article %d not in corpus", id)
}
