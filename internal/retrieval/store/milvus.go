package store

import (
	"context"
	"fmt"

	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/pkg/component/milvus"
)

var articleFields = []string{"article_number", "text_arabic", "text_english", "hierarchy_path"}

// MilvusCollections names the collection of each language space.
type MilvusCollections struct {
	Arabic  string
	English string
}

// MilvusCorpus searches one Milvus collection per language. Collections
// are expected to use the COSINE metric on the "embedding" field.
type MilvusCorpus struct {
	client      *milvus.Client
	collections MilvusCollections
}

var _ Corpus = (*MilvusCorpus)(nil)

// NewMilvusCorpus creates a Milvus-backed corpus.
func NewMilvusCorpus(client *milvus.Client, collections MilvusCollections) *MilvusCorpus {
	return &MilvusCorpus{client: client, collections: collections}
}

// Name returns "milvus".
func (m *MilvusCorpus) Name() string { return "milvus" }

func (m *MilvusCorpus) collection(lang model.Language) string {
	if lang == model.LangEnglish && m.collections.English != "" {
		return m.collections.English
	}
	return m.collections.Arabic
}

// Search implements Corpus.
func (m *MilvusCorpus) Search(ctx context.Context, vector []float32, threshold float64, topK int, lang model.Language) ([]Hit, error) {
	rows, err := m.client.Search(ctx, milvus.SearchRequest{
		Collection:   m.collection(lang),
		Vector:       vector,
		TopK:         topK,
		OutputFields: articleFields,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		a := rowArticle(r)
		hits = append(hits, Hit{ArticleID: a.ArticleID, Similarity: float64(r.Score), Article: a})
	}
	return finish(hits, threshold, topK), nil
}

// FetchByID implements Corpus. The Arabic collection is authoritative for
// article text.
func (m *MilvusCorpus) FetchByID(ctx context.Context, id int) (*model.Article, error) {
	rows, err := m.client.Query(ctx, m.collections.Arabic, fmt.Sprintf("article_number == %d", id), articleFields...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch article %d: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, missing(id)
	}
	return rowArticle(rows[0]), nil
}

func rowArticle(r milvus.Row) *model.Article {
	a := &model.Article{}
	if v, ok := r.Fields["article_number"].(int64); ok {
		a.ArticleID = int(v)
	}
	a.TextArabic, _ = r.Fields["text_arabic"].(string)
	a.TextEnglish, _ = r.Fields["text_english"].(string)
	if raw, ok := r.Fields["hierarchy_path"].([]byte); ok {
		a.HierarchyPath = decodeHierarchy(raw)
	}
	return a
}
