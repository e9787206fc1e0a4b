package model

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// RetrievalState is the mutable state of one run. It is owned by a single
// agent run. Counters and the query set may be touched by concurrent phase
// tasks; Articles and Coverage are only changed between tasks.
type RetrievalState struct {
	Iteration        int
	Articles         map[int]*RetrievedArticle
	Coverage         Coverage
	CrossRefsFetched map[int]struct{}
	StartedAt        time.Time

	LLMCalls       atomic.Int64
	EmbeddingCalls atomic.Int64
	SearchCalls    atomic.Int64
	// SuccessfulCalls counts searches and fetches that returned without error.
	SuccessfulCalls atomic.Int64

	mu           sync.Mutex
	queriesTried map[string]struct{}
}

// NewRetrievalState creates an empty state.
func NewRetrievalState(startedAt time.Time) *RetrievalState {
	return &RetrievalState{
		Articles:         make(map[int]*RetrievedArticle),
		Coverage:         make(Coverage),
		CrossRefsFetched: make(map[int]struct{}),
		StartedAt:        startedAt,
		queriesTried:     make(map[string]struct{}),
	}
}

// TryQuery records text as tried and reports whether it was new.
func (s *RetrievalState) TryQuery(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queriesTried[text]; ok {
		return false
	}
	s.queriesTried[text] = struct{}{}
	return true
}

// QueriesTried returns the number of distinct query texts tried.
func (s *RetrievalState) QueriesTried() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queriesTried)
}

// ReserveLLMCall takes one unit of the LLM budget. It returns false once max
// calls have been reserved, so the counter never exceeds max.
func (s *RetrievalState) ReserveLLMCall(max int) bool {
	for {
		cur := s.LLMCalls.Load()
		if cur >= int64(max) {
			return false
		}
		if s.LLMCalls.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Candidate is one search hit or fetched reference waiting to be merged.
type Candidate struct {
	Article          Article
	Similarity       float64
	Query            string
	Order            int
	IsCrossReference bool
	ReferencedBy     []int
}

// Merge folds a phase's candidates into Articles. The batch is sorted by
// similarity desc, article id asc, query order asc before folding, so the
// outcome does not depend on the order tasks finished in. On collision the
// highest similarity wins and every discovery is kept in the provenance.
// New articles beyond maxArticles are dropped.
func (s *RetrievalState) Merge(batch []Candidate, maxArticles int) (added []int, dropped int) {
	sorted := make([]Candidate, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Article.ArticleID != b.Article.ArticleID {
			return a.Article.ArticleID < b.Article.ArticleID
		}
		return a.Order < b.Order
	})

	for _, c := range sorted {
		d := Discovery{Query: c.Query, Similarity: c.Similarity, Iteration: s.Iteration}

		if existing, ok := s.Articles[c.Article.ArticleID]; ok {
			existing.Provenance = append(existing.Provenance, d)
			if c.Similarity > existing.Similarity {
				existing.Similarity = c.Similarity
				existing.FoundByQuery = c.Query
			}
			existing.ReferencedBy = unionInts(existing.ReferencedBy, c.ReferencedBy)
			continue
		}

		if len(s.Articles) >= maxArticles {
			dropped++
			continue
		}

		s.Articles[c.Article.ArticleID] = &RetrievedArticle{
			Article:          c.Article,
			Similarity:       c.Similarity,
			FoundByQuery:     c.Query,
			FoundInIteration: s.Iteration,
			Provenance:       []Discovery{d},
			IsCrossReference: c.IsCrossReference,
			ReferencedBy:     append([]int(nil), c.ReferencedBy...),
		}
		added = append(added, c.Article.ArticleID)
	}
	return added, dropped
}

// ArticleList returns the articles sorted by similarity desc then id asc.
// The returned pointers are shared with the state.
func (s *RetrievalState) ArticleList() []*RetrievedArticle {
	out := make([]*RetrievedArticle, 0, len(s.Articles))
	for _, a := range s.Articles {
		out = append(out, a)
	}
	SortArticles(out)
	return out
}

// ArticleIDs returns the article ids in ascending order.
func (s *RetrievalState) ArticleIDs() []int {
	ids := make([]int, 0, len(s.Articles))
	for id := range s.Articles {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SortArticles orders by similarity desc then id asc.
func SortArticles(articles []*RetrievedArticle) {
	sort.SliceStable(articles, func(i, j int) bool {
		if articles[i].Similarity != articles[j].Similarity {
			return articles[i].Similarity > articles[j].Similarity
		}
		return articles[i].ArticleID < articles[j].ArticleID
	})
}

func unionInts(a, b []int) []int {
	if len(b) == 0 {
		return a
	}
	seen := make(map[int]struct{}, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, v := range append(append([]int(nil), a...), b...) {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
