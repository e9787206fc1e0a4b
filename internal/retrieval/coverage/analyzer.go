// Package coverage tracks which legal areas the retrieved evidence touches
// and how confident the evidence set is.
package coverage

import (
	"sort"
	"strings"

	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/pkg/llm"
)

// Analyzer computes per-area coverage over a taxonomy.
type Analyzer struct {
	taxonomy      *Taxonomy
	chat          llm.ChatProvider
	minArticles   int
	minSimilarity float64
}

// NewAnalyzer creates an Analyzer. minArticles and minSimilarity apply to
// areas whose taxonomy entry leaves them unset. chat may be nil, in which
// case Assess always reports insufficient evidence.
func NewAnalyzer(t *Taxonomy, chat llm.ChatProvider, minArticles int, minSimilarity float64) *Analyzer {
	return &Analyzer{
		taxonomy:      t,
		chat:          chat,
		minArticles:   minArticles,
		minSimilarity: minSimilarity,
	}
}

// Taxonomy returns the analyzer's taxonomy.
func (a *Analyzer) Taxonomy() *Taxonomy {
	return a.taxonomy
}

func (a *Analyzer) thresholds(area *Area) (int, float64) {
	n, s := area.MinArticles, area.MinSimilarity
	if n <= 0 {
		n = a.minArticles
	}
	if s <= 0 {
		s = a.minSimilarity
	}
	return n, s
}

// Matches reports whether the article text mentions the area: an Arabic
// keyword in the Arabic text, or an English keyword in the English text
// ignoring case.
func Matches(article *model.Article, area *Area) bool {
	for _, kw := range area.KeywordsAR {
		if kw != "" && strings.Contains(article.TextArabic, kw) {
			return true
		}
	}
	if article.TextEnglish == "" {
		return false
	}
	en := strings.ToLower(article.TextEnglish)
	for _, kw := range area.KeywordsEN {
		if kw != "" && strings.Contains(en, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Analyze computes coverage of the areas selected for the case and records
// each article's matched areas.
func (a *Analyzer) Analyze(articles []*model.RetrievedArticle, caseType string, hasEntity bool) model.Coverage {
	scopes := a.taxonomy.Select(caseType, hasEntity)
	cov := make(model.Coverage, len(scopes))
	matched := make(map[*model.RetrievedArticle][]string, len(articles))

	for _, sc := range scopes {
		st := model.CoverageStatus{
			AreaID:     sc.ID,
			NameEN:     sc.NameEN,
			NameAR:     sc.NameAR,
			Required:   sc.Required,
			ArticleIDs: []int{},
		}

		var sum float64
		for _, art := range articles {
			if !Matches(&art.Article, sc.Area) {
				continue
			}
			st.ArticleIDs = append(st.ArticleIDs, art.ArticleID)
			sum += art.Similarity
			if art.Similarity > st.MaxSimilarity {
				st.MaxSimilarity = art.Similarity
			}
			matched[art] = append(matched[art], sc.ID)
		}
		sort.Ints(st.ArticleIDs)

		minArticles, minSim := a.thresholds(sc.Area)
		n := len(st.ArticleIDs)
		if n > 0 {
			st.AvgSimilarity = sum / float64(n)
		}
		switch {
		case n >= minArticles && st.AvgSimilarity >= minSim:
			st.Status = model.AreaCovered
		case n > 0:
			st.Status = model.AreaWeak
		default:
			st.Status = model.AreaMissing
		}
		cov[sc.ID] = st
	}

	// scopes are ordered by id, so the matched lists are too
	for _, art := range articles {
		art.MatchedAreas = matched[art]
	}
	return cov
}

// AllRequiredCovered reports whether every required area is covered.
func AllRequiredCovered(cov model.Coverage) bool {
	for _, st := range cov {
		if st.Required && st.Status != model.AreaCovered {
			return false
		}
	}
	return true
}

// Gaps returns the required areas that are not covered, ordered by id.
func Gaps(cov model.Coverage) []model.CoverageStatus {
	var gaps []model.CoverageStatus
	for _, st := range cov {
		if st.Required && st.Status != model.AreaCovered {
			gaps = append(gaps, st)
		}
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].AreaID < gaps[j].AreaID })
	return gaps
}

// GapIDs returns the ids of Gaps.
func GapIDs(cov model.Coverage) []string {
	gaps := Gaps(cov)
	ids := make([]string, len(gaps))
	for i, g := range gaps {
		ids[i] = g.AreaID
	}
	return ids
}

// Score is covered required areas over required areas, or 1 when nothing
// is required.
func Score(cov model.Coverage) float64 {
	var required, covered int
	for _, st := range cov {
		if !st.Required {
			continue
		}
		required++
		if st.Status == model.AreaCovered {
			covered++
		}
	}
	if required == 0 {
		return 1.0
	}
	return float64(covered) / float64(required)
}

// Confidence summarises the similarity of an evidence set.
type Confidence struct {
	Mean     float64
	Top3Mean float64
	Count    int
}

// ConfidenceOf computes mean and top-3 mean similarity.
func ConfidenceOf(articles []*model.RetrievedArticle) Confidence {
	c := Confidence{Count: len(articles)}
	if c.Count == 0 {
		return c
	}

	sims := make([]float64, len(articles))
	var sum float64
	for i, a := range articles {
		sims[i] = a.Similarity
		sum += a.Similarity
	}
	c.Mean = sum / float64(c.Count)

	sort.Sort(sort.Reverse(sort.Float64Slice(sims)))
	k := min(3, len(sims))
	var top float64
	for _, s := range sims[:k] {
		top += s
	}
	c.Top3Mean = top / float64(k)
	return c
}

// GapQueries returns up to n search texts for a gap: the area's template
// queries, or its leading keywords followed by the case type when the area
// has none.
func (a *Analyzer) GapQueries(gap model.CoverageStatus, caseType string, n int) []string {
	area := a.taxonomy.Area(gap.AreaID)
	if area == nil || n <= 0 {
		return nil
	}
	if len(area.TemplateQueriesAR) > 0 {
		return append([]string(nil), area.TemplateQueriesAR[:min(n, len(area.TemplateQueriesAR))]...)
	}

	kws := area.KeywordsAR
	if len(kws) == 0 {
		kws = area.KeywordsEN
	}
	q := strings.Join(kws[:min(3, len(kws))], " ")
	if caseType != "" {
		q += " " + caseType
	}
	return []string{q}
}
