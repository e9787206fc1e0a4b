package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/statute-agent/internal/retrieval/coverage"
	"github.com/kart-io/statute-agent/internal/retrieval/crossref"
	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/internal/retrieval/store"
	"github.com/kart-io/statute-agent/pkg/errors"
)

// crossRefQuery is the discovery label of fetched references.
const crossRefQuery = "cross_reference"

// phaseResult collects what one phase produced before the merge.
type phaseResult struct {
	started     time.Time
	llmBefore   int64
	embedBefore int64

	queries       []model.Query
	hypotheticals []string
	candidates    []model.Candidate
	// owner maps a candidate order to its query index; cross references
	// have none.
	owner     map[int]int
	crossRefs []int
	reasoning string
}

// attributeNew credits each added article to the query whose candidate won
// the merge: highest similarity, then lowest order.
func (p *phaseResult) attributeNew(added []int) {
	if len(added) == 0 || len(p.queries) == 0 {
		return
	}
	isNew := make(map[int]bool, len(added))
	for _, id := range added {
		isNew[id] = true
	}
	best := make(map[int]model.Candidate)
	for _, c := range p.candidates {
		id := c.Article.ArticleID
		if !isNew[id] {
			continue
		}
		b, ok := best[id]
		if !ok || c.Similarity > b.Similarity || (c.Similarity == b.Similarity && c.Order < b.Order) {
			best[id] = c
		}
	}
	for _, c := range best {
		if qi, ok := p.owner[c.Order]; ok {
			p.queries[qi].NewArticles++
		}
	}
}

func (p *phaseResult) retrievedIDs() []int {
	seen := make(map[int]struct{}, len(p.candidates))
	ids := make([]int, 0, len(p.candidates))
	for _, c := range p.candidates {
		if _, ok := seen[c.Article.ArticleID]; ok {
			continue
		}
		seen[c.Article.ArticleID] = struct{}{}
		ids = append(ids, c.Article.ArticleID)
	}
	sort.Ints(ids)
	return ids
}

func (a *Agent) runPhase(ctx context.Context, r *run, phase model.Phase) *phaseResult {
	ctx, span := tracer.Start(ctx, "agent.phase")
	defer span.End()
	span.SetAttributes(
		attribute.String("phase", string(phase)),
		attribute.Int("iteration", r.state.Iteration),
	)

	res := &phaseResult{
		started:     a.now(),
		llmBefore:   r.state.LLMCalls.Load(),
		embedBefore: r.state.EmbeddingCalls.Load(),
		owner:       make(map[int]int),
	}

	switch phase {
	case model.PhaseBroadRetrieval:
		a.broadRetrieval(ctx, r, res)
	case model.PhaseGapFilling:
		a.gapFilling(ctx, r, res)
	case model.PhaseReferenceExpansion:
		a.referenceExpansion(ctx, r, res)
	}

	span.SetAttributes(attribute.Int("candidates", len(res.candidates)))
	return res
}

// draftJob is one HyDE request. On failure the fallback text is searched
// directly.
type draftJob struct {
	question string
	n        int
	issueID  string
	areaID   string

	drafts []string
	err    error
}

// draft runs the HyDE jobs concurrently. A job that cannot reserve LLM
// budget is left with no drafts.
func (a *Agent) draft(ctx context.Context, r *run, jobs []*draftJob) {
	g := a.pool.NewGroup(ctx)
	for _, job := range jobs {
		g.Go(func() {
			if !r.state.ReserveLLMCall(a.cfg.MaxLLMCalls) {
				job.err = errors.ErrHypotheticalGeneration.WithMessage("llm budget spent")
				return
			}
			cctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
			defer cancel()

			start := a.now()
			job.drafts, job.err = a.hyde.Generate(cctx, job.question, job.n)
			a.metrics.RecordLLMCall("hyde", a.now().Sub(start), job.err)
		})
	}
	if errs := g.Wait(); len(errs) > 0 {
		r.log.Debugw("hyde tasks not run", "count", len(errs))
	}
	for _, job := range jobs {
		if job.drafts == nil && job.err == nil {
			job.err = errors.ErrHypotheticalGeneration.WithMessage("task did not run")
		}
		if job.err != nil {
			a.metrics.RecordHyDEFallback()
			r.log.Warnw("hypothetical generation failed, searching the question directly",
				"issue_id", job.issueID,
				"area_id", job.areaID,
				"error", job.err.Error(),
			)
		}
	}
}

// queryPlan accumulates the queries of a phase, skipping texts already
// tried in the run.
type queryPlan struct {
	r       *run
	purpose model.Phase
	queries []model.Query
}

func (q *queryPlan) add(typ model.QueryType, text string, lang model.Language, issueID, areaID, hypothetical string) {
	if text == "" || !q.r.state.TryQuery(string(lang)+":"+text) {
		return
	}
	q.queries = append(q.queries, model.Query{
		ID:           fmt.Sprintf("%d.%d", q.r.state.Iteration, len(q.queries)+1),
		Type:         typ,
		Text:         text,
		Language:     lang,
		Hypothetical: hypothetical,
		Purpose:      q.purpose,
		IssueID:      issueID,
		AreaID:       areaID,
	})
}

// broadRetrieval searches every issue through HyDE drafts, its direct
// queries, and its question in the English space when one is configured.
func (a *Agent) broadRetrieval(ctx context.Context, r *run, res *phaseResult) {
	jobs := make([]*draftJob, len(r.req.Issues))
	for i, is := range r.req.Issues {
		jobs[i] = &draftJob{question: is.Question, n: a.cfg.HyDECount, issueID: is.ID}
	}
	a.draft(ctx, r, jobs)

	plan := &queryPlan{r: r, purpose: model.PhaseBroadRetrieval}
	for i, is := range r.req.Issues {
		if job := jobs[i]; job.err == nil {
			for _, d := range job.drafts {
				res.hypotheticals = append(res.hypotheticals, d)
				plan.add(model.QueryHyDE, d, model.LangArabic, is.ID, "", d)
			}
		} else {
			plan.add(model.QueryDirect, is.Question, model.LangArabic, is.ID, "", "")
		}

		direct := is.SearchQueries
		if len(direct) > a.cfg.MaxDirectQueries {
			direct = direct[:a.cfg.MaxDirectQueries]
		}
		for _, q := range direct {
			plan.add(model.QueryDirect, q, model.LangArabic, is.ID, "", "")
		}
		if a.search.Supports(model.LangEnglish) {
			plan.add(model.QueryDirect, is.Question, model.LangEnglish, is.ID, "", "")
		}
	}

	a.execute(ctx, r, res, plan.queries)
}

// gapFilling targets every required area that is not covered.
func (a *Agent) gapFilling(ctx context.Context, r *run, res *phaseResult) {
	type target struct {
		text string
		area string
	}
	var targets []target
	for _, gap := range coverage.Gaps(r.state.Coverage) {
		for _, text := range a.analyzer.GapQueries(gap, r.req.CaseType, a.cfg.MaxGapQueries) {
			targets = append(targets, target{text: text, area: gap.AreaID})
		}
	}
	if len(targets) == 0 {
		r.log.Debugw("no gaps to fill")
		return
	}

	jobs := make([]*draftJob, len(targets))
	for i, t := range targets {
		jobs[i] = &draftJob{question: t.text, n: 1, areaID: t.area}
	}
	a.draft(ctx, r, jobs)

	plan := &queryPlan{r: r, purpose: model.PhaseGapFilling}
	for i, t := range targets {
		job := jobs[i]
		if job.err == nil {
			for _, d := range job.drafts {
				res.hypotheticals = append(res.hypotheticals, d)
				plan.add(model.QueryHyDE, d, model.LangArabic, "", t.area, d)
			}
			continue
		}
		plan.add(model.QueryDirect, t.text, model.LangArabic, "", t.area, "")
	}

	a.execute(ctx, r, res, plan.queries)
}

// searchOutcome is the result slot of one query task.
type searchOutcome struct {
	hits    []store.Hit
	err     error
	latency time.Duration
	ran     bool
}

// execute embeds and searches the queries concurrently, then turns the hits
// into candidates in query order.
func (a *Agent) execute(ctx context.Context, r *run, res *phaseResult, queries []model.Query) {
	outcomes := make([]searchOutcome, len(queries))
	threshold := a.cfg.SearchThreshold()

	g := a.pool.NewGroup(ctx)
	for i := range queries {
		q := queries[i]
		g.Go(func() {
			start := a.now()
			hits, err := a.searchOne(ctx, r, q, threshold)
			outcomes[i] = searchOutcome{hits: hits, err: err, latency: a.now().Sub(start), ran: true}
		})
	}
	if errs := g.Wait(); len(errs) > 0 {
		r.log.Debugw("search tasks not run", "count", len(errs))
	}

	for i, out := range outcomes {
		q := &queries[i]
		q.LatencyMs = out.latency.Milliseconds()
		if !out.ran {
			q.Error = "not run"
			if err := ctx.Err(); err != nil {
				q.Error += ": " + err.Error()
			}
			continue
		}
		a.metrics.RecordQuery(q.Type, out.err)
		if out.err != nil {
			q.Error = out.err.Error()
			if !isCancel(out.err) {
				r.log.Warnw("query failed", "query_id", q.ID, "error", out.err.Error())
			}
			continue
		}

		q.ResultsCount = len(out.hits)
		for _, h := range out.hits {
			if h.Article == nil {
				continue
			}
			order := len(res.candidates)
			res.owner[order] = len(res.queries) + i
			res.candidates = append(res.candidates, model.Candidate{
				Article:    *h.Article,
				Similarity: h.Similarity,
				Query:      q.Text,
				Order:      order,
			})
		}
		r.log.Debugw("query searched",
			"query_id", q.ID,
			"type", q.Type,
			"language", q.Language,
			"results", q.ResultsCount,
			"latency_ms", q.LatencyMs,
		)
	}
	res.queries = append(res.queries, queries...)
}

func (a *Agent) searchOne(ctx context.Context, r *run, q model.Query, threshold float64) ([]store.Hit, error) {
	cctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	r.state.EmbeddingCalls.Add(1)
	a.metrics.RecordEmbedding()
	vec, err := a.search.Embed(cctx, q.Text, q.Language)
	if err != nil {
		return nil, err
	}

	r.state.SearchCalls.Add(1)
	a.metrics.RecordSearch()
	hits, err := a.search.Search(cctx, vec, threshold, a.cfg.SearchTopK, q.Language)
	if err != nil {
		return nil, err
	}
	r.state.SuccessfulCalls.Add(1)
	return hits, nil
}

// referenceExpansion fetches articles cited by the current articles. Ids
// are marked fetched before the fetch, so a failed fetch is not retried in
// a later phase.
func (a *Agent) referenceExpansion(ctx context.Context, r *run, res *phaseResult) {
	limit := min(a.cfg.MaxCrossRefs, a.cfg.MaxArticles-len(r.state.Articles))
	if limit <= 0 {
		r.log.Debugw("no room for references")
		return
	}

	current := r.state.ArticleList()
	sources := make([]crossref.Source, len(current))
	for i, art := range current {
		sources[i] = crossref.Source{ID: art.ArticleID, Text: art.TextArabic + "\n" + art.TextEnglish}
	}
	ids, citedBy := crossref.Plan(sources, func(id int) bool {
		if _, ok := r.state.Articles[id]; ok {
			return true
		}
		_, ok := r.state.CrossRefsFetched[id]
		return ok
	}, limit)
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		r.state.CrossRefsFetched[id] = struct{}{}
	}

	fetched := make([]*model.Article, len(ids))
	g := a.pool.NewGroup(ctx)
	for i, id := range ids {
		g.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
			defer cancel()

			art, err := a.search.Fetch(cctx, id)
			a.metrics.RecordCrossRef(err)
			switch {
			case err == nil:
				r.state.SuccessfulCalls.Add(1)
				fetched[i] = art
			case stderrors.Is(err, errors.ErrArticleMissing), isCancel(err):
				r.log.Debugw("reference not fetched", "article_id", id, "error", err.Error())
			default:
				r.log.Warnw("reference fetch failed", "article_id", id, "error", err.Error())
			}
		})
	}
	if errs := g.Wait(); len(errs) > 0 {
		r.log.Debugw("fetch tasks not run", "count", len(errs))
	}

	for i, art := range fetched {
		if art == nil {
			continue
		}
		res.crossRefs = append(res.crossRefs, ids[i])
		res.candidates = append(res.candidates, model.Candidate{
			Article:          *art,
			Similarity:       a.cfg.CrossRefSimilarity,
			Query:            crossRefQuery,
			Order:            len(res.candidates),
			IsCrossReference: true,
			ReferencedBy:     citedBy[ids[i]],
		})
	}
}
