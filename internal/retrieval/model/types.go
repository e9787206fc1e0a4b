package model

import (
	"time"
)

// Language selects one of the two embedding spaces of the corpus.
type Language string

const (
	// LangArabic is the primary language of the corpus.
	LangArabic Language = "ar"
	// LangEnglish is the translation space.
	LangEnglish Language = "en"
)

// QueryType tells how the embedded text was produced.
type QueryType string

const (
	QueryDirect QueryType = "direct"
	QueryHyDE   QueryType = "hyde_hypothetical"
)

// Phase is one step of the retrieval state machine.
type Phase string

const (
	PhaseBroadRetrieval     Phase = "broad_retrieval"
	PhaseGapFilling         Phase = "gap_filling"
	PhaseReferenceExpansion Phase = "reference_expansion"
)

// PhaseForIteration maps iterations 1..3 to their phase. Iterations past the
// last phase have no phase.
func PhaseForIteration(iteration int) (Phase, bool) {
	switch iteration {
	case 1:
		return PhaseBroadRetrieval, true
	case 2:
		return PhaseGapFilling, true
	case 3:
		return PhaseReferenceExpansion, true
	default:
		return "", false
	}
}

// StopReason records why a run ended. Exactly one is set per run.
type StopReason string

const (
	StopHardLimit           StopReason = "hard_limit_reached"
	StopCoverageThreshold   StopReason = "coverage_threshold_met"
	StopConfidenceThreshold StopReason = "confidence_threshold_met"
	StopAgentAssessment     StopReason = "agent_assessment"
	StopDiminishingReturns  StopReason = "diminishing_returns"
	StopRetrievalExhausted  StopReason = "retrieval_exhausted"
)

// StopDetail names the hard limit behind StopHardLimit.
type StopDetail string

const (
	DetailMaxIterations StopDetail = "max_iterations"
	DetailMaxArticles   StopDetail = "max_articles"
	DetailMaxLLMCalls   StopDetail = "max_llm_calls"
	DetailMaxLatency    StopDetail = "max_latency"
)

// AreaState is the coverage state of one taxonomy area.
type AreaState string

const (
	AreaCovered AreaState = "covered"
	AreaWeak    AreaState = "weak"
	AreaMissing AreaState = "missing"
)

// LegalIssue is one decomposed question. Issues are produced upstream and
// never modified here.
type LegalIssue struct {
	ID       string `json:"id" yaml:"id" validate:"required"`
	Category string `json:"category" yaml:"category"`
	Question string `json:"question" yaml:"question" validate:"notblank"`
	// SearchQueries are direct primary-language query strings.
	SearchQueries []string `json:"search_queries_ar,omitempty" yaml:"search_queries_ar"`
}

// Request is the input of one retrieval run.
type Request struct {
	CaseID   string `json:"case_id" yaml:"case_id" validate:"required"`
	CaseType string `json:"case_type" yaml:"case_type"`
	// HasEntity makes areas conditional on entity_involved required.
	HasEntity bool         `json:"has_entity" yaml:"has_entity"`
	Issues    []LegalIssue `json:"issues" yaml:"issues" validate:"required,min=1,dive"`
}

// Query is one embedded and searched text.
type Query struct {
	ID           string    `json:"id"`
	Type         QueryType `json:"type"`
	Text         string    `json:"text"`
	Language     Language  `json:"language"`
	Hypothetical string    `json:"hypothetical,omitempty"`
	Purpose      Phase     `json:"purpose"`
	IssueID      string    `json:"issue_id,omitempty"`
	AreaID       string    `json:"area_id,omitempty"`
	ResultsCount int       `json:"results_count"`
	NewArticles  int       `json:"new_articles"`
	LatencyMs    int64     `json:"latency_ms"`
	Error        string    `json:"error,omitempty"`
}

// Discovery is one query that found an article.
type Discovery struct {
	Query      string  `json:"query"`
	Similarity float64 `json:"similarity"`
	Iteration  int     `json:"iteration"`
}

// Article is a corpus record.
type Article struct {
	ArticleID     int            `json:"article_id"`
	TextArabic    string         `json:"text_arabic"`
	TextEnglish   string         `json:"text_english,omitempty"`
	HierarchyPath map[string]any `json:"hierarchy_path,omitempty"`
}

// RetrievedArticle is an article together with how it was found.
type RetrievedArticle struct {
	Article

	Similarity       float64     `json:"similarity"`
	FoundByQuery     string      `json:"found_by_query"`
	FoundInIteration int         `json:"found_in_iteration"`
	Provenance       []Discovery `json:"provenance"`
	IsCrossReference bool        `json:"is_cross_reference"`
	ReferencedBy     []int       `json:"referenced_by,omitempty"`
	MatchedAreas     []string    `json:"matched_areas,omitempty"`
}

// Clone returns a deep copy.
func (a *RetrievedArticle) Clone() *RetrievedArticle {
	if a == nil {
		return nil
	}
	c := *a
	if a.HierarchyPath != nil {
		c.HierarchyPath = make(map[string]any, len(a.HierarchyPath))
		for k, v := range a.HierarchyPath {
			c.HierarchyPath[k] = v
		}
	}
	c.Provenance = append([]Discovery(nil), a.Provenance...)
	c.ReferencedBy = append([]int(nil), a.ReferencedBy...)
	c.MatchedAreas = append([]string(nil), a.MatchedAreas...)
	return &c
}

// CoverageStatus is the state of one taxonomy area.
type CoverageStatus struct {
	AreaID        string    `json:"area_id"`
	NameEN        string    `json:"name_en"`
	NameAR        string    `json:"name_ar"`
	Required      bool      `json:"required"`
	ArticleIDs    []int     `json:"article_ids"`
	AvgSimilarity float64   `json:"avg_similarity"`
	MaxSimilarity float64   `json:"max_similarity"`
	Status        AreaState `json:"status"`
}

// Coverage maps area id to status.
type Coverage map[string]CoverageStatus

// Clone returns a deep copy.
func (c Coverage) Clone() Coverage {
	if c == nil {
		return nil
	}
	out := make(Coverage, len(c))
	for k, v := range c {
		v.ArticleIDs = append([]int(nil), v.ArticleIDs...)
		out[k] = v
	}
	return out
}

// Summary maps area id to its state, for logs and iteration traces.
func (c Coverage) Summary() map[string]AreaState {
	out := make(map[string]AreaState, len(c))
	for k, v := range c {
		out[k] = v.Status
	}
	return out
}

// Assessment is the self-assessment verdict of the language model.
type Assessment struct {
	Sufficient         bool     `json:"sufficient"`
	Confidence         float64  `json:"confidence"`
	ReasoningAR        string   `json:"reasoning_ar"`
	MissingAreas       []string `json:"missing_areas"`
	SuggestedQueriesAR []string `json:"suggested_queries_ar"`
}

// IterationArtifact records one completed phase.
type IterationArtifact struct {
	Iteration         int                  `json:"iteration"`
	Purpose           Phase                `json:"purpose"`
	Queries           []Query              `json:"queries"`
	Hypotheticals     []string             `json:"hypotheticals"`
	ArticlesRetrieved []int                `json:"articles_retrieved"`
	NewArticles       []int                `json:"new_articles"`
	CrossRefsFound    []int                `json:"cross_refs_found,omitempty"`
	CoverageBefore    map[string]AreaState `json:"coverage_before"`
	CoverageAfter     map[string]AreaState `json:"coverage_after"`
	GapsIdentified    []string             `json:"gaps_identified,omitempty"`
	LLMCalls          int                  `json:"llm_calls"`
	EmbeddingCalls    int                  `json:"embedding_calls"`
	LatencyMs         int64                `json:"latency_ms"`
	AgentReasoning    string               `json:"agent_reasoning,omitempty"`
}

// Metrics are the aggregate quality measures of a run.
type Metrics struct {
	MeanSimilarity float64 `json:"mean_similarity"`
	Top3Similarity float64 `json:"top3_similarity"`
	CoverageScore  float64 `json:"coverage_score"`
}

// Counters are the resource counters of a run.
type Counters struct {
	LLMCalls       int   `json:"llm_calls"`
	EmbeddingCalls int   `json:"embedding_calls"`
	SearchCalls    int   `json:"search_calls"`
	TotalLatencyMs int64 `json:"total_latency_ms"`
}

// RetrievalArtifact is the immutable output of a run.
type RetrievalArtifact struct {
	RunID            string              `json:"run_id"`
	CaseID           string              `json:"case_id"`
	CaseType         string              `json:"case_type"`
	Issues           []LegalIssue        `json:"issues"`
	Iterations       []IterationArtifact `json:"iterations"`
	FinalArticles    []*RetrievedArticle `json:"final_articles"`
	FinalCoverage    Coverage            `json:"final_coverage"`
	StopReason       StopReason          `json:"stop_reason"`
	StopDetail       StopDetail          `json:"stop_detail,omitempty"`
	StopIteration    int                 `json:"stop_iteration"`
	Metrics          Metrics             `json:"metrics"`
	Counters         Counters            `json:"counters"`
	EstimatedCostUSD float64             `json:"estimated_cost_usd"`
	Error            string              `json:"error,omitempty"`
	StartedAt        time.Time           `json:"started_at"`
	CompletedAt      time.Time           `json:"completed_at"`
}
