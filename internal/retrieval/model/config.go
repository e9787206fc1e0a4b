package model

import (
	"fmt"
	"time"
)

// Config holds the limits and thresholds of a run.
type Config struct {
	HyDECount int

	MaxIterations int
	MaxArticles   int
	MaxLLMCalls   int
	MaxLatency    time.Duration

	CoverageMinArticles   int
	CoverageMinSimilarity float64

	ConfidenceMinArticles       int
	ConfidenceMeanSimilarity    float64
	ConfidenceTop3Similarity    float64
	SelfAssessmentMinConfidence float64

	SearchTopK        int
	ThresholdMargin   float64
	FallbackThreshold float64
	Concurrency       int
	CallTimeout       time.Duration
	EmbedAttempts     int
	MaxCrossRefs      int
	MaxDirectQueries  int
	MaxGapQueries     int

	// CrossRefSimilarity is the similarity assigned to fetched references.
	CrossRefSimilarity float64
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		HyDECount:                   2,
		MaxIterations:               3,
		MaxArticles:                 30,
		MaxLLMCalls:                 15,
		MaxLatency:                  30 * time.Second,
		CoverageMinArticles:         1,
		CoverageMinSimilarity:       0.5,
		ConfidenceMinArticles:       5,
		ConfidenceMeanSimilarity:    0.55,
		ConfidenceTop3Similarity:    0.65,
		SelfAssessmentMinConfidence: 0.7,
		SearchTopK:                  5,
		ThresholdMargin:             0.1,
		FallbackThreshold:           0.2,
		Concurrency:                 4,
		CallTimeout:                 10 * time.Second,
		EmbedAttempts:               2,
		MaxCrossRefs:                10,
		MaxDirectQueries:            2,
		MaxGapQueries:               2,
		CrossRefSimilarity:          0.8,
	}
}

// SearchThreshold is the similarity floor used for corpus searches.
func (c Config) SearchThreshold() float64 {
	t := c.CoverageMinSimilarity - c.ThresholdMargin
	if t < 0 {
		return 0
	}
	return t
}

// Validate reports every invalid field.
func (c Config) Validate() []error {
	var errs []error
	for _, f := range []struct {
		name string
		v    int
	}{
		{"hyde_hypothetical_count", c.HyDECount},
		{"max_iterations", c.MaxIterations},
		{"max_articles", c.MaxArticles},
		{"search_top_k", c.SearchTopK},
		{"concurrency", c.Concurrency},
		{"embed_attempts", c.EmbedAttempts},
	} {
		if f.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", f.name, f.v))
		}
	}
	if c.MaxIterations > 3 {
		errs = append(errs, fmt.Errorf("max_iterations must not exceed the 3 phases, got %d", c.MaxIterations))
	}
	if c.MaxLLMCalls < 0 {
		errs = append(errs, fmt.Errorf("max_llm_calls must not be negative"))
	}
	if c.MaxLatency <= 0 {
		errs = append(errs, fmt.Errorf("max_latency must be positive"))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("call_timeout must be positive"))
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"coverage_min_similarity", c.CoverageMinSimilarity},
		{"confidence_mean_similarity", c.ConfidenceMeanSimilarity},
		{"confidence_top3_similarity", c.ConfidenceTop3Similarity},
		{"self_assessment_min_confidence", c.SelfAssessmentMinConfidence},
		{"fallback_threshold", c.FallbackThreshold},
		{"cross_ref_similarity", c.CrossRefSimilarity},
	} {
		if f.v < 0 || f.v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", f.name, f.v))
		}
	}
	return errs
}
