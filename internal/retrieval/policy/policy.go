// Package policy decides when a retrieval run has gathered enough evidence.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/statute-agent/internal/retrieval/coverage"
	"github.com/kart-io/statute-agent/internal/retrieval/model"
)

// AssessFunc runs the model self-assessment. ok is false when the call was
// skipped, for example because the LLM budget is spent.
type AssessFunc func(ctx context.Context) (verdict model.Assessment, ok bool)

// Input is the state of a run at the end of a phase.
type Input struct {
	Iteration    int
	ArticleCount int
	LLMCalls     int
	Elapsed      time.Duration
	Coverage     model.Coverage
	Confidence   coverage.Confidence
	// NewArticles is the number of articles added by the phase just run.
	NewArticles int
	Assess      AssessFunc
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Stop      bool
	Reason    model.StopReason
	Detail    model.StopDetail
	Reasoning string
	// Assessment is set when the self-assessment ran, whether or not it
	// stopped the run.
	Assessment *model.Assessment
}

// Policy evaluates stop conditions in fixed precedence.
type Policy struct {
	cfg model.Config
}

// New creates a Policy.
func New(cfg model.Config) *Policy {
	return &Policy{cfg: cfg}
}

// Evaluate returns the first stop condition that holds:
//
//  1. a hard limit (iterations, articles, LLM calls, latency, in that order)
//  2. every required area covered
//  3. enough articles with high enough mean and top-3 similarity
//  4. from iteration 2, a confident self-assessment of sufficiency
//  5. from iteration 2, at most one new article in the phase
//
// The self-assessment is only requested once 1 to 3 have failed.
func (p *Policy) Evaluate(ctx context.Context, in Input) Decision {
	if d, ok := p.hardLimit(in); ok {
		return d
	}

	if coverage.AllRequiredCovered(in.Coverage) {
		return Decision{
			Stop:      true,
			Reason:    model.StopCoverageThreshold,
			Reasoning: fmt.Sprintf("all required areas covered (score %.2f)", coverage.Score(in.Coverage)),
		}
	}

	c := in.Confidence
	if c.Count >= p.cfg.ConfidenceMinArticles &&
		c.Mean >= p.cfg.ConfidenceMeanSimilarity &&
		c.Top3Mean >= p.cfg.ConfidenceTop3Similarity {
		return Decision{
			Stop:      true,
			Reason:    model.StopConfidenceThreshold,
			Reasoning: fmt.Sprintf("%d articles, mean %.2f, top-3 %.2f", c.Count, c.Mean, c.Top3Mean),
		}
	}

	if in.Iteration < 2 {
		return Decision{}
	}

	var d Decision
	if in.Assess != nil {
		if v, ok := in.Assess(ctx); ok {
			d.Assessment = &v
			d.Reasoning = v.ReasoningAR
			if v.Sufficient && v.Confidence >= p.cfg.SelfAssessmentMinConfidence {
				d.Stop = true
				d.Reason = model.StopAgentAssessment
				return d
			}
		}
	}

	if in.NewArticles <= 1 {
		d.Stop = true
		d.Reason = model.StopDiminishingReturns
		if d.Reasoning == "" {
			d.Reasoning = fmt.Sprintf("phase added %d new articles", in.NewArticles)
		}
	}
	return d
}

func (p *Policy) hardLimit(in Input) (Decision, bool) {
	var detail model.StopDetail
	switch {
	case in.Iteration >= p.cfg.MaxIterations:
		detail = model.DetailMaxIterations
	case in.ArticleCount >= p.cfg.MaxArticles:
		detail = model.DetailMaxArticles
	case in.LLMCalls >= p.cfg.MaxLLMCalls:
		detail = model.DetailMaxLLMCalls
	case in.Elapsed >= p.cfg.MaxLatency:
		detail = model.DetailMaxLatency
	default:
		return Decision{}, false
	}
	return Decision{
		Stop:      true,
		Reason:    model.StopHardLimit,
		Detail:    detail,
		Reasoning: string(detail) + " reached",
	}, true
}
