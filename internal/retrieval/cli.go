package retrieval

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/kart-io/logger"
	"gopkg.in/yaml.v3"

	"github.com/kart-io/statute-agent/internal/retrieval/handler"
	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/pkg/errors"
	"github.com/kart-io/statute-agent/pkg/utils/json"
	"github.com/kart-io/statute-agent/pkg/validator"
)

var (
	titleColor = color.New(color.FgCyan, color.Bold)
	okColor    = color.New(color.FgGreen)
	weakColor  = color.New(color.FgYellow)
	missColor  = color.New(color.FgRed)
)

// ReadRequest parses an issues file. YAML and JSON are both accepted.
func ReadRequest(path string) (model.Request, error) {
	var req model.Request
	data, err := os.ReadFile(path)
	if err != nil {
		return req, errors.ErrRetrievalInvalidRequest.WithCause(err)
	}
	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, errors.ErrRetrievalInvalidRequest.WithCause(fmt.Errorf("parse %s: %w", path, err))
	}
	if err := validator.Struct(&req); err != nil {
		return req, errors.ErrRetrievalInvalidRequest.WithCause(err)
	}
	return req, nil
}

// runIssuesFile runs one retrieval. The artifact goes to stdout as JSON
// and a summary to stderr, also when the run is exhausted.
func runIssuesFile(ctx context.Context, runner handler.Runner, store handler.ArtifactStore, path string, stdout, stderr io.Writer) error {
	req, err := ReadRequest(path)
	if err != nil {
		return err
	}

	art, runErr := runner.Run(ctx, req)
	if art == nil {
		return runErr
	}

	if store != nil {
		if err := store.Save(context.WithoutCancel(ctx), art); err != nil {
			logger.Errorw("failed to save artifact", "run_id", art.RunID, "error", err)
		}
	}

	out, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if _, err := fmt.Fprintln(stdout, string(out)); err != nil {
		return err
	}

	WriteSummary(stderr, art)
	return runErr
}

// WriteSummary prints a human readable summary of an artifact.
func WriteSummary(w io.Writer, art *model.RetrievalArtifact) {
	_, _ = titleColor.Fprintf(w, "Run %s  case %s (%s)\n", art.RunID, art.CaseID, orDash(art.CaseType))

	stop := string(art.StopReason)
	if art.StopDetail != "" {
		stop += " / " + string(art.StopDetail)
	}
	_, _ = fmt.Fprintf(w, "  stop: %s after iteration %d\n", stop, art.StopIteration)
	_, _ = fmt.Fprintf(w, "  articles: %d  mean %.3f  top3 %.3f  coverage %.2f\n",
		len(art.FinalArticles), art.Metrics.MeanSimilarity, art.Metrics.Top3Similarity, art.Metrics.CoverageScore)
	_, _ = fmt.Fprintf(w, "  calls: llm %d  embedding %d  search %d  latency %dms  cost $%.4f\n",
		art.Counters.LLMCalls, art.Counters.EmbeddingCalls, art.Counters.SearchCalls,
		art.Counters.TotalLatencyMs, art.EstimatedCostUSD)

	ids := make([]string, 0, len(art.FinalCoverage))
	for id := range art.FinalCoverage {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if len(ids) > 0 {
		_, _ = titleColor.Fprintln(w, "Coverage")
	}
	for _, id := range ids {
		s := art.FinalCoverage[id]
		c := okColor
		switch s.Status {
		case model.AreaWeak:
			c = weakColor
		case model.AreaMissing:
			c = missColor
		}
		req := ""
		if s.Required {
			req = "*"
		}
		_, _ = c.Fprintf(w, "  %-8s %s%s", s.Status, id, req)
		_, _ = fmt.Fprintf(w, "  articles %v  max %.3f\n", s.ArticleIDs, s.MaxSimilarity)
	}

	if len(art.FinalArticles) > 0 {
		_, _ = titleColor.Fprintln(w, "Articles")
	}
	for _, a := range art.FinalArticles {
		_, _ = fmt.Fprintf(w, "  %5d  %.3f  %s\n", a.ArticleID, a.Similarity, a.FoundByQuery)
	}

	if art.Error != "" {
		_, _ = missColor.Fprintf(w, "error: %s\n", art.Error)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
