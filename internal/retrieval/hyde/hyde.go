// Package hyde drafts hypothetical statute articles for a legal question.
// The drafts are embedded instead of the question so that the query lands
// near real articles in embedding space.
package hyde

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/pkg/errors"
	logctx "github.com/kart-io/statute-agent/pkg/infra/logger"
	"github.com/kart-io/statute-agent/pkg/llm"
)

// Prefix marks a hypothetical article.
const Prefix = "المادة (هـ):"

// dedupeRunes is the length of the prefix used to detect duplicate drafts.
const dedupeRunes = 100

var (
	prefixPattern = regexp.MustCompile(`المادة\s*\(\s*هـ\s*\)\s*:`)
	// A real article number inside a draft, in Western or Arabic-Indic digits.
	numberedArticle = regexp.MustCompile(`((?:ال|لل)مادة)\s*\(\s*[0-9٠-٩]+\s*\)`)
	blankLine       = regexp.MustCompile(`\n\s*\n`)
)

var tracer = otel.Tracer("statute-agent/hyde")

// Generator drafts hypothetical articles with a chat model.
type Generator struct {
	chat llm.ChatProvider
}

// New creates a Generator.
func New(chat llm.ChatProvider) *Generator {
	return &Generator{chat: chat}
}

// GenerateForIssue drafts n hypotheticals for the issue's question.
func (g *Generator) GenerateForIssue(ctx context.Context, issue model.LegalIssue, n int) ([]string, error) {
	return g.Generate(ctx, issue.Question, n)
}

// Generate drafts up to n hypotheticals for question with a single model
// call. Any failure, including an empty or unparsable answer, is reported as
// ErrHypotheticalGeneration.
func (g *Generator) Generate(ctx context.Context, question string, n int) ([]string, error) {
	if n < 1 {
		n = 1
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.ErrHypotheticalGeneration.WithMessage("empty question")
	}

	ctx, span := tracer.Start(ctx, "hyde.generate")
	defer span.End()
	span.SetAttributes(attribute.Int("hyde.count", n))

	prompt := fmt.Sprintf(singleTemplate, question)
	if n > 1 {
		prompt = fmt.Sprintf(multipleTemplate, question, n)
	}

	resp, err := g.chat.Generate(ctx, prompt, systemPrompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, errors.ErrHypotheticalGeneration.WithCause(err)
	}

	var drafts []string
	if n == 1 {
		drafts = []string{resp}
	} else {
		drafts = Parse(resp, n)
	}
	drafts = normalize(drafts, n)

	if len(drafts) == 0 {
		span.SetStatus(codes.Error, "empty generation")
		return nil, errors.ErrHypotheticalGeneration.WithMessage("model returned no usable hypothetical")
	}

	logctx.FromContext(ctx).Debugw("generated hypotheticals", "requested", n, "generated", len(drafts))
	return drafts, nil
}

// Parse splits a multi-draft response on the hypothetical prefix, falling
// back to blank-line separated paragraphs when the prefix split yields fewer
// than n drafts.
func Parse(resp string, n int) []string {
	var out []string
	for _, part := range prefixPattern.Split(resp, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) >= n {
		return out
	}

	var paras []string
	for _, part := range blankLine.Split(resp, -1) {
		if part = strings.TrimSpace(part); part != "" {
			paras = append(paras, part)
		}
	}
	if len(paras) > len(out) {
		return paras
	}
	return out
}

// normalize prefixes, sanitizes, dedupes and caps drafts.
func normalize(drafts []string, n int) []string {
	seen := make(map[string]struct{}, len(drafts))
	out := make([]string, 0, n)
	for _, d := range drafts {
		d = strings.TrimSpace(numberedArticle.ReplaceAllString(d, "${1} (هـ)"))
		d = strings.TrimSpace(prefixPattern.ReplaceAllString(d, ""))
		if d == "" {
			continue
		}
		d = Prefix + " " + d

		key := firstRunes(d, dedupeRunes)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		out = append(out, d)
		if len(out) == n {
			break
		}
	}
	return out
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
