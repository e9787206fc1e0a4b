// Package search embeds query text and searches the statute corpus in one of
// its two language spaces.
package search

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/internal/retrieval/store"
	"github.com/kart-io/statute-agent/pkg/errors"
	logctx "github.com/kart-io/statute-agent/pkg/infra/logger"
	"github.com/kart-io/statute-agent/pkg/llm"
	"github.com/kart-io/statute-agent/pkg/llm/resilience"
)

var tracer = otel.Tracer("statute-agent/search")

// Config controls retries and the empty-result fallback.
type Config struct {
	// Attempts counts the first call.
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// FallbackThreshold is used once when a search returns nothing.
	FallbackThreshold float64
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Attempts:          2,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		FallbackThreshold: 0.2,
	}
}

// Client is the embedding search client.
type Client struct {
	embedders map[model.Language]llm.EmbeddingProvider
	corpus    store.Corpus
	cfg       Config
}

// NewClient creates a Client. embedders must hold a provider for
// model.LangArabic; the English space is searchable only when an English
// provider is configured.
func NewClient(embedders map[model.Language]llm.EmbeddingProvider, corpus store.Corpus, cfg Config) *Client {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Client{embedders: embedders, corpus: corpus, cfg: cfg}
}

func (c *Client) retryConfig() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:     c.cfg.Attempts,
		InitialDelay:    c.cfg.InitialDelay,
		MaxDelay:        c.cfg.MaxDelay,
		Multiplier:      2.0,
		RetryableErrors: retryable,
	}
}

// retryable retries everything except cancellation and an open breaker.
func retryable(err error) bool {
	switch {
	case stderrors.Is(err, context.Canceled),
		stderrors.Is(err, context.DeadlineExceeded),
		stderrors.Is(err, resilience.ErrCircuitBreakerOpen):
		return false
	}
	return true
}

// Supports reports whether text can be embedded in the language space.
func (c *Client) Supports(lang model.Language) bool {
	return c.embedders[lang] != nil
}

// Embed returns the embedding of text in the language space.
func (c *Client) Embed(ctx context.Context, text string, lang model.Language) ([]float32, error) {
	embedder, ok := c.embedders[lang]
	if !ok || embedder == nil {
		return nil, errors.ErrEmbedding.WithMessagef("no embedding provider for language %q", lang)
	}

	ctx, span := tracer.Start(ctx, "search.embed")
	defer span.End()
	span.SetAttributes(attribute.String("language", string(lang)))

	var vec []float32
	err := resilience.RetryWithBackoff(ctx, c.retryConfig(), func() error {
		v, err := embedder.EmbedSingle(ctx, text)
		if err != nil {
			return err
		}
		if len(v) == 0 {
			return fmt.Errorf("empty embedding")
		}
		vec = v
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, errors.ErrEmbedding.WithCause(err)
	}
	return vec, nil
}

// Search returns hits at or above threshold, best first. When nothing comes
// back and threshold is above the fallback floor, it searches once more at
// the floor.
func (c *Client) Search(ctx context.Context, vector []float32, threshold float64, topK int, lang model.Language) ([]store.Hit, error) {
	ctx, span := tracer.Start(ctx, "search.corpus")
	defer span.End()
	span.SetAttributes(
		attribute.String("language", string(lang)),
		attribute.Float64("threshold", threshold),
		attribute.Int("top_k", topK),
	)

	hits, err := c.search(ctx, vector, threshold, topK, lang)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if len(hits) == 0 && threshold > c.cfg.FallbackThreshold {
		logctx.FromContext(ctx).Debugw("no hits, retrying at fallback threshold",
			"threshold", threshold,
			"fallback", c.cfg.FallbackThreshold,
			"language", lang,
		)
		hits, err = c.search(ctx, vector, c.cfg.FallbackThreshold, topK, lang)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	span.SetAttributes(attribute.Int("hits", len(hits)))
	return hits, nil
}

func (c *Client) search(ctx context.Context, vector []float32, threshold float64, topK int, lang model.Language) ([]store.Hit, error) {
	var hits []store.Hit
	err := resilience.RetryWithBackoff(ctx, c.retryConfig(), func() error {
		h, err := c.corpus.Search(ctx, vector, threshold, topK, lang)
		if err != nil {
			return err
		}
		hits = h
		return nil
	})
	if err != nil {
		return nil, errors.ErrSearch.WithCause(err)
	}
	return hits, nil
}

// Fetch looks up one article by exact id. A missing article is reported as
// ErrArticleMissing, any other failure as ErrCorpusFetch.
func (c *Client) Fetch(ctx context.Context, id int) (*model.Article, error) {
	a, err := c.corpus.FetchByID(ctx, id)
	switch {
	case err == nil:
		return a, nil
	case stderrors.Is(err, errors.ErrArticleMissing):
		return nil, err
	default:
		return nil, errors.ErrCorpusFetch.WithCause(err)
	}
}

// CorpusName names the backing corpus.
func (c *Client) CorpusName() string {
	return c.corpus.Name()
}
