package retrieval

import (
	"context"
	"fmt"
	"os"

	"github.com/glebarez/sqlite"
	"github.com/kart-io/logger"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/statute-agent/internal/retrieval/artifact"
	"github.com/kart-io/statute-agent/internal/retrieval/coverage"
	"github.com/kart-io/statute-agent/internal/retrieval/metrics"
	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/internal/retrieval/store"
	"github.com/kart-io/statute-agent/pkg/component"
	"github.com/kart-io/statute-agent/pkg/component/milvus"
	"github.com/kart-io/statute-agent/pkg/component/postgres"
	"github.com/kart-io/statute-agent/pkg/component/redis"
	"github.com/kart-io/statute-agent/pkg/errors"
	"github.com/kart-io/statute-agent/pkg/llm"
	"github.com/kart-io/statute-agent/pkg/llm/resilience"
	llmopts "github.com/kart-io/statute-agent/pkg/options/llm"
	"github.com/kart-io/statute-agent/pkg/utils/json"

	// Register providers.
	_ "github.com/kart-io/statute-agent/pkg/llm/gemini"
	_ "github.com/kart-io/statute-agent/pkg/llm/ollama"
	_ "github.com/kart-io/statute-agent/pkg/llm/openai"
)

var cobraMaxOneArg = cobra.MaximumNArgs(1)

// dependencies owns the external connections of a process.
type dependencies struct {
	opts    *Options
	metrics *metrics.RetrievalMetrics

	pg     *postgres.Client
	redis  *redis.Client
	milvus *milvus.Client
}

// connect opens only the connections the selected backends need.
func (d *dependencies) connect(ctx context.Context) error {
	r := d.opts.Retrieval

	if r.Corpus == CorpusPostgres || r.Artifacts == ArtifactsPostgres {
		pg, err := postgres.New(ctx, d.opts.Postgres)
		if err != nil {
			return errors.ErrDatabase.WithCause(err)
		}
		d.pg = pg
		logger.Infow("postgres connected", "host", d.opts.Postgres.Host, "database", d.opts.Postgres.Database)
	}

	if r.Corpus == CorpusMilvus {
		mc, err := milvus.New(d.opts.Milvus)
		if err != nil {
			return errors.ErrUnavailable.WithCause(err)
		}
		d.milvus = mc
		for _, c := range []string{d.opts.Milvus.ArabicCollection, d.opts.Milvus.EnglishCollection} {
			if c == "" {
				continue
			}
			if err := mc.Ping(ctx, c); err != nil {
				return errors.ErrUnavailable.WithCause(err)
			}
		}
		logger.Infow("milvus connected", "address", d.opts.Milvus.Address)
	}

	if d.opts.Redis.Enabled {
		rc, err := redis.New(ctx, d.opts.Redis)
		if err != nil {
			return errors.ErrCache.WithCause(err)
		}
		d.redis = rc
		logger.Infow("embedding cache enabled", "redis", d.opts.Redis.String(), "ttl", d.opts.Redis.CacheTTL)
	}

	return nil
}

// probes returns a readiness probe per open connection.
func (d *dependencies) probes() []component.Pinger {
	var out []component.Pinger
	if d.pg != nil {
		out = append(out, d.pg)
	}
	if d.redis != nil {
		out = append(out, d.redis)
	}
	if d.milvus != nil {
		collection := d.opts.Milvus.ArabicCollection
		out = append(out, component.PingerFunc{ID: "milvus", Fn: func(ctx context.Context) error {
			return d.milvus.Ping(ctx, collection)
		}})
	}
	return out
}

// Close releases every open connection.
func (d *dependencies) Close() {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			logger.Warnw("failed to close redis", "error", err)
		}
	}
	if d.milvus != nil {
		if err := d.milvus.Close(context.Background()); err != nil {
			logger.Warnw("failed to close milvus", "error", err)
		}
	}
	if d.pg != nil {
		if err := d.pg.Close(); err != nil {
			logger.Warnw("failed to close postgres", "error", err)
		}
	}
}

// breakerConfig reports state changes of the provider breaker as metrics.
func (d *dependencies) breakerConfig(name string, o *llmopts.ProviderOptions) *resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.MaxFailures = o.BreakerThreshold
	if o.BreakerTimeout > 0 {
		cfg.Timeout = o.BreakerTimeout
	}
	cfg.OnStateChange = func(from, to resilience.CircuitBreakerState) {
		d.metrics.RecordBreakerState(name, int(to))
		logger.Warnw("circuit breaker state changed", "provider", name, "from", from.String(), "to", to.String())
	}
	return cfg
}

func (d *dependencies) chatProvider() (llm.ChatProvider, error) {
	o := d.opts.Chat
	p, err := llm.NewChatProvider(o.Provider, o.ToConfigMap())
	if err != nil {
		return nil, errors.ErrConfig.WithCause(err)
	}
	return resilience.NewResilientChatProvider(p, nil, d.breakerConfig("chat", o)), nil
}

func (d *dependencies) embedder(o *llmopts.ProviderOptions, lang model.Language) (llm.EmbeddingProvider, error) {
	p, err := llm.NewEmbeddingProvider(o.Provider, o.ToConfigMap())
	if err != nil {
		return nil, errors.ErrConfig.WithCause(err)
	}

	// Retries are owned by the search client; the wrapper only adds the breaker.
	var provider llm.EmbeddingProvider = resilience.NewResilientEmbeddingProvider(p,
		&resilience.RetryConfig{MaxAttempts: 1, RetryableErrors: func(error) bool { return false }},
		d.breakerConfig("embedding-"+string(lang), o),
	)

	if d.redis != nil {
		provider = llm.NewCachedEmbeddingProvider(provider, d.redis.Client(), &llm.EmbeddingCacheConfig{
			Enabled:   true,
			TTL:       d.opts.Redis.CacheTTL,
			KeyPrefix: d.opts.Redis.CacheKeyPrefix,
			Namespace: string(lang) + ":" + o.Provider + ":" + o.Model,
		})
	}
	return provider, nil
}

func (d *dependencies) embedders() (map[model.Language]llm.EmbeddingProvider, error) {
	ar, err := d.embedder(d.opts.Embedding, model.LangArabic)
	if err != nil {
		return nil, err
	}
	out := map[model.Language]llm.EmbeddingProvider{model.LangArabic: ar}

	if d.opts.EnglishEmbedding.Model != "" {
		en, err := d.embedder(d.opts.EnglishEmbedding, model.LangEnglish)
		if err != nil {
			return nil, err
		}
		out[model.LangEnglish] = en
	}
	return out, nil
}

func (d *dependencies) corpus(ctx context.Context, embedders map[model.Language]llm.EmbeddingProvider) (store.Corpus, error) {
	r := d.opts.Retrieval
	switch r.Corpus {
	case CorpusPostgres:
		return store.NewPostgresCorpus(d.pg.Pool(), r.CorpusTable), nil
	case CorpusMilvus:
		return store.NewMilvusCorpus(d.milvus, store.MilvusCollections{
			Arabic:  d.opts.Milvus.ArabicCollection,
			English: d.opts.Milvus.EnglishCollection,
		}), nil
	case CorpusMemory:
		return loadMemoryCorpus(ctx, r.CorpusFile, embedders)
	}
	return nil, errors.ErrConfig.WithMessagef("unknown corpus backend %q", r.Corpus)
}

// repository returns nil when artifacts are not persisted.
func (d *dependencies) repository(ctx context.Context) (*artifact.Repository, error) {
	var db *gorm.DB
	switch d.opts.Retrieval.Artifacts {
	case ArtifactsNone:
		return nil, nil
	case ArtifactsPostgres:
		db = d.pg.DB()
	case ArtifactsSQLite:
		var err error
		db, err = gorm.Open(sqlite.Open(d.opts.Retrieval.SQLitePath), &gorm.Config{
			Logger: gormlogger.Default.LogMode(postgres.LogLevel(d.opts.Postgres.LogLevel)),
		})
		if err != nil {
			return nil, errors.ErrDatabase.WithCause(err)
		}
	}

	repo := artifact.NewRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return repo, nil
}

func loadTaxonomy(path string) (*coverage.Taxonomy, error) {
	if path == "" {
		return coverage.DefaultTaxonomy()
	}
	t, err := coverage.LoadTaxonomy(path)
	if err != nil {
		return nil, errors.ErrConfig.WithCause(err)
	}
	return t, nil
}

// loadMemoryCorpus reads a JSON array of articles and embeds each one in
// every configured language space.
func loadMemoryCorpus(ctx context.Context, path string, embedders map[model.Language]llm.EmbeddingProvider) (*store.MemoryCorpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ErrConfig.WithCause(fmt.Errorf("read corpus file: %w", err))
	}
	var articles []model.Article
	if err := json.Unmarshal(data, &articles); err != nil {
		return nil, errors.ErrConfig.WithCause(fmt.Errorf("parse corpus file: %w", err))
	}

	// vectors[lang][i] stays nil for articles without text in lang.
	vectors := map[model.Language][][]float32{}
	for lang, e := range embedders {
		var (
			texts []string
			idx   []int
		)
		for i, a := range articles {
			text := a.TextArabic
			if lang == model.LangEnglish {
				text = a.TextEnglish
			}
			if text != "" {
				texts = append(texts, text)
				idx = append(idx, i)
			}
		}
		if len(texts) == 0 {
			continue
		}

		vs, err := e.Embed(ctx, texts)
		if err != nil {
			return nil, errors.ErrEmbedding.WithCause(err)
		}
		if len(vs) != len(texts) {
			return nil, errors.ErrEmbedding.WithMessagef("embedded %d of %d %s articles", len(vs), len(texts), lang)
		}
		vectors[lang] = make([][]float32, len(articles))
		for j, i := range idx {
			vectors[lang][i] = vs[j]
		}
	}

	corpus := store.NewMemoryCorpus()
	for i, a := range articles {
		vs := map[model.Language][]float32{}
		for lang, all := range vectors {
			vs[lang] = all[i]
		}
		corpus.Add(a, vs)
	}

	logger.Infow("memory corpus loaded", "file", path, "articles", corpus.Len())
	return corpus, nil
}
