package retrieval

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/pkg/infra/app"
	"github.com/kart-io/statute-agent/pkg/infra/tracing"
	llmopts "github.com/kart-io/statute-agent/pkg/options/llm"
	logopts "github.com/kart-io/statute-agent/pkg/options/logger"
	milvusopts "github.com/kart-io/statute-agent/pkg/options/milvus"
	pgopts "github.com/kart-io/statute-agent/pkg/options/postgres"
	redisopts "github.com/kart-io/statute-agent/pkg/options/redis"
	serveropts "github.com/kart-io/statute-agent/pkg/options/server"
)

var _ app.CliOptions = (*Options)(nil)

// Corpus backends.
const (
	CorpusPostgres = "postgres"
	CorpusMilvus   = "milvus"
	CorpusMemory   = "memory"
)

// Artifact stores.
const (
	ArtifactsPostgres = "postgres"
	ArtifactsSQLite   = "sqlite"
	ArtifactsNone     = "none"
)

// Options contains all statute-agent options.
type Options struct {
	Server  *serveropts.Options `json:"server" mapstructure:"server"`
	Log     *logopts.Options    `json:"log" mapstructure:"log"`
	Tracing *tracing.Options    `json:"tracing" mapstructure:"tracing"`

	// Embedding embeds Arabic text. EnglishEmbedding is optional; without a
	// model English queries are skipped.
	Embedding        *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`
	EnglishEmbedding *llmopts.ProviderOptions `json:"embedding-en" mapstructure:"embedding-en"`
	Chat             *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	Milvus   *milvusopts.Options `json:"milvus" mapstructure:"milvus"`
	Postgres *pgopts.Options     `json:"postgres" mapstructure:"postgres"`
	Redis    *redisopts.Options  `json:"redis" mapstructure:"redis"`

	Retrieval *RetrievalOptions `json:"retrieval" mapstructure:"retrieval"`
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Server:           serveropts.NewOptions(),
		Log:              logopts.NewOptions(),
		Tracing:          tracing.NewOptions(),
		Embedding:        llmopts.NewEmbeddingOptions(),
		EnglishEmbedding: llmopts.NewProviderOptions("embedding-en"),
		Chat:             llmopts.NewChatOptions(),
		Milvus:           milvusopts.NewOptions(),
		Postgres:         pgopts.NewOptions(),
		Redis:            redisopts.NewOptions(),
		Retrieval:        NewRetrievalOptions(),
	}
}

// Flags returns the flags grouped by concern.
func (o *Options) Flags() (fss app.NamedFlagSets) {
	o.Server.AddFlags(fss.FlagSet("server"))
	o.Log.AddFlags(fss.FlagSet("log"))
	o.Tracing.AddFlags(fss.FlagSet("tracing"))
	o.Embedding.AddFlags(fss.FlagSet("llm"))
	o.EnglishEmbedding.AddFlags(fss.FlagSet("llm"))
	o.Chat.AddFlags(fss.FlagSet("llm"))
	o.Milvus.AddFlags(fss.FlagSet("milvus"))
	o.Postgres.AddFlags(fss.FlagSet("postgres"))
	o.Redis.AddFlags(fss.FlagSet("redis"))
	o.Retrieval.AddFlags(fss.FlagSet("retrieval"))
	return fss
}

// Complete fills derived defaults.
func (o *Options) Complete() error {
	for _, p := range []*llmopts.ProviderOptions{o.Embedding, o.EnglishEmbedding, o.Chat} {
		if err := p.Complete(); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates every concern the selected backends need.
func (o *Options) Validate() error {
	var errs []error

	errs = append(errs, o.Server.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	errs = append(errs, o.Tracing.Validate()...)
	errs = append(errs, o.Embedding.Validate()...)
	if o.EnglishEmbedding.Model != "" {
		errs = append(errs, o.EnglishEmbedding.Validate()...)
	}
	errs = append(errs, o.Chat.Validate()...)
	errs = append(errs, o.Redis.Validate()...)
	errs = append(errs, o.Retrieval.Validate()...)

	if o.Retrieval.Corpus == CorpusMilvus {
		errs = append(errs, o.Milvus.Validate()...)
	}
	if o.Retrieval.Corpus == CorpusPostgres || o.Retrieval.Artifacts == ArtifactsPostgres {
		errs = append(errs, o.Postgres.Validate()...)
	}

	return utilerrors.NewAggregate(errs)
}

// RetrievalOptions holds the run limits and thresholds plus the backend
// selection.
type RetrievalOptions struct {
	HyDECount int `json:"hyde-hypothetical-count" mapstructure:"hyde-hypothetical-count"`

	MaxIterations int           `json:"max-iterations" mapstructure:"max-iterations"`
	MaxArticles   int           `json:"max-articles" mapstructure:"max-articles"`
	MaxLLMCalls   int           `json:"max-llm-calls" mapstructure:"max-llm-calls"`
	MaxLatency    time.Duration `json:"max-latency" mapstructure:"max-latency"`

	CoverageMinArticles   int     `json:"coverage-min-articles" mapstructure:"coverage-min-articles"`
	CoverageMinSimilarity float64 `json:"coverage-min-similarity" mapstructure:"coverage-min-similarity"`

	ConfidenceMinArticles       int     `json:"confidence-min-articles" mapstructure:"confidence-min-articles"`
	ConfidenceMeanSimilarity    float64 `json:"confidence-mean-similarity" mapstructure:"confidence-mean-similarity"`
	ConfidenceTop3Similarity    float64 `json:"confidence-top3-similarity" mapstructure:"confidence-top3-similarity"`
	SelfAssessmentMinConfidence float64 `json:"self-assessment-min-confidence" mapstructure:"self-assessment-min-confidence"`

	SearchTopK         int           `json:"search-top-k" mapstructure:"search-top-k"`
	ThresholdMargin    float64       `json:"threshold-margin" mapstructure:"threshold-margin"`
	FallbackThreshold  float64       `json:"fallback-threshold" mapstructure:"fallback-threshold"`
	Concurrency        int           `json:"concurrency" mapstructure:"concurrency"`
	CallTimeout        time.Duration `json:"call-timeout" mapstructure:"call-timeout"`
	EmbedAttempts      int           `json:"embed-attempts" mapstructure:"embed-attempts"`
	MaxCrossRefs       int           `json:"max-cross-refs" mapstructure:"max-cross-refs"`
	MaxDirectQueries   int           `json:"max-direct-queries" mapstructure:"max-direct-queries"`
	MaxGapQueries      int           `json:"max-gap-queries" mapstructure:"max-gap-queries"`
	CrossRefSimilarity float64       `json:"cross-ref-similarity" mapstructure:"cross-ref-similarity"`

	// TaxonomyFile replaces the embedded taxonomy when set.
	TaxonomyFile string `json:"taxonomy-file" mapstructure:"taxonomy-file"`

	// Corpus selects the article backend: postgres, milvus or memory.
	Corpus      string `json:"corpus" mapstructure:"corpus"`
	CorpusTable string `json:"corpus-table" mapstructure:"corpus-table"`
	// CorpusFile is a JSON array of articles loaded and embedded at
	// startup by the memory backend.
	CorpusFile string `json:"corpus-file" mapstructure:"corpus-file"`

	// Artifacts selects where run artifacts are persisted.
	Artifacts  string `json:"artifacts" mapstructure:"artifacts"`
	SQLitePath string `json:"sqlite-path" mapstructure:"sqlite-path"`
}

// NewRetrievalOptions creates RetrievalOptions from model.DefaultConfig.
func NewRetrievalOptions() *RetrievalOptions {
	d := model.DefaultConfig()
	return &RetrievalOptions{
		HyDECount:                   d.HyDECount,
		MaxIterations:               d.MaxIterations,
		MaxArticles:                 d.MaxArticles,
		MaxLLMCalls:                 d.MaxLLMCalls,
		MaxLatency:                  d.MaxLatency,
		CoverageMinArticles:         d.CoverageMinArticles,
		CoverageMinSimilarity:       d.CoverageMinSimilarity,
		ConfidenceMinArticles:       d.ConfidenceMinArticles,
		ConfidenceMeanSimilarity:    d.ConfidenceMeanSimilarity,
		ConfidenceTop3Similarity:    d.ConfidenceTop3Similarity,
		SelfAssessmentMinConfidence: d.SelfAssessmentMinConfidence,
		SearchTopK:                  d.SearchTopK,
		ThresholdMargin:             d.ThresholdMargin,
		FallbackThreshold:           d.FallbackThreshold,
		Concurrency:                 d.Concurrency,
		CallTimeout:                 d.CallTimeout,
		EmbedAttempts:               d.EmbedAttempts,
		MaxCrossRefs:                d.MaxCrossRefs,
		MaxDirectQueries:            d.MaxDirectQueries,
		MaxGapQueries:               d.MaxGapQueries,
		CrossRefSimilarity:          d.CrossRefSimilarity,
		Corpus:                      CorpusPostgres,
		CorpusTable:                 "articles",
		Artifacts:                   ArtifactsPostgres,
		SQLitePath:                  "statute-agent.db",
	}
}

// AddFlags adds retrieval flags to fs.
func (o *RetrievalOptions) AddFlags(fs *pflag.FlagSet) {
	p := "retrieval."

	fs.IntVar(&o.HyDECount, p+"hyde-hypothetical-count", o.HyDECount, "Hypothetical articles drafted per issue.")
	fs.IntVar(&o.MaxIterations, p+"max-iterations", o.MaxIterations, "Maximum phases per run (at most 3).")
	fs.IntVar(&o.MaxArticles, p+"max-articles", o.MaxArticles, "Maximum articles collected per run.")
	fs.IntVar(&o.MaxLLMCalls, p+"max-llm-calls", o.MaxLLMCalls, "Maximum chat calls per run.")
	fs.DurationVar(&o.MaxLatency, p+"max-latency", o.MaxLatency, "Wall-clock budget of a run.")
	fs.IntVar(&o.CoverageMinArticles, p+"coverage-min-articles", o.CoverageMinArticles, "Default articles needed to cover an area.")
	fs.Float64Var(&o.CoverageMinSimilarity, p+"coverage-min-similarity", o.CoverageMinSimilarity, "Default similarity floor for area coverage.")
	fs.IntVar(&o.ConfidenceMinArticles, p+"confidence-min-articles", o.ConfidenceMinArticles, "Articles needed for the confidence stop.")
	fs.Float64Var(&o.ConfidenceMeanSimilarity, p+"confidence-mean-similarity", o.ConfidenceMeanSimilarity, "Mean similarity needed for the confidence stop.")
	fs.Float64Var(&o.ConfidenceTop3Similarity, p+"confidence-top3-similarity", o.ConfidenceTop3Similarity, "Top-3 mean similarity needed for the confidence stop.")
	fs.Float64Var(&o.SelfAssessmentMinConfidence, p+"self-assessment-min-confidence", o.SelfAssessmentMinConfidence, "Model confidence needed to accept a sufficiency verdict.")
	fs.IntVar(&o.SearchTopK, p+"search-top-k", o.SearchTopK, "Hits requested per search.")
	fs.Float64Var(&o.ThresholdMargin, p+"threshold-margin", o.ThresholdMargin, "Subtracted from coverage-min-similarity to get the search floor.")
	fs.Float64Var(&o.FallbackThreshold, p+"fallback-threshold", o.FallbackThreshold, "Search floor retried once when a search finds nothing.")
	fs.IntVar(&o.Concurrency, p+"concurrency", o.Concurrency, "Concurrent external calls per run.")
	fs.DurationVar(&o.CallTimeout, p+"call-timeout", o.CallTimeout, "Timeout of one external call.")
	fs.IntVar(&o.EmbedAttempts, p+"embed-attempts", o.EmbedAttempts, "Attempts per embedding or search call.")
	fs.IntVar(&o.MaxCrossRefs, p+"max-cross-refs", o.MaxCrossRefs, "Referenced articles fetched in phase three.")
	fs.IntVar(&o.MaxDirectQueries, p+"max-direct-queries", o.MaxDirectQueries, "Direct Arabic queries used per issue.")
	fs.IntVar(&o.MaxGapQueries, p+"max-gap-queries", o.MaxGapQueries, "Template queries per uncovered area.")
	fs.Float64Var(&o.CrossRefSimilarity, p+"cross-ref-similarity", o.CrossRefSimilarity, "Similarity assigned to fetched references.")
	fs.StringVar(&o.TaxonomyFile, p+"taxonomy-file", o.TaxonomyFile, "YAML taxonomy replacing the built-in one.")
	fs.StringVar(&o.Corpus, p+"corpus", o.Corpus, "Corpus backend (postgres, milvus, memory).")
	fs.StringVar(&o.CorpusTable, p+"corpus-table", o.CorpusTable, "Articles table of the postgres corpus.")
	fs.StringVar(&o.CorpusFile, p+"corpus-file", o.CorpusFile, "JSON articles loaded by the memory corpus.")
	fs.StringVar(&o.Artifacts, p+"artifacts", o.Artifacts, "Artifact store (postgres, sqlite, none).")
	fs.StringVar(&o.SQLitePath, p+"sqlite-path", o.SQLitePath, "Database file of the sqlite artifact store.")
}

// Config converts the options to the engine configuration.
func (o *RetrievalOptions) Config() model.Config {
	return model.Config{
		HyDECount:                   o.HyDECount,
		MaxIterations:               o.MaxIterations,
		MaxArticles:                 o.MaxArticles,
		MaxLLMCalls:                 o.MaxLLMCalls,
		MaxLatency:                  o.MaxLatency,
		CoverageMinArticles:         o.CoverageMinArticles,
		CoverageMinSimilarity:       o.CoverageMinSimilarity,
		ConfidenceMinArticles:       o.ConfidenceMinArticles,
		ConfidenceMeanSimilarity:    o.ConfidenceMeanSimilarity,
		ConfidenceTop3Similarity:    o.ConfidenceTop3Similarity,
		SelfAssessmentMinConfidence: o.SelfAssessmentMinConfidence,
		SearchTopK:                  o.SearchTopK,
		ThresholdMargin:             o.ThresholdMargin,
		FallbackThreshold:           o.FallbackThreshold,
		Concurrency:                 o.Concurrency,
		CallTimeout:                 o.CallTimeout,
		EmbedAttempts:               o.EmbedAttempts,
		MaxCrossRefs:                o.MaxCrossRefs,
		MaxDirectQueries:            o.MaxDirectQueries,
		MaxGapQueries:               o.MaxGapQueries,
		CrossRefSimilarity:          o.CrossRefSimilarity,
	}
}

// Validate validates the engine limits and the backend selection.
func (o *RetrievalOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := o.Config().Validate()
	switch o.Corpus {
	case CorpusPostgres, CorpusMilvus:
	case CorpusMemory:
		if o.CorpusFile == "" {
			errs = append(errs, fmt.Errorf("retrieval.corpus-file is required for the memory corpus"))
		}
	default:
		errs = append(errs, fmt.Errorf("retrieval.corpus %q is not supported", o.Corpus))
	}
	switch o.Artifacts {
	case ArtifactsPostgres, ArtifactsNone:
	case ArtifactsSQLite:
		if o.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("retrieval.sqlite-path is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("retrieval.artifacts %q is not supported", o.Artifacts))
	}
	return errs
}
