// Package retrieval provides the statute-agent application: it wires the
// retrieval engine to its providers and backends, then either serves it over
// HTTP or runs a single request from an issues file.
package retrieval

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/statute-agent/internal/retrieval/agent"
	"github.com/kart-io/statute-agent/internal/retrieval/coverage"
	"github.com/kart-io/statute-agent/internal/retrieval/handler"
	"github.com/kart-io/statute-agent/internal/retrieval/hyde"
	"github.com/kart-io/statute-agent/internal/retrieval/metrics"
	"github.com/kart-io/statute-agent/internal/retrieval/search"
	"github.com/kart-io/statute-agent/pkg/infra/app"
	"github.com/kart-io/statute-agent/pkg/infra/tracing"
)

const (
	appName        = "statute-agent"
	appDescription = `statute-agent finds the statute articles relevant to a set of legal issues.

Without arguments it serves the retrieval API over HTTP:
  POST /v1/retrievals                  run a retrieval
  GET  /v1/retrievals/:id              fetch a stored artifact
  GET  /v1/cases/:case_id/retrievals   list the artifacts of a case
  GET  /readyz                         backend readiness
  GET  /metrics                        counters in text exposition format

With an issues file (YAML or JSON) it runs one retrieval, prints a summary
to stderr and the artifact to stdout.`
)

// NewApp creates the statute-agent application.
func NewApp() *app.App {
	opts := NewOptions()

	return app.NewApp(
		app.WithName(appName),
		app.WithShortDescription("Agentic statute retrieval engine"),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithArgs(cobraMaxOneArg),
		app.WithRunFunc(func(args []string) error {
			return Run(opts, args)
		}),
	)
}

// Run builds the engine and serves it, or runs args[0] as an issues file.
func Run(opts *Options, args []string) error {
	opts.Log.AddInitialField("service.name", appName)
	opts.Log.AddInitialField("service.version", app.GetVersion())
	if err := opts.Log.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Flush() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.NewProvider(ctx, opts.Tracing, appName, app.GetVersion())
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("failed to flush traces", "error", err)
		}
	}()

	logger.Infow("starting statute-agent",
		"corpus", opts.Retrieval.Corpus,
		"artifacts", opts.Retrieval.Artifacts,
		"embedding", opts.Embedding.Provider+"/"+opts.Embedding.Model,
		"chat", opts.Chat.Provider+"/"+opts.Chat.Model,
	)

	m := metrics.Get()
	deps := &dependencies{opts: opts, metrics: m}
	defer deps.Close()

	if err := deps.connect(ctx); err != nil {
		return err
	}

	chat, err := deps.chatProvider()
	if err != nil {
		return err
	}
	embedders, err := deps.embedders()
	if err != nil {
		return err
	}
	corpus, err := deps.corpus(ctx, embedders)
	if err != nil {
		return err
	}
	repo, err := deps.repository(ctx)
	if err != nil {
		return err
	}

	taxonomy, err := loadTaxonomy(opts.Retrieval.TaxonomyFile)
	if err != nil {
		return err
	}

	cfg := opts.Retrieval.Config()
	searchCfg := search.DefaultConfig()
	searchCfg.Attempts = cfg.EmbedAttempts
	searchCfg.FallbackThreshold = cfg.FallbackThreshold

	analyzer := coverage.NewAnalyzer(taxonomy, chat, cfg.CoverageMinArticles, cfg.CoverageMinSimilarity)
	engine, err := agent.New(cfg,
		search.NewClient(embedders, corpus, searchCfg),
		hyde.New(chat),
		analyzer,
		agent.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	defer engine.Close()

	logger.Infow("retrieval engine ready",
		"corpus", corpus.Name(),
		"areas", len(taxonomy.Areas),
		"max_iterations", cfg.MaxIterations,
		"max_llm_calls", cfg.MaxLLMCalls,
	)

	var store handler.ArtifactStore
	if repo != nil {
		store = repo
	}

	if len(args) == 1 {
		return runIssuesFile(ctx, engine, store, args[0], os.Stdout, os.Stderr)
	}
	return serve(ctx, opts, handler.NewRetrievalHandler(engine, store, m).WithProbes(deps.probes()...))
}

func serve(ctx context.Context, opts *Options, h *handler.RetrievalHandler) error {
	gin.SetMode(opts.Server.Mode)

	srv := &http.Server{
		Addr:         opts.Server.Addr,
		Handler:      handler.NewRouter(h),
		ReadTimeout:  opts.Server.ReadTimeout,
		WriteTimeout: opts.Server.WriteTimeout,
		IdleTimeout:  opts.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("http server listening", "addr", opts.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infow("shutting down http server", "timeout", opts.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
