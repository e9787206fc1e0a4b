// Package handler serves the retrieval engine over HTTP.
package handler

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/statute-agent/internal/retrieval/metrics"
	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/pkg/component"
	"github.com/kart-io/statute-agent/pkg/errors"
	logctx "github.com/kart-io/statute-agent/pkg/infra/logger"
	"github.com/kart-io/statute-agent/pkg/response"
	"github.com/kart-io/statute-agent/pkg/validator"
)

// Runner executes retrieval runs.
type Runner interface {
	Run(ctx context.Context, req model.Request) (*model.RetrievalArtifact, error)
}

// ArtifactStore persists run artifacts.
type ArtifactStore interface {
	Save(ctx context.Context, a *model.RetrievalArtifact) error
	Get(ctx context.Context, runID string) (*model.RetrievalArtifact, error)
	ListByCase(ctx context.Context, caseID string, limit int) ([]*model.RetrievalArtifact, error)
}

// RetrievalHandler handles retrieval requests. store may be nil, in which
// case artifacts are returned but not kept.
type RetrievalHandler struct {
	runner  Runner
	store   ArtifactStore
	metrics *metrics.RetrievalMetrics
	probes  []component.Pinger
}

// NewRetrievalHandler creates a RetrievalHandler.
func NewRetrievalHandler(runner Runner, store ArtifactStore, m *metrics.RetrievalMetrics) *RetrievalHandler {
	if m == nil {
		m = metrics.Get()
	}
	return &RetrievalHandler{runner: runner, store: store, metrics: m}
}

// Retrieve runs one retrieval. An exhausted run answers 422 with the
// artifact as data.
func (h *RetrievalHandler) Retrieve(c *gin.Context) {
	var req model.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWithBindOrValidation(c, err)
		return
	}
	if err := validator.Struct(req); err != nil {
		response.FailWithBindOrValidation(c, err)
		return
	}

	art, err := h.runner.Run(c.Request.Context(), req)
	if art != nil {
		h.save(c.Request.Context(), art)
	}
	if err != nil {
		if stderrors.Is(err, errors.ErrRetrievalExhausted) && art != nil {
			response.FailWithData(c, errors.FromError(err), art)
			return
		}
		response.FailWithError(c, err)
		return
	}
	response.Created(c, art)
}

func (h *RetrievalHandler) save(ctx context.Context, art *model.RetrievalArtifact) {
	if h.store == nil {
		return
	}
	// the client may have gone; the artifact is still worth keeping
	if err := h.store.Save(context.WithoutCancel(ctx), art); err != nil {
		logctx.FromContext(ctx).Errorw("failed to save artifact", "run_id", art.RunID, "error", err.Error())
	}
}

// Get returns a stored artifact by run id.
func (h *RetrievalHandler) Get(c *gin.Context) {
	if h.store == nil {
		response.Fail(c, errors.ErrArtifactNotFound.WithMessage("artifact storage is disabled"))
		return
	}
	art, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, art)
}

// ListByCase returns the latest artifacts of a case, newest first.
func (h *RetrievalHandler) ListByCase(c *gin.Context) {
	if h.store == nil {
		response.OK(c, []*model.RetrievalArtifact{})
		return
	}
	limit := 20
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			response.Fail(c, errors.ErrInvalidParam.WithMessage("limit must be a positive integer"))
			return
		}
		limit = n
	}
	arts, err := h.store.ListByCase(c.Request.Context(), c.Param("case_id"), limit)
	if err != nil {
		response.FailWithError(c, err)
		return
	}
	response.OK(c, arts)
}

// Metrics writes the Prometheus text exposition.
func (h *RetrievalHandler) Metrics(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(h.metrics.Export()))
}

// WithProbes sets the backends checked by Ready.
func (h *RetrievalHandler) WithProbes(probes ...component.Pinger) *RetrievalHandler {
	h.probes = probes
	return h
}

// Health answers liveness probes.
func (h *RetrievalHandler) Health(c *gin.Context) {
	response.OK(c, gin.H{"status": "ok"})
}

const readyTimeout = 2 * time.Second

// Ready pings every backend. Any failure answers 503 with the per-backend
// report as data.
func (h *RetrievalHandler) Ready(c *gin.Context) {
	statuses, healthy := component.CheckAll(c.Request.Context(), readyTimeout, h.probes...)
	if !healthy {
		response.FailWithData(c, errors.ErrUnavailable, gin.H{"backends": statuses})
		return
	}
	response.OK(c, gin.H{"status": "ready", "backends": statuses})
}
