package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
)

// NewRouter builds the gin engine serving h.
func NewRouter(h *RetrievalHandler) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), AccessLog("/healthz", "/readyz", "/metrics"), Recovery())

	r.GET("/healthz", h.Health)
	r.GET("/readyz", h.Ready)
	r.GET("/metrics", h.Metrics)

	v1 := r.Group("/v1")
	{
		v1.POST("/retrievals", h.Retrieve)
		v1.GET("/retrievals/:id", h.Get)
		v1.GET("/cases/:case_id/retrievals", h.ListByCase)
	}

	logger.Debugw("http routes registered", "routes", len(r.Routes()))
	return r
}
