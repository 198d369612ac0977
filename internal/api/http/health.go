package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CohortBias-25-26J/cohort-bias-backend/internal/cohorts"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	BiasDB    string    `json:"bias_db"`
	Source    string    `json:"source,omitempty"`
}

type HealthHandler struct {
	serviceName string
	version     string
	engine      *cohorts.Engine
}

func NewHealthHandler(serviceName, version string, engine *cohorts.Engine) *HealthHandler {
	return &HealthHandler{
		serviceName: serviceName,
		version:     version,
		engine:      engine,
	}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	pingCtx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
	defer cancel()

	biasStatus := "up"
	if err := h.engine.Store().Ping(pingCtx); err != nil {
		biasStatus = "down"
	}

	sourceStatus := "unconfigured"
	if h.engine.SourceConfigured() {
		if err := h.engine.SourcePing(pingCtx); err != nil {
			sourceStatus = "down"
		} else {
			sourceStatus = "up"
		}
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Service:   h.serviceName,
		Version:   h.version,
		BiasDB:    biasStatus,
		Source:    sourceStatus,
	})
}

func (h *HealthHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.HealthCheck)
}
