package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	cortex "github.com/soundprediction/go-cortex"
	"github.com/soundprediction/go-cortex/pkg/brain"
)

// HealthHandler reports service and backend health.
type HealthHandler struct {
	client *cortex.Client
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(client *cortex.Client) *HealthHandler {
	return &HealthHandler{client: client}
}

// Health handles GET /health. An unhealthy report carries a 503 so load
// balancers stop routing to this instance.
func (h *HealthHandler) Health(c *gin.Context) {
	report := h.client.Health(c.Request.Context())
	code := http.StatusOK
	if report.Status == brain.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// Metrics handles GET /metrics with ingestion pipeline counters.
func (h *HealthHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.client.Metrics())
}
