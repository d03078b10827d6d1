package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	cortex "github.com/soundprediction/go-cortex"
	"github.com/soundprediction/go-cortex/pkg/orchestrator"
	"github.com/soundprediction/go-cortex/pkg/server/dto"
)

// QueryHandler handles query requests.
type QueryHandler struct {
	client *cortex.Client
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(client *cortex.Client) *QueryHandler {
	return &QueryHandler{client: client}
}

// Query handles POST /query.
func (h *QueryHandler) Query(c *gin.Context) {
	var req dto.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	result, err := h.client.Query(c.Request.Context(), req.Query, req.NResults, req.OrchestratorStrategy)
	if err != nil {
		if errors.Is(err, orchestrator.ErrUnknownStrategy) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Error:   "unknown_strategy",
				Message: err.Error(),
			})
			return
		}
		if errors.Is(err, orchestrator.ErrAllBrainsFailed) {
			c.JSON(http.StatusBadGateway, dto.ErrorResponse{
				Error:   "all_brains_failed",
				Message: err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "query_failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.QueryResponse{
		Response:     result.ResponseText,
		Sources:      result.Sources,
		StrategyUsed: result.StrategyUsed,
		BrainsUsed:   result.BrainsUsed,
		Confidence:   result.Confidence,
	})
}
