package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	cortex "github.com/soundprediction/go-cortex"
	"github.com/soundprediction/go-cortex/pkg/ingest"
	"github.com/soundprediction/go-cortex/pkg/migration"
	"github.com/soundprediction/go-cortex/pkg/packet"
	"github.com/soundprediction/go-cortex/pkg/server/dto"
)

// IngestHandler handles ingestion requests.
type IngestHandler struct {
	client *cortex.Client
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(client *cortex.Client) *IngestHandler {
	return &IngestHandler{client: client}
}

// IngestFile handles POST /ingest/file: raw content plus attribution,
// routed through the configured migration mode.
func (h *IngestHandler) IngestFile(c *gin.Context) {
	var req dto.IngestFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	result, err := h.client.IngestFile(c.Request.Context(), migration.LegacyDocument{
		Filename: req.Filename,
		Author:   req.Author,
		Tags:     req.Tags,
		Content:  []byte(req.Content),
	})
	if err != nil {
		h.writeIngestError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.IngestResponse{
		Status:   result.Status,
		PacketID: result.PacketID,
		Message:  result.Message,
	})
}

// IngestPacket handles POST /ingest/packet: a fully-formed knowledge
// packet document. A body without packet_version is a malformed request,
// reported separately from schema validation failures.
func (h *IngestHandler) IngestPacket(c *gin.Context) {
	var raw map[string]json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}
	if _, ok := raw["packet_version"]; !ok {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "malformed_packet",
			Message: "packet_version is required",
		})
		return
	}

	body, _ := json.Marshal(raw)
	var p packet.KnowledgePacket
	if err := json.Unmarshal(body, &p); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "malformed_packet",
			Message: err.Error(),
		})
		return
	}

	result, err := h.client.IngestPacket(c.Request.Context(), &p)
	if err != nil {
		h.writeIngestError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.IngestResponse{
		Status:   result.Status,
		PacketID: result.PacketID,
		Message:  result.Message,
	})
}

// PacketStatus handles GET /ingest/packets/:packet_id.
func (h *IngestHandler) PacketStatus(c *gin.Context) {
	packetID := c.Param("packet_id")
	outcome, ok := h.client.Outcome(packetID)
	if !ok {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error:   "unknown_packet",
			Message: "no outcome recorded for packet id " + packetID,
		})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *IngestHandler) writeIngestError(c *gin.Context, err error) {
	var violation *packet.SchemaViolation
	if errors.As(err, &violation) {
		c.JSON(http.StatusUnprocessableEntity, dto.ErrorResponse{
			Error:   "schema_violation",
			Message: "packet failed validation",
			Details: violation.Violations,
		})
		return
	}
	if errors.Is(err, ingest.ErrQueueFull) {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:   "queue_full",
			Message: "ingestion queue is at capacity, retry later",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
		Error:   "ingest_failed",
		Message: err.Error(),
	})
}
