package dto

import (
	"github.com/soundprediction/go-cortex/pkg/brain"
)

// QueryRequest is a natural-language query.
type QueryRequest struct {
	Query                string `json:"query" binding:"required"`
	NResults             int    `json:"n_results,omitempty"`
	OrchestratorStrategy string `json:"orchestrator_strategy,omitempty"`
}

// QueryResponse is the synthesized answer with provenance.
type QueryResponse struct {
	Response     string           `json:"response"`
	Sources      []brain.Fragment `json:"sources"`
	StrategyUsed string           `json:"strategy_used"`
	BrainsUsed   []string         `json:"brains_used"`
	Confidence   float64          `json:"confidence"`
}
