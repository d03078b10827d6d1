// Package brain defines the capability-scoped adapter contract every
// storage backend implements. The ingestion host and the query
// orchestrator only ever talk to brains through this interface.
package brain

import (
	"context"
	"errors"
	"time"

	"github.com/soundprediction/go-cortex/pkg/packet"
)

var (
	// ErrNoSection is returned by Ingest when the packet carries no
	// content for the adapter's capability.
	ErrNoSection = errors.New("packet has no section for this capability")

	// ErrNotFound is returned by lookups for unknown ids.
	ErrNotFound = errors.New("not found")
)

// Adapter is the uniform interface over one storage backend. Adapters are
// registered with the ingestion host at startup and never after; all
// methods must be safe for concurrent use.
type Adapter interface {
	// Capability names the packet section this adapter consumes.
	Capability() packet.Capability

	// Ingest writes the adapter's section of the packet. Implementations
	// must be idempotent per packet id: re-ingesting the same packet must
	// not duplicate entities, rows, or chunks.
	Ingest(ctx context.Context, p *packet.KnowledgePacket) error

	// Query answers a sub-query with ranked fragments, at most
	// req.Limit of them.
	Query(ctx context.Context, req QueryRequest) ([]Fragment, error)

	// HealthCheck probes the backing store.
	HealthCheck(ctx context.Context) Health

	// Close releases backend connections.
	Close(ctx context.Context) error
}

// QueryRequest is one sub-query against a single brain.
type QueryRequest struct {
	Text  string
	Limit int

	// EntityNames carries names resolved by an earlier sub-query
	// (a graph lookup feeding a semantic search). Adapters that cannot
	// use them ignore them.
	EntityNames []string
}

// Fragment is one retrieved piece of evidence with enough provenance to
// audit the final answer.
type Fragment struct {
	Text           string  `json:"text"`
	Backend        string  `json:"backend"`
	RelevanceScore float64 `json:"relevance_score"`

	// Provenance, when the backend has it.
	OriginalLocation string `json:"original_location,omitempty"`
	Author           string `json:"author,omitempty"`
	PacketID         string `json:"packet_id,omitempty"`
}

// Status is the coarse health of one brain or of the whole system.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Health is a point-in-time health probe result.
type Health struct {
	Status    Status        `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Latency   time.Duration `json:"latency_ns,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Healthy builds a passing Health with the probe latency.
func Healthy(latency time.Duration) Health {
	return Health{Status: StatusHealthy, Latency: latency, CheckedAt: time.Now().UTC()}
}

// Unhealthy builds a failing Health carrying the probe error.
func Unhealthy(err error) Health {
	h := Health{Status: StatusUnhealthy, CheckedAt: time.Now().UTC()}
	if err != nil {
		h.Detail = err.Error()
	}
	return h
}
