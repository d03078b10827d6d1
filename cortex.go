// Package cortex wires the knowledge packet pipeline together: a
// migration adapter in front of the asynchronous ingestion host, and a
// query orchestrator fanning out to the registered brains.
package cortex

import (
	"context"
	"log/slog"
	"time"

	"github.com/soundprediction/go-cortex/pkg/brain"
	"github.com/soundprediction/go-cortex/pkg/ingest"
	"github.com/soundprediction/go-cortex/pkg/llm"
	"github.com/soundprediction/go-cortex/pkg/migration"
	"github.com/soundprediction/go-cortex/pkg/orchestrator"
	"github.com/soundprediction/go-cortex/pkg/packet"
)

// Version is the module version reported by the CLI and stamped into
// packets produced by the migration adapter.
const Version = "0.1.0"

// Client is the top-level entry point. All dependencies are constructed
// once at process start and passed in explicitly; there are no hidden
// process-wide instances.
type Client struct {
	host         *ingest.Host
	migration    *migration.Adapter
	orchestrator *orchestrator.Orchestrator
	brains       map[packet.Capability]brain.Adapter
	llm          llm.Client
	logger       *slog.Logger
}

// Deps carries the constructed components for a Client.
type Deps struct {
	Host         *ingest.Host
	Migration    *migration.Adapter
	Orchestrator *orchestrator.Orchestrator
	Brains       map[packet.Capability]brain.Adapter
	LLM          llm.Client
	Logger       *slog.Logger
}

// NewClient assembles a client from its dependencies.
func NewClient(deps Deps) *Client {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		host:         deps.Host,
		migration:    deps.Migration,
		orchestrator: deps.Orchestrator,
		brains:       deps.Brains,
		llm:          deps.LLM,
		logger:       logger,
	}
}

// IngestFile ingests raw file bytes through the configured migration mode.
func (c *Client) IngestFile(ctx context.Context, doc migration.LegacyDocument) (migration.Result, error) {
	return c.migration.IngestFile(ctx, doc)
}

// IngestPacket ingests a fully-formed knowledge packet.
func (c *Client) IngestPacket(ctx context.Context, p *packet.KnowledgePacket) (migration.Result, error) {
	return c.migration.IngestPacket(ctx, p)
}

// Query answers a natural-language query with provenance.
func (c *Client) Query(ctx context.Context, text string, nResults int, strategy string) (*orchestrator.Result, error) {
	return c.orchestrator.Query(ctx, text, nResults, strategy)
}

// Outcome returns the processing state of a submitted packet.
func (c *Client) Outcome(packetID string) (ingest.Outcome, bool) {
	return c.host.Outcome(packetID)
}

// Metrics returns a snapshot of the ingestion counters.
func (c *Client) Metrics() ingest.Snapshot {
	return c.host.Metrics()
}

// HealthReport aggregates per-brain health, synthesis reachability, and
// ingestion metrics.
type HealthReport struct {
	Status    brain.Status                       `json:"status"`
	Brains    map[packet.Capability]brain.Health `json:"brains"`
	Synthesis brain.Health                       `json:"synthesis"`
	Ingestion ingest.Snapshot                    `json:"ingestion"`
}

// Health probes every brain and the synthesis collaborator. Overall
// status is unhealthy when synthesis is unreachable (answering depends
// on it), degraded when some storage backend is down but others answer,
// healthy otherwise.
func (c *Client) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Brains:    c.host.AdapterHealth(ctx),
		Synthesis: c.probeSynthesis(ctx),
		Ingestion: c.host.Metrics(),
	}

	brainsDown := 0
	for _, health := range report.Brains {
		if health.Status != brain.StatusHealthy {
			brainsDown++
		}
	}

	switch {
	case report.Synthesis.Status != brain.StatusHealthy:
		report.Status = brain.StatusUnhealthy
	case brainsDown == len(report.Brains) && len(report.Brains) > 0:
		report.Status = brain.StatusUnhealthy
	case brainsDown > 0:
		report.Status = brain.StatusDegraded
	default:
		report.Status = brain.StatusHealthy
	}
	return report
}

func (c *Client) probeSynthesis(ctx context.Context) brain.Health {
	if c.llm == nil {
		return brain.Unhealthy(nil)
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := c.llm.Chat(probeCtx, []llm.Message{llm.NewUserMessage("ping")})
	if err != nil {
		return brain.Unhealthy(err)
	}
	return brain.Healthy(time.Since(start))
}

// Close stops the ingestion host and releases every brain and the
// language model client.
func (c *Client) Close(ctx context.Context) error {
	c.host.Stop()

	var firstErr error
	for capability, adapter := range c.brains {
		if err := adapter.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
			c.logger.Warn("failed to close brain", "capability", capability, "error", err)
		}
	}
	if c.llm != nil {
		if err := c.llm.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
