package cortex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cortexpkg "github.com/soundprediction/go-cortex"
	"github.com/soundprediction/go-cortex/pkg/brain"
	"github.com/soundprediction/go-cortex/pkg/brain/analytical"
	"github.com/soundprediction/go-cortex/pkg/brain/graph"
	"github.com/soundprediction/go-cortex/pkg/brain/vector"
	"github.com/soundprediction/go-cortex/pkg/config"
	"github.com/soundprediction/go-cortex/pkg/embedder"
	"github.com/soundprediction/go-cortex/pkg/ingest"
	"github.com/soundprediction/go-cortex/pkg/llm"
	"github.com/soundprediction/go-cortex/pkg/logger"
	"github.com/soundprediction/go-cortex/pkg/migration"
	"github.com/soundprediction/go-cortex/pkg/orchestrator"
	"github.com/soundprediction/go-cortex/pkg/packet"
	"github.com/soundprediction/go-cortex/pkg/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Cortex HTTP server",
	Long: `Start the Cortex HTTP server.

The server provides endpoints for:
- Ingesting files and knowledge packets
- Querying across the configured storage backends
- Packet outcome lookup, health checks, and pipeline metrics

Configuration can be provided through a config file, environment
variables, or command-line flags.`,
	RunE: runServer,
}

var (
	serverHost    string
	serverPort    int
	migrationMode string
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverHost, "host", "localhost", "Server host")
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Server port")
	serverCmd.Flags().StringVar(&migrationMode, "migration-mode", "", "Ingestion mode (legacy, hybrid, mcp)")

	serverCmd.Flags().String("vector-dsn", "", "Postgres DSN for the vector backend")
	serverCmd.Flags().String("graph-uri", "", "Neo4j URI for the graph backend")
	serverCmd.Flags().String("analytical-path", "", "DuckDB database path for the analytical backend")

	serverCmd.Flags().String("llm-model", "", "LLM model")
	serverCmd.Flags().String("llm-api-key", "", "LLM API key")
	serverCmd.Flags().String("llm-base-url", "", "LLM base URL")
	serverCmd.Flags().String("embedding-model", "", "Embedding model")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	overrideConfigWithFlags(cmd, cfg)

	if err := validateServerConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.NewDefault(logger.ParseLevel(cfg.Log.Level))

	client, err := buildClient(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize cortex: %w", err)
	}

	srv := server.New(cfg, client, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info("received signal, shutting down", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		if err := client.Close(shutdownCtx); err != nil {
			return fmt.Errorf("client shutdown error: %w", err)
		}

		log.Info("server stopped gracefully")
		return nil
	}
}

// buildClient constructs the full pipeline from config: storage adapters,
// ingestion host, migration adapter, and query orchestrator.
func buildClient(cfg *config.Config, log *slog.Logger) (*cortexpkg.Client, error) {
	embedderClient := embedder.NewOpenAIEmbedder(cfg.Embedding.APIKey, embedder.Config{
		Model:   cfg.Embedding.Model,
		BaseURL: cfg.Embedding.BaseURL,
	})

	llmClient := llm.NewOpenAIClient(cfg.LLM.APIKey, llm.Config{
		Model:       cfg.LLM.Model,
		Temperature: &cfg.LLM.Temperature,
		MaxTokens:   &cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
	})

	brains := make(map[packet.Capability]brain.Adapter)
	if cfg.Brains.Vector.Enabled {
		adapter, err := vector.New(cfg.Brains.Vector.DSN, embedderClient, log)
		if err != nil {
			return nil, fmt.Errorf("vector backend: %w", err)
		}
		brains[packet.CapabilityVector] = adapter
	}
	if cfg.Brains.Graph.Enabled {
		adapter, err := graph.New(
			cfg.Brains.Graph.URI,
			cfg.Brains.Graph.Username,
			cfg.Brains.Graph.Password,
			cfg.Brains.Graph.Database,
			log,
		)
		if err != nil {
			return nil, fmt.Errorf("graph backend: %w", err)
		}
		brains[packet.CapabilityGraph] = adapter
	}
	if cfg.Brains.Analytical.Enabled {
		adapter, err := analytical.New(cfg.Brains.Analytical.Path, log)
		if err != nil {
			return nil, fmt.Errorf("analytical backend: %w", err)
		}
		brains[packet.CapabilityAnalytical] = adapter
	}
	if len(brains) == 0 {
		return nil, fmt.Errorf("no storage backends enabled")
	}

	dedupeStore, err := ingest.NewBadgerDedupeStore(cfg.Ingestion.DedupePath, cfg.Ingestion.DedupeTTL)
	if err != nil {
		return nil, fmt.Errorf("dedupe store: %w", err)
	}

	adapters := make([]brain.Adapter, 0, len(brains))
	for _, adapter := range brains {
		adapters = append(adapters, adapter)
	}

	host, err := ingest.NewHost(adapters,
		ingest.WithLogger(log),
		ingest.WithQueueSize(cfg.Ingestion.QueueSize),
		ingest.WithWorkers(cfg.Ingestion.Workers),
		ingest.WithAdapterTimeout(cfg.Ingestion.AdapterTimeout),
		ingest.WithRetry(cfg.Ingestion.Retries, cfg.Ingestion.RetryBackoff),
		ingest.WithDedupeStore(dedupeStore),
	)
	if err != nil {
		return nil, fmt.Errorf("ingestion host: %w", err)
	}
	host.Start()

	mode, err := migration.ParseMode(cfg.Migration.Mode)
	if err != nil {
		return nil, err
	}

	var legacy migration.LegacyWriter
	if mode != migration.ModeMCP {
		vectorAdapter, ok := brains[packet.CapabilityVector]
		if !ok {
			return nil, fmt.Errorf("migration mode %q requires the vector backend", mode)
		}
		legacy, err = migration.NewVectorLegacyWriter(vectorAdapter, cortexpkg.Version)
		if err != nil {
			return nil, err
		}
	}

	migrationAdapter, err := migration.New(mode, legacy, host, cortexpkg.Version, log)
	if err != nil {
		return nil, err
	}

	registry := orchestrator.NewRegistry()
	if err := registry.Register(orchestrator.Strategy{
		Name:        "rules",
		Classifier:  orchestrator.NewRuleClassifier(),
		Synthesizer: orchestrator.NewLLMSynthesizer(llmClient),
	}); err != nil {
		return nil, err
	}
	if err := registry.Register(orchestrator.Strategy{
		Name:        "llm",
		Classifier:  orchestrator.NewLLMClassifier(llmClient),
		Synthesizer: orchestrator.NewLLMSynthesizer(llmClient),
	}); err != nil {
		return nil, err
	}

	orch, err := orchestrator.New(brains, registry, cfg.Query.DefaultStrategy,
		orchestrator.WithLogger(log),
		orchestrator.WithTimeouts(cfg.Query.PerBrainTimeout, cfg.Query.OverallTimeout),
	)
	if err != nil {
		return nil, err
	}

	return cortexpkg.NewClient(cortexpkg.Deps{
		Host:         host,
		Migration:    migrationAdapter,
		Orchestrator: orch,
		Brains:       brains,
		LLM:          llmClient,
		Logger:       log,
	}), nil
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}
	if cmd.Flags().Changed("migration-mode") {
		cfg.Migration.Mode = migrationMode
	}

	if cmd.Flags().Changed("vector-dsn") {
		cfg.Brains.Vector.DSN, _ = cmd.Flags().GetString("vector-dsn")
	}
	if cmd.Flags().Changed("graph-uri") {
		cfg.Brains.Graph.URI, _ = cmd.Flags().GetString("graph-uri")
	}
	if cmd.Flags().Changed("analytical-path") {
		cfg.Brains.Analytical.Path, _ = cmd.Flags().GetString("analytical-path")
	}

	if cmd.Flags().Changed("llm-model") {
		cfg.LLM.Model, _ = cmd.Flags().GetString("llm-model")
	}
	if cmd.Flags().Changed("llm-api-key") {
		cfg.LLM.APIKey, _ = cmd.Flags().GetString("llm-api-key")
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	if cmd.Flags().Changed("llm-base-url") {
		cfg.LLM.BaseURL, _ = cmd.Flags().GetString("llm-base-url")
	}
	if cmd.Flags().Changed("embedding-model") {
		cfg.Embedding.Model, _ = cmd.Flags().GetString("embedding-model")
	}
}

func validateServerConfig(cfg *config.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if _, err := migration.ParseMode(cfg.Migration.Mode); err != nil {
		return err
	}
	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key is required")
	}
	return nil
}
