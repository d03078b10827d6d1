// Package server exposes the ingestion and query pipeline over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	cortex "github.com/soundprediction/go-cortex"
	"github.com/soundprediction/go-cortex/pkg/config"
	"github.com/soundprediction/go-cortex/pkg/server/handlers"
)

// Server wraps a gin engine around a cortex client.
type Server struct {
	cfg    *config.Config
	client *cortex.Client
	logger *slog.Logger
	engine *gin.Engine
	http   *http.Server
}

// New creates an HTTP server for the given client.
func New(cfg *config.Config, client *cortex.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	ingestHandler := handlers.NewIngestHandler(s.client)
	queryHandler := handlers.NewQueryHandler(s.client)
	healthHandler := handlers.NewHealthHandler(s.client)

	engine.POST("/ingest/file", ingestHandler.IngestFile)
	engine.POST("/ingest/packet", ingestHandler.IngestPacket)
	engine.GET("/ingest/packets/:packet_id", ingestHandler.PacketStatus)
	engine.POST("/query", queryHandler.Query)
	engine.GET("/health", healthHandler.Health)
	engine.GET("/metrics", healthHandler.Metrics)

	s.engine = engine
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Engine returns the underlying gin engine, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start listens on the configured address and blocks until the listener
// closes.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("http server listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
