// Package vector implements the semantic brain on Postgres with the
// pgvector extension. Chunks are embedded on ingest and retrieved by
// cosine similarity.
package vector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/soundprediction/go-cortex/pkg/brain"
	"github.com/soundprediction/go-cortex/pkg/embedder"
	"github.com/soundprediction/go-cortex/pkg/packet"
)

// Adapter is the pgvector-backed semantic brain.
type Adapter struct {
	db       *sql.DB
	embedder embedder.Client
	logger   *slog.Logger
}

// New opens the Postgres connection, ensures the chunk table exists, and
// returns the adapter. The embedding dimension is taken from the embedder.
func New(dsn string, embedderClient embedder.Client, logger *slog.Logger) (*Adapter, error) {
	if embedderClient == nil {
		return nil, fmt.Errorf("vector brain requires an embedder")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	a := &Adapter{db: db, embedder: embedderClient, logger: logger}
	if err := a.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Adapter) createTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id UUID PRIMARY KEY,
			packet_id TEXT NOT NULL,
			chunk_id TEXT NOT NULL,
			content TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (packet_id, chunk_id)
		)`, a.embedder.Dimensions()),
		`CREATE INDEX IF NOT EXISTS chunks_packet_id_idx ON chunks (packet_id)`,
	}
	for _, stmt := range statements {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize chunks table: %w", err)
		}
	}
	return nil
}

// Capability identifies the packet section this adapter consumes.
func (a *Adapter) Capability() packet.Capability {
	return packet.CapabilityVector
}

// Ingest embeds and stores the packet's chunks. Inserts conflict on
// (packet_id, chunk_id), so re-ingesting the same packet is a no-op.
func (a *Adapter) Ingest(ctx context.Context, p *packet.KnowledgePacket) error {
	section := p.Content.VectorData
	if section == nil {
		return brain.ErrNoSection
	}

	texts := make([]string, len(section.Chunks))
	for i, chunk := range section.Chunks {
		texts[i] = chunk.Text
	}

	embeddings, err := a.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed %d chunks: %w", len(texts), err)
	}
	if len(embeddings) != len(section.Chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(section.Chunks))
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, chunk := range section.Chunks {
		chunkID := chunk.ChunkID
		if chunkID == "" {
			chunkID = fmt.Sprintf("chunk-%d", i)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, packet_id, chunk_id, content, location, author, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (packet_id, chunk_id) DO NOTHING`,
			uuid.New(), p.PacketID, chunkID, chunk.Text,
			p.Source.OriginalLocation, p.Metadata.Author,
			pgvector.NewVector(embeddings[i]))
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", chunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk insert: %w", err)
	}

	a.logger.Debug("persisted vector chunks",
		"packet_id", p.PacketID,
		"chunks", len(section.Chunks))
	return nil
}

// Query embeds the query text and returns the most similar chunks. When
// entity names are supplied by an upstream graph lookup, results are
// restricted to chunks mentioning at least one of them.
func (a *Adapter) Query(ctx context.Context, req brain.QueryRequest) ([]brain.Fragment, error) {
	queryEmbedding, err := a.embedder.EmbedSingle(ctx, req.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT packet_id, content, location, author,
		       1 - (embedding <=> $1) AS similarity
		FROM chunks`
	args := []any{pgvector.NewVector(queryEmbedding)}
	if len(req.EntityNames) > 0 {
		patterns := make([]string, len(req.EntityNames))
		for i, name := range req.EntityNames {
			patterns[i] = "%" + name + "%"
		}
		query += ` WHERE content ILIKE ANY($2)`
		args = append(args, pq.Array(patterns))
	}
	query += fmt.Sprintf(` ORDER BY embedding <=> $1 LIMIT %d`, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	defer rows.Close()

	var fragments []brain.Fragment
	for rows.Next() {
		var f brain.Fragment
		if err := rows.Scan(&f.PacketID, &f.Text, &f.OriginalLocation, &f.Author, &f.RelevanceScore); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		f.Backend = string(packet.CapabilityVector)
		fragments = append(fragments, f)
	}
	return fragments, rows.Err()
}

// HealthCheck pings the database.
func (a *Adapter) HealthCheck(ctx context.Context) brain.Health {
	start := time.Now()
	if err := a.db.PingContext(ctx); err != nil {
		return brain.Unhealthy(err)
	}
	return brain.Healthy(time.Since(start))
}

// Close releases the database connection.
func (a *Adapter) Close(ctx context.Context) error {
	return a.db.Close()
}
