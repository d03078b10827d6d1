// Package analytical implements the structured brain on DuckDB. Packet
// structured fields and tables land in relational form and answer
// metadata-style queries (counts, recency, attribute lookups).
package analytical

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/soundprediction/go-cortex/pkg/brain"
	"github.com/soundprediction/go-cortex/pkg/packet"
)

// Adapter is the DuckDB-backed analytical brain.
type Adapter struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the DuckDB database at path and ensures the
// schema exists. An empty path opens an in-memory database.
func New(path string, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	a := &Adapter{db: db, logger: logger}
	if err := a.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Adapter) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			packet_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			author TEXT,
			location TEXT,
			content_type TEXT,
			ingested_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS structured_fields (
			packet_id TEXT NOT NULL,
			field_key TEXT NOT NULL,
			field_value TEXT,
			PRIMARY KEY (packet_id, field_key)
		)`,
		`CREATE TABLE IF NOT EXISTS table_rows (
			packet_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			row_index INTEGER NOT NULL,
			row_json TEXT NOT NULL,
			PRIMARY KEY (packet_id, table_name, row_index)
		)`,
	}
	for _, stmt := range statements {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize analytical schema: %w", err)
		}
	}
	return nil
}

// Capability identifies the packet section this adapter consumes.
func (a *Adapter) Capability() packet.Capability {
	return packet.CapabilityAnalytical
}

// Ingest writes the packet's structured fields and tables. All inserts
// conflict on packet-scoped primary keys, so re-ingestion is a no-op.
func (a *Adapter) Ingest(ctx context.Context, p *packet.KnowledgePacket) error {
	section := p.Content.AnalyticalData
	if section == nil {
		return brain.ErrNoSection
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (packet_id, title, author, location, content_type, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		p.PacketID, p.Metadata.Title, p.Metadata.Author,
		p.Source.OriginalLocation, p.Source.ContentType, p.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert document row: %w", err)
	}

	for key, value := range section.StructuredFields {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO structured_fields (packet_id, field_key, field_value)
			VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING`,
			p.PacketID, key, fmt.Sprintf("%v", value))
		if err != nil {
			return fmt.Errorf("failed to insert field %q: %w", key, err)
		}
	}

	for name, table := range section.Tables {
		for i, row := range table.Rows {
			rowJSON, err := json.Marshal(rowObject(table.Columns, row))
			if err != nil {
				return fmt.Errorf("failed to encode row %d of table %q: %w", i, name, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO table_rows (packet_id, table_name, row_index, row_json)
				VALUES (?, ?, ?, ?)
				ON CONFLICT DO NOTHING`,
				p.PacketID, name, i, string(rowJSON))
			if err != nil {
				return fmt.Errorf("failed to insert row %d of table %q: %w", i, name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit analytical insert: %w", err)
	}

	a.logger.Debug("persisted analytical data",
		"packet_id", p.PacketID,
		"fields", len(section.StructuredFields),
		"tables", len(section.Tables))
	return nil
}

// Query answers metadata-style questions. Count questions get a single
// aggregate fragment; everything else matches query tokens against
// titles, authors, and field values, most recent first.
func (a *Adapter) Query(ctx context.Context, req brain.QueryRequest) ([]brain.Fragment, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	lowered := strings.ToLower(req.Text)
	if strings.Contains(lowered, "how many") || strings.Contains(lowered, "count") {
		return a.countFragment(ctx)
	}

	tokens := strings.Fields(lowered)
	patterns := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.Trim(token, `.,;:!?"'`)
		if len(token) > 2 {
			patterns = append(patterns, "%"+token+"%")
		}
	}
	if len(patterns) == 0 {
		return a.recentFragments(ctx, limit)
	}

	conditions := make([]string, 0, len(patterns))
	args := make([]any, 0, len(patterns)*3)
	for _, pattern := range patterns {
		conditions = append(conditions,
			`(lower(d.title) LIKE ? OR lower(d.author) LIKE ? OR lower(f.field_value) LIKE ?)`)
		args = append(args, pattern, pattern, pattern)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT DISTINCT d.packet_id, d.title, d.author, d.location, d.ingested_at
		FROM documents d
		LEFT JOIN structured_fields f ON f.packet_id = d.packet_id
		WHERE %s
		ORDER BY d.ingested_at DESC
		LIMIT ?`, strings.Join(conditions, " OR "))

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("analytical query failed: %w", err)
	}
	defer rows.Close()

	return a.scanDocuments(rows)
}

func (a *Adapter) countFragment(ctx context.Context) ([]brain.Fragment, error) {
	var count int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return nil, fmt.Errorf("count query failed: %w", err)
	}
	return []brain.Fragment{{
		Text:           fmt.Sprintf("%d documents ingested", count),
		Backend:        string(packet.CapabilityAnalytical),
		RelevanceScore: 1.0,
	}}, nil
}

func (a *Adapter) recentFragments(ctx context.Context, limit int) ([]brain.Fragment, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT packet_id, title, author, location, ingested_at
		FROM documents
		ORDER BY ingested_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recency query failed: %w", err)
	}
	defer rows.Close()
	return a.scanDocuments(rows)
}

func (a *Adapter) scanDocuments(rows *sql.Rows) ([]brain.Fragment, error) {
	var fragments []brain.Fragment
	for rows.Next() {
		var (
			packetID, title   string
			author, location  sql.NullString
			ingestedAt        time.Time
		)
		if err := rows.Scan(&packetID, &title, &author, &location, &ingestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		text := title
		if author.String != "" {
			text = fmt.Sprintf("%s (by %s)", title, author.String)
		}
		fragments = append(fragments, brain.Fragment{
			Text:             text,
			Backend:          string(packet.CapabilityAnalytical),
			RelevanceScore:   0.6,
			OriginalLocation: location.String,
			Author:           author.String,
			PacketID:         packetID,
		})
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

// Close releases the database handle.
func (a *Adapter) Close(ctx context.Context) error {
	return a.db.Close()
}

func rowObject(columns []string, row []any) map[string]any {
	obj := make(map[string]any, len(columns))
	for i, col := range columns {
		if i < len(row) {
			obj[col] = row[i]
		}
	}
	return obj
}
