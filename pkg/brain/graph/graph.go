// Package graph implements the relational brain on Neo4j. Entities and
// relationships from packets are merged into the graph and queried by
// name matching and one-hop traversal.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/soundprediction/go-cortex/pkg/brain"
	"github.com/soundprediction/go-cortex/pkg/packet"
)

// Adapter is the Neo4j-backed graph brain.
type Adapter struct {
	client   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// New creates a new graph adapter against a Neo4j instance.
func New(uri, username, password, database string, logger *slog.Logger) (*Adapter, error) {
	client, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if database == "" {
		database = "neo4j"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{client: client, database: database, logger: logger}, nil
}

// Capability identifies the packet section this adapter consumes.
func (a *Adapter) Capability() packet.Capability {
	return packet.CapabilityGraph
}

// Ingest merges the packet's entities and relationships into the graph.
// MERGE keys on entity name, so re-ingesting the same packet is a no-op.
// A relationship whose endpoints are unknown is logged and skipped, never
// fatal: the missing entity may arrive in a later packet.
func (a *Adapter) Ingest(ctx context.Context, p *packet.KnowledgePacket) error {
	section := p.Content.GraphData
	if section == nil {
		return brain.ErrNoSection
	}

	session := a.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, entity := range section.Entities {
			_, err := tx.Run(ctx, `
				MERGE (e:Entity {name: $name})
				ON CREATE SET e.created_at = datetime()
				SET e.type = $type,
				    e.confidence = $confidence,
				    e.location = $location,
				    e.author = $author,
				    e.packet_id = $packet_id`,
				map[string]any{
					"name":       entity.Name,
					"type":       entity.Type,
					"confidence": entity.Confidence,
					"location":   p.Source.OriginalLocation,
					"author":     p.Metadata.Author,
					"packet_id":  p.PacketID,
				})
			if err != nil {
				return nil, fmt.Errorf("failed to merge entity %q: %w", entity.Name, err)
			}
		}

		for _, rel := range section.Relationships {
			res, err := tx.Run(ctx, `
				MATCH (s:Entity {name: $source})
				MATCH (t:Entity {name: $target})
				MERGE (s)-[r:RELATES {name: $name}]->(t)
				SET r.confidence = $confidence,
				    r.packet_id = $packet_id
				RETURN r`,
				map[string]any{
					"source":     rel.Source,
					"target":     rel.Target,
					"name":       rel.Relationship,
					"confidence": rel.Confidence,
					"packet_id":  p.PacketID,
				})
			if err != nil {
				return nil, fmt.Errorf("failed to merge relationship %q: %w", rel.Relationship, err)
			}
			records, err := res.Collect(ctx)
			if err != nil {
				return nil, err
			}
			if len(records) == 0 {
				a.logger.Warn("relationship references unknown entity",
					"source", rel.Source,
					"target", rel.Target,
					"relationship", rel.Relationship,
					"packet_id", p.PacketID)
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	a.logger.Debug("persisted graph data",
		"packet_id", p.PacketID,
		"entities", len(section.Entities),
		"relationships", len(section.Relationships))
	return nil
}

// Query matches entities whose names appear in the query text and returns
// their one-hop relationships as facts.
func (a *Adapter) Query(ctx context.Context, req brain.QueryRequest) ([]brain.Fragment, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	session := a.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.database})
	defer session.Close(ctx)

	tokens := queryTokens(req.Text)
	if len(tokens) == 0 {
		return nil, nil
	}

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (s:Entity)-[r:RELATES]->(t:Entity)
			WHERE any(token IN $tokens WHERE
				toLower(s.name) CONTAINS token OR toLower(t.name) CONTAINS token)
			RETURN s.name AS source, r.name AS relationship, t.name AS target,
			       r.confidence AS confidence,
			       s.location AS location, s.author AS author, s.packet_id AS packet_id
			LIMIT $limit`,
			map[string]any{"tokens": tokens, "limit": limit})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("graph query failed: %w", err)
	}

	records := result.([]*neo4j.Record)
	fragments := make([]brain.Fragment, 0, len(records))
	for _, record := range records {
		source, _ := record.Get("source")
		relationship, _ := record.Get("relationship")
		target, _ := record.Get("target")
		confidence, _ := record.Get("confidence")
		location, _ := record.Get("location")
		author, _ := record.Get("author")
		packetID, _ := record.Get("packet_id")

		score := 0.5
		if c, ok := confidence.(float64); ok {
			score = c
		}
		fragments = append(fragments, brain.Fragment{
			Text:             fmt.Sprintf("%v %v %v", source, relationship, target),
			Backend:          string(packet.CapabilityGraph),
			RelevanceScore:   score,
			OriginalLocation: asString(location),
			Author:           asString(author),
			PacketID:         asString(packetID),
		})
	}
	return fragments, nil
}

// EntityNames returns names of entities matching the query text, for use
// as a filter in a dependent semantic sub-query.
func (a *Adapter) EntityNames(ctx context.Context, text string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	tokens := queryTokens(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	session := a.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Entity)
			WHERE any(token IN $tokens WHERE toLower(e.name) CONTAINS token)
			RETURN e.name AS name
			LIMIT $limit`,
			map[string]any{"tokens": tokens, "limit": limit})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("entity lookup failed: %w", err)
	}

	records := result.([]*neo4j.Record)
	names := make([]string, 0, len(records))
	for _, record := range records {
		if name, ok := record.Get("name"); ok {
			names = append(names, asString(name))
		}
	}
	return names, nil
}

// HealthCheck verifies connectivity to Neo4j.
func (a *Adapter) HealthCheck(ctx context.Context) brain.Health {
	start := time.Now()
	if err := a.client.VerifyConnectivity(ctx); err != nil {
		return brain.Unhealthy(err)
	}
	return brain.Healthy(time.Since(start))
}

// Close releases the driver.
func (a *Adapter) Close(ctx context.Context) error {
	return a.client.Close(ctx)
}

// queryTokens lowercases and splits the query, dropping short stopword-ish
// tokens that would match everything.
func queryTokens(text string) []string {
	var tokens []string
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, `.,;:!?"'`)
		if len(token) > 2 {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
