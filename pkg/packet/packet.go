// Package packet defines the knowledge packet contract: the versioned,
// content-addressed unit of ingestion delivered to one or more brains.
package packet

import (
	"fmt"
	"time"
)

// Version is the packet schema version produced by this module.
const Version = "1.0.0"

// Capability identifies a backend storage capability a packet section
// targets. The ingestion host and the query orchestrator address brains
// by capability, never by concrete implementation.
type Capability string

const (
	// CapabilityVector is the semantic/embedding backend.
	CapabilityVector Capability = "vector"
	// CapabilityAnalytical is the structured/columnar backend.
	CapabilityAnalytical Capability = "analytical"
	// CapabilityGraph is the entity/relationship backend.
	CapabilityGraph Capability = "graph"
)

// Capabilities lists all known capabilities in stable order.
func Capabilities() []Capability {
	return []Capability{CapabilityVector, CapabilityAnalytical, CapabilityGraph}
}

// Valid reports whether c names a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityVector, CapabilityAnalytical, CapabilityGraph:
		return true
	}
	return false
}

// KnowledgePacket is the immutable data contract carrying content destined
// for one or more brains. A packet is validated once, enqueued, and consumed
// exactly once per targeted backend; it is never mutated after validation.
type KnowledgePacket struct {
	PacketVersion string    `json:"packet_version"`
	PacketID      string    `json:"packet_id"`
	Timestamp     time.Time `json:"timestamp"`
	Source        Source    `json:"source"`
	Metadata      Metadata  `json:"metadata"`

	// Content sections are independently optional. A nil section means the
	// packet carries nothing for that capability; an empty-but-present
	// section is a schema violation, not a shorthand for absence.
	Content Content `json:"content"`

	ProcessingHints *ProcessingHints `json:"processing_hints,omitempty"`
	QualityMetrics  *QualityMetrics  `json:"quality_metrics,omitempty"`
}

// Source identifies the producer of a packet.
type Source struct {
	ProducerName     string `json:"producer_name"`
	ProducerVersion  string `json:"producer_version"`
	OriginalLocation string `json:"original_location"`
	ContentType      string `json:"content_type"`
	ExtractionMethod string `json:"extraction_method,omitempty"`
}

// Metadata carries the required title plus optional descriptive fields.
// Producer-specific attributes go into Extra; fixed fields never merge
// from Extra (see MergeExtra).
type Metadata struct {
	Title          string     `json:"title"`
	Author         string     `json:"author,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	ContentHash    string     `json:"content_hash,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	Classification string     `json:"classification,omitempty"`
	Language       string     `json:"language,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// reservedMetadataKeys are the fixed Metadata field names; Extra keys may
// not shadow them.
var reservedMetadataKeys = map[string]bool{
	"title":          true,
	"author":         true,
	"created_at":     true,
	"content_hash":   true,
	"tags":           true,
	"classification": true,
	"language":       true,
	"extra":          true,
}

// MergeExtra merges producer-supplied attributes into the Extra map,
// rejecting keys that collide with fixed metadata fields or with keys
// already present.
func (m *Metadata) MergeExtra(attrs map[string]string) error {
	for key := range attrs {
		if reservedMetadataKeys[key] {
			return fmt.Errorf("metadata key %q collides with a fixed field", key)
		}
		if _, exists := m.Extra[key]; exists {
			return fmt.Errorf("metadata key %q already set", key)
		}
	}
	if m.Extra == nil {
		m.Extra = make(map[string]string, len(attrs))
	}
	for key, value := range attrs {
		m.Extra[key] = value
	}
	return nil
}

// Content holds the per-capability sections. Each pointer is nil when the
// packet carries nothing for that capability.
type Content struct {
	VectorData     *VectorData     `json:"vector_data,omitempty"`
	AnalyticalData *AnalyticalData `json:"analytical_data,omitempty"`
	GraphData      *GraphData      `json:"graph_data,omitempty"`
}

// Sections returns the capabilities for which this packet carries content,
// in stable order.
func (c Content) Sections() []Capability {
	var sections []Capability
	if c.VectorData != nil {
		sections = append(sections, CapabilityVector)
	}
	if c.AnalyticalData != nil {
		sections = append(sections, CapabilityAnalytical)
	}
	if c.GraphData != nil {
		sections = append(sections, CapabilityGraph)
	}
	return sections
}

// Has reports whether the packet carries content for the given capability.
func (c Content) Has(capability Capability) bool {
	switch capability {
	case CapabilityVector:
		return c.VectorData != nil
	case CapabilityAnalytical:
		return c.AnalyticalData != nil
	case CapabilityGraph:
		return c.GraphData != nil
	}
	return false
}

// VectorData is the section destined for the semantic backend.
type VectorData struct {
	Chunks         []Chunk `json:"chunks"`
	EmbeddingModel string  `json:"embedding_model,omitempty"`
	ChunkStrategy  string  `json:"chunk_strategy,omitempty"`
	ChunkSize      int     `json:"chunk_size,omitempty"`
	ChunkOverlap   int     `json:"chunk_overlap,omitempty"`
}

// Chunk is one ordered fragment of text to embed and index.
type Chunk struct {
	ChunkID  string            `json:"chunk_id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"chunk_metadata,omitempty"`
}

// AnalyticalData is the section destined for the structured backend.
type AnalyticalData struct {
	StructuredFields map[string]any   `json:"structured_fields,omitempty"`
	Tables           map[string]Table `json:"table_data,omitempty"`
}

// Table is a named tabular extract. Every row must have exactly one value
// per column.
type Table struct {
	Columns     []string `json:"columns"`
	Rows        [][]any  `json:"rows"`
	ColumnTypes []string `json:"column_types,omitempty"`
}

// GraphData is the section destined for the relational backend.
type GraphData struct {
	Entities      []Entity       `json:"entities,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Entity is a typed, named node with an extraction confidence in [0,1].
type Entity struct {
	Type       string            `json:"type"`
	Name       string            `json:"name"`
	Properties map[string]string `json:"properties,omitempty"`
	Confidence float64           `json:"confidence"`
}

// Relationship links two entities by name. Source and target should
// reference entities in this packet or previously ingested ones; an
// unresolved reference is logged by the graph brain, not fatal.
type Relationship struct {
	Source       string            `json:"source"`
	Relationship string            `json:"relationship"`
	Target       string            `json:"target"`
	Properties   map[string]string `json:"properties,omitempty"`
	Confidence   float64           `json:"confidence"`
}

// ProcessingHints let producers bias routing and indexing.
type ProcessingHints struct {
	PriorityBrain          Capability `json:"priority_brain,omitempty"`
	SemanticWeight         float64    `json:"semantic_weight,omitempty"`
	RelationshipImportance float64    `json:"relationship_importance,omitempty"`
	RequiresExpertRouting  bool       `json:"requires_expert_routing,omitempty"`
	IndexingPriority       string     `json:"indexing_priority,omitempty"`
}

// QualityMetrics carries producer-side confidence about the extraction.
type QualityMetrics struct {
	ExtractionConfidence float64  `json:"extraction_confidence,omitempty"`
	Completeness         float64  `json:"completeness,omitempty"`
	ProcessingErrors     []string `json:"processing_errors,omitempty"`
}
