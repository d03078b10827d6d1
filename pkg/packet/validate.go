package packet

import (
	"fmt"
	"strings"
)

// Violation describes one validation rule a packet failed.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// SchemaViolation is returned when a packet fails validation. It is never
// retried automatically; the caller must not enqueue the packet.
type SchemaViolation struct {
	PacketID   string
	Violations []Violation
}

func (e *SchemaViolation) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("packet schema violation: %s", strings.Join(parts, "; "))
}

// Validate checks a packet against the schema and cross-field invariants.
// Structural failures (missing required fields) short-circuit; semantic
// failures within sections accumulate so a producer sees them all at once.
// An empty result means the packet is valid.
func Validate(p *KnowledgePacket) []Violation {
	if p == nil {
		return []Violation{{Field: "packet", Message: "packet is nil"}}
	}

	// Structural rules short-circuit: nothing else is meaningful without them.
	if structural := requiredFields(p); len(structural) > 0 {
		return structural
	}

	var violations []Violation

	if !ValidID(p.PacketID) {
		violations = append(violations, Violation{
			Field:   "packet_id",
			Message: "must be 64 lowercase hex characters",
		})
	}

	if len(p.Content.Sections()) == 0 {
		violations = append(violations, Violation{
			Field:   "content",
			Message: "at least one of vector_data, analytical_data, graph_data is required",
		})
	}

	violations = append(violations, validateVectorData(p.Content.VectorData)...)
	violations = append(violations, validateAnalyticalData(p.Content.AnalyticalData)...)
	violations = append(violations, validateGraphData(p.Content.GraphData)...)
	violations = append(violations, validateHints(p.ProcessingHints)...)
	violations = append(violations, validateQuality(p.QualityMetrics)...)

	return violations
}

// IsValid reports whether p passes all validation rules.
func IsValid(p *KnowledgePacket) bool {
	return len(Validate(p)) == 0
}

func requiredFields(p *KnowledgePacket) []Violation {
	var violations []Violation
	if p.PacketVersion == "" {
		violations = append(violations, Violation{Field: "packet_version", Message: "required"})
	}
	if p.PacketID == "" {
		violations = append(violations, Violation{Field: "packet_id", Message: "required"})
	}
	if p.Timestamp.IsZero() {
		violations = append(violations, Violation{Field: "timestamp", Message: "required"})
	}
	if p.Source.ProducerName == "" {
		violations = append(violations, Violation{Field: "source.producer_name", Message: "required"})
	}
	if p.Source.ProducerVersion == "" {
		violations = append(violations, Violation{Field: "source.producer_version", Message: "required"})
	}
	if p.Source.OriginalLocation == "" {
		violations = append(violations, Violation{Field: "source.original_location", Message: "required"})
	}
	if p.Source.ContentType == "" {
		violations = append(violations, Violation{Field: "source.content_type", Message: "required"})
	}
	if p.Metadata.Title == "" {
		violations = append(violations, Violation{Field: "metadata.title", Message: "required"})
	}
	return violations
}

func validateVectorData(v *VectorData) []Violation {
	if v == nil {
		return nil
	}
	var violations []Violation
	if len(v.Chunks) == 0 {
		violations = append(violations, Violation{
			Field:   "content.vector_data.chunks",
			Message: "present section must carry at least one chunk",
		})
	}
	for i, chunk := range v.Chunks {
		if chunk.Text == "" {
			violations = append(violations, Violation{
				Field:   fmt.Sprintf("content.vector_data.chunks[%d].text", i),
				Message: "required",
			})
		}
	}
	if v.ChunkSize > 0 && v.ChunkOverlap >= v.ChunkSize {
		violations = append(violations, Violation{
			Field:   "content.vector_data.chunk_overlap",
			Message: fmt.Sprintf("overlap %d must be less than chunk size %d", v.ChunkOverlap, v.ChunkSize),
		})
	}
	return violations
}

func validateAnalyticalData(a *AnalyticalData) []Violation {
	if a == nil {
		return nil
	}
	var violations []Violation
	if len(a.StructuredFields) == 0 && len(a.Tables) == 0 {
		violations = append(violations, Violation{
			Field:   "content.analytical_data",
			Message: "present section must carry structured_fields or table_data",
		})
	}
	for name, table := range a.Tables {
		if len(table.Columns) == 0 {
			violations = append(violations, Violation{
				Field:   fmt.Sprintf("content.analytical_data.table_data[%s].columns", name),
				Message: "required",
			})
			continue
		}
		for i, row := range table.Rows {
			if len(row) != len(table.Columns) {
				violations = append(violations, Violation{
					Field: fmt.Sprintf("content.analytical_data.table_data[%s].rows[%d]", name, i),
					Message: fmt.Sprintf("row has %d values, table has %d columns",
						len(row), len(table.Columns)),
				})
			}
		}
		if len(table.ColumnTypes) > 0 && len(table.ColumnTypes) != len(table.Columns) {
			violations = append(violations, Violation{
				Field:   fmt.Sprintf("content.analytical_data.table_data[%s].column_types", name),
				Message: "must match columns length when present",
			})
		}
	}
	return violations
}

func validateGraphData(g *GraphData) []Violation {
	if g == nil {
		return nil
	}
	var violations []Violation
	if len(g.Entities) == 0 && len(g.Relationships) == 0 {
		violations = append(violations, Violation{
			Field:   "content.graph_data",
			Message: "present section must carry entities or relationships",
		})
	}
	for i, entity := range g.Entities {
		if entity.Name == "" {
			violations = append(violations, Violation{
				Field:   fmt.Sprintf("content.graph_data.entities[%d].name", i),
				Message: "required",
			})
		}
		if entity.Confidence < 0 || entity.Confidence > 1 {
			violations = append(violations, Violation{
				Field:   fmt.Sprintf("content.graph_data.entities[%d].confidence", i),
				Message: "must be within [0,1]",
			})
		}
	}
	for i, rel := range g.Relationships {
		if rel.Source == "" || rel.Target == "" || rel.Relationship == "" {
			violations = append(violations, Violation{
				Field:   fmt.Sprintf("content.graph_data.relationships[%d]", i),
				Message: "source, relationship and target are required",
			})
		}
		if rel.Confidence < 0 || rel.Confidence > 1 {
			violations = append(violations, Violation{
				Field:   fmt.Sprintf("content.graph_data.relationships[%d].confidence", i),
				Message: "must be within [0,1]",
			})
		}
	}
	return violations
}

func validateHints(h *ProcessingHints) []Violation {
	if h == nil {
		return nil
	}
	var violations []Violation
	if h.PriorityBrain != "" && !h.PriorityBrain.Valid() {
		violations = append(violations, Violation{
			Field:   "processing_hints.priority_brain",
			Message: fmt.Sprintf("unknown capability %q", h.PriorityBrain),
		})
	}
	if h.SemanticWeight < 0 || h.SemanticWeight > 1 {
		violations = append(violations, Violation{
			Field:   "processing_hints.semantic_weight",
			Message: "must be within [0,1]",
		})
	}
	if h.RelationshipImportance < 0 || h.RelationshipImportance > 1 {
		violations = append(violations, Violation{
			Field:   "processing_hints.relationship_importance",
			Message: "must be within [0,1]",
		})
	}
	return violations
}

func validateQuality(q *QualityMetrics) []Violation {
	if q == nil {
		return nil
	}
	var violations []Violation
	if q.ExtractionConfidence < 0 || q.ExtractionConfidence > 1 {
		violations = append(violations, Violation{
			Field:   "quality_metrics.extraction_confidence",
			Message: "must be within [0,1]",
		})
	}
	if q.Completeness < 0 || q.Completeness > 1 {
		violations = append(violations, Violation{
			Field:   "quality_metrics.completeness",
			Message: "must be within [0,1]",
		})
	}
	return violations
}
