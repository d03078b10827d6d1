package packet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPacket() *KnowledgePacket {
	p := New(
		Source{
			ProducerName:     "test-producer",
			ProducerVersion:  "1.0.0",
			OriginalLocation: "/docs/report.md",
			ContentType:      "text/markdown",
		},
		Metadata{Title: "Quarterly Report", Author: "Sarah Chen"},
		[]byte("aluminum heat sinks outperform copper at scale"),
	)
	p.Content.VectorData = &VectorData{
		Chunks: []Chunk{{ChunkID: p.PacketID + "-0", Text: "aluminum heat sinks outperform copper at scale"}},
	}
	return p
}

func TestComputeIDDeterministic(t *testing.T) {
	content := []byte("same bytes")
	a := ComputeID("/a/file.txt", content)
	b := ComputeID("/a/file.txt", content)
	assert.Equal(t, a, b)
	assert.True(t, ValidID(a))
}

func TestComputeIDVariesByLocationAndContent(t *testing.T) {
	base := ComputeID("/a/file.txt", []byte("content"))
	assert.NotEqual(t, base, ComputeID("/b/file.txt", []byte("content")))
	assert.NotEqual(t, base, ComputeID("/a/file.txt", []byte("other content")))
}

func TestNewStampsVersionAndID(t *testing.T) {
	p := validPacket()
	assert.Equal(t, Version, p.PacketVersion)
	assert.Equal(t, ComputeID(p.Source.OriginalLocation, []byte("aluminum heat sinks outperform copper at scale")), p.PacketID)
	assert.False(t, p.Timestamp.IsZero())
}

func TestValidateAcceptsWellFormedPacket(t *testing.T) {
	assert.Empty(t, Validate(validPacket()))
	assert.True(t, IsValid(validPacket()))
}

func TestValidateRequiredFieldsShortCircuit(t *testing.T) {
	p := validPacket()
	p.Metadata.Title = ""
	p.Source.ContentType = ""
	// A semantic problem too; it must not be reported alongside
	// structural failures.
	p.Content.VectorData.Chunks = nil

	violations := Validate(p)
	require.Len(t, violations, 2)
	fields := []string{violations[0].Field, violations[1].Field}
	assert.Contains(t, fields, "metadata.title")
	assert.Contains(t, fields, "source.content_type")
}

func TestValidateRejectsNilPacket(t *testing.T) {
	violations := Validate(nil)
	require.Len(t, violations, 1)
	assert.Equal(t, "packet", violations[0].Field)
}

func TestValidateRejectsMalformedID(t *testing.T) {
	p := validPacket()
	p.PacketID = "UPPERCASE-and-too-short"
	violations := Validate(p)
	require.NotEmpty(t, violations)
	assert.Equal(t, "packet_id", violations[0].Field)
}

func TestValidateRequiresAtLeastOneSection(t *testing.T) {
	p := validPacket()
	p.Content = Content{}
	violations := Validate(p)
	require.Len(t, violations, 1)
	assert.Equal(t, "content", violations[0].Field)
}

func TestValidateEmptyPresentSectionIsViolation(t *testing.T) {
	p := validPacket()
	p.Content.VectorData = &VectorData{}
	violations := Validate(p)
	require.Len(t, violations, 1)
	assert.Equal(t, "content.vector_data.chunks", violations[0].Field)
}

func TestValidateChunkOverlapMustBeBelowChunkSize(t *testing.T) {
	p := validPacket()
	p.Content.VectorData.ChunkSize = 512
	p.Content.VectorData.ChunkOverlap = 512
	violations := Validate(p)
	require.Len(t, violations, 1)
	assert.Equal(t, "content.vector_data.chunk_overlap", violations[0].Field)
}

func TestValidateAccumulatesSemanticViolations(t *testing.T) {
	p := validPacket()
	p.Content.GraphData = &GraphData{
		Entities: []Entity{
			{Type: "person", Name: "", Confidence: 1.5},
		},
		Relationships: []Relationship{
			{Source: "a", Relationship: "", Target: "b", Confidence: -0.1},
		},
	}
	violations := Validate(p)
	// Missing name, out-of-range entity confidence, incomplete
	// relationship, out-of-range relationship confidence.
	assert.Len(t, violations, 4)
}

func TestValidateTableRowArity(t *testing.T) {
	p := validPacket()
	p.Content.AnalyticalData = &AnalyticalData{
		Tables: map[string]Table{
			"measurements": {
				Columns: []string{"part", "temp_c"},
				Rows:    [][]any{{"heat sink", 41.2}, {"only-one-value"}},
			},
		},
	}
	violations := Validate(p)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].Field, "rows[1]")
}

func TestValidateHintsAndQualityRanges(t *testing.T) {
	p := validPacket()
	p.ProcessingHints = &ProcessingHints{PriorityBrain: "imaginary", SemanticWeight: 2}
	p.QualityMetrics = &QualityMetrics{ExtractionConfidence: -1}
	violations := Validate(p)
	assert.Len(t, violations, 3)
}

func TestSchemaViolationError(t *testing.T) {
	err := &SchemaViolation{
		PacketID: "abc",
		Violations: []Violation{
			{Field: "metadata.title", Message: "required"},
		},
	}
	assert.Contains(t, err.Error(), "metadata.title: required")
}

func TestMergeExtraRejectsReservedAndDuplicateKeys(t *testing.T) {
	m := Metadata{Title: "t"}
	require.NoError(t, m.MergeExtra(map[string]string{"department": "thermal"}))
	assert.Equal(t, "thermal", m.Extra["department"])

	assert.Error(t, m.MergeExtra(map[string]string{"title": "shadowed"}))
	assert.Error(t, m.MergeExtra(map[string]string{"department": "other"}))
}

func TestContentSectionsAndHas(t *testing.T) {
	c := Content{
		VectorData: &VectorData{},
		GraphData:  &GraphData{},
	}
	assert.Equal(t, []Capability{CapabilityVector, CapabilityGraph}, c.Sections())
	assert.True(t, c.Has(CapabilityVector))
	assert.False(t, c.Has(CapabilityAnalytical))
}

func TestCapabilityValid(t *testing.T) {
	assert.True(t, CapabilityGraph.Valid())
	assert.False(t, Capability("imaginary").Valid())
}

func TestMetadataCreatedAtIsOptional(t *testing.T) {
	p := validPacket()
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p.Metadata.CreatedAt = &created
	assert.Empty(t, Validate(p))
}
