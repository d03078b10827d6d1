package migration

import (
	"context"
	"fmt"

	"github.com/soundprediction/go-cortex/pkg/brain"
	"github.com/soundprediction/go-cortex/pkg/packet"
)

// VectorLegacyWriter implements LegacyWriter by writing straight to the
// vector brain adapter, bypassing the ingestion host. This mirrors the
// original single-backend write path.
type VectorLegacyWriter struct {
	adapter brain.Adapter
	version string
}

// NewVectorLegacyWriter wraps a vector adapter as the legacy write path.
func NewVectorLegacyWriter(adapter brain.Adapter, producerVersion string) (*VectorLegacyWriter, error) {
	if adapter == nil {
		return nil, &ConfigurationError{Field: "legacy_writer.adapter", Reason: "required"}
	}
	if adapter.Capability() != packet.CapabilityVector {
		return nil, &ConfigurationError{
			Field:  "legacy_writer.adapter",
			Reason: fmt.Sprintf("must be a vector adapter, got %q", adapter.Capability()),
		}
	}
	if producerVersion == "" {
		producerVersion = "dev"
	}
	return &VectorLegacyWriter{adapter: adapter, version: producerVersion}, nil
}

// Write converts the document to its vector representation and writes it
// synchronously.
func (w *VectorLegacyWriter) Write(ctx context.Context, doc LegacyDocument) error {
	source := packet.Source{
		ProducerName:     producerName + "-legacy",
		ProducerVersion:  w.version,
		OriginalLocation: doc.Filename,
		ContentType:      "application/octet-stream",
		ExtractionMethod: "raw",
	}
	meta := packet.Metadata{
		Title:  doc.Filename,
		Author: doc.Author,
		Tags:   doc.Tags,
	}

	p := packet.New(source, meta, doc.Content)
	p.Content.VectorData = &packet.VectorData{
		Chunks: []packet.Chunk{{
			ChunkID: p.PacketID + "-0",
			Text:    string(doc.Content),
		}},
		ChunkStrategy: "whole-document",
	}

	if err := w.adapter.Ingest(ctx, p); err != nil {
		return fmt.Errorf("legacy vector write failed: %w", err)
	}
	return nil
}
