// Package migration bridges the legacy single-backend ingestion path and
// the packet-based pipeline behind a single entry point, selected by a
// mode fixed at construction.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/soundprediction/go-cortex/pkg/packet"
)

const producerName = "cortex-migration"

// LegacyWriter is the direct vector-backend write path used by the
// legacy and hybrid modes.
type LegacyWriter interface {
	Write(ctx context.Context, doc LegacyDocument) error
}

// LegacyDocument is the pre-packet ingestion shape: raw file bytes plus
// minimal caller-supplied attribution.
type LegacyDocument struct {
	Filename string
	Author   string
	Tags     []string
	Content  []byte
}

// Submitter accepts validated packets for asynchronous processing. The
// ingestion host satisfies this.
type Submitter interface {
	Submit(p *packet.KnowledgePacket) (string, error)
}

// Result reports the outcome of one ingestion call.
type Result struct {
	Status   string `json:"status"`
	PacketID string `json:"packet_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Adapter presents one ingestion entry point over the configured mode.
type Adapter struct {
	mode    Mode
	legacy  LegacyWriter
	host    Submitter
	version string
	logger  *slog.Logger
}

// New constructs a migration adapter. The mode's dependencies are checked
// here: legacy and hybrid need a legacy writer, hybrid and mcp need a
// submitter. Missing dependencies are configuration errors.
func New(mode Mode, legacy LegacyWriter, host Submitter, producerVersion string, logger *slog.Logger) (*Adapter, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if (mode == ModeLegacy || mode == ModeHybrid) && legacy == nil {
		return nil, &ConfigurationError{Field: "legacy_writer", Reason: fmt.Sprintf("required for mode %q", mode)}
	}
	if (mode == ModeHybrid || mode == ModeMCP) && host == nil {
		return nil, &ConfigurationError{Field: "host", Reason: fmt.Sprintf("required for mode %q", mode)}
	}
	if producerVersion == "" {
		producerVersion = "dev"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{mode: mode, legacy: legacy, host: host, version: producerVersion, logger: logger}, nil
}

// Mode returns the configured ingestion mode.
func (a *Adapter) Mode() Mode {
	return a.mode
}

// IngestFile ingests raw file bytes with caller-supplied attribution,
// routing through the configured mode.
func (a *Adapter) IngestFile(ctx context.Context, doc LegacyDocument) (Result, error) {
	switch a.mode {
	case ModeLegacy:
		if err := a.legacy.Write(ctx, doc); err != nil {
			return Result{Status: "error", Message: err.Error()}, fmt.Errorf("legacy write failed: %w", err)
		}
		return Result{
			Status:   "success",
			PacketID: packet.ComputeID(doc.Filename, doc.Content),
			Message:  "written via legacy path",
		}, nil

	case ModeHybrid:
		if err := a.legacy.Write(ctx, doc); err != nil {
			return Result{Status: "error", Message: err.Error()}, fmt.Errorf("legacy write failed: %w", err)
		}
		p := a.packetFromDocument(doc)
		packetID, err := a.host.Submit(p)
		if err != nil {
			// The legacy write landed; the packet side of the dual write
			// is best effort during migration.
			a.logger.Warn("hybrid packet submission failed after legacy write",
				"filename", doc.Filename, "error", err)
			return Result{
				Status:   "success",
				PacketID: p.PacketID,
				Message:  "legacy write succeeded, packet submission failed: " + err.Error(),
			}, nil
		}
		return Result{Status: "success", PacketID: packetID, Message: "written via legacy and packet paths"}, nil

	case ModeMCP:
		return a.IngestPacket(ctx, a.packetFromDocument(doc))
	}

	// Unreachable: New rejects unknown modes.
	return Result{}, &ConfigurationError{Field: "mode", Reason: string(a.mode)}
}

// IngestPacket ingests a fully-formed knowledge packet.
func (a *Adapter) IngestPacket(ctx context.Context, p *packet.KnowledgePacket) (Result, error) {
	switch a.mode {
	case ModeLegacy:
		doc := documentFromPacket(p)
		if err := a.legacy.Write(ctx, doc); err != nil {
			return Result{Status: "error", Message: err.Error()}, fmt.Errorf("legacy write failed: %w", err)
		}
		return Result{Status: "success", PacketID: p.PacketID, Message: "written via legacy path"}, nil

	case ModeHybrid:
		doc := documentFromPacket(p)
		if err := a.legacy.Write(ctx, doc); err != nil {
			return Result{Status: "error", Message: err.Error()}, fmt.Errorf("legacy write failed: %w", err)
		}
		packetID, err := a.host.Submit(p)
		if err != nil {
			a.logger.Warn("hybrid packet submission failed after legacy write",
				"packet_id", p.PacketID, "error", err)
			return Result{
				Status:   "success",
				PacketID: p.PacketID,
				Message:  "legacy write succeeded, packet submission failed: " + err.Error(),
			}, nil
		}
		return Result{Status: "success", PacketID: packetID, Message: "written via legacy and packet paths"}, nil

	case ModeMCP:
		packetID, err := a.host.Submit(p)
		if err != nil {
			return Result{Status: "error", PacketID: p.PacketID, Message: err.Error()}, err
		}
		return Result{Status: "success", PacketID: packetID, Message: "packet queued for processing"}, nil
	}

	return Result{}, &ConfigurationError{Field: "mode", Reason: string(a.mode)}
}

// packetFromDocument builds the packet equivalent of a legacy document:
// one vector chunk carrying the full content.
func (a *Adapter) packetFromDocument(doc LegacyDocument) *packet.KnowledgePacket {
	source := packet.Source{
		ProducerName:     producerName,
		ProducerVersion:  a.version,
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
	return p
}

// documentFromPacket flattens a packet into the legacy document shape:
// the vector chunks concatenated, or the title when no vector section
// is present.
func documentFromPacket(p *packet.KnowledgePacket) LegacyDocument {
	var content string
	if p.Content.VectorData != nil {
		texts := make([]string, len(p.Content.VectorData.Chunks))
		for i, chunk := range p.Content.VectorData.Chunks {
			texts[i] = chunk.Text
		}
		content = strings.Join(texts, "\n\n")
	} else {
		content = p.Metadata.Title
	}
	return LegacyDocument{
		Filename: p.Source.OriginalLocation,
		Author:   p.Metadata.Author,
		Tags:     p.Metadata.Tags,
		Content:  []byte(content),
	}
}
