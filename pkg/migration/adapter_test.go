package migration

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-cortex/pkg/packet"
)

type mockLegacyWriter struct {
	docs []LegacyDocument
	err  error
}

func (m *mockLegacyWriter) Write(ctx context.Context, doc LegacyDocument) error {
	if m.err != nil {
		return m.err
	}
	m.docs = append(m.docs, doc)
	return nil
}

type mockSubmitter struct {
	packets []*packet.KnowledgePacket
	err     error
}

func (m *mockSubmitter) Submit(p *packet.KnowledgePacket) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.packets = append(m.packets, p)
	return p.PacketID, nil
}

func testDoc() LegacyDocument {
	return LegacyDocument{
		Filename: "/docs/thermal.md",
		Author:   "Sarah Chen",
		Tags:     []string{"hardware"},
		Content:  []byte("aluminum heat sinks outperform copper at scale"),
	}
}

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"legacy", "hybrid", "mcp"} {
		mode, err := ParseMode(valid)
		require.NoError(t, err)
		assert.Equal(t, Mode(valid), mode)
	}

	_, err := ParseMode("canary")
	var confErr *ConfigurationError
	assert.ErrorAs(t, err, &confErr)
}

func TestNewValidatesModeDependencies(t *testing.T) {
	legacy := &mockLegacyWriter{}
	host := &mockSubmitter{}

	var confErr *ConfigurationError

	_, err := New(ModeLegacy, nil, nil, "1.0.0", nil)
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, "legacy_writer", confErr.Field)

	_, err = New(ModeHybrid, legacy, nil, "1.0.0", nil)
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, "host", confErr.Field)

	_, err = New(ModeMCP, nil, nil, "1.0.0", nil)
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, "host", confErr.Field)

	_, err = New(Mode("canary"), legacy, host, "1.0.0", nil)
	assert.Error(t, err)

	adapter, err := New(ModeMCP, nil, host, "1.0.0", nil)
	require.NoError(t, err)
	assert.Equal(t, ModeMCP, adapter.Mode())
}

func TestLegacyModeWritesDirectly(t *testing.T) {
	legacy := &mockLegacyWriter{}
	adapter, err := New(ModeLegacy, legacy, nil, "1.0.0", nil)
	require.NoError(t, err)

	result, err := adapter.IngestFile(context.Background(), testDoc())
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	require.Len(t, legacy.docs, 1)
	assert.Equal(t, "/docs/thermal.md", legacy.docs[0].Filename)
}

func TestMCPModeBuildsValidPacket(t *testing.T) {
	host := &mockSubmitter{}
	adapter, err := New(ModeMCP, nil, host, "1.0.0", nil)
	require.NoError(t, err)

	result, err := adapter.IngestFile(context.Background(), testDoc())
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)

	require.Len(t, host.packets, 1)
	p := host.packets[0]
	assert.Empty(t, packet.Validate(p))
	assert.Equal(t, "cortex-migration", p.Source.ProducerName)
	assert.Equal(t, "/docs/thermal.md", p.Source.OriginalLocation)
	assert.Equal(t, "Sarah Chen", p.Metadata.Author)
	require.NotNil(t, p.Content.VectorData)
	require.Len(t, p.Content.VectorData.Chunks, 1)
	assert.Equal(t, "aluminum heat sinks outperform copper at scale", p.Content.VectorData.Chunks[0].Text)
	assert.Equal(t, result.PacketID, p.PacketID)
}

func TestHybridModeWritesBothPaths(t *testing.T) {
	legacy := &mockLegacyWriter{}
	host := &mockSubmitter{}
	adapter, err := New(ModeHybrid, legacy, host, "1.0.0", nil)
	require.NoError(t, err)

	result, err := adapter.IngestFile(context.Background(), testDoc())
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Len(t, legacy.docs, 1)
	assert.Len(t, host.packets, 1)
}

func TestHybridModePacketFailureIsBestEffort(t *testing.T) {
	legacy := &mockLegacyWriter{}
	host := &mockSubmitter{err: errors.New("queue is full")}
	adapter, err := New(ModeHybrid, legacy, host, "1.0.0", nil)
	require.NoError(t, err)

	result, err := adapter.IngestFile(context.Background(), testDoc())
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Contains(t, result.Message, "packet submission failed")
	assert.Len(t, legacy.docs, 1)
}

func TestHybridModeLegacyFailureIsFatal(t *testing.T) {
	legacy := &mockLegacyWriter{err: errors.New("pg down")}
	host := &mockSubmitter{}
	adapter, err := New(ModeHybrid, legacy, host, "1.0.0", nil)
	require.NoError(t, err)

	result, err := adapter.IngestFile(context.Background(), testDoc())
	assert.Error(t, err)
	assert.Equal(t, "error", result.Status)
	assert.Empty(t, host.packets)
}

func TestLegacyModeFlattensPacket(t *testing.T) {
	legacy := &mockLegacyWriter{}
	adapter, err := New(ModeLegacy, legacy, nil, "1.0.0", nil)
	require.NoError(t, err)

	p := packet.New(
		packet.Source{
			ProducerName:     "test",
			ProducerVersion:  "1.0.0",
			OriginalLocation: "/docs/multi.md",
			ContentType:      "text/markdown",
		},
		packet.Metadata{Title: "Multi", Author: "R. Patel"},
		[]byte("first\nsecond"),
	)
	p.Content.VectorData = &packet.VectorData{
		Chunks: []packet.Chunk{
			{ChunkID: p.PacketID + "-0", Text: "first part"},
			{ChunkID: p.PacketID + "-1", Text: "second part"},
		},
	}

	result, err := adapter.IngestPacket(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	require.Len(t, legacy.docs, 1)
	assert.Equal(t, "first part\n\nsecond part", string(legacy.docs[0].Content))
	assert.Equal(t, "R. Patel", legacy.docs[0].Author)
}

func TestMCPModeSubmitErrorPropagates(t *testing.T) {
	host := &mockSubmitter{err: errors.New("queue is full")}
	adapter, err := New(ModeMCP, nil, host, "1.0.0", nil)
	require.NoError(t, err)

	result, err := adapter.IngestFile(context.Background(), testDoc())
	assert.Error(t, err)
	assert.Equal(t, "error", result.Status)
}
