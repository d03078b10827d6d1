package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-cortex/pkg/brain"
	"github.com/soundprediction/go-cortex/pkg/packet"
)

// mockAdapter implements brain.Adapter with scriptable Ingest behavior.
type mockAdapter struct {
	capability packet.Capability
	ingestErr  error
	ingests    atomic.Int64
	delay      time.Duration
}

func (m *mockAdapter) Capability() packet.Capability { return m.capability }

func (m *mockAdapter) Ingest(ctx context.Context, p *packet.KnowledgePacket) error {
	m.ingests.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.ingestErr
}

func (m *mockAdapter) Query(ctx context.Context, req brain.QueryRequest) ([]brain.Fragment, error) {
	return nil, nil
}

func (m *mockAdapter) HealthCheck(ctx context.Context) brain.Health {
	return brain.Healthy(time.Millisecond)
}

func (m *mockAdapter) Close(ctx context.Context) error { return nil }

func testPacket(t *testing.T, location string) *packet.KnowledgePacket {
	t.Helper()
	p := packet.New(
		packet.Source{
			ProducerName:     "test",
			ProducerVersion:  "1.0.0",
			OriginalLocation: location,
			ContentType:      "text/plain",
		},
		packet.Metadata{Title: "Test Document"},
		[]byte("content for "+location),
	)
	p.Content.VectorData = &packet.VectorData{
		Chunks: []packet.Chunk{{ChunkID: p.PacketID + "-0", Text: "content for " + location}},
	}
	p.Content.GraphData = &packet.GraphData{
		Entities: []packet.Entity{{Type: "topic", Name: "testing", Confidence: 0.9}},
	}
	p.Content.AnalyticalData = &packet.AnalyticalData{
		StructuredFields: map[string]any{"word_count": 4},
	}
	return p
}

func newTestHost(t *testing.T, adapters []brain.Adapter, opts ...Option) *Host {
	t.Helper()
	base := []Option{WithRetry(0, 0), WithWorkers(2)}
	host, err := NewHost(adapters, append(base, opts...)...)
	require.NoError(t, err)
	host.Start()
	t.Cleanup(host.Stop)
	return host
}

func waitForOutcome(t *testing.T, host *Host, packetID string) Outcome {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if outcome, ok := host.Outcome(packetID); ok {
			switch outcome.State {
			case StateProcessed, StatePartial, StateDeadLettered:
				return outcome
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("packet %s never reached a terminal state", packetID)
	return Outcome{}
}

func TestNewHostRequiresAdapters(t *testing.T) {
	_, err := NewHost(nil)
	assert.ErrorIs(t, err, ErrNoAdapters)
}

func TestNewHostRejectsDuplicateCapability(t *testing.T) {
	_, err := NewHost([]brain.Adapter{
		&mockAdapter{capability: packet.CapabilityVector},
		&mockAdapter{capability: packet.CapabilityVector},
	})
	assert.ErrorContains(t, err, "duplicate adapter")
}

func TestSubmitRejectsInvalidPacket(t *testing.T) {
	host := newTestHost(t, []brain.Adapter{&mockAdapter{capability: packet.CapabilityVector}})

	p := testPacket(t, "/a.txt")
	p.Metadata.Title = ""

	_, err := host.Submit(p)
	var violation *packet.SchemaViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "metadata.title", violation.Violations[0].Field)
}

func TestSubmitFansOutToAllTargetedAdapters(t *testing.T) {
	vector := &mockAdapter{capability: packet.CapabilityVector}
	graph := &mockAdapter{capability: packet.CapabilityGraph}
	analytical := &mockAdapter{capability: packet.CapabilityAnalytical}
	host := newTestHost(t, []brain.Adapter{vector, graph, analytical})

	p := testPacket(t, "/report.md")
	id, err := host.Submit(p)
	require.NoError(t, err)
	assert.Equal(t, p.PacketID, id)

	outcome := waitForOutcome(t, host, id)
	assert.Equal(t, StateProcessed, outcome.State)
	assert.Len(t, outcome.Adapters, 3)
	assert.EqualValues(t, 1, vector.ingests.Load())
	assert.EqualValues(t, 1, graph.ingests.Load())
	assert.EqualValues(t, 1, analytical.ingests.Load())

	snap := host.Metrics()
	assert.EqualValues(t, 1, snap.PacketsProcessed)
	assert.EqualValues(t, 0, snap.PacketsDeadLettered)
}

func TestSubmitSkipsAdaptersWithoutSection(t *testing.T) {
	vector := &mockAdapter{capability: packet.CapabilityVector}
	graph := &mockAdapter{capability: packet.CapabilityGraph}
	host := newTestHost(t, []brain.Adapter{vector, graph})

	p := testPacket(t, "/vector-only.md")
	p.Content.GraphData = nil
	p.Content.AnalyticalData = nil

	id, err := host.Submit(p)
	require.NoError(t, err)

	outcome := waitForOutcome(t, host, id)
	assert.Equal(t, StateProcessed, outcome.State)
	assert.Len(t, outcome.Adapters, 1)
	assert.EqualValues(t, 0, graph.ingests.Load())
}

func TestPartialFailureIsRecorded(t *testing.T) {
	vector := &mockAdapter{capability: packet.CapabilityVector}
	graph := &mockAdapter{capability: packet.CapabilityGraph, ingestErr: errors.New("bolt connection refused")}
	analytical := &mockAdapter{capability: packet.CapabilityAnalytical}
	host := newTestHost(t, []brain.Adapter{vector, graph, analytical})

	id, err := host.Submit(testPacket(t, "/partial.md"))
	require.NoError(t, err)

	outcome := waitForOutcome(t, host, id)
	assert.Equal(t, StatePartial, outcome.State)

	succeeded := 0
	for _, r := range outcome.Adapters {
		if r.Succeeded {
			succeeded++
		} else {
			assert.Equal(t, packet.CapabilityGraph, r.Capability)
			assert.Contains(t, r.Error, "connection refused")
		}
	}
	assert.Equal(t, 2, succeeded)

	snap := host.Metrics()
	assert.EqualValues(t, 1, snap.PacketsProcessed)
	assert.EqualValues(t, 1, snap.PacketsFailed)
}

func TestAllAdaptersFailingDeadLetters(t *testing.T) {
	down := errors.New("backend down")
	host := newTestHost(t, []brain.Adapter{
		&mockAdapter{capability: packet.CapabilityVector, ingestErr: down},
		&mockAdapter{capability: packet.CapabilityGraph, ingestErr: down},
	})

	id, err := host.Submit(testPacket(t, "/doomed.md"))
	require.NoError(t, err)

	outcome := waitForOutcome(t, host, id)
	assert.Equal(t, StateDeadLettered, outcome.State)
	assert.EqualValues(t, 1, host.Metrics().PacketsDeadLettered)
}

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	flaky := &flakyAdapter{capability: packet.CapabilityVector, failures: 1}
	host := newTestHost(t, []brain.Adapter{flaky}, WithRetry(1, time.Millisecond))

	p := testPacket(t, "/flaky.md")
	p.Content.GraphData = nil
	p.Content.AnalyticalData = nil

	id, err := host.Submit(p)
	require.NoError(t, err)

	outcome := waitForOutcome(t, host, id)
	assert.Equal(t, StateProcessed, outcome.State)
	require.Len(t, outcome.Adapters, 1)
	assert.Equal(t, 2, outcome.Adapters[0].Attempts)
}

// flakyAdapter fails its first N ingests then succeeds.
type flakyAdapter struct {
	capability packet.Capability
	failures   int64
	calls      atomic.Int64
}

func (f *flakyAdapter) Capability() packet.Capability { return f.capability }

func (f *flakyAdapter) Ingest(ctx context.Context, p *packet.KnowledgePacket) error {
	if f.calls.Add(1) <= f.failures {
		return errors.New("transient failure")
	}
	return nil
}

func (f *flakyAdapter) Query(ctx context.Context, req brain.QueryRequest) ([]brain.Fragment, error) {
	return nil, nil
}

func (f *flakyAdapter) HealthCheck(ctx context.Context) brain.Health {
	return brain.Healthy(time.Millisecond)
}

func (f *flakyAdapter) Close(ctx context.Context) error { return nil }

func TestDuplicateSubmissionCoalesces(t *testing.T) {
	vector := &mockAdapter{capability: packet.CapabilityVector}
	host := newTestHost(t, []brain.Adapter{vector})

	p := testPacket(t, "/dup.md")
	p.Content.GraphData = nil
	p.Content.AnalyticalData = nil

	id, err := host.Submit(p)
	require.NoError(t, err)
	waitForOutcome(t, host, id)

	// Same location + content computes the same id; the second submission
	// must not reach the adapter again.
	again := testPacket(t, "/dup.md")
	again.Content.GraphData = nil
	again.Content.AnalyticalData = nil

	id2, err := host.Submit(again)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, vector.ingests.Load())
	assert.EqualValues(t, 1, host.Metrics().PacketsDeduplicated)
}

func TestDeadLetteredPacketCanBeResubmitted(t *testing.T) {
	flaky := &flakyAdapter{capability: packet.CapabilityVector, failures: 1}
	host := newTestHost(t, []brain.Adapter{flaky})

	p := testPacket(t, "/retry-later.md")
	p.Content.GraphData = nil
	p.Content.AnalyticalData = nil

	id, err := host.Submit(p)
	require.NoError(t, err)
	outcome := waitForOutcome(t, host, id)
	require.Equal(t, StateDeadLettered, outcome.State)

	// Dead-lettered ids are not marked seen, so resubmitting retries.
	id2, err := host.Submit(p)
	require.NoError(t, err)
	require.Equal(t, id, id2)

	outcome = waitForOutcome(t, host, id)
	assert.Equal(t, StateProcessed, outcome.State)
}

func TestSubmitReturnsQueueFull(t *testing.T) {
	slow := &mockAdapter{capability: packet.CapabilityVector, delay: time.Second}
	host, err := NewHost([]brain.Adapter{slow},
		WithQueueSize(1), WithWorkers(1), WithRetry(0, 0))
	require.NoError(t, err)
	t.Cleanup(host.Stop)
	// Not started: everything stays queued.

	first := testPacket(t, "/fills-the-queue.md")
	_, err = host.Submit(first)
	require.NoError(t, err)

	second := testPacket(t, "/rejected.md")
	_, err = host.Submit(second)
	assert.ErrorIs(t, err, ErrQueueFull)

	host.Start()
}

func TestSubmitAfterStop(t *testing.T) {
	host, err := NewHost([]brain.Adapter{&mockAdapter{capability: packet.CapabilityVector}})
	require.NoError(t, err)
	host.Start()
	host.Stop()

	_, err = host.Submit(testPacket(t, "/late.md"))
	assert.ErrorIs(t, err, ErrHostClosed)
}

func TestAdapterHealth(t *testing.T) {
	host := newTestHost(t, []brain.Adapter{
		&mockAdapter{capability: packet.CapabilityVector},
		&mockAdapter{capability: packet.CapabilityGraph},
	})

	health := host.AdapterHealth(context.Background())
	require.Len(t, health, 2)
	assert.Equal(t, brain.StatusHealthy, health[packet.CapabilityVector].Status)
}

func TestMemoryDedupeStore(t *testing.T) {
	store := NewMemoryDedupeStore()
	seen, err := store.Seen("abc")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.Mark("abc"))
	seen, err = store.Seen("abc")
	require.NoError(t, err)
	assert.True(t, seen)
	require.NoError(t, store.Close())
}

func TestBadgerDedupeStorePersists(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBadgerDedupeStore(dir, time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.Mark("deadbeef"))
	seen, err := store.Seen("deadbeef")
	require.NoError(t, err)
	assert.True(t, seen)
	require.NoError(t, store.Close())

	reopened, err := NewBadgerDedupeStore(dir, time.Hour)
	require.NoError(t, err)
	defer reopened.Close()
	seen, err = reopened.Seen("deadbeef")
	require.NoError(t, err)
	assert.True(t, seen)
}
