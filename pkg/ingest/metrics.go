package ingest

import (
	"sync/atomic"
)

// Metrics tracks aggregate ingestion counters. All increments are atomic;
// a Snapshot is safe to take at any time.
type Metrics struct {
	processed    atomic.Int64
	failed       atomic.Int64
	deadLettered atomic.Int64
	submitted    atomic.Int64
	duplicates   atomic.Int64
}

// Snapshot is a point-in-time view of ingestion metrics.
type Snapshot struct {
	PacketsSubmitted    int64   `json:"packets_submitted"`
	PacketsProcessed    int64   `json:"packets_processed"`
	PacketsFailed       int64   `json:"packets_failed"`
	PacketsDeadLettered int64   `json:"packets_dead_lettered"`
	PacketsDeduplicated int64   `json:"packets_deduplicated"`
	SuccessRate         float64 `json:"success_rate"`
	ActiveAdapters      int     `json:"active_adapters"`
}

func (m *Metrics) snapshot(activeAdapters int) Snapshot {
	processed := m.processed.Load()
	failed := m.failed.Load()
	deadLettered := m.deadLettered.Load()

	total := processed + deadLettered
	rate := 1.0
	if total > 0 {
		rate = float64(processed) / float64(total)
	}

	return Snapshot{
		PacketsSubmitted:    m.submitted.Load(),
		PacketsProcessed:    processed,
		PacketsFailed:       failed,
		PacketsDeadLettered: deadLettered,
		PacketsDeduplicated: m.duplicates.Load(),
		SuccessRate:         rate,
		ActiveAdapters:      activeAdapters,
	}
}
