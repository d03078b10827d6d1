// Package ingest implements the ingestion host: a bounded packet queue
// drained by a worker pool, fanning each packet out concurrently to every
// registered brain adapter whose section it carries.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sony/gobreaker"

	"github.com/soundprediction/go-cortex/pkg/brain"
	"github.com/soundprediction/go-cortex/pkg/packet"
)

var (
	// ErrQueueFull is returned by Submit when the packet queue is at
	// capacity. Submit never blocks and never drops silently.
	ErrQueueFull = errors.New("packet queue is full")

	// ErrHostClosed is returned by Submit after Stop.
	ErrHostClosed = errors.New("ingestion host is closed")

	// ErrNoAdapters is returned at construction when no brain adapter
	// is registered.
	ErrNoAdapters = errors.New("at least one brain adapter is required")
)

// State is the lifecycle state of a submitted packet.
type State string

const (
	StateQueued       State = "queued"
	StateProcessing   State = "processing"
	StateProcessed    State = "processed"
	StatePartial      State = "partial"
	StateDeadLettered State = "dead_lettered"
)

// AdapterResult records one adapter's outcome for a packet.
type AdapterResult struct {
	Capability packet.Capability `json:"capability"`
	Succeeded  bool              `json:"succeeded"`
	Attempts   int               `json:"attempts"`
	Error      string            `json:"error,omitempty"`
}

// Outcome is the queryable terminal (or in-progress) state of a packet.
type Outcome struct {
	PacketID    string          `json:"packet_id"`
	State       State           `json:"state"`
	Adapters    []AdapterResult `json:"adapters,omitempty"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}

// Host owns the packet queue, the adapter registry, and the worker pool.
// The registry is fixed at construction; nothing mutates it afterwards.
type Host struct {
	adapters map[packet.Capability]brain.Adapter
	breakers map[packet.Capability]*gobreaker.CircuitBreaker

	queue  chan *packet.KnowledgePacket
	pool   *ants.Pool
	dedupe DedupeStore

	adapterTimeout time.Duration
	retries        int
	retryBackoff   time.Duration

	mu       sync.Mutex
	outcomes map[string]*Outcome
	inflight map[string]struct{}

	metrics Metrics
	logger  *slog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	closed   bool
	closedMu sync.RWMutex
}

// Option configures a Host.
type Option func(*Host) error

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) error {
		if logger != nil {
			h.logger = logger
		}
		return nil
	}
}

// WithQueueSize sets the packet queue capacity. Default is 256.
func WithQueueSize(size int) Option {
	return func(h *Host) error {
		if size < 1 {
			return fmt.Errorf("queue size must be positive, got %d", size)
		}
		h.queue = make(chan *packet.KnowledgePacket, size)
		return nil
	}
}

// WithWorkers sets the worker pool size draining the queue. Each worker
// handles one packet's full fan-out, so unrelated packets never block
// each other. Default is 4.
func WithWorkers(n int) Option {
	return func(h *Host) error {
		if n < 1 {
			return fmt.Errorf("worker count must be positive, got %d", n)
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		if h.pool != nil {
			h.pool.Release()
		}
		h.pool = pool
		return nil
	}
}

// WithAdapterTimeout sets the per-adapter write timeout. Default is 10s.
func WithAdapterTimeout(d time.Duration) Option {
	return func(h *Host) error {
		if d > 0 {
			h.adapterTimeout = d
		}
		return nil
	}
}

// WithRetry sets the retry budget per adapter write and the backoff
// between attempts. Default is 1 retry with 500ms backoff.
func WithRetry(retries int, backoff time.Duration) Option {
	return func(h *Host) error {
		if retries < 0 {
			return fmt.Errorf("retries must not be negative, got %d", retries)
		}
		h.retries = retries
		h.retryBackoff = backoff
		return nil
	}
}

// WithDedupeStore sets the seen-packet-id store. Default is an in-memory
// store; production setups use the badger-backed one. The host closes the
// store on Stop.
func WithDedupeStore(store DedupeStore) Option {
	return func(h *Host) error {
		if store != nil {
			h.dedupe = store
		}
		return nil
	}
}

// NewHost creates an ingestion host over the given adapters. Registering
// zero adapters or two adapters for the same capability is a
// configuration error, surfaced here rather than at request time.
func NewHost(adapters []brain.Adapter, opts ...Option) (*Host, error) {
	if len(adapters) == 0 {
		return nil, ErrNoAdapters
	}

	h := &Host{
		adapters:       make(map[packet.Capability]brain.Adapter, len(adapters)),
		breakers:       make(map[packet.Capability]*gobreaker.CircuitBreaker, len(adapters)),
		queue:          make(chan *packet.KnowledgePacket, 256),
		dedupe:         NewMemoryDedupeStore(),
		adapterTimeout: 10 * time.Second,
		retries:        1,
		retryBackoff:   500 * time.Millisecond,
		outcomes:       make(map[string]*Outcome),
		inflight:       make(map[string]struct{}),
		logger:         slog.Default(),
	}

	for _, adapter := range adapters {
		capability := adapter.Capability()
		if !capability.Valid() {
			return nil, fmt.Errorf("adapter registered for unknown capability %q", capability)
		}
		if _, dup := h.adapters[capability]; dup {
			return nil, fmt.Errorf("duplicate adapter for capability %q", capability)
		}
		h.adapters[capability] = adapter
		h.breakers[capability] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    string(capability),
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			if h.pool != nil {
				h.pool.Release()
			}
			return nil, err
		}
	}

	if h.pool == nil {
		pool, err := ants.NewPool(4)
		if err != nil {
			return nil, err
		}
		h.pool = pool
	}

	return h, nil
}

// Start launches the queue drainer. Packets submitted before Start sit in
// the queue until it runs.
func (h *Host) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for p := range h.queue {
			p := p
			if err := h.pool.Submit(func() { h.processPacket(p) }); err != nil {
				// Pool released mid-shutdown; finish the packet inline so
				// it still reaches a terminal state.
				h.processPacket(p)
			}
		}
	}()
}

// Submit validates and enqueues a packet, returning its id immediately
// without waiting for downstream writes. A packet id already processed or
// currently in flight is coalesced into a no-op.
func (h *Host) Submit(p *packet.KnowledgePacket) (string, error) {
	h.closedMu.RLock()
	closed := h.closed
	h.closedMu.RUnlock()
	if closed {
		return "", ErrHostClosed
	}

	if violations := packet.Validate(p); len(violations) > 0 {
		return "", &packet.SchemaViolation{PacketID: p.PacketID, Violations: violations}
	}

	seen, err := h.dedupe.Seen(p.PacketID)
	if err != nil {
		h.logger.Warn("dedupe lookup failed, proceeding without it",
			"packet_id", p.PacketID, "error", err)
	}
	if seen {
		h.metrics.duplicates.Add(1)
		h.logger.Debug("coalesced duplicate packet", "packet_id", p.PacketID)
		return p.PacketID, nil
	}

	h.mu.Lock()
	if _, inflight := h.inflight[p.PacketID]; inflight {
		h.mu.Unlock()
		h.metrics.duplicates.Add(1)
		return p.PacketID, nil
	}
	h.inflight[p.PacketID] = struct{}{}
	h.outcomes[p.PacketID] = &Outcome{PacketID: p.PacketID, State: StateQueued}
	h.mu.Unlock()

	select {
	case h.queue <- p:
		h.metrics.submitted.Add(1)
		return p.PacketID, nil
	default:
		h.mu.Lock()
		delete(h.inflight, p.PacketID)
		delete(h.outcomes, p.PacketID)
		h.mu.Unlock()
		return "", ErrQueueFull
	}
}

// processPacket fans one packet out to every registered adapter whose
// section it carries, concurrently, each write behind its own timeout,
// retry budget, and circuit breaker.
func (h *Host) processPacket(p *packet.KnowledgePacket) {
	h.setState(p.PacketID, StateProcessing)

	targets := make([]packet.Capability, 0, len(h.adapters))
	for capability := range h.adapters {
		if p.Content.Has(capability) {
			targets = append(targets, capability)
		}
	}

	if len(targets) == 0 {
		h.logger.Warn("no registered adapter accepts any packet section",
			"packet_id", p.PacketID, "sections", p.Content.Sections())
		h.finish(p, []AdapterResult{})
		return
	}

	results := make([]AdapterResult, len(targets))
	var wg sync.WaitGroup
	for i, capability := range targets {
		wg.Add(1)
		go func(i int, capability packet.Capability) {
			defer wg.Done()
			results[i] = h.dispatch(capability, p)
		}(i, capability)
	}
	wg.Wait()

	h.finish(p, results)
}

// dispatch performs one adapter write with bounded retries. Adapter
// errors never propagate past here.
func (h *Host) dispatch(capability packet.Capability, p *packet.KnowledgePacket) AdapterResult {
	adapter := h.adapters[capability]
	breaker := h.breakers[capability]
	result := AdapterResult{Capability: capability}

	var lastErr error
	for attempt := 0; attempt <= h.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(h.retryBackoff * time.Duration(attempt))
		}
		result.Attempts = attempt + 1

		_, err := breaker.Execute(func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), h.adapterTimeout)
			defer cancel()
			return nil, adapter.Ingest(ctx, p)
		})
		if err == nil {
			result.Succeeded = true
			return result
		}
		lastErr = err
		h.logger.Warn("adapter write failed",
			"capability", capability,
			"packet_id", p.PacketID,
			"attempt", attempt+1,
			"error", err)
	}

	result.Error = lastErr.Error()
	return result
}

// finish classifies the packet outcome, updates metrics, and marks the
// packet id seen unless every targeted adapter failed.
func (h *Host) finish(p *packet.KnowledgePacket, results []AdapterResult) {
	succeeded := 0
	for _, r := range results {
		if r.Succeeded {
			succeeded++
		}
	}

	var state State
	switch {
	case len(results) == 0 || succeeded == 0:
		state = StateDeadLettered
		h.metrics.deadLettered.Add(1)
		h.metrics.failed.Add(1)
	case succeeded < len(results):
		state = StatePartial
		h.metrics.processed.Add(1)
		h.metrics.failed.Add(1)
	default:
		state = StateProcessed
		h.metrics.processed.Add(1)
	}

	// A dead-lettered packet stays unmarked so a later resubmission can
	// try again; partially processed packets rely on adapter idempotency
	// for the sections that already landed.
	if state != StateDeadLettered {
		if err := h.dedupe.Mark(p.PacketID); err != nil {
			h.logger.Warn("failed to mark packet as seen",
				"packet_id", p.PacketID, "error", err)
		}
	}

	h.mu.Lock()
	h.outcomes[p.PacketID] = &Outcome{
		PacketID:    p.PacketID,
		State:       state,
		Adapters:    results,
		CompletedAt: time.Now().UTC(),
	}
	delete(h.inflight, p.PacketID)
	h.mu.Unlock()

	h.logger.Info("packet processed",
		"packet_id", p.PacketID,
		"state", state,
		"targets", len(results),
		"succeeded", succeeded)
}

func (h *Host) setState(packetID string, state State) {
	h.mu.Lock()
	if outcome, ok := h.outcomes[packetID]; ok {
		outcome.State = state
	}
	h.mu.Unlock()
}

// Outcome returns the current state of a submitted packet.
func (h *Host) Outcome(packetID string) (Outcome, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	outcome, ok := h.outcomes[packetID]
	if !ok {
		return Outcome{}, false
	}
	return *outcome, true
}

// Metrics returns a snapshot of the ingestion counters.
func (h *Host) Metrics() Snapshot {
	return h.metrics.snapshot(len(h.adapters))
}

// AdapterHealth probes every registered adapter.
func (h *Host) AdapterHealth(ctx context.Context) map[packet.Capability]brain.Health {
	health := make(map[packet.Capability]brain.Health, len(h.adapters))
	for capability, adapter := range h.adapters {
		health[capability] = adapter.HealthCheck(ctx)
	}
	return health
}

// Stop closes the queue, drains in-flight packets, and releases the
// worker pool and the dedupe store. Submit fails afterwards; packets
// accepted before Stop still reach a terminal state.
func (h *Host) Stop() {
	h.stopOnce.Do(func() {
		h.closedMu.Lock()
		h.closed = true
		h.closedMu.Unlock()

		close(h.queue)
		h.wg.Wait()

		// Drain the pool before releasing so in-flight fan-outs finish.
		for h.pool.Running() > 0 {
			time.Sleep(10 * time.Millisecond)
		}
		h.pool.Release()

		if err := h.dedupe.Close(); err != nil {
			h.logger.Warn("failed to close dedupe store", "error", err)
		}
	})
}
