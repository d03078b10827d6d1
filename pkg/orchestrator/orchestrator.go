package orchestrator

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/soundprediction/go-cortex/pkg/brain"
	"github.com/soundprediction/go-cortex/pkg/packet"
)

var (
	// ErrAllBrainsFailed is returned when every targeted brain errored
	// or timed out. A query never silently succeeds with nothing.
	ErrAllBrainsFailed = errors.New("all brains failed to answer")

	// ErrNoBrains is returned at construction when no brain is wired.
	ErrNoBrains = errors.New("at least one brain is required")

	// ErrUnknownStrategy is returned when a query names a strategy that
	// was never registered.
	ErrUnknownStrategy = errors.New("unknown orchestration strategy")
)

// EntityResolver resolves entity names matching a query, feeding
// dependent semantic sub-queries. The graph brain implements it.
type EntityResolver interface {
	EntityNames(ctx context.Context, text string, limit int) ([]string, error)
}

// Result is the synthesized answer with provenance. Created per query,
// returned to the caller, not persisted.
type Result struct {
	ResponseText string           `json:"response"`
	Sources      []brain.Fragment `json:"sources"`
	BrainsUsed   []string         `json:"brains_used"`
	StrategyUsed string           `json:"strategy_used"`
	Confidence   float64          `json:"confidence"`
}

// Orchestrator routes queries: classify intent, fan out to brains,
// synthesize. Strategies and brains are fixed at construction.
type Orchestrator struct {
	brains          map[packet.Capability]brain.Adapter
	registry        *Registry
	defaultStrategy string
	degraded        Synthesizer

	perBrainTimeout time.Duration
	overallTimeout  time.Duration

	logger *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTimeouts sets the per-brain and aggregate query timeouts.
// Defaults are 5s and 15s.
func WithTimeouts(perBrain, overall time.Duration) Option {
	return func(o *Orchestrator) {
		if perBrain > 0 {
			o.perBrainTimeout = perBrain
		}
		if overall > 0 {
			o.overallTimeout = overall
		}
	}
}

// New creates an orchestrator over the given brains and strategy
// registry. The default strategy must be registered; a bad default is a
// construction-time error, not a request-time one.
func New(brains map[packet.Capability]brain.Adapter, registry *Registry, defaultStrategy string, opts ...Option) (*Orchestrator, error) {
	if len(brains) == 0 {
		return nil, ErrNoBrains
	}
	if registry == nil {
		return nil, fmt.Errorf("strategy registry is required")
	}
	if _, ok := registry.Get(defaultStrategy); !ok {
		return nil, fmt.Errorf("%w: default strategy %q", ErrUnknownStrategy, defaultStrategy)
	}

	o := &Orchestrator{
		brains:          brains,
		registry:        registry,
		defaultStrategy: defaultStrategy,
		degraded:        NewConcatSynthesizer(),
		perBrainTimeout: 5 * time.Second,
		overallTimeout:  15 * time.Second,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Query answers a natural-language query. strategyName selects a
// registered strategy; empty means the default. The query proceeds with
// whatever brains succeed and only fails hard when none do.
func (o *Orchestrator) Query(ctx context.Context, text string, nResults int, strategyName string) (*Result, error) {
	if strategyName == "" {
		strategyName = o.defaultStrategy
	}
	strategy, ok := o.registry.Get(strategyName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategyName)
	}
	if nResults <= 0 {
		nResults = 10
	}

	ctx, cancel := context.WithTimeout(ctx, o.overallTimeout)
	defer cancel()

	intent, err := strategy.Classifier.Classify(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("intent classification failed: %w", err)
	}
	o.logger.Debug("classified query",
		"intent", intent.Type,
		"primary", intent.PrimaryBrain,
		"confidence", intent.Confidence)

	targets := o.targetBrains(intent)
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no registered brain matches intent %q", ErrAllBrainsFailed, intent.Type)
	}

	fragments, brainsUsed, failures := o.dispatch(ctx, intent, targets, text, nResults)
	if len(brainsUsed) == 0 {
		return nil, fmt.Errorf("%w: %d sub-queries failed", ErrAllBrainsFailed, failures)
	}

	fragments = dedupeFragments(fragments)
	sort.SliceStable(fragments, func(i, j int) bool {
		return fragments[i].RelevanceScore > fragments[j].RelevanceScore
	})
	if len(fragments) > nResults {
		fragments = fragments[:nResults]
	}

	// Confidence drops proportionally with the fraction of brains that
	// failed to answer.
	confidence := intent.Confidence * float64(len(brainsUsed)) / float64(len(targets))

	responseText, synthErr := strategy.Synthesizer.Synthesize(ctx, text, fragments)
	strategyUsed := strategyName
	if synthErr != nil {
		o.logger.Warn("synthesis unavailable, degrading to raw fragments", "error", synthErr)
		responseText, _ = o.degraded.Synthesize(ctx, text, fragments)
		strategyUsed = strategyName + "-degraded"
	}

	return &Result{
		ResponseText: responseText,
		Sources:      fragments,
		BrainsUsed:   brainsUsed,
		StrategyUsed: strategyUsed,
		Confidence:   confidence,
	}, nil
}

// targetBrains orders the registered brains as primary then fallbacks.
func (o *Orchestrator) targetBrains(intent Intent) []packet.Capability {
	var targets []packet.Capability
	if _, ok := o.brains[intent.PrimaryBrain]; ok {
		targets = append(targets, intent.PrimaryBrain)
	}
	for _, capability := range intent.FallbackBrains {
		if _, ok := o.brains[capability]; ok {
			targets = append(targets, capability)
		}
	}
	return targets
}

type subResult struct {
	capability packet.Capability
	fragments  []brain.Fragment
	err        error
}

// dispatch runs one sub-query per targeted brain. Independent brains run
// concurrently; the semantic sub-query of a relationship-intent query
// waits for the graph lookup so it can filter on the resolved entity
// names.
func (o *Orchestrator) dispatch(ctx context.Context, intent Intent, targets []packet.Capability, text string, nResults int) ([]brain.Fragment, []string, int) {
	var entityNames []string
	results := make([]subResult, 0, len(targets))
	remaining := targets

	dependent := intent.Type == IntentRelationship || intent.Type == IntentHybrid
	if dependent && containsCapability(targets, packet.CapabilityGraph) && containsCapability(targets, packet.CapabilityVector) {
		graphResult := o.subQuery(ctx, packet.CapabilityGraph, brain.QueryRequest{Text: text, Limit: nResults})
		results = append(results, graphResult)

		if graphResult.err == nil {
			if resolver, ok := o.brains[packet.CapabilityGraph].(EntityResolver); ok {
				names, err := resolver.EntityNames(ctx, text, nResults)
				if err != nil {
					o.logger.Warn("entity resolution failed, semantic search proceeds unfiltered", "error", err)
				} else {
					entityNames = names
				}
			}
		}
		remaining = withoutCapability(targets, packet.CapabilityGraph)
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, capability := range remaining {
		wg.Add(1)
		go func(capability packet.Capability) {
			defer wg.Done()
			req := brain.QueryRequest{Text: text, Limit: nResults}
			if capability == packet.CapabilityVector {
				req.EntityNames = entityNames
			}
			result := o.subQuery(ctx, capability, req)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(capability)
	}
	wg.Wait()

	var fragments []brain.Fragment
	var brainsUsed []string
	failures := 0
	for _, result := range results {
		if result.err != nil {
			failures++
			o.logger.Warn("brain sub-query failed",
				"capability", result.capability, "error", result.err)
			continue
		}
		brainsUsed = append(brainsUsed, string(result.capability))
		fragments = append(fragments, result.fragments...)
	}
	sort.Strings(brainsUsed)
	return fragments, brainsUsed, failures
}

func (o *Orchestrator) subQuery(ctx context.Context, capability packet.Capability, req brain.QueryRequest) subResult {
	subCtx, cancel := context.WithTimeout(ctx, o.perBrainTimeout)
	defer cancel()

	fragments, err := o.brains[capability].Query(subCtx, req)
	return subResult{capability: capability, fragments: fragments, err: err}
}

// dedupeFragments drops fragments with identical content, keyed by a
// hash of the text.
func dedupeFragments(fragments []brain.Fragment) []brain.Fragment {
	seen := make(map[[32]byte]struct{}, len(fragments))
	deduped := fragments[:0]
	for _, fragment := range fragments {
		key := sha256.Sum256([]byte(fragment.Text))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, fragment)
	}
	return deduped
}

func containsCapability(list []packet.Capability, capability packet.Capability) bool {
	for _, c := range list {
		if c == capability {
			return true
		}
	}
	return false
}

func withoutCapability(list []packet.Capability, capability packet.Capability) []packet.Capability {
	out := make([]packet.Capability, 0, len(list))
	for _, c := range list {
		if c != capability {
			out = append(out, c)
		}
	}
	return out
}
