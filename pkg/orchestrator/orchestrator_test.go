package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/go-cortex/pkg/brain"
	"github.com/soundprediction/go-cortex/pkg/llm"
	"github.com/soundprediction/go-cortex/pkg/packet"
)

// mockBrain implements brain.Adapter returning canned fragments.
type mockBrain struct {
	capability packet.Capability
	fragments  []brain.Fragment
	queryErr   error

	lastReq brain.QueryRequest
	queried bool
}

func (m *mockBrain) Capability() packet.Capability { return m.capability }

func (m *mockBrain) Ingest(ctx context.Context, p *packet.KnowledgePacket) error { return nil }

func (m *mockBrain) Query(ctx context.Context, req brain.QueryRequest) ([]brain.Fragment, error) {
	m.lastReq = req
	m.queried = true
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.fragments, nil
}

func (m *mockBrain) HealthCheck(ctx context.Context) brain.Health {
	return brain.Healthy(time.Millisecond)
}

func (m *mockBrain) Close(ctx context.Context) error { return nil }

// resolverBrain is a mockBrain that also resolves entity names.
type resolverBrain struct {
	mockBrain
	names      []string
	resolveErr error
}

func (r *resolverBrain) EntityNames(ctx context.Context, text string, limit int) ([]string, error) {
	if r.resolveErr != nil {
		return nil, r.resolveErr
	}
	return r.names, nil
}

// mockLLM implements llm.Client with a scripted reply.
type mockLLM struct {
	content string
	err     error
}

func (m *mockLLM) Chat(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Response{Content: m.content}, nil
}

func (m *mockLLM) Close() error { return nil }

func fragment(text string, score float64) brain.Fragment {
	return brain.Fragment{Text: text, Backend: "test", RelevanceScore: score}
}

func rulesRegistry(t *testing.T) *Registry {
	t.Helper()
	registry := NewRegistry()
	require.NoError(t, registry.Register(Strategy{
		Name:        "rules",
		Classifier:  NewRuleClassifier(),
		Synthesizer: NewConcatSynthesizer(),
	}))
	return registry
}

func TestRuleClassifier(t *testing.T) {
	c := NewRuleClassifier()
	cases := []struct {
		query string
		want  IntentType
	}{
		{"what is thermal throttling", IntentSemantic},
		{"who discussed aluminum heat sinks", IntentRelationship},
		{"who wrote the most recent report", IntentHybrid},
		{"how many documents were ingested", IntentMetadata},
		{"list recent files", IntentMetadata},
	}
	for _, tc := range cases {
		intent, err := c.Classify(context.Background(), tc.query)
		require.NoError(t, err)
		assert.Equal(t, tc.want, intent.Type, "query: %s", tc.query)
		assert.Greater(t, intent.Confidence, 0.0)
	}
}

func TestIntentRouting(t *testing.T) {
	intent := NewIntent(IntentRelationship, 0.8)
	assert.Equal(t, packet.CapabilityGraph, intent.PrimaryBrain)
	assert.Contains(t, intent.FallbackBrains, packet.CapabilityVector)

	intent = NewIntent(IntentMetadata, 0.8)
	assert.Equal(t, packet.CapabilityAnalytical, intent.PrimaryBrain)

	intent = NewIntent(IntentSemantic, 0.6)
	assert.Equal(t, packet.CapabilityVector, intent.PrimaryBrain)
}

func TestNewRequiresRegisteredDefaultStrategy(t *testing.T) {
	brains := map[packet.Capability]brain.Adapter{
		packet.CapabilityVector: &mockBrain{capability: packet.CapabilityVector},
	}
	_, err := New(brains, rulesRegistry(t), "nope")
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	_, err = New(nil, rulesRegistry(t), "rules")
	assert.ErrorIs(t, err, ErrNoBrains)
}

func TestQueryUnknownStrategy(t *testing.T) {
	brains := map[packet.Capability]brain.Adapter{
		packet.CapabilityVector: &mockBrain{capability: packet.CapabilityVector},
	}
	o, err := New(brains, rulesRegistry(t), "rules")
	require.NoError(t, err)

	_, err = o.Query(context.Background(), "anything", 5, "not-registered")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestQueryMergesRanksAndTruncates(t *testing.T) {
	vector := &mockBrain{
		capability: packet.CapabilityVector,
		fragments: []brain.Fragment{
			fragment("high", 0.9),
			fragment("low", 0.2),
			fragment("mid", 0.5),
		},
	}
	graph := &mockBrain{
		capability: packet.CapabilityGraph,
		fragments:  []brain.Fragment{fragment("graph fact", 0.7)},
	}
	brains := map[packet.Capability]brain.Adapter{
		packet.CapabilityVector: vector,
		packet.CapabilityGraph:  graph,
	}
	o, err := New(brains, rulesRegistry(t), "rules")
	require.NoError(t, err)

	result, err := o.Query(context.Background(), "what is thermal throttling", 3, "")
	require.NoError(t, err)

	require.Len(t, result.Sources, 3)
	assert.Equal(t, "high", result.Sources[0].Text)
	assert.Equal(t, "graph fact", result.Sources[1].Text)
	assert.Equal(t, "mid", result.Sources[2].Text)
	assert.Equal(t, []string{"graph", "vector"}, result.BrainsUsed)
	assert.Equal(t, "rules", result.StrategyUsed)
	assert.InDelta(t, 0.6, result.Confidence, 0.001)
}

func TestQueryDedupesIdenticalFragments(t *testing.T) {
	shared := fragment("the same evidence", 0.8)
	brains := map[packet.Capability]brain.Adapter{
		packet.CapabilityVector: &mockBrain{capability: packet.CapabilityVector, fragments: []brain.Fragment{shared}},
		packet.CapabilityGraph:  &mockBrain{capability: packet.CapabilityGraph, fragments: []brain.Fragment{shared}},
	}
	o, err := New(brains, rulesRegistry(t), "rules")
	require.NoError(t, err)

	result, err := o.Query(context.Background(), "what is thermal throttling", 10, "")
	require.NoError(t, err)
	assert.Len(t, result.Sources, 1)
}

func TestQueryToleratesPartialBrainFailure(t *testing.T) {
	vector := &mockBrain{
		capability: packet.CapabilityVector,
		fragments:  []brain.Fragment{fragment("still here", 0.9)},
	}
	graph := &mockBrain{
		capability: packet.CapabilityGraph,
		queryErr:   errors.New("bolt timeout"),
	}
	brains := map[packet.Capability]brain.Adapter{
		packet.CapabilityVector: vector,
		packet.CapabilityGraph:  graph,
	}
	o, err := New(brains, rulesRegistry(t), "rules")
	require.NoError(t, err)

	result, err := o.Query(context.Background(), "what is thermal throttling", 5, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"vector"}, result.BrainsUsed)
	// Semantic intent confidence 0.6 scaled by 1 of 2 brains answering.
	assert.InDelta(t, 0.3, result.Confidence, 0.001)
}

func TestQueryAllBrainsFailing(t *testing.T) {
	down := errors.New("backend down")
	brains := map[packet.Capability]brain.Adapter{
		packet.CapabilityVector: &mockBrain{capability: packet.CapabilityVector, queryErr: down},
		packet.CapabilityGraph:  &mockBrain{capability: packet.CapabilityGraph, queryErr: down},
	}
	o, err := New(brains, rulesRegistry(t), "rules")
	require.NoError(t, err)

	_, err = o.Query(context.Background(), "what is thermal throttling", 5, "")
	assert.ErrorIs(t, err, ErrAllBrainsFailed)
}

func TestRelationshipQueryFeedsEntityNamesToVector(t *testing.T) {
	graph := &resolverBrain{
		mockBrain: mockBrain{
			capability: packet.CapabilityGraph,
			fragments:  []brain.Fragment{fragment("Sarah Chen authored thermal-review.md", 0.8)},
		},
		names: []string{"Sarah Chen", "thermal-review.md"},
	}
	vector := &mockBrain{
		capability: packet.CapabilityVector,
		fragments:  []brain.Fragment{fragment("aluminum heat sinks outperform copper", 0.7)},
	}
	brains := map[packet.Capability]brain.Adapter{
		packet.CapabilityVector: vector,
		packet.CapabilityGraph:  graph,
	}
	o, err := New(brains, rulesRegistry(t), "rules")
	require.NoError(t, err)

	result, err := o.Query(context.Background(), "who discussed aluminum heat sinks", 5, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"graph", "vector"}, result.BrainsUsed)
	assert.Equal(t, []string{"Sarah Chen", "thermal-review.md"}, vector.lastReq.EntityNames)
}

func TestRelationshipQueryEntityResolutionFailureIsNonFatal(t *testing.T) {
	graph := &resolverBrain{
		mockBrain: mockBrain{
			capability: packet.CapabilityGraph,
			fragments:  []brain.Fragment{fragment("graph fact", 0.8)},
		},
		resolveErr: errors.New("resolution failed"),
	}
	vector := &mockBrain{
		capability: packet.CapabilityVector,
		fragments:  []brain.Fragment{fragment("semantic fact", 0.7)},
	}
	brains := map[packet.Capability]brain.Adapter{
		packet.CapabilityVector: vector,
		packet.CapabilityGraph:  graph,
	}
	o, err := New(brains, rulesRegistry(t), "rules")
	require.NoError(t, err)

	result, err := o.Query(context.Background(), "who discussed aluminum heat sinks", 5, "")
	require.NoError(t, err)
	assert.Len(t, result.BrainsUsed, 2)
	assert.Empty(t, vector.lastReq.EntityNames)
}

func TestQueryDegradesWhenSynthesisFails(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Strategy{
		Name:        "llm",
		Classifier:  NewRuleClassifier(),
		Synthesizer: NewLLMSynthesizer(&mockLLM{err: errors.New("model unreachable")}),
	}))
	brains := map[packet.Capability]brain.Adapter{
		packet.CapabilityVector: &mockBrain{
			capability: packet.CapabilityVector,
			fragments:  []brain.Fragment{fragment("raw evidence", 0.9)},
		},
	}
	o, err := New(brains, registry, "llm")
	require.NoError(t, err)

	result, err := o.Query(context.Background(), "what is thermal throttling", 5, "")
	require.NoError(t, err)
	assert.Equal(t, "llm-degraded", result.StrategyUsed)
	assert.Contains(t, result.ResponseText, "raw evidence")
}

func TestLLMClassifierFallsBackToRules(t *testing.T) {
	c := NewLLMClassifier(&mockLLM{err: errors.New("model unreachable")})
	intent, err := c.Classify(context.Background(), "who discussed aluminum heat sinks")
	require.NoError(t, err)
	assert.Equal(t, IntentRelationship, intent.Type)
}

func TestLLMClassifierRepairsMalformedJSON(t *testing.T) {
	// Trailing fence and missing closing brace, as models tend to emit.
	c := NewLLMClassifier(&mockLLM{content: "```json\n{\"type\": \"metadata\", \"confidence\": 0.9\n```"})
	intent, err := c.Classify(context.Background(), "how many documents were ingested")
	require.NoError(t, err)
	assert.Equal(t, IntentMetadata, intent.Type)
	assert.InDelta(t, 0.9, intent.Confidence, 0.001)
}

func TestLLMClassifierRejectsUnknownIntent(t *testing.T) {
	c := NewLLMClassifier(&mockLLM{content: `{"type": "telepathic", "confidence": 0.9}`})
	_, err := c.Classify(context.Background(), "anything")
	assert.Error(t, err)
}

func TestConcatSynthesizerEmptyFragments(t *testing.T) {
	s := NewConcatSynthesizer()
	text, err := s.Synthesize(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "No matching content found.", text)
}

func TestRegistryRejectsDuplicatesAndIncompleteStrategies(t *testing.T) {
	registry := NewRegistry()
	strategy := Strategy{
		Name:        "rules",
		Classifier:  NewRuleClassifier(),
		Synthesizer: NewConcatSynthesizer(),
	}
	require.NoError(t, registry.Register(strategy))
	assert.Error(t, registry.Register(strategy))
	assert.Error(t, registry.Register(Strategy{Name: "half", Classifier: NewRuleClassifier()}))

	assert.Equal(t, []string{"rules"}, registry.Names())
}
