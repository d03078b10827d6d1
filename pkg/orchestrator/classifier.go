package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/soundprediction/go-cortex/pkg/llm"
)

// Classifier maps a query to an Intent. Implementations are
// interchangeable strategies: the orchestrator only depends on this
// interface, never on a concrete classifier.
type Classifier interface {
	Classify(ctx context.Context, query string) (Intent, error)
	Name() string
}

// RuleClassifier classifies with keyword heuristics. It never fails, so
// it also serves as the fallback when a learned classifier errors.
type RuleClassifier struct{}

// NewRuleClassifier creates a rule-based classifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

func (c *RuleClassifier) Name() string { return "rules" }

var (
	relationshipMarkers = []string{"who ", "whose ", "wrote", "authored", "discussed", "related to", "connected", "works with", "mentioned"}
	metadataMarkers     = []string{"how many", "count", "list recent", "most recent", "latest", "when was", "what files", "which documents"}
)

// Classify applies the keyword heuristics. A query matching both a
// relationship and a metadata marker is hybrid.
func (c *RuleClassifier) Classify(ctx context.Context, query string) (Intent, error) {
	lowered := strings.ToLower(query)

	relationship := containsAny(lowered, relationshipMarkers)
	metadata := containsAny(lowered, metadataMarkers)

	switch {
	case relationship && metadata:
		return NewIntent(IntentHybrid, 0.7), nil
	case relationship:
		return NewIntent(IntentRelationship, 0.8), nil
	case metadata:
		return NewIntent(IntentMetadata, 0.8), nil
	default:
		return NewIntent(IntentSemantic, 0.6), nil
	}
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// LLMClassifier delegates classification to a language model, repairing
// its JSON output. A model failure falls back to the rule classifier so
// a query is never lost to a classification error.
type LLMClassifier struct {
	client   llm.Client
	fallback *RuleClassifier
}

// NewLLMClassifier creates a model-backed classifier.
func NewLLMClassifier(client llm.Client) *LLMClassifier {
	return &LLMClassifier{client: client, fallback: NewRuleClassifier()}
}

func (c *LLMClassifier) Name() string { return "llm" }

const classifyPrompt = `Classify the user query into exactly one intent type:
- "semantic": conceptual questions answered by similar text passages
- "relationship": questions about who/what is connected to whom/what
- "metadata": counts, listings, recency, or document attributes
- "hybrid": questions needing more than one of the above

Respond with JSON only: {"type": "<intent>", "confidence": <0..1>}`

type classifyReply struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Classify asks the model for an intent and validates the reply.
func (c *LLMClassifier) Classify(ctx context.Context, query string) (Intent, error) {
	resp, err := c.client.Chat(ctx, []llm.Message{
		llm.NewSystemMessage(classifyPrompt),
		llm.NewUserMessage(query),
	})
	if err != nil {
		return c.fallback.Classify(ctx, query)
	}

	var reply classifyReply
	if err := llm.UnmarshalRepaired(resp.Content, &reply); err != nil {
		return c.fallback.Classify(ctx, query)
	}

	intentType := IntentType(reply.Type)
	if !intentType.Valid() {
		return Intent{}, fmt.Errorf("model returned unknown intent type %q", reply.Type)
	}
	confidence := reply.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.5
	}
	return NewIntent(intentType, confidence), nil
}
