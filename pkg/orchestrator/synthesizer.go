package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/soundprediction/go-cortex/pkg/brain"
	"github.com/soundprediction/go-cortex/pkg/llm"
)

// Synthesizer produces the final answer text from retrieved fragments.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, fragments []brain.Fragment) (string, error)
	Name() string
}

const synthesizePrompt = `You answer questions using only the provided evidence fragments.
Cite nothing outside them. If the fragments do not answer the question, say so.
Keep the answer concise.`

// LLMSynthesizer merges fragments into a natural-language answer via a
// language model.
type LLMSynthesizer struct {
	client llm.Client
}

// NewLLMSynthesizer creates a model-backed synthesizer.
func NewLLMSynthesizer(client llm.Client) *LLMSynthesizer {
	return &LLMSynthesizer{client: client}
}

func (s *LLMSynthesizer) Name() string { return "llm" }

// Synthesize sends the query and fragments to the model.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, query string, fragments []brain.Fragment) (string, error) {
	var evidence strings.Builder
	for i, fragment := range fragments {
		fmt.Fprintf(&evidence, "[%d] (%s", i+1, fragment.Backend)
		if fragment.Author != "" {
			fmt.Fprintf(&evidence, ", author: %s", fragment.Author)
		}
		fmt.Fprintf(&evidence, ") %s\n", fragment.Text)
	}

	resp, err := s.client.Chat(ctx, []llm.Message{
		llm.NewSystemMessage(synthesizePrompt),
		llm.NewUserMessage(fmt.Sprintf("Question: %s\n\nEvidence:\n%s", query, evidence.String())),
	})
	if err != nil {
		return "", fmt.Errorf("synthesis call failed: %w", err)
	}
	return resp.Content, nil
}

// ConcatSynthesizer is the degraded mode used when the language model is
// unreachable: it returns the top-ranked fragments concatenated.
type ConcatSynthesizer struct{}

// NewConcatSynthesizer creates the raw-fragment synthesizer.
func NewConcatSynthesizer() *ConcatSynthesizer {
	return &ConcatSynthesizer{}
}

func (s *ConcatSynthesizer) Name() string { return "concat" }

// Synthesize joins fragment texts in rank order.
func (s *ConcatSynthesizer) Synthesize(ctx context.Context, query string, fragments []brain.Fragment) (string, error) {
	if len(fragments) == 0 {
		return "No matching content found.", nil
	}
	texts := make([]string, len(fragments))
	for i, fragment := range fragments {
		texts[i] = fragment.Text
	}
	return strings.Join(texts, "\n\n"), nil
}
