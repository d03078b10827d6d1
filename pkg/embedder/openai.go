package embedder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const defaultMaxRetries = 3

// OpenAIEmbedder implements the Client interface for OpenAI embedding
// models and OpenAI-compatible services.
type OpenAIEmbedder struct {
	client *openai.Client
	config Config
}

// NewOpenAIEmbedder creates a new OpenAI embedder client.
func NewOpenAIEmbedder(apiKey string, config Config) *OpenAIEmbedder {
	var client *openai.Client
	if config.BaseURL != "" {
		clientConfig := openai.DefaultConfig(apiKey)
		clientConfig.BaseURL = config.BaseURL
		client = openai.NewClientWithConfig(clientConfig)
	} else {
		client = openai.NewClient(apiKey)
	}

	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.Dimensions == 0 {
		switch config.Model {
		case "text-embedding-3-large":
			config.Dimensions = 3072
		default:
			config.Dimensions = 1536
		}
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaultMaxRetries
	}

	return &OpenAIEmbedder{client: client, config: config}
}

// Embed generates embeddings for multiple texts, batching requests.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var all [][]float32
	for i := 0; i < len(texts); i += e.config.BatchSize {
		end := i + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d-%d: %w", i, end, err)
		}
		all = append(all, batch...)
	}
	return all, nil
}

// EmbedSingle generates an embedding for a single text.
func (e *OpenAIEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return embeddings[0], nil
}

// Dimensions returns the number of dimensions in the embeddings.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// Close cleans up resources (no-op for OpenAI embedder).
func (e *OpenAIEmbedder) Close() error {
	return nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req := openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(e.config.Model),
		}
		if e.config.Dimensions > 0 {
			req.Dimensions = e.config.Dimensions
		}

		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err != nil {
			lastErr = err
			if isRetriable(err) && attempt < e.config.MaxRetries {
				continue
			}
			return nil, fmt.Errorf("openai embedding request failed: %w", err)
		}

		embeddings := make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			vec := make([]float32, len(data.Embedding))
			copy(vec, data.Embedding)
			embeddings[i] = vec
		}
		return embeddings, nil
	}

	return nil, fmt.Errorf("all retries exhausted, last error: %w", lastErr)
}

func isRetriable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"rate limit", "rate_limit", "timeout", "connection",
		"internal server error", "service unavailable",
		"bad gateway", "gateway timeout", "temporary failure",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
