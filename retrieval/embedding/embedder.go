// Package embedding turns chunk text into vectors through an OpenAI-compatible
// embeddings endpoint, with a read-through cache in front.
package embedding

import (
	"context"
	"fmt"

	apperrors "ai-baas/backend/pkg/errors"
	"ai-baas/backend/pkg/resilience"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder produces one vector per input text
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config selects the embeddings endpoint and model
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// LangchainEmbedder calls a langchaingo embedder behind a circuit breaker
type LangchainEmbedder struct {
	embedder embeddings.Embedder
	breaker  *resilience.CircuitBreaker
}

// NewOpenAIEmbedder builds an embedder for an OpenAI-compatible API
func NewOpenAIEmbedder(cfg Config, breaker *resilience.CircuitBreaker) (*LangchainEmbedder, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create embeddings client: %w", err)
	}
	e, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return NewLangchainEmbedder(e, breaker), nil
}

func NewLangchainEmbedder(e embeddings.Embedder, breaker *resilience.CircuitBreaker) *LangchainEmbedder {
	return &LangchainEmbedder{embedder: e, breaker: breaker}
}

func (l *LangchainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var vectors [][]float32
	err := l.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		vectors, err = l.embedder.EmbedDocuments(ctx, texts)
		return err
	})
	if err != nil {
		return nil, apperrors.Upstream("embedding", err)
	}
	if len(vectors) != len(texts) {
		return nil, apperrors.Upstream("embedding", fmt.Errorf("got %d vectors for %d texts", len(vectors), len(texts)))
	}
	return vectors, nil
}

func (l *LangchainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := l.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		vector, err = l.embedder.EmbedQuery(ctx, text)
		return err
	})
	if err != nil {
		return nil, apperrors.Upstream("embedding", err)
	}
	return vector, nil
}
