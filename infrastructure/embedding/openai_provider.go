package embedding

import (
	"context"
	"errors"
	"time"

	pkgerrors "navgraph-backend/pkg/errors"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// OpenAIProvider implements ports.EmbeddingProvider against the OpenAI
// embeddings API. Calls run through a circuit breaker so a flapping
// provider surfaces as a typed Unavailable error instead of hammering the
// API; the semantic repair strategy then fails fast.
type OpenAIProvider struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewOpenAIProvider creates an embedding provider. baseURL overrides the
// API endpoint for self-hosted compatible servers; empty model selects
// text-embedding-3-small.
func NewOpenAIProvider(apiKey, baseURL, model string, logger *zap.Logger) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	embeddingModel := openai.SmallEmbedding3
	if model != "" {
		embeddingModel = openai.EmbeddingModel(model)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding-provider",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Embedding provider breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(cfg),
		model:   embeddingModel,
		breaker: breaker,
		logger:  logger,
	}
}

// Embed returns the embedding vector for the given text
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: p.model,
		})
	})
	if err != nil {
		// Breaker-open and transport failures both mean the provider is
		// unreachable from the caller's point of view.
		return nil, pkgerrors.NewUnavailableError("embedding provider").
			WithOperation("Embed").
			WithCause(err)
	}

	resp, ok := result.(openai.EmbeddingResponse)
	if !ok || len(resp.Data) == 0 {
		return nil, pkgerrors.NewExternalError("embedding provider",
			errors.New("empty embedding response")).WithOperation("Embed")
	}
	return resp.Data[0].Embedding, nil
}
