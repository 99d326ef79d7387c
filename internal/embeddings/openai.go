package embeddings

import (
	"context"
	"time"

	"github.com/sashabaranov/go-openai"

	"localmind/internal/config"
	apperrors "localmind/internal/errors"
)

// OpenAIService implements Service against the OpenAI embeddings API.
type OpenAIService struct {
	client      *openai.Client
	model       string
	dimension   int
	timeout     time.Duration
	rateLimiter *RateLimiter
}

// NewOpenAIService creates an embedding service for one role (Library
// or Journal) using the given model name.
func NewOpenAIService(cfg *config.OpenAIConfig, model string) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.Validation("openai api key is required for embeddings")
	}

	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = 60
	}

	timeout := time.Duration(cfg.RequestTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIService{
		client:      openai.NewClient(cfg.APIKey),
		model:       model,
		dimension:   cfg.EmbeddingDimension,
		timeout:     timeout,
		rateLimiter: NewRateLimiter(rpm, time.Minute/time.Duration(rpm)),
	}, nil
}

// GenerateEmbedding embeds a single text.
func (s *OpenAIService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	batch, err := s.GenerateBatchEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return batch[0], nil
}

// GenerateBatchEmbeddings embeds texts in one API call, preserving order.
func (s *OpenAIService) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, apperrors.Validation("no texts to embed")
	}

	if err := s.rateLimiter.Wait(ctx); err != nil {
		return nil, apperrors.Embedding("rate limiter wait canceled", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimension,
	})
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, apperrors.Timeout("embedding request timed out")
		}
		return nil, apperrors.Embedding("embedding request failed", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, apperrors.Embedding("embedding response size mismatch", nil)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		vectors[i] = item.Embedding
	}
	return vectors, nil
}

// GetDimension returns the configured embedding dimension.
func (s *OpenAIService) GetDimension() int { return s.dimension }

// GetModel returns the model name.
func (s *OpenAIService) GetModel() string { return s.model }

// HealthCheck embeds a trivial string to verify credentials and reach.
func (s *OpenAIService) HealthCheck(ctx context.Context) error {
	_, err := s.GenerateEmbedding(ctx, "ping")
	return err
}
