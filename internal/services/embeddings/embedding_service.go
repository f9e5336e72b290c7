package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/interfaces"
	"github.com/ternarybob/finrag/internal/models"
)

// Service wraps an embedding provider with a per-call timeout, bounded retry on
// transient failures and a dimension check. It is itself an interfaces.Embedder.
type Service struct {
	provider interfaces.Embedder
	timeout  time.Duration
	backoff  common.Backoff
	logger   arbor.ILogger
}

var _ interfaces.Embedder = (*Service)(nil)

// NewService wraps provider. A zero timeout disables the per-call deadline.
func NewService(provider interfaces.Embedder, timeout time.Duration, backoff common.Backoff, logger arbor.ILogger) *Service {
	return &Service{
		provider: provider,
		timeout:  timeout,
		backoff:  backoff,
		logger:   logger,
	}
}

// NewProvider builds the embedding provider selected by config.Embeddings.Provider
func NewProvider(ctx context.Context, config *common.Config) (interfaces.Embedder, error) {
	switch config.Embeddings.Provider {
	case "gemini":
		return NewGeminiEmbedder(ctx, config)
	case "hashing", "":
		return NewHashingEmbedder(config.Embeddings.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embeddings provider: %s", config.Embeddings.Provider)
	}
}

// NewServiceFromConfig builds the configured provider and wraps it
func NewServiceFromConfig(ctx context.Context, config *common.Config, logger arbor.ILogger) (*Service, error) {
	provider, err := NewProvider(ctx, config)
	if err != nil {
		return nil, err
	}

	timeout := common.ParseDuration(config.Embeddings.Timeout, 10*time.Second)
	service := NewService(provider, timeout, common.NewBackoff(config.Embeddings.Retry), logger)

	logger.Info().
		Str("provider", config.Embeddings.Provider).
		Str("model", provider.Model()).
		Int("dimension", provider.Dimension()).
		Dur("timeout", timeout).
		Msg("Embedding service initialized")

	return service, nil
}

// Dimension returns the provider's vector length
func (s *Service) Dimension() int { return s.provider.Dimension() }

// Model returns the provider's model identifier
func (s *Service) Model() string { return s.provider.Model() }

// Embed returns the vector for text.
//
// Errors:
//   - *models.UpstreamTimeoutError when every attempt timed out
//   - *models.ModelUnavailableError when the provider rejected or failed the request
//   - ctx.Err() when the caller cancelled
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	start := time.Now()
	var vector []float32
	attempts, err := common.Retry(ctx, s.backoff, s.logger, "embed", models.IsTransient, func(ctx context.Context) error {
		callCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		v, err := s.provider.Embed(callCtx, text)
		if err != nil {
			return err
		}
		vector = v
		return nil
	})

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		if models.IsTimeout(err) {
			return nil, &models.UpstreamTimeoutError{Operation: "embed", Attempts: attempts, Err: err}
		}
		return nil, &models.ModelUnavailableError{Component: "embedder", Provider: s.provider.Model(), Err: err}
	}

	if len(vector) != s.provider.Dimension() {
		return nil, &models.ModelUnavailableError{
			Component: "embedder",
			Provider:  s.provider.Model(),
			Err:       fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.provider.Dimension(), len(vector)),
		}
	}

	s.logger.Trace().
		Str("model", s.provider.Model()).
		Int("attempts", attempts).
		Int("text_length", len(text)).
		Dur("duration", time.Since(start)).
		Msg("Generated embedding")

	return vector, nil
}

// EmbedBatch embeds texts sequentially and stops at the first failure
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		v, err := s.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d of %d: %w", i+1, len(texts), err)
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}

// EmbedChunks embeds each chunk's text and pairs the vectors with chunk IDs
func (s *Service) EmbedChunks(ctx context.Context, chunks []models.Chunk) ([]models.Embedding, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	out := make([]models.Embedding, len(chunks))
	for i, c := range chunks {
		out[i] = models.Embedding{ChunkID: c.ID, Vector: vectors[i]}
	}
	return out, nil
}
