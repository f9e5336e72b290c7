package embeddings

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/models"
)

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestHashingEmbedder(t *testing.T) {
	e, err := NewHashingEmbedder(256)
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, 256, e.Dimension())
	assert.Equal(t, "hashing-256", e.Model())

	t.Run("deterministic and normalised", func(t *testing.T) {
		a, err := e.Embed(ctx, "Apple reported record iPhone revenue")
		require.NoError(t, err)
		b, err := e.Embed(ctx, "Apple reported record iPhone revenue")
		require.NoError(t, err)

		assert.Equal(t, a, b)
		assert.Len(t, a, 256)
		assert.InDelta(t, 1.0, math.Sqrt(dot(a, a)), 1e-5)
	})

	t.Run("related text scores higher", func(t *testing.T) {
		query, _ := e.Embed(ctx, "Tesla stock price today")
		related, _ := e.Embed(ctx, "Tesla stock price rose 3% in early trading")
		unrelated, _ := e.Embed(ctx, "Central bank holds interest rates steady")

		assert.Greater(t, dot(query, related), dot(query, unrelated))
	})

	t.Run("stopwords only yields zero vector", func(t *testing.T) {
		v, err := e.Embed(ctx, "what is the")
		require.NoError(t, err)
		assert.Zero(t, dot(v, v))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := e.Embed(cancelled, "anything")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("invalid dimension", func(t *testing.T) {
		_, err := NewHashingEmbedder(0)
		assert.Error(t, err)
	})
}

// scriptedEmbedder returns errs in order, then succeeds
type scriptedEmbedder struct {
	errs      []error
	dimension int
	returnDim int
	calls     atomic.Int32
	block     bool
}

func (s *scriptedEmbedder) Dimension() int { return s.dimension }
func (s *scriptedEmbedder) Model() string  { return "scripted" }

func (s *scriptedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	n := int(s.calls.Add(1))
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n <= len(s.errs) {
		return nil, s.errs[n-1]
	}
	dim := s.dimension
	if s.returnDim > 0 {
		dim = s.returnDim
	}
	return make([]float32, dim), nil
}

func fastBackoff(attempts int) common.Backoff {
	return common.Backoff{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestServiceEmbed(t *testing.T) {
	logger := arbor.NewLogger()
	ctx := context.Background()

	t.Run("retries transient failures", func(t *testing.T) {
		provider := &scriptedEmbedder{
			dimension: 4,
			errs: []error{
				&models.StatusError{StatusCode: 503, Endpoint: "embed"},
				&models.StatusError{StatusCode: 429, Endpoint: "embed"},
			},
		}
		s := NewService(provider, time.Second, fastBackoff(3), logger)

		v, err := s.Embed(ctx, "hello")
		require.NoError(t, err)
		assert.Len(t, v, 4)
		assert.Equal(t, int32(3), provider.calls.Load())
	})

	t.Run("non-transient failure is model unavailable without retry", func(t *testing.T) {
		provider := &scriptedEmbedder{dimension: 4, errs: []error{errors.New("invalid api key")}}
		s := NewService(provider, time.Second, fastBackoff(3), logger)

		_, err := s.Embed(ctx, "hello")
		var unavailable *models.ModelUnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, "embedder", unavailable.Component)
		assert.Equal(t, int32(1), provider.calls.Load())
	})

	t.Run("exhausted 5xx is model unavailable", func(t *testing.T) {
		provider := &scriptedEmbedder{
			dimension: 4,
			errs: []error{
				&models.StatusError{StatusCode: 502},
				&models.StatusError{StatusCode: 502},
			},
		}
		s := NewService(provider, time.Second, fastBackoff(2), logger)

		_, err := s.Embed(ctx, "hello")
		var unavailable *models.ModelUnavailableError
		assert.ErrorAs(t, err, &unavailable)
		assert.Equal(t, int32(2), provider.calls.Load())
	})

	t.Run("per-call timeout exhausts into upstream timeout", func(t *testing.T) {
		provider := &scriptedEmbedder{dimension: 4, block: true}
		s := NewService(provider, 10*time.Millisecond, fastBackoff(2), logger)

		_, err := s.Embed(ctx, "hello")
		var timeout *models.UpstreamTimeoutError
		require.ErrorAs(t, err, &timeout)
		assert.Equal(t, 2, timeout.Attempts)
		assert.False(t, models.IsTransient(err))
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		provider := &scriptedEmbedder{dimension: 4, returnDim: 3}
		s := NewService(provider, time.Second, fastBackoff(1), logger)

		_, err := s.Embed(ctx, "hello")
		var unavailable *models.ModelUnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Contains(t, err.Error(), "dimension mismatch")
	})

	t.Run("caller cancellation is returned as is", func(t *testing.T) {
		provider := &scriptedEmbedder{dimension: 4}
		s := NewService(provider, time.Second, fastBackoff(3), logger)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.Embed(cancelled, "hello")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(0), provider.calls.Load())
	})

	t.Run("empty text", func(t *testing.T) {
		s := NewService(&scriptedEmbedder{dimension: 4}, time.Second, fastBackoff(1), logger)
		_, err := s.Embed(ctx, "")
		assert.Error(t, err)
	})
}

func TestServiceEmbedChunks(t *testing.T) {
	logger := arbor.NewLogger()
	hashing, err := NewHashingEmbedder(32)
	require.NoError(t, err)
	s := NewService(hashing, time.Second, fastBackoff(1), logger)

	chunks := []models.Chunk{
		{ID: "chunk_a", Text: "revenue grew"},
		{ID: "chunk_b", Text: "margins narrowed"},
	}

	embeddings, err := s.EmbedChunks(context.Background(), chunks)
	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.Equal(t, "chunk_a", embeddings[0].ChunkID)
	assert.Equal(t, "chunk_b", embeddings[1].ChunkID)
	assert.Len(t, embeddings[1].Vector, 32)

	_, err = s.EmbedBatch(context.Background(), []string{"ok", ""})
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Embeddings.Provider = "hashing"
	config.Embeddings.Dimension = 64

	provider, err := NewProvider(context.Background(), config)
	require.NoError(t, err)
	assert.Equal(t, 64, provider.Dimension())

	config.Embeddings.Provider = "word2vec"
	_, err = NewProvider(context.Background(), config)
	assert.Error(t, err)
}
