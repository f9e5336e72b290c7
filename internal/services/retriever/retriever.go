package retriever

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/interfaces"
	"github.com/ternarybob/finrag/internal/models"
)

// Service embeds a question and looks up its nearest chunks in the index
type Service struct {
	embedder  interfaces.Embedder
	index     interfaces.VectorIndex
	topK      int
	threshold float32
	logger    arbor.ILogger
}

var _ interfaces.Retriever = (*Service)(nil)

// NewService creates a retriever. topK applies when Retrieve is called with k <= 0.
func NewService(embedder interfaces.Embedder, index interfaces.VectorIndex, config common.RetrievalConfig, logger arbor.ILogger) *Service {
	topK := config.TopK
	if topK <= 0 {
		topK = 3
	}
	return &Service{
		embedder:  embedder,
		index:     index,
		topK:      topK,
		threshold: float32(config.RelevanceThreshold),
		logger:    logger,
	}
}

// Retrieve returns Found with up to k chunks, or Empty when nothing relevant exists.
// An empty outcome is not an error; errors are reserved for embedding or search failures.
func (s *Service) Retrieve(ctx context.Context, question string, k int) (models.RetrievalOutcome, error) {
	if strings.TrimSpace(question) == "" {
		return models.RetrievalOutcome{}, fmt.Errorf("question cannot be empty")
	}
	if k <= 0 {
		k = s.topK
	}

	if s.index.Stats().Chunks == 0 {
		s.logger.Debug().Msg("Index is empty, skipping retrieval")
		return models.Empty(models.EmptyReasonIndexEmpty, models.RetrievalResult{}), nil
	}

	start := time.Now()
	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return models.RetrievalOutcome{}, fmt.Errorf("failed to embed question: %w", err)
	}

	result, err := s.index.Search(ctx, vector, k)
	if err != nil {
		return models.RetrievalOutcome{}, fmt.Errorf("index search failed: %w", err)
	}

	var outcome models.RetrievalOutcome
	switch {
	case result.Len() == 0:
		outcome = models.Empty(models.EmptyReasonNoResults, result)
	case result.TopScore() < s.threshold:
		outcome = models.Empty(models.EmptyReasonBelowThreshold, result)
	default:
		outcome = models.Found(result)
	}

	s.logger.Debug().
		Str("outcome", string(outcome.Kind)).
		Str("reason", string(outcome.Reason)).
		Int("results", result.Len()).
		Float64("top_score", float64(outcome.TopScore)).
		Int64("snapshot_version", int64(result.SnapshotVersion)).
		Dur("duration", time.Since(start)).
		Msg("Retrieval complete")

	return outcome, nil
}
