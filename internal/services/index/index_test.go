package index

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/models"
)

func pair(id, key string, vector ...float32) (models.Chunk, models.Embedding) {
	return models.Chunk{ID: id, DocumentID: "doc_" + key, DocumentKey: key, Text: id},
		models.Embedding{ChunkID: id, Vector: vector}
}

func fixture(pairs ...func() (models.Chunk, models.Embedding)) ([]models.Chunk, []models.Embedding) {
	var chunks []models.Chunk
	var embeddings []models.Embedding
	for _, p := range pairs {
		c, e := p()
		chunks = append(chunks, c)
		embeddings = append(embeddings, e)
	}
	return chunks, embeddings
}

func p(id, key string, vector ...float32) func() (models.Chunk, models.Embedding) {
	return func() (models.Chunk, models.Embedding) { return pair(id, key, vector...) }
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx := New(arbor.NewLogger())

	result, err := idx.Search(context.Background(), []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Len())
	assert.NotNil(t, result.Items)
	assert.Equal(t, uint64(0), result.SnapshotVersion)
}

func TestBuildAndSearch(t *testing.T) {
	idx := New(arbor.NewLogger())
	chunks, embeddings := fixture(
		p("a", "doc1", 1, 0, 0),
		p("b", "doc1", 0.9, 0.1, 0),
		p("c", "doc2", 0, 1, 0),
		p("d", "doc3", 0, 0, 5),
	)

	version, err := idx.Build(chunks, embeddings)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)

	result, err := idx.Search(context.Background(), []float32{2, 0, 0}, 3)
	require.NoError(t, err)
	require.Equal(t, 3, result.Len())
	assert.Equal(t, "a", result.Items[0].Chunk.ID)
	assert.Equal(t, "b", result.Items[1].Chunk.ID)
	assert.InDelta(t, 1.0, result.Items[0].Score, 1e-6)
	assert.Equal(t, version, result.SnapshotVersion)

	for i := 1; i < result.Len(); i++ {
		assert.GreaterOrEqual(t, result.Items[i-1].Score, result.Items[i].Score)
	}

	t.Run("fewer than k", func(t *testing.T) {
		result, err := idx.Search(context.Background(), []float32{0, 0, 1}, 10)
		require.NoError(t, err)
		assert.Equal(t, 4, result.Len())
		assert.Equal(t, "d", result.Items[0].Chunk.ID)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := idx.Search(context.Background(), []float32{1, 0}, 3)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("invalid k", func(t *testing.T) {
		_, err := idx.Search(context.Background(), []float32{1, 0, 0}, 0)
		assert.Error(t, err)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := idx.Search(ctx, []float32{1, 0, 0}, 3)
		assert.ErrorIs(t, err, context.Canceled)
	})

	stats := idx.Stats()
	assert.Equal(t, uint64(1), stats.Version)
	assert.Equal(t, 4, stats.Chunks)
	assert.Equal(t, 3, stats.Documents)
	assert.Equal(t, 3, stats.Dimension)
	assert.False(t, stats.BuiltAt.IsZero())
}

func TestBuild_Validation(t *testing.T) {
	idx := New(arbor.NewLogger())

	tests := []struct {
		name       string
		chunks     []models.Chunk
		embeddings []models.Embedding
	}{
		{
			name:       "length mismatch",
			chunks:     []models.Chunk{{ID: "a"}},
			embeddings: nil,
		},
		{
			name:       "missing embedding",
			chunks:     []models.Chunk{{ID: "a"}},
			embeddings: []models.Embedding{{ChunkID: "b", Vector: []float32{1}}},
		},
		{
			name:       "mixed dimensions",
			chunks:     []models.Chunk{{ID: "a"}, {ID: "b"}},
			embeddings: []models.Embedding{{ChunkID: "a", Vector: []float32{1, 0}}, {ChunkID: "b", Vector: []float32{1}}},
		},
		{
			name:       "duplicate embedding",
			chunks:     []models.Chunk{{ID: "a"}, {ID: "b"}},
			embeddings: []models.Embedding{{ChunkID: "a", Vector: []float32{1}}, {ChunkID: "a", Vector: []float32{1}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := idx.Build(tt.chunks, tt.embeddings)
			assert.Error(t, err)
			assert.Equal(t, uint64(0), idx.Stats().Version, "failed build must not publish")
		})
	}
}

func TestMerge(t *testing.T) {
	idx := New(arbor.NewLogger())
	chunks, embeddings := fixture(
		p("aapl-1", "us:AAPL:quote", 1, 0),
		p("tsla-1", "us:TSLA:quote", 0, 1),
		p("tsla-2", "us:TSLA:quote", 0.2, 1),
	)
	_, err := idx.Build(chunks, embeddings)
	require.NoError(t, err)

	newChunks, newEmbeddings := fixture(p("tsla-3", "us:TSLA:quote", 0.5, 0.5))
	version, err := idx.Merge([]string{"us:TSLA:quote"}, newChunks, newEmbeddings)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)

	result, err := idx.Search(context.Background(), []float32{0, 1}, 10)
	require.NoError(t, err)

	ids := make([]string, 0, result.Len())
	for _, item := range result.Items {
		ids = append(ids, item.Chunk.ID)
	}
	assert.ElementsMatch(t, []string{"aapl-1", "tsla-3"}, ids)

	t.Run("dimension must match current snapshot", func(t *testing.T) {
		c, e := fixture(p("x", "other", 1, 0, 0))
		_, err := idx.Merge(nil, c, e)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
		assert.Equal(t, uint64(2), idx.Stats().Version)
	})

	t.Run("same chunk id replaces", func(t *testing.T) {
		c, e := fixture(p("aapl-1", "us:AAPL:quote", 0, 1))
		_, err := idx.Merge(nil, c, e)
		require.NoError(t, err)
		assert.Equal(t, 2, idx.Stats().Chunks)
	})

	t.Run("removing everything", func(t *testing.T) {
		_, err := idx.Merge([]string{"us:AAPL:quote", "us:TSLA:quote"}, nil, nil)
		require.NoError(t, err)
		stats := idx.Stats()
		assert.Equal(t, 0, stats.Chunks)
		assert.Equal(t, 0, stats.Dimension)
	})
}

// Searches running alongside rebuilds must always see one whole generation.
func TestConcurrentBuildAndSearch(t *testing.T) {
	idx := New(arbor.NewLogger())
	const generations = 50
	const perGeneration = 20

	build := func(gen int) {
		chunks := make([]models.Chunk, perGeneration)
		embeddings := make([]models.Embedding, perGeneration)
		for i := range chunks {
			id := fmt.Sprintf("g%d-c%d", gen, i)
			chunks[i] = models.Chunk{ID: id, DocumentID: "doc", DocumentKey: strconv.Itoa(gen)}
			embeddings[i] = models.Embedding{ChunkID: id, Vector: []float32{float32(i + 1), float32(gen), 1, 0}}
		}
		version, err := idx.Build(chunks, embeddings)
		require.NoError(t, err)
		require.Equal(t, uint64(gen), version)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 8)

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				result, err := idx.Search(context.Background(), []float32{1, 1, 1, 0}, perGeneration)
				if err != nil {
					errs <- err
					return
				}
				if result.SnapshotVersion == 0 {
					continue
				}
				if result.Len() != perGeneration {
					errs <- fmt.Errorf("version %d returned %d items", result.SnapshotVersion, result.Len())
					return
				}
				want := strconv.FormatUint(result.SnapshotVersion, 10)
				for _, item := range result.Items {
					if item.Chunk.DocumentKey != want {
						errs <- fmt.Errorf("version %d returned chunk from generation %s", result.SnapshotVersion, item.Chunk.DocumentKey)
						return
					}
				}
			}
		}()
	}

	for gen := 1; gen <= generations; gen++ {
		build(gen)
	}
	close(stop)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, uint64(generations), idx.Stats().Version)
}
