// Package index holds chunk vectors in immutable snapshots and serves
// brute-force cosine top-k search over the active one.
package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/interfaces"
	"github.com/ternarybob/finrag/internal/models"
)

// ErrDimensionMismatch is returned when a vector does not match the snapshot dimension
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// ctxCheckInterval is how many vectors are scored between cancellation checks
const ctxCheckInterval = 1024

// snapshot is never mutated after it is published
type snapshot struct {
	version   uint64
	chunks    []models.Chunk
	vectors   [][]float32 // L2-normalised, parallel to chunks
	dimension int
	documents int
	builtAt   time.Time
}

// Index is a copy-on-write vector index. Readers load the active snapshot with
// a single atomic read; builders are serialised by buildMu and publish a new
// snapshot with a single atomic store.
type Index struct {
	current atomic.Pointer[snapshot]
	buildMu sync.Mutex
	logger  arbor.ILogger
}

var _ interfaces.VectorIndex = (*Index)(nil)

// New creates an empty index at version 0
func New(logger arbor.ILogger) *Index {
	idx := &Index{logger: logger}
	idx.current.Store(&snapshot{})
	return idx
}

// Build replaces the active snapshot with one holding exactly the given pairs.
// Every chunk needs exactly one embedding with a matching ChunkID.
func (idx *Index) Build(chunks []models.Chunk, embeddings []models.Embedding) (uint64, error) {
	idx.buildMu.Lock()
	defer idx.buildMu.Unlock()

	vectors, dimension, err := pairVectors(chunks, embeddings, 0)
	if err != nil {
		return 0, err
	}

	next := newSnapshot(idx.current.Load().version+1, slices.Clone(chunks), vectors, dimension)
	idx.current.Store(next)

	idx.logger.Info().
		Int64("version", int64(next.version)).
		Int("chunks", len(next.chunks)).
		Int("documents", next.documents).
		Int("dimension", next.dimension).
		Msg("Index snapshot built")

	return next.version, nil
}

// Merge publishes a snapshot made of the current one minus every chunk whose
// DocumentKey is in replaceKeys, plus the given pairs. New chunks also replace
// existing chunks with the same ID.
func (idx *Index) Merge(replaceKeys []string, chunks []models.Chunk, embeddings []models.Embedding) (uint64, error) {
	idx.buildMu.Lock()
	defer idx.buildMu.Unlock()

	cur := idx.current.Load()

	vectors, dimension, err := pairVectors(chunks, embeddings, cur.dimension)
	if err != nil {
		return 0, err
	}

	drop := make(map[string]struct{}, len(replaceKeys))
	for _, key := range replaceKeys {
		drop[key] = struct{}{}
	}
	incoming := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		incoming[c.ID] = struct{}{}
	}

	merged := make([]models.Chunk, 0, len(cur.chunks)+len(chunks))
	mergedVectors := make([][]float32, 0, len(cur.chunks)+len(chunks))
	removed := 0
	for i, c := range cur.chunks {
		if _, ok := drop[c.DocumentKey]; ok {
			removed++
			continue
		}
		if _, ok := incoming[c.ID]; ok {
			removed++
			continue
		}
		merged = append(merged, c)
		mergedVectors = append(mergedVectors, cur.vectors[i])
	}
	merged = append(merged, chunks...)
	mergedVectors = append(mergedVectors, vectors...)

	if len(merged) == 0 {
		dimension = 0
	} else if dimension == 0 {
		dimension = cur.dimension
	}

	next := newSnapshot(cur.version+1, merged, mergedVectors, dimension)
	idx.current.Store(next)

	idx.logger.Info().
		Int64("version", int64(next.version)).
		Int("removed", removed).
		Int("added", len(chunks)).
		Int("chunks", len(next.chunks)).
		Msg("Index snapshot merged")

	return next.version, nil
}

// Search returns up to k chunks from a single snapshot ordered by descending
// cosine similarity. An empty snapshot yields an empty result, not an error.
func (idx *Index) Search(ctx context.Context, vector []float32, k int) (models.RetrievalResult, error) {
	snap := idx.current.Load()
	result := models.RetrievalResult{Items: []models.ScoredChunk{}, SnapshotVersion: snap.version}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if k < 1 {
		return result, fmt.Errorf("k must be at least 1, got %d", k)
	}
	if len(snap.chunks) == 0 {
		return result, nil
	}
	if len(vector) != snap.dimension {
		return result, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vector), snap.dimension)
	}

	query := normalize(vector)
	scores := make([]float32, len(snap.vectors))
	for i, v := range snap.vectors {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return result, err
			}
		}
		scores[i] = dot(query, v)
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		if c := cmp.Compare(scores[b], scores[a]); c != 0 {
			return c
		}
		return cmp.Compare(snap.chunks[a].ID, snap.chunks[b].ID)
	})

	if k > len(order) {
		k = len(order)
	}
	for _, i := range order[:k] {
		result.Items = append(result.Items, models.ScoredChunk{Chunk: snap.chunks[i], Score: scores[i]})
	}
	return result, nil
}

// Stats describes the active snapshot
func (idx *Index) Stats() models.IndexStats {
	snap := idx.current.Load()
	return models.IndexStats{
		Version:   snap.version,
		Chunks:    len(snap.chunks),
		Documents: snap.documents,
		Dimension: snap.dimension,
		BuiltAt:   snap.builtAt,
	}
}

func newSnapshot(version uint64, chunks []models.Chunk, vectors [][]float32, dimension int) *snapshot {
	docs := make(map[string]struct{})
	for _, c := range chunks {
		docs[c.DocumentID] = struct{}{}
	}
	return &snapshot{
		version:   version,
		chunks:    chunks,
		vectors:   vectors,
		dimension: dimension,
		documents: len(docs),
		builtAt:   time.Now(),
	}
}

// pairVectors matches embeddings to chunks by ID and returns normalised copies
// in chunk order. want > 0 forces the dimension.
func pairVectors(chunks []models.Chunk, embeddings []models.Embedding, want int) ([][]float32, int, error) {
	if len(chunks) != len(embeddings) {
		return nil, 0, fmt.Errorf("chunks and embeddings length mismatch: %d != %d", len(chunks), len(embeddings))
	}

	byID := make(map[string][]float32, len(embeddings))
	for _, e := range embeddings {
		if _, dup := byID[e.ChunkID]; dup {
			return nil, 0, fmt.Errorf("duplicate embedding for chunk %s", e.ChunkID)
		}
		byID[e.ChunkID] = e.Vector
	}

	dimension := want
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		v, ok := byID[c.ID]
		if !ok {
			return nil, 0, fmt.Errorf("missing embedding for chunk %s", c.ID)
		}
		if len(v) == 0 {
			return nil, 0, fmt.Errorf("empty embedding for chunk %s", c.ID)
		}
		if dimension == 0 {
			dimension = len(v)
		}
		if len(v) != dimension {
			return nil, 0, fmt.Errorf("%w: chunk %s has %d, expected %d", ErrDimensionMismatch, c.ID, len(v), dimension)
		}
		vectors[i] = normalize(v)
	}
	return vectors, dimension, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
