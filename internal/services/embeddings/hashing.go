package embeddings

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/ternarybob/finrag/internal/interfaces"
)

// HashingEmbedder is a local embedder that projects unigrams and bigrams into a
// fixed number of buckets. It needs no corpus preparation and no network, so the
// same text always maps to the same vector across restarts.
type HashingEmbedder struct {
	dimension    int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

var _ interfaces.Embedder = (*HashingEmbedder)(nil)

// NewHashingEmbedder creates a hashing embedder producing vectors of the given dimension
func NewHashingEmbedder(dimension int) (*HashingEmbedder, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dimension)
	}
	return &HashingEmbedder{
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`[\p{L}\p{N}]+(?:['’.][\p{L}\p{N}]+)*`),
		stopwords:    defaultStopwords(),
	}, nil
}

// Dimension returns the vector length
func (e *HashingEmbedder) Dimension() int { return e.dimension }

// Model returns the embedder identifier
func (e *HashingEmbedder) Model() string { return fmt.Sprintf("hashing-%d", e.dimension) }

// Embed returns the L2-normalised hashed feature vector for text.
// Text without any indexable token yields the zero vector.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := e.tokenize(text)
	counts := make(map[int]float64)
	for i, tok := range tokens {
		e.addFeature(counts, tok)
		if i > 0 {
			e.addFeature(counts, tokens[i-1]+" "+tok)
		}
	}

	vec := make([]float32, e.dimension)
	if len(counts) == 0 {
		return vec, nil
	}

	// Sublinear term frequency keeps repeated boilerplate from dominating
	weights := make([]float64, e.dimension)
	for idx, count := range counts {
		if count == 0 {
			continue
		}
		sign := 1.0
		if count < 0 {
			sign = -1.0
		}
		weights[idx] = sign * (1 + math.Log(math.Abs(count)))
	}

	norm := 0.0
	for _, w := range weights {
		norm += w * w
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec, nil
	}
	for i, w := range weights {
		vec[i] = float32(w / norm)
	}
	return vec, nil
}

// addFeature hashes a feature into a bucket; the top bit picks the sign so that
// colliding features tend to cancel rather than accumulate.
func (e *HashingEmbedder) addFeature(counts map[int]float64, feature string) {
	h := xxhash.Sum64String(feature)
	idx := int(h % uint64(e.dimension))
	if h>>63 == 1 {
		counts[idx]--
	} else {
		counts[idx]++
	}
}

func (e *HashingEmbedder) tokenize(text string) []string {
	raw := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		t = strings.TrimSuffix(strings.TrimSuffix(t, "'s"), "’s")
		if _, stop := e.stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that", "these",
		"those", "from", "into", "about", "than", "so", "such", "can", "will", "just", "should", "now", "do",
		"does", "did", "what", "which", "who", "whom", "how", "me", "my", "i", "you", "your", "we", "our",
		"tell", "please", "any", "there",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
