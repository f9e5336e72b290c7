// Package chunker splits documents into overlapping fixed-size character chunks.
package chunker

import (
	"fmt"

	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/interfaces"
	"github.com/ternarybob/finrag/internal/models"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 500

// DefaultOverlap is the default number of characters shared by consecutive chunks.
const DefaultOverlap = 50

// Chunker splits document text into fixed-size windows.
// Consecutive chunks share exactly overlap characters; only the last chunk may be shorter.
type Chunker struct {
	chunkSize int
	overlap   int
}

var _ interfaces.Chunker = (*Chunker)(nil)

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		c.chunkSize = size
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		c.overlap = overlap
	}
}

// New creates a chunker. It fails unless 0 <= overlap < chunkSize.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultOverlap,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", c.chunkSize)
	}
	if c.overlap < 0 || c.overlap >= c.chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", c.chunkSize, c.overlap)
	}

	return c, nil
}

// NewFromConfig creates a chunker from chunking configuration.
func NewFromConfig(config common.ChunkingConfig) (*Chunker, error) {
	return New(WithChunkSize(config.ChunkSize), WithOverlap(config.Overlap))
}

// ChunkSize returns the configured chunk size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits the document text. Empty text yields no chunks.
func (c *Chunker) Chunk(doc *models.Document) []models.Chunk {
	if doc == nil || doc.Text == "" {
		return []models.Chunk{}
	}

	runes := []rune(doc.Text)
	total := len(runes)
	step := c.chunkSize - c.overlap

	chunks := make([]models.Chunk, 0, total/step+1)

	for start, index := 0, 0; ; index++ {
		end := start + c.chunkSize
		if end > total {
			end = total
		}

		chunks = append(chunks, models.Chunk{
			ID:          common.ChunkID(doc.ID, index),
			DocumentID:  doc.ID,
			DocumentKey: doc.Key,
			Index:       index,
			Text:        string(runes[start:end]),
			Offset:      start,
			Length:      end - start,
		})

		if end == total {
			break
		}
		start += step
	}

	return chunks
}
