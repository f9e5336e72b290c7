package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/finrag/internal/models"
)

// Chunker splits documents into overlapping fixed-size chunks
type Chunker interface {
	Chunk(doc *models.Document) []models.Chunk
}

// VectorIndex stores chunk vectors in immutable snapshots and answers nearest-neighbour queries.
// Search never blocks on Build or Merge.
type VectorIndex interface {
	Build(chunks []models.Chunk, embeddings []models.Embedding) (uint64, error)
	Merge(replaceKeys []string, chunks []models.Chunk, embeddings []models.Embedding) (uint64, error)
	Search(ctx context.Context, vector []float32, k int) (models.RetrievalResult, error)
	Stats() models.IndexStats
}

// Retriever returns the most relevant chunks for a question
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) (models.RetrievalOutcome, error)
}

// Synthesizer turns a question and its retrieval outcome into answer text.
// It never fails: errors become a fallback fragment with the error flag set.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, outcome models.RetrievalOutcome) models.AnswerFragment
}

// Transcriber converts speech to text
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// SpeechSynthesizer converts text to speech (MP3 bytes)
type SpeechSynthesizer interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

// AudioStore keeps generated audio files addressable by an opaque reference
type AudioStore interface {
	Save(requestID string, audio []byte) (string, error)
	Path(ref string) (string, error)
	Reap(maxAge time.Duration) (int, error)
}

// DocumentSource produces raw documents from one external source
type DocumentSource interface {
	Name() string
	Fetch(ctx context.Context) ([]*models.Document, error)
}
