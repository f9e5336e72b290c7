package interfaces

import (
	"context"
)

// Embedder maps text to a fixed-dimension vector.
// Implementations are deterministic for a fixed model version and must honour ctx deadlines.
type Embedder interface {
	// Embed generates the embedding for text
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the constant vector length
	Dimension() int

	// Model returns the provider/model identifier, e.g. "gemini/gemini-embedding-001"
	Model() string
}
