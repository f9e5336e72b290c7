package embeddings

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/interfaces"
)

// GeminiEmbedder generates embeddings with the Gemini embedding API.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
}

var _ interfaces.Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder creates a Gemini embedder.
//
// The API key is resolved from the environment with config.Gemini.APIKey as fallback.
// The requested output dimensionality comes from config.Embeddings.Dimension.
func NewGeminiEmbedder(ctx context.Context, config *common.Config) (*GeminiEmbedder, error) {
	apiKey, err := common.ResolveAPIKey("gemini_api_key", config.Gemini.APIKey)
	if err != nil {
		return nil, fmt.Errorf("gemini API key is required for gemini embeddings (set GEMINI_API_KEY or gemini.api_key): %w", err)
	}

	model := config.Gemini.EmbeddingModel
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	return &GeminiEmbedder{
		client:    client,
		model:     model,
		dimension: config.Embeddings.Dimension,
	}, nil
}

// Dimension returns the configured output dimensionality
func (e *GeminiEmbedder) Dimension() int { return e.dimension }

// Model returns the embedding model name
func (e *GeminiEmbedder) Model() string { return e.model }

// Embed generates an embedding vector for text
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	outputDim := int32(e.dimension)
	result, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{OutputDimensionality: &outputDim},
	)
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	if result == nil || len(result.Embeddings) == 0 || result.Embeddings[0] == nil {
		return nil, fmt.Errorf("no embedding returned from API")
	}

	return result.Embeddings[0].Values, nil
}
