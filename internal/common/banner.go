package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the resolved pipeline settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("FinRAG", GetVersion())

	logger.Info().
		Str("llm_provider", string(config.LLM.DefaultProvider)).
		Str("embeddings", config.Embeddings.Provider).
		Int("chunk_size", config.Chunking.ChunkSize).
		Int("chunk_overlap", config.Chunking.Overlap).
		Int("top_k", config.Retrieval.TopK).
		Float64("relevance_threshold", config.Retrieval.RelevanceThreshold).
		Str("voice_provider", config.Voice.Provider).
		Msg("Pipeline configuration")
}
