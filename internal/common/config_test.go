package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFiles_Defaults(t *testing.T) {
	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 500, config.Chunking.ChunkSize)
	assert.Equal(t, 50, config.Chunking.Overlap)
	assert.Equal(t, 3, config.Retrieval.TopK)
	assert.InDelta(t, 0.2, config.Retrieval.RelevanceThreshold, 1e-9)
	assert.InDelta(t, 0.2, float64(config.Synthesis.Temperature), 1e-6)
	assert.Equal(t, 3, config.Synthesis.Retry.MaxAttempts)
	assert.Equal(t, LLMProviderGemini, config.LLM.DefaultProvider)
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	base := writeConfigFile(t, "base.toml", `
[retrieval]
top_k = 5
relevance_threshold = 0.35

[chunking]
chunk_size = 800
overlap = 100
`)
	override := writeConfigFile(t, "override.toml", `
[retrieval]
top_k = 4

[synthesis.retry]
max_attempts = 5
`)

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 4, config.Retrieval.TopK)
	assert.InDelta(t, 0.35, config.Retrieval.RelevanceThreshold, 1e-9)
	assert.Equal(t, 800, config.Chunking.ChunkSize)
	assert.Equal(t, 100, config.Chunking.Overlap)
	assert.Equal(t, 5, config.Synthesis.Retry.MaxAttempts)
	// Untouched fields keep their defaults
	assert.Equal(t, "500ms", config.Synthesis.Retry.InitialBackoff)
}

func TestLoadFromFiles_EnvOverrides(t *testing.T) {
	path := writeConfigFile(t, "config.toml", `
[retrieval]
relevance_threshold = 0.3
`)

	t.Setenv("FINRAG_RELEVANCE_THRESHOLD", "0.45")
	t.Setenv("FINRAG_SERVER_PORT", "9100")
	t.Setenv("FINRAG_INGESTION_SYMBOLS", "tesla, AAPL ,,MSFT")
	t.Setenv("FINRAG_LLM_PROVIDER", "Claude")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.45, config.Retrieval.RelevanceThreshold, 1e-9)
	assert.Equal(t, 9100, config.Server.Port)
	assert.Equal(t, []string{"tesla", "AAPL", "MSFT"}, config.Ingestion.Symbols)
	assert.Equal(t, LLMProviderClaude, config.LLM.DefaultProvider)
}

func TestLoadFromFiles_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"overlap not below chunk size", "[chunking]\nchunk_size = 100\noverlap = 100\n"},
		{"zero top k", "[retrieval]\ntop_k = 0\n"},
		{"unknown provider", "[llm]\ndefault_provider = \"mistral\"\n"},
		{"threshold out of range", "[retrieval]\nrelevance_threshold = 1.5\n"},
		{"bad schedule", "[ingestion]\nenabled = true\nschedule = \"every tuesday\"\n"},
		{"malformed toml", "[retrieval\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, "config.toml", tt.content)
			_, err := LoadFromFiles(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()

	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 8000, config.Server.Port)
	assert.Equal(t, "localhost", config.Server.Host)

	ApplyFlagOverrides(config, 9000, "0.0.0.0")
	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("FINRAG_CLAUDE_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "from-standard-env")

	key, err := ResolveAPIKey("claude_api_key", "from-config")
	require.NoError(t, err)
	assert.Equal(t, "from-standard-env", key)

	t.Setenv("FINRAG_CLAUDE_API_KEY", "from-finrag-env")
	key, err = ResolveAPIKey("claude_api_key", "from-config")
	require.NoError(t, err)
	assert.Equal(t, "from-finrag-env", key)

	t.Setenv("FINRAG_EODHD_API_KEY", "")
	t.Setenv("EODHD_API_KEY", "")
	key, err = ResolveAPIKey("eodhd_api_key", "from-config")
	require.NoError(t, err)
	assert.Equal(t, "from-config", key)

	_, err = ResolveAPIKey("eodhd_api_key", "")
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 3*time.Second, ParseDuration("3s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("soon", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("-1s", time.Minute))
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("0 0 */6 * * *"))
	assert.NoError(t, ValidateSchedule("*/15 * * * *"))
	assert.NoError(t, ValidateSchedule("@hourly"))
	assert.Error(t, ValidateSchedule("not a schedule"))
}
