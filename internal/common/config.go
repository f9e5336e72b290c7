package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment  string             `toml:"environment" validate:"omitempty,oneof=development production dev prod test"`
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Logging      LoggingConfig      `toml:"logging"`
	Gemini       GeminiConfig       `toml:"gemini"`
	Claude       ClaudeConfig       `toml:"claude"`
	LLM          LLMConfig          `toml:"llm"`
	Embeddings   EmbeddingsConfig   `toml:"embeddings"`
	Chunking     ChunkingConfig     `toml:"chunking"`
	Retrieval    RetrievalConfig    `toml:"retrieval"`
	Synthesis    SynthesisConfig    `toml:"synthesis"`
	Voice        VoiceConfig        `toml:"voice"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Fallback     FallbackConfig     `toml:"fallback"`
	Ingestion    IngestionConfig    `toml:"ingestion"`
	EODHD        EODHDConfig        `toml:"eodhd"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	Dir        string   `toml:"dir"`         // Log directory (default: ./logs)
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// GeminiConfig contains Google Gemini API configuration shared by the LLM, embedding and transcription providers
type GeminiConfig struct {
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`           // Generation model (default: "gemini-2.5-flash")
	EmbeddingModel string  `toml:"embedding_model"` // Embedding model (default: "gemini-embedding-001")
	Timeout        string  `toml:"timeout"`         // Operation timeout as duration string (default: "30s")
	RateLimit      string  `toml:"rate_limit"`      // Minimum interval between calls (default: "250ms")
	Temperature    float32 `toml:"temperature"`     // Overridden by synthesis.temperature for answers
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`      // default: "claude-3-5-haiku-latest"
	MaxTokens   int     `toml:"max_tokens"` // default: 1024
	Timeout     string  `toml:"timeout"`
	RateLimit   string  `toml:"rate_limit"`
	Temperature float32 `toml:"temperature"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
	// LLMProviderOffline answers extractively from the retrieved context without a remote model
	LLMProviderOffline LLMProvider = "offline"
)

// LLMConfig selects the provider used by the synthesizer
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider" validate:"oneof=gemini claude offline"`
}

// EmbeddingsConfig configures the embedder used for both ingestion and queries.
// Changing provider, model or dimension requires an index rebuild.
type EmbeddingsConfig struct {
	Provider  string      `toml:"provider" validate:"oneof=gemini hashing"`
	Dimension int         `toml:"dimension" validate:"min=8,max=4096"`
	Timeout   string      `toml:"timeout"`
	Retry     RetryConfig `toml:"retry"`
}

// ChunkingConfig configures the fixed-size chunker (sizes are in characters)
type ChunkingConfig struct {
	ChunkSize int `toml:"chunk_size" validate:"min=1"`
	Overlap   int `toml:"overlap" validate:"min=0,ltfield=ChunkSize"`
}

// RetrievalConfig configures top-k search and the relevance cut-off
type RetrievalConfig struct {
	TopK               int     `toml:"top_k" validate:"min=1,max=50"`
	RelevanceThreshold float64 `toml:"relevance_threshold" validate:"gte=-1,lte=1"` // Top score below this is treated as no relevant context
	Timeout            string  `toml:"timeout"`
}

// SynthesisConfig configures prompt assembly and the LLM call
type SynthesisConfig struct {
	MaxContextChars int         `toml:"max_context_chars" validate:"min=100"`
	Temperature     float32     `toml:"temperature" validate:"gte=0,lte=1"`
	MaxTokens       int         `toml:"max_tokens" validate:"min=16"`
	Timeout         string      `toml:"timeout"`
	Retry           RetryConfig `toml:"retry"`
}

// VoiceConfig configures speech-to-text, text-to-speech and generated audio storage
type VoiceConfig struct {
	Provider           string      `toml:"provider" validate:"oneof=openai gemini disabled"` // Transcription provider
	SpeechEnabled      bool        `toml:"speech_enabled"`                                   // Enable text-to-speech output for audio queries
	BaseURL            string      `toml:"base_url"`                                         // OpenAI-compatible audio API base URL
	APIKey             string      `toml:"api_key"`
	TranscriptionModel string      `toml:"transcription_model"`
	SpeechModel        string      `toml:"speech_model"`
	Voice              string      `toml:"voice"`
	AudioDir           string      `toml:"audio_dir" validate:"required"`
	MaxAudioBytes      int         `toml:"max_audio_bytes" validate:"min=1024"`
	SilenceThreshold   float64     `toml:"silence_threshold"` // RMS below this (0..1) marks PCM audio as silent
	Timeout            string      `toml:"timeout"`
	RateLimit          int         `toml:"rate_limit"` // Requests per second
	Retry              RetryConfig `toml:"retry"`
	ReapSchedule       string      `toml:"reap_schedule"` // Cron schedule for deleting old audio files (empty = disabled)
	ReapMaxAge         string      `toml:"reap_max_age"`
}

// OrchestratorConfig holds per-state timeouts for the request state machine
type OrchestratorConfig struct {
	TranscribeTimeout string `toml:"transcribe_timeout"`
	RetrieveTimeout   string `toml:"retrieve_timeout"`
	SynthesizeTimeout string `toml:"synthesize_timeout"`
	SpeakTimeout      string `toml:"speak_timeout"`
}

// FallbackConfig tunes error accounting used by the health endpoint
type FallbackConfig struct {
	ErrorWindow        string `toml:"error_window"`         // default: "60s"
	RateLimitThreshold int    `toml:"rate_limit_threshold"` // errors within window that mark the pipeline rate limited (default: 10)
	HealthyThreshold   int    `toml:"healthy_threshold"`    // errors within window tolerated while healthy (default: 5)
}

// IngestionConfig configures document sources and the refresh schedule
type IngestionConfig struct {
	Enabled       bool     `toml:"enabled"`
	Schedule      string   `toml:"schedule"` // Cron schedule (seconds field supported)
	Concurrency   int      `toml:"concurrency" validate:"min=1,max=32"`
	Symbols       []string `toml:"symbols"`
	SymbolsFile   string   `toml:"symbols_file"` // Optional YAML alias file
	FilesDir      string   `toml:"files_dir"`
	Pages         []string `toml:"pages"`
	EarningsNews  bool     `toml:"earnings_news"`
	RSSBaseURL    string   `toml:"rss_base_url"`
	Technicals    bool     `toml:"technicals"`
	NewsLimit     int      `toml:"news_limit"`
	FetchTimeout  string   `toml:"fetch_timeout"`
	RebuildOnBoot bool     `toml:"rebuild_on_boot"`
	PruneSchedule string   `toml:"prune_schedule"`    // Cron schedule for deleting old superseded versions (empty = disabled)
	RetainFor     string   `toml:"retain_superseded"` // How long superseded versions are kept
}

// EODHDConfig configures the market data client
type EODHDConfig struct {
	APIKey    string      `toml:"api_key"`
	BaseURL   string      `toml:"base_url"`
	RateLimit int         `toml:"rate_limit"` // Requests per second
	Retry     RetryConfig `toml:"retry"`
}

// RetryConfig defines bounded exponential backoff for transient upstream failures
type RetryConfig struct {
	MaxAttempts    int     `toml:"max_attempts" validate:"min=1,max=10"`
	InitialBackoff string  `toml:"initial_backoff"`
	MaxBackoff     string  `toml:"max_backoff"`
	Multiplier     float64 `toml:"multiplier" validate:"gte=1"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8000,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			Dir:        "./logs",
			TimeFormat: "15:04:05",
		},
		Gemini: GeminiConfig{
			Model:          "gemini-2.5-flash",
			EmbeddingModel: "gemini-embedding-001",
			Timeout:        "30s",
			RateLimit:      "250ms",
			Temperature:    0.2,
		},
		Claude: ClaudeConfig{
			Model:       "claude-3-5-haiku-latest",
			MaxTokens:   1024,
			Timeout:     "30s",
			RateLimit:   "250ms",
			Temperature: 0.2,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "hashing", // Local embedder works without any API key
			Dimension: 384,
			Timeout:   "10s",
			Retry:     defaultRetry(),
		},
		Chunking: ChunkingConfig{
			ChunkSize: 500,
			Overlap:   50,
		},
		Retrieval: RetrievalConfig{
			TopK:               3,
			RelevanceThreshold: 0.2,
			Timeout:            "5s",
		},
		Synthesis: SynthesisConfig{
			MaxContextChars: 6000,
			Temperature:     0.2,
			MaxTokens:       512,
			Timeout:         "30s",
			Retry:           defaultRetry(),
		},
		Voice: VoiceConfig{
			Provider:           "openai",
			SpeechEnabled:      true,
			BaseURL:            "https://api.openai.com/v1",
			TranscriptionModel: "whisper-1",
			SpeechModel:        "tts-1",
			Voice:              "alloy",
			AudioDir:           "./audio",
			MaxAudioBytes:      25 * 1024 * 1024,
			SilenceThreshold:   0.01,
			Timeout:            "60s",
			RateLimit:          5,
			Retry:              defaultRetry(),
			ReapSchedule:       "0 0 * * * *", // Hourly
			ReapMaxAge:         "24h",
		},
		Orchestrator: OrchestratorConfig{
			TranscribeTimeout: "90s",
			RetrieveTimeout:   "15s",
			SynthesizeTimeout: "90s",
			SpeakTimeout:      "60s",
		},
		Fallback: FallbackConfig{
			ErrorWindow:        "60s",
			RateLimitThreshold: 10,
			HealthyThreshold:   5,
		},
		Ingestion: IngestionConfig{
			Enabled:       false,
			Schedule:      "0 0 */6 * * *", // Every 6 hours
			Concurrency:   4,
			Symbols:       []string{"AAPL", "MSFT", "TSLA", "TSM"},
			FilesDir:      "./data/documents",
			EarningsNews:  true,
			RSSBaseURL:    "https://news.google.com/rss/search",
			Technicals:    true,
			NewsLimit:     10,
			FetchTimeout:  "60s",
			RebuildOnBoot: true,
			PruneSchedule: "0 30 3 * * *", // Daily at 03:30
			RetainFor:     "720h",
		},
		EODHD: EODHDConfig{
			BaseURL:   "https://eodhd.com/api",
			RateLimit: 10,
			Retry:     defaultRetry(),
		},
	}
}

func defaultRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: "500ms",
		MaxBackoff:     "5s",
		Multiplier:     2.0,
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies FINRAG_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FINRAG_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("FINRAG_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("FINRAG_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("FINRAG_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("FINRAG_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("FINRAG_LOG_OUTPUT"); output != "" {
		if outputs := splitList(output); len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// LLM configuration
	if provider := os.Getenv("FINRAG_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(strings.ToLower(provider))
	}
	if model := os.Getenv("FINRAG_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
	if model := os.Getenv("FINRAG_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}

	// Embeddings configuration
	if provider := os.Getenv("FINRAG_EMBEDDINGS_PROVIDER"); provider != "" {
		config.Embeddings.Provider = strings.ToLower(provider)
	}
	if dim := os.Getenv("FINRAG_EMBEDDINGS_DIMENSION"); dim != "" {
		if d, err := strconv.Atoi(dim); err == nil {
			config.Embeddings.Dimension = d
		}
	}

	// Chunking configuration
	if size := os.Getenv("FINRAG_CHUNK_SIZE"); size != "" {
		if s, err := strconv.Atoi(size); err == nil {
			config.Chunking.ChunkSize = s
		}
	}
	if overlap := os.Getenv("FINRAG_CHUNK_OVERLAP"); overlap != "" {
		if o, err := strconv.Atoi(overlap); err == nil {
			config.Chunking.Overlap = o
		}
	}

	// Retrieval configuration
	if topK := os.Getenv("FINRAG_RETRIEVAL_TOP_K"); topK != "" {
		if k, err := strconv.Atoi(topK); err == nil {
			config.Retrieval.TopK = k
		}
	}
	if threshold := os.Getenv("FINRAG_RELEVANCE_THRESHOLD"); threshold != "" {
		if t, err := strconv.ParseFloat(threshold, 64); err == nil {
			config.Retrieval.RelevanceThreshold = t
		}
	}

	// Synthesis configuration
	if attempts := os.Getenv("FINRAG_SYNTHESIS_MAX_ATTEMPTS"); attempts != "" {
		if a, err := strconv.Atoi(attempts); err == nil {
			config.Synthesis.Retry.MaxAttempts = a
		}
	}

	// Voice configuration
	if provider := os.Getenv("FINRAG_VOICE_PROVIDER"); provider != "" {
		config.Voice.Provider = strings.ToLower(provider)
	}
	if baseURL := os.Getenv("FINRAG_VOICE_BASE_URL"); baseURL != "" {
		config.Voice.BaseURL = baseURL
	}
	if audioDir := os.Getenv("FINRAG_AUDIO_DIR"); audioDir != "" {
		config.Voice.AudioDir = audioDir
	}
	if speech := os.Getenv("FINRAG_SPEECH_ENABLED"); speech != "" {
		if b, err := strconv.ParseBool(speech); err == nil {
			config.Voice.SpeechEnabled = b
		}
	}

	// Ingestion configuration
	if enabled := os.Getenv("FINRAG_INGESTION_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Ingestion.Enabled = b
		}
	}
	if schedule := os.Getenv("FINRAG_INGESTION_SCHEDULE"); schedule != "" {
		config.Ingestion.Schedule = schedule
	}
	if symbols := os.Getenv("FINRAG_INGESTION_SYMBOLS"); symbols != "" {
		if list := splitList(symbols); len(list) > 0 {
			config.Ingestion.Symbols = list
		}
	}
	if filesDir := os.Getenv("FINRAG_INGESTION_FILES_DIR"); filesDir != "" {
		config.Ingestion.FilesDir = filesDir
	}

	// Market data configuration
	if baseURL := os.Getenv("FINRAG_EODHD_BASE_URL"); baseURL != "" {
		config.EODHD.BaseURL = baseURL
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks field constraints and cron schedules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Ingestion.Enabled && c.Ingestion.Schedule != "" {
		if err := ValidateSchedule(c.Ingestion.Schedule); err != nil {
			return fmt.Errorf("invalid ingestion.schedule: %w", err)
		}
	}
	if c.Voice.ReapSchedule != "" {
		if err := ValidateSchedule(c.Voice.ReapSchedule); err != nil {
			return fmt.Errorf("invalid voice.reap_schedule: %w", err)
		}
	}
	if c.Ingestion.PruneSchedule != "" {
		if err := ValidateSchedule(c.Ingestion.PruneSchedule); err != nil {
			return fmt.Errorf("invalid ingestion.prune_schedule: %w", err)
		}
	}
	return nil
}

// ScheduleParser accepts cron expressions with an optional leading seconds field
var ScheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule validates a cron schedule expression
func ValidateSchedule(schedule string) error {
	if _, err := ScheduleParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// ResolveAPIKey resolves an API key by name.
// Resolution order: FINRAG_* environment variable → provider's standard variable → config fallback → error
func ResolveAPIKey(name string, configFallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"gemini_api_key": {"FINRAG_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"claude_api_key": {"FINRAG_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
		"voice_api_key":  {"FINRAG_VOICE_API_KEY", "OPENAI_API_KEY"},
		"eodhd_api_key":  {"FINRAG_EODHD_API_KEY", "EODHD_API_KEY"},
	}

	for _, envVarName := range keyToEnvMapping[name] {
		if envValue := os.Getenv(envVarName); envValue != "" {
			return envValue, nil
		}
	}

	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or config", name)
}

// ParseDuration parses a duration string, returning fallback when empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

func splitList(value string) []string {
	result := []string{}
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
