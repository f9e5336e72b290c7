package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/interfaces"
	"github.com/ternarybob/finrag/internal/services/llm/offline"
)

// DetectProvider determines the provider type from a model string.
// Model strings can be:
// - "claude-3-5-haiku-latest" -> Claude
// - "claude/claude-3-5-haiku-latest" -> Claude (with prefix)
// - "gemini-2.5-flash" -> Gemini
// - "gemini/gemini-2.5-flash" -> Gemini (with prefix)
// - "offline" -> Offline
// - Empty string -> fallback
func DetectProvider(model string, fallback common.LLMProvider) common.LLMProvider {
	model = strings.ToLower(model)

	switch {
	case model == "":
		return fallback
	case model == "offline":
		return common.LLMProviderOffline
	case strings.HasPrefix(model, "claude/"), strings.HasPrefix(model, "anthropic/"), strings.HasPrefix(model, "claude-"):
		return common.LLMProviderClaude
	case strings.HasPrefix(model, "gemini/"), strings.HasPrefix(model, "google/"), strings.HasPrefix(model, "gemini-"):
		return common.LLMProviderGemini
	default:
		return fallback
	}
}

// NormalizeModel removes provider prefix from model name if present
func NormalizeModel(model string) string {
	prefixes := []string{"claude/", "anthropic/", "gemini/", "google/"}
	for _, prefix := range prefixes {
		if strings.HasPrefix(strings.ToLower(model), prefix) {
			return model[len(prefix):]
		}
	}
	return model
}

// NewProvider creates the LLM provider for model, or for llm.default_provider when model is empty.
// A model name overrides the configured model of its provider.
func NewProvider(ctx context.Context, config *common.Config, model string, logger arbor.ILogger) (interfaces.LLMProvider, error) {
	provider := DetectProvider(model, config.LLM.DefaultProvider)
	model = NormalizeModel(model)

	logger.Debug().
		Str("provider", string(provider)).
		Str("model", model).
		Msg("Creating LLM provider")

	switch provider {
	case common.LLMProviderGemini:
		cfg := config.Gemini
		if model != "" {
			cfg.Model = model
		}
		return NewGeminiProvider(ctx, cfg, logger)
	case common.LLMProviderClaude:
		cfg := config.Claude
		if model != "" {
			cfg.Model = model
		}
		return NewClaudeProvider(cfg, logger)
	case common.LLMProviderOffline:
		return offline.NewExtractiveProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

// newLimiter allows one call per interval; an empty or invalid interval disables limiting
func newLimiter(interval string) *rate.Limiter {
	d := common.ParseDuration(interval, 0)
	if d <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(d), 1)
}

// splitMessages separates the first system message from the conversation
func splitMessages(messages []interfaces.Message) ([]interfaces.Message, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("messages cannot be empty")
	}

	conversation := make([]interfaces.Message, 0, len(messages))
	var systemText string
	hasUserMessage := false
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemText == "" {
				systemText = msg.Content
			}
			continue
		}
		if msg.Role != "assistant" {
			hasUserMessage = true
		}
		conversation = append(conversation, msg)
	}

	if !hasUserMessage {
		return nil, "", fmt.Errorf("at least one message must have role 'user'")
	}
	return conversation, systemText, nil
}

func timeoutFrom(value string) time.Duration {
	return common.ParseDuration(value, 30*time.Second)
}
