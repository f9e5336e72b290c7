package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/interfaces"
)

// ClaudeProvider generates completions with Anthropic Claude
type ClaudeProvider struct {
	client  anthropic.Client
	config  common.ClaudeConfig
	limiter *rate.Limiter
	timeout time.Duration
	logger  arbor.ILogger
}

var _ interfaces.LLMProvider = (*ClaudeProvider)(nil)

// NewClaudeProvider creates a Claude provider
func NewClaudeProvider(config common.ClaudeConfig, logger arbor.ILogger, opts ...option.RequestOption) (*ClaudeProvider, error) {
	apiKey, err := common.ResolveAPIKey("claude_api_key", config.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve Anthropic API key: %w", err)
	}

	if config.Model == "" {
		config.Model = "claude-3-5-haiku-latest"
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}

	// Retries are owned by the synthesizer
	clientOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)

	p := &ClaudeProvider{
		client:  anthropic.NewClient(clientOpts...),
		config:  config,
		limiter: newLimiter(config.RateLimit),
		timeout: timeoutFrom(config.Timeout),
		logger:  logger,
	}

	logger.Info().
		Str("model", config.Model).
		Int("max_tokens", config.MaxTokens).
		Dur("timeout", p.timeout).
		Msg("Claude provider initialized")

	return p, nil
}

// Name returns "claude"
func (p *ClaudeProvider) Name() string { return string(common.LLMProviderClaude) }

// Generate makes a single completion call
func (p *ClaudeProvider) Generate(ctx context.Context, request *interfaces.ContentRequest) (*interfaces.ContentResponse, error) {
	messages, systemText, err := splitMessages(request.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}
	if request.SystemInstruction != "" {
		systemText = request.SystemInstruction
	}

	claudeMessages := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "assistant" {
			claudeMessages = append(claudeMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			continue
		}
		claudeMessages = append(claudeMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
	}

	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.config.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(maxTokens),
		Messages:  claudeMessages,
	}

	switch {
	case request.Temperature != nil:
		params.Temperature = anthropic.Float(float64(*request.Temperature))
	case p.config.Temperature > 0:
		params.Temperature = anthropic.Float(float64(p.config.Temperature))
	}

	if systemText != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemText},
		}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, wrapError(p.Name(), err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Messages.New(callCtx, params)
	if err != nil {
		return nil, wrapError(p.Name(), err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &interfaces.ContentResponse{
		Text:     text.String(),
		Provider: p.Name(),
		Model:    p.config.Model,
	}, nil
}

// Close is a no-op; the HTTP client holds no resources that need releasing
func (p *ClaudeProvider) Close() error {
	return nil
}
