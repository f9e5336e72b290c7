package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/interfaces"
)

// GeminiProvider generates completions with Google Gemini
type GeminiProvider struct {
	client  *genai.Client
	config  common.GeminiConfig
	limiter *rate.Limiter
	timeout time.Duration
	logger  arbor.ILogger
}

var _ interfaces.LLMProvider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a Gemini provider.
//
// Errors:
//   - Missing Gemini API key (environment or gemini.api_key)
//   - Failed to initialize the genai client
func NewGeminiProvider(ctx context.Context, config common.GeminiConfig, logger arbor.ILogger) (*GeminiProvider, error) {
	apiKey, err := common.ResolveAPIKey("gemini_api_key", config.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve Gemini API key: %w", err)
	}

	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	p := &GeminiProvider{
		client:  client,
		config:  config,
		limiter: newLimiter(config.RateLimit),
		timeout: timeoutFrom(config.Timeout),
		logger:  logger,
	}

	logger.Info().
		Str("model", config.Model).
		Dur("timeout", p.timeout).
		Msg("Gemini provider initialized")

	return p, nil
}

// Name returns "gemini"
func (p *GeminiProvider) Name() string { return string(common.LLMProviderGemini) }

// Generate makes a single completion call. Retrying is left to the caller.
func (p *GeminiProvider) Generate(ctx context.Context, request *interfaces.ContentRequest) (*interfaces.ContentResponse, error) {
	messages, systemText, err := splitMessages(request.Messages)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}
	if request.SystemInstruction != "" {
		systemText = request.SystemInstruction
	}

	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, genai.Role(role)))
	}

	temp := p.config.Temperature
	if request.Temperature != nil {
		temp = *request.Temperature
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temp),
	}
	if request.MaxTokens > 0 {
		config.MaxOutputTokens = int32(request.MaxTokens)
	}
	if systemText != "" {
		config.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, wrapError(p.Name(), err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Models.GenerateContent(callCtx, p.config.Model, contents, config)
	if err != nil {
		return nil, wrapError(p.Name(), err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from Gemini API")
	}

	return &interfaces.ContentResponse{
		Text:     resp.Text(),
		Provider: p.Name(),
		Model:    p.config.Model,
	}, nil
}

// Close releases the client
func (p *GeminiProvider) Close() error {
	p.client = nil
	return nil
}
