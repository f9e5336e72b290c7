package voice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
)

const transcribeInstruction = "Transcribe the spoken audio verbatim. Return only the transcript text. " +
	"If there is no intelligible speech, return an empty response."

// GeminiTranscriber transcribes audio with a multimodal Gemini model
type GeminiTranscriber struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewGeminiTranscriber creates a transcriber using the shared Gemini configuration
func NewGeminiTranscriber(ctx context.Context, config common.GeminiConfig, logger arbor.ILogger) (*GeminiTranscriber, error) {
	apiKey, err := common.ResolveAPIKey("gemini_api_key", config.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve Gemini API key: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := config.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if interval := common.ParseDuration(config.RateLimit, 0); interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}

	return &GeminiTranscriber{
		client:  client,
		model:   model,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Name returns "gemini"
func (g *GeminiTranscriber) Name() string { return "gemini" }

// Transcribe sends the audio inline with a transcription instruction
func (g *GeminiTranscriber) Transcribe(ctx context.Context, audio []byte, filename, mimeType string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(transcribeInstruction),
			genai.NewPartFromBytes(audio, mimeType),
		}, genai.RoleUser),
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Text())

	g.logger.Debug().
		Str("model", g.model).
		Str("filename", filename).
		Int("audio_bytes", len(audio)).
		Dur("duration", time.Since(start)).
		Msg("Audio transcribed")

	return text, nil
}
