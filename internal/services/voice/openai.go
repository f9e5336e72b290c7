package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/models"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	maxErrorBody         = 512
)

// OpenAIClient talks to an OpenAI-compatible audio API
type OpenAIClient struct {
	baseURL            string
	apiKey             string
	transcriptionModel string
	speechModel        string
	voice              string
	httpClient         *http.Client
	limiter            *rate.Limiter
	logger             arbor.ILogger
}

// ClientOption configures an OpenAIClient
type ClientOption func(*OpenAIClient)

// WithBaseURL sets the API base URL
func WithBaseURL(url string) ClientOption {
	return func(c *OpenAIClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *OpenAIClient) {
		c.httpClient = client
	}
}

// WithLogger sets the logger
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *OpenAIClient) {
		c.logger = logger
	}
}

// WithRateLimit sets requests per second
func WithRateLimit(rps int) ClientOption {
	return func(c *OpenAIClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
		}
	}
}

// WithModels sets the transcription model, speech model and voice
func WithModels(transcription, speech, voice string) ClientOption {
	return func(c *OpenAIClient) {
		if transcription != "" {
			c.transcriptionModel = transcription
		}
		if speech != "" {
			c.speechModel = speech
		}
		if voice != "" {
			c.voice = voice
		}
	}
}

// NewOpenAIClient creates a client for /audio/transcriptions and /audio/speech
func NewOpenAIClient(apiKey string, opts ...ClientOption) *OpenAIClient {
	c := &OpenAIClient{
		baseURL:            defaultOpenAIBaseURL,
		apiKey:             apiKey,
		transcriptionModel: "whisper-1",
		speechModel:        "tts-1",
		voice:              "alloy",
		httpClient:         &http.Client{Timeout: 60 * time.Second},
		limiter:            rate.NewLimiter(rate.Limit(5), 5),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = arbor.NewLogger()
	}

	return c
}

// Name returns "openai"
func (c *OpenAIClient) Name() string { return "openai" }

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads audio and returns the transcript
func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte, filename, mimeType string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := writer.WriteField("model", c.transcriptionModel); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("failed to write format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	respBody, err := c.post(ctx, "/audio/transcriptions", writer.FormDataContentType(), body.Bytes())
	if err != nil {
		return "", err
	}

	var result transcriptionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode transcription response: %w", err)
	}

	c.logger.Debug().
		Str("model", c.transcriptionModel).
		Str("mime_type", mimeType).
		Int("audio_bytes", len(audio)).
		Int("transcript_chars", len(result.Text)).
		Msg("Audio transcribed")

	return result.Text, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Speak converts text to MP3 audio
func (c *OpenAIClient) Speak(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(speechRequest{
		Model:          c.speechModel,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode speech request: %w", err)
	}

	audio, err := c.post(ctx, "/audio/speech", "application/json", payload)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("model", c.speechModel).
		Str("voice", c.voice).
		Int("audio_bytes", len(audio)).
		Msg("Speech generated")

	return audio, nil
}

// post performs one rate-limited request. Non-2xx responses become *models.StatusError.
func (c *OpenAIClient) post(ctx context.Context, endpoint, contentType string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Trace().
		Str("endpoint", endpoint).
		Int("payload_bytes", len(payload)).
		Msg("Voice API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(body)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &models.StatusError{
			StatusCode: resp.StatusCode,
			Body:       msg,
			Endpoint:   endpoint,
			Retry:      parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return body, nil
}

// parseRetryAfter reads a Retry-After header given in seconds
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}
