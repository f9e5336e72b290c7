// Package synthesis turns retrieved context into an answer with an LLM.
package synthesis

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/interfaces"
	"github.com/ternarybob/finrag/internal/models"
	"github.com/ternarybob/finrag/internal/services/fallback"
	"github.com/ternarybob/finrag/internal/services/llm"
)

var answerLabel = regexp.MustCompile(`(?i)^\s*(?:\*\*)?answer(?:\*\*)?\s*:\s*(?:\*\*)?`)

// Service is the language synthesizer
type Service struct {
	provider        interfaces.LLMProvider
	fallback        *fallback.Handler
	maxContextChars int
	temperature     float32
	maxTokens       int
	timeout         time.Duration
	backoff         common.Backoff
	logger          arbor.ILogger
}

var _ interfaces.Synthesizer = (*Service)(nil)

// NewService creates a synthesizer
func NewService(provider interfaces.LLMProvider, fallbackHandler *fallback.Handler, config common.SynthesisConfig, logger arbor.ILogger) *Service {
	s := &Service{
		provider:        provider,
		fallback:        fallbackHandler,
		maxContextChars: config.MaxContextChars,
		temperature:     config.Temperature,
		maxTokens:       config.MaxTokens,
		timeout:         common.ParseDuration(config.Timeout, 30*time.Second),
		backoff:         common.NewBackoff(config.Retry),
		logger:          logger,
	}
	if s.maxContextChars <= 0 {
		s.maxContextChars = 6000
	}
	if s.maxTokens <= 0 {
		s.maxTokens = 512
	}
	return s
}

// Synthesize answers question from the outcome. It never fails: an empty
// outcome skips the model, and model failures become a fallback with Error set.
func (s *Service) Synthesize(ctx context.Context, question string, outcome models.RetrievalOutcome) models.AnswerFragment {
	if !outcome.IsFound() {
		s.logger.Debug().
			Str("reason", string(outcome.Reason)).
			Float64("top_score", float64(outcome.TopScore)).
			Msg("No relevant context, skipping LLM")

		resp := s.fallback.Respond(fallback.NoContext, question, nil)
		return models.AnswerFragment{
			Text:        resp.Message,
			Suggestions: resp.Suggestions,
			FallbackKey: string(resp.Kind),
		}
	}

	contextBlock, sources := BuildContext(outcome.Result.Items, s.maxContextChars)
	temperature := s.temperature
	request := &interfaces.ContentRequest{
		Messages:          []interfaces.Message{{Role: "user", Content: BuildPrompt(contextBlock, question)}},
		SystemInstruction: SystemPersona,
		Temperature:       &temperature,
		MaxTokens:         s.maxTokens,
	}

	start := time.Now()
	var answer string
	attempts, err := common.Retry(ctx, s.backoff, s.logger, "synthesize", llm.IsTransient, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		resp, err := s.provider.Generate(callCtx, request)
		if err != nil {
			return err
		}

		parsed, err := ParseCompletion(resp.Text)
		if err != nil {
			return err
		}
		answer = parsed
		return nil
	})

	if err != nil {
		if llm.IsTransient(err) {
			err = &models.UpstreamTimeoutError{Operation: "synthesize", Attempts: attempts, Err: err}
		}

		kind := fallback.LLMError
		if ctx.Err() != nil {
			kind = fallback.Timeout
		}

		s.logger.Warn().
			Str("provider", s.provider.Name()).
			Int("attempts", attempts).
			Err(err).
			Msg("Synthesis failed, using fallback")

		resp := s.fallback.Respond(kind, question, err)
		return models.AnswerFragment{
			Text:        resp.Message,
			Suggestions: resp.Suggestions,
			Error:       resp.Message,
			FallbackKey: string(resp.Kind),
		}
	}

	s.logger.Debug().
		Str("provider", s.provider.Name()).
		Int("attempts", attempts).
		Int("context_chars", len([]rune(contextBlock))).
		Int("sources", len(sources)).
		Dur("duration", time.Since(start)).
		Msg("Answer synthesized")

	return models.AnswerFragment{
		Text:     answer,
		Sources:  sources,
		Grounded: true,
	}
}

// ParseCompletion trims a completion, strips surrounding code fences and a
// leading "Answer:" label. An empty result is a *models.SynthesisParseError.
func ParseCompletion(raw string) (string, error) {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// Drop a language tag on the opening fence
		if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], " \t") {
			text = text[nl+1:]
		}
		text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
	}

	text = strings.TrimSpace(answerLabel.ReplaceAllString(text, ""))

	if text == "" {
		return "", &models.SynthesisParseError{Reason: "empty completion", Raw: raw}
	}
	return text, nil
}
