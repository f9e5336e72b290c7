// Package voice converts between speech and text and keeps generated audio on disk.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/interfaces"
	"github.com/ternarybob/finrag/internal/models"
)

// ErrSpeechDisabled is returned by Speak when no speech backend is configured
var ErrSpeechDisabled = errors.New("speech output is disabled")

// MaxSpeechChars is the longest text sent for speech; longer answers are cut at a word boundary
const MaxSpeechChars = 4096

// TranscriptionBackend turns validated audio into text with one upstream call
type TranscriptionBackend interface {
	Transcribe(ctx context.Context, audio []byte, filename, mimeType string) (string, error)
	Name() string
}

// SpeechBackend turns text into MP3 audio with one upstream call
type SpeechBackend interface {
	Speak(ctx context.Context, text string) ([]byte, error)
	Name() string
}

// Service validates input and adds timeouts and retries around the backends
type Service struct {
	transcriber      TranscriptionBackend
	speech           SpeechBackend
	maxAudioBytes    int
	silenceThreshold float64
	timeout          time.Duration
	backoff          common.Backoff
	logger           arbor.ILogger
}

var (
	_ interfaces.Transcriber       = (*Service)(nil)
	_ interfaces.SpeechSynthesizer = (*Service)(nil)
)

// NewService creates a voice service. Either backend may be nil.
func NewService(transcriber TranscriptionBackend, speech SpeechBackend, config common.VoiceConfig, logger arbor.ILogger) *Service {
	s := &Service{
		transcriber:      transcriber,
		speech:           speech,
		maxAudioBytes:    config.MaxAudioBytes,
		silenceThreshold: config.SilenceThreshold,
		timeout:          common.ParseDuration(config.Timeout, 60*time.Second),
		backoff:          common.NewBackoff(config.Retry),
		logger:           logger,
	}
	if s.maxAudioBytes <= 0 {
		s.maxAudioBytes = 25 * 1024 * 1024
	}
	return s
}

// NewServiceFromConfig builds backends for the configured provider.
// A missing speech key disables speech output rather than failing startup.
func NewServiceFromConfig(ctx context.Context, config *common.Config, logger arbor.ILogger) (*Service, error) {
	voiceCfg := config.Voice

	var transcriber TranscriptionBackend
	var speech SpeechBackend

	openAIKey, keyErr := common.ResolveAPIKey("voice_api_key", voiceCfg.APIKey)
	newOpenAI := func() *OpenAIClient {
		return NewOpenAIClient(openAIKey,
			WithBaseURL(voiceCfg.BaseURL),
			WithLogger(logger),
			WithRateLimit(voiceCfg.RateLimit),
			WithModels(voiceCfg.TranscriptionModel, voiceCfg.SpeechModel, voiceCfg.Voice),
		)
	}

	switch voiceCfg.Provider {
	case "openai", "":
		if keyErr != nil {
			return nil, fmt.Errorf("failed to resolve voice API key: %w", keyErr)
		}
		client := newOpenAI()
		transcriber = client
		if voiceCfg.SpeechEnabled {
			speech = client
		}
	case "gemini":
		gemini, err := NewGeminiTranscriber(ctx, config.Gemini, logger)
		if err != nil {
			return nil, err
		}
		transcriber = gemini
		if voiceCfg.SpeechEnabled {
			if keyErr != nil {
				logger.Warn().Err(keyErr).Msg("No voice API key, speech output disabled")
			} else {
				speech = newOpenAI()
			}
		}
	case "disabled":
	default:
		return nil, fmt.Errorf("unsupported voice provider: %s", voiceCfg.Provider)
	}

	logger.Info().
		Str("provider", voiceCfg.Provider).
		Bool("speech", speech != nil).
		Msg("Voice service initialized")

	return NewService(transcriber, speech, voiceCfg, logger), nil
}

// SpeechEnabled reports whether Speak can produce audio
func (s *Service) SpeechEnabled() bool {
	return s.speech != nil
}

// TranscriptionEnabled reports whether Transcribe has a backend
func (s *Service) TranscriptionEnabled() bool {
	return s.transcriber != nil
}

// Transcribe validates audio then transcribes it. Every failure is a *models.TranscriptionError.
func (s *Service) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	info, err := ValidateAudio(audio, filename, s.maxAudioBytes, s.silenceThreshold)
	if err != nil {
		return "", err
	}

	if s.transcriber == nil {
		return "", &models.TranscriptionError{
			Reason: models.TranscriptionProviderError,
			Err:    errors.New("transcription is disabled"),
		}
	}

	if filename == "" {
		filename = "audio" + info.Extension
	}

	var transcript string
	attempts, err := common.Retry(ctx, s.backoff, s.logger, "transcribe", models.IsTransient, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		text, err := s.transcriber.Transcribe(callCtx, audio, filename, info.MIMEType)
		if err != nil {
			return err
		}
		transcript = text
		return nil
	})
	if err != nil {
		if models.IsTransient(err) {
			err = &models.UpstreamTimeoutError{Operation: "transcribe", Attempts: attempts, Err: err}
		}
		return "", &models.TranscriptionError{Reason: models.TranscriptionProviderError, Err: err}
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", &models.TranscriptionError{Reason: models.TranscriptionNoSpeech}
	}

	s.logger.Debug().
		Str("provider", s.transcriber.Name()).
		Str("mime_type", info.MIMEType).
		Int("attempts", attempts).
		Msg("Transcription complete")

	return transcript, nil
}

// Speak converts text to MP3 audio
func (s *Service) Speak(ctx context.Context, text string) ([]byte, error) {
	if s.speech == nil {
		return nil, ErrSpeechDisabled
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("speech text cannot be empty")
	}
	text = truncateSpeech(text, MaxSpeechChars)

	var audio []byte
	attempts, err := common.Retry(ctx, s.backoff, s.logger, "speak", models.IsTransient, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		out, err := s.speech.Speak(callCtx, text)
		if err != nil {
			return err
		}
		audio = out
		return nil
	})
	if err != nil {
		if models.IsTransient(err) {
			return nil, &models.UpstreamTimeoutError{Operation: "speak", Attempts: attempts, Err: err}
		}
		return nil, &models.ModelUnavailableError{Component: "speech", Provider: s.speech.Name(), Err: err}
	}

	if len(audio) == 0 {
		return nil, &models.ModelUnavailableError{Component: "speech", Provider: s.speech.Name(), Err: errors.New("empty audio response")}
	}

	return audio, nil
}

func truncateSpeech(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := string(runes[:limit])
	if i := strings.LastIndexAny(cut, " \n\t"); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
