// Package orchestrator runs one question through the pipeline as an explicit state machine:
// received → [transcribing] → retrieving → synthesizing → [speaking_out] → completed,
// with failed reachable from any stage.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/interfaces"
	"github.com/ternarybob/finrag/internal/metrics"
	"github.com/ternarybob/finrag/internal/models"
	"github.com/ternarybob/finrag/internal/services/fallback"
)

// DefaultTopK is the number of chunks retrieved per question
const DefaultTopK = 3

// Dependencies wires the pipeline stages. Transcriber, Speech, AudioStore and Metrics may be nil.
type Dependencies struct {
	Retriever   interfaces.Retriever
	Synthesizer interfaces.Synthesizer
	Transcriber interfaces.Transcriber
	Speech      interfaces.SpeechSynthesizer
	AudioStore  interfaces.AudioStore
	Fallback    *fallback.Handler
	Metrics     *metrics.Metrics
}

// Timeouts bound the time spent in each blocking state
type Timeouts struct {
	Transcribe time.Duration
	Retrieve   time.Duration
	Synthesize time.Duration
	Speak      time.Duration
}

// TimeoutsFromConfig parses state timeouts, filling defaults
func TimeoutsFromConfig(config common.OrchestratorConfig) Timeouts {
	return Timeouts{
		Transcribe: common.ParseDuration(config.TranscribeTimeout, 90*time.Second),
		Retrieve:   common.ParseDuration(config.RetrieveTimeout, 15*time.Second),
		Synthesize: common.ParseDuration(config.SynthesizeTimeout, 90*time.Second),
		Speak:      common.ParseDuration(config.SpeakTimeout, 60*time.Second),
	}
}

// Orchestrator answers queries. It is safe for concurrent use; each Ask owns its own state.
type Orchestrator struct {
	deps     Dependencies
	timeouts Timeouts
	topK     int
	tracer   trace.Tracer
	logger   arbor.ILogger
}

// New creates an orchestrator. topK ≤ 0 uses DefaultTopK.
func New(deps Dependencies, config common.OrchestratorConfig, topK int, logger arbor.ILogger) (*Orchestrator, error) {
	if deps.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if deps.Synthesizer == nil {
		return nil, errors.New("synthesizer is required")
	}
	if deps.Fallback == nil {
		return nil, errors.New("fallback handler is required")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	return &Orchestrator{
		deps:     deps,
		timeouts: TimeoutsFromConfig(config),
		topK:     topK,
		tracer:   otel.Tracer("github.com/ternarybob/finrag/orchestrator"),
		logger:   logger,
	}, nil
}

// run is the per-request state
type run struct {
	query     models.Query
	answer    *models.Answer
	question  string
	outcome   models.RetrievalOutcome
	state     State
	entered   time.Time
	observers []Observer
}

// Ask runs query to a terminal state and returns its Answer. It never returns nil,
// and internal failures (including panics) become a fallback Answer.
func (o *Orchestrator) Ask(ctx context.Context, query models.Query, observers ...Observer) *models.Answer {
	if query.ID == "" {
		query.ID = common.NewRequestID()
	}
	if query.Modality == "" {
		query.Modality = models.ModalityText
		if len(query.Audio) > 0 {
			query.Modality = models.ModalityAudio
		}
	}

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "finrag.ask", trace.WithAttributes(
		attribute.String("finrag.request.id", query.ID),
		attribute.String("finrag.modality", string(query.Modality)),
	))
	defer span.End()

	r := &run{
		query: query,
		answer: &models.Answer{
			RequestID: query.ID,
			Question:  strings.TrimSpace(query.RawText),
		},
		state:     StateReceived,
		entered:   start,
		observers: observers,
	}

	for !r.state.Terminal() {
		o.transition(r, o.step(ctx, r))
	}

	r.answer.State = string(r.state)
	duration := time.Since(start)
	o.deps.Metrics.RecordRequest(string(query.Modality), r.answer.State, duration)

	span.SetAttributes(attribute.String("finrag.state", r.answer.State))
	if r.state == StateFailed {
		span.SetStatus(codes.Error, r.answer.Error)
	}

	o.logger.Info().
		Str("request_id", query.ID).
		Str("modality", string(query.Modality)).
		Str("state", r.answer.State).
		Bool("has_error", r.answer.HasError()).
		Bool("has_audio", r.answer.AudioRef != "").
		Int("sources", len(r.answer.Sources)).
		Dur("duration", duration).
		Msg("Question answered")

	return r.answer
}

// step runs the current state and returns the next one
func (o *Orchestrator) step(ctx context.Context, r *run) (next State) {
	stateCtx, span := o.tracer.Start(ctx, "finrag.state."+string(r.state))
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)

			o.logger.Error().
				Str("request_id", r.query.ID).
				Str("state", string(r.state)).
				Str("panic", fmt.Sprintf("%v", rec)).
				Str("stack", string(buf[:n])).
				Msg("Panic recovered in request state")

			span.SetStatus(codes.Error, "panic")
			next = o.fail(r, fallback.General, fmt.Errorf("panic in %s: %v", r.state, rec))
		}
	}()

	switch r.state {
	case StateReceived:
		next = o.receive(stateCtx, r)
	case StateTranscribing:
		next = o.transcribe(stateCtx, r)
	case StateRetrieving:
		next = o.retrieve(stateCtx, r)
	case StateSynthesizing:
		next = o.synthesize(stateCtx, r)
	case StateSpeakingOut:
		next = o.speak(stateCtx, r)
	default:
		next = o.fail(r, fallback.General, fmt.Errorf("no handler for state %s", r.state))
	}

	if next == StateFailed {
		span.SetStatus(codes.Error, r.answer.Error)
	}
	return next
}

func (o *Orchestrator) transition(r *run, next State) {
	if !CanTransition(r.state, next) {
		o.logger.Error().
			Str("request_id", r.query.ID).
			Str("from", string(r.state)).
			Str("to", string(next)).
			Msg("Illegal state transition")
		next = o.fail(r, fallback.General, fmt.Errorf("illegal transition %s -> %s", r.state, next))
	}

	now := time.Now()
	t := models.Transition{
		From:     string(r.state),
		To:       string(next),
		At:       now,
		Duration: now.Sub(r.entered),
	}
	r.answer.Transitions = append(r.answer.Transitions, t)
	o.deps.Metrics.RecordState(t.From, t.Duration)

	o.logger.Trace().
		Str("request_id", r.query.ID).
		Str("from", t.From).
		Str("to", t.To).
		Dur("duration", t.Duration).
		Msg("State transition")

	for _, observer := range r.observers {
		o.notify(observer, r.query.ID, t)
	}

	r.state = next
	r.entered = now
}

// notify isolates the request from a misbehaving observer
func (o *Orchestrator) notify(observer Observer, requestID string, t models.Transition) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Warn().
				Str("request_id", requestID).
				Str("panic", fmt.Sprintf("%v", rec)).
				Msg("Observer panicked")
		}
	}()
	observer.OnTransition(requestID, t)
}

// fail fills the answer with a fallback of kind and returns StateFailed
func (o *Orchestrator) fail(r *run, kind fallback.Kind, cause error) State {
	question := r.question
	if question == "" {
		question = r.answer.Question
	}

	resp := o.deps.Fallback.Respond(kind, question, cause)
	r.answer.Answer = ""
	r.answer.AudioRef = ""
	r.answer.Error = resp.Message
	r.answer.Suggestions = resp.Suggestions
	o.deps.Metrics.RecordFallback(string(resp.Kind))

	return StateFailed
}

func (o *Orchestrator) receive(ctx context.Context, r *run) State {
	if err := ctx.Err(); err != nil {
		return o.fail(r, fallback.Timeout, err)
	}

	switch r.query.Modality {
	case models.ModalityAudio:
		if o.deps.Transcriber == nil {
			return o.fail(r, fallback.VoiceError, errors.New("voice input is not enabled"))
		}
		return StateTranscribing
	case models.ModalityText:
		question := strings.TrimSpace(r.query.RawText)
		if question == "" {
			return o.fail(r, fallback.InvalidInput, nil)
		}
		r.question = question
		return StateRetrieving
	default:
		return o.fail(r, fallback.InvalidInput, fmt.Errorf("unknown modality %q", r.query.Modality))
	}
}

func (o *Orchestrator) transcribe(ctx context.Context, r *run) State {
	stateCtx, cancel := context.WithTimeout(ctx, o.timeouts.Transcribe)
	defer cancel()

	text, err := o.deps.Transcriber.Transcribe(stateCtx, r.query.Audio, r.query.Filename)
	if err != nil {
		if ctx.Err() != nil {
			return o.fail(r, fallback.Timeout, err)
		}
		return o.fail(r, fallback.VoiceError, err)
	}

	r.question = strings.TrimSpace(text)
	if r.question == "" {
		return o.fail(r, fallback.VoiceError, &models.TranscriptionError{Reason: models.TranscriptionNoSpeech})
	}
	r.answer.Question = r.question
	return StateRetrieving
}

func (o *Orchestrator) retrieve(ctx context.Context, r *run) State {
	if err := ctx.Err(); err != nil {
		return o.fail(r, fallback.Timeout, err)
	}

	stateCtx, cancel := context.WithTimeout(ctx, o.timeouts.Retrieve)
	defer cancel()

	outcome, err := o.deps.Retriever.Retrieve(stateCtx, r.question, o.topK)
	if err != nil {
		if ctx.Err() != nil {
			return o.fail(r, fallback.Timeout, err)
		}
		o.logger.Warn().
			Str("request_id", r.query.ID).
			Err(err).
			Msg("Retrieval failed, continuing without context")
		outcome = models.Empty(models.EmptyReasonRetrievalFailed, models.RetrievalResult{})
	}

	r.outcome = outcome
	return StateSynthesizing
}

func (o *Orchestrator) synthesize(ctx context.Context, r *run) State {
	if err := ctx.Err(); err != nil {
		return o.fail(r, fallback.Timeout, err)
	}

	stateCtx, cancel := context.WithTimeout(ctx, o.timeouts.Synthesize)
	defer cancel()

	fragment := o.deps.Synthesizer.Synthesize(stateCtx, r.question, r.outcome)
	if err := ctx.Err(); err != nil {
		return o.fail(r, fallback.Timeout, err)
	}

	r.answer.Answer = fragment.Text
	r.answer.Suggestions = fragment.Suggestions
	r.answer.Sources = fragment.Sources
	r.answer.Error = fragment.Error
	o.deps.Metrics.RecordFallback(fragment.FallbackKey)

	if r.query.Modality == models.ModalityAudio && o.deps.Speech != nil && o.deps.AudioStore != nil && r.answer.Answer != "" {
		return StateSpeakingOut
	}
	return StateCompleted
}

// speak adds audio to the answer; any failure other than caller cancellation still completes
func (o *Orchestrator) speak(ctx context.Context, r *run) State {
	if err := ctx.Err(); err != nil {
		return o.fail(r, fallback.Timeout, err)
	}

	stateCtx, cancel := context.WithTimeout(ctx, o.timeouts.Speak)
	defer cancel()

	audio, err := o.deps.Speech.Speak(stateCtx, r.answer.Answer)
	if err != nil {
		if ctx.Err() != nil {
			return o.fail(r, fallback.Timeout, err)
		}
		o.logger.Warn().
			Str("request_id", r.query.ID).
			Err(err).
			Msg("Speech synthesis failed, returning text only")
		return StateCompleted
	}

	ref, err := o.deps.AudioStore.Save(r.query.ID, audio)
	if err != nil {
		o.logger.Warn().
			Str("request_id", r.query.ID).
			Err(err).
			Msg("Failed to store audio, returning text only")
		return StateCompleted
	}

	r.answer.AudioRef = ref
	return StateCompleted
}
