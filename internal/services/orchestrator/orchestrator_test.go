package orchestrator

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/interfaces"
	"github.com/ternarybob/finrag/internal/metrics"
	"github.com/ternarybob/finrag/internal/models"
	"github.com/ternarybob/finrag/internal/services/chunker"
	"github.com/ternarybob/finrag/internal/services/embeddings"
	"github.com/ternarybob/finrag/internal/services/fallback"
	"github.com/ternarybob/finrag/internal/services/index"
	"github.com/ternarybob/finrag/internal/services/llm/offline"
	"github.com/ternarybob/finrag/internal/services/retriever"
	"github.com/ternarybob/finrag/internal/services/synthesis"
	"github.com/ternarybob/finrag/internal/services/voice"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	return f.text, f.err
}

// fakeBackend is a voice backend returning a fixed transcript
type fakeBackend struct {
	text  string
	calls int
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Transcribe(ctx context.Context, audio []byte, filename, mimeType string) (string, error) {
	f.calls++
	return f.text, nil
}

type fakeSpeech struct {
	mu    sync.Mutex
	audio []byte
	err   error
	texts []string
}

func (f *fakeSpeech) Speak(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.audio, f.err
}

type panickingSynthesizer struct{}

func (panickingSynthesizer) Synthesize(ctx context.Context, question string, outcome models.RetrievalOutcome) models.AnswerFragment {
	panic("boom")
}

type failingRetriever struct{ err error }

func (f failingRetriever) Retrieve(ctx context.Context, question string, k int) (models.RetrievalOutcome, error) {
	return models.RetrievalOutcome{}, f.err
}

type transitionLog struct {
	mu    sync.Mutex
	steps []string
}

func (l *transitionLog) OnTransition(requestID string, t models.Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.steps) == 0 {
		l.steps = append(l.steps, t.From)
	}
	l.steps = append(l.steps, t.To)
}

type pipeline struct {
	deps     Dependencies
	index    *index.Index
	fallback *fallback.Handler
	metrics  *metrics.Metrics
}

func newPipeline(t *testing.T, docs ...*models.Document) *pipeline {
	t.Helper()
	logger := arbor.NewLogger()

	hashing, err := embeddings.NewHashingEmbedder(256)
	require.NoError(t, err)
	embedder := embeddings.NewService(hashing, time.Second, common.Backoff{MaxAttempts: 1}, logger)

	idx := index.New(logger)
	if len(docs) > 0 {
		c, err := chunker.New()
		require.NoError(t, err)
		var chunks []models.Chunk
		for _, d := range docs {
			chunks = append(chunks, c.Chunk(d)...)
		}
		vectors, err := embedder.EmbedChunks(context.Background(), chunks)
		require.NoError(t, err)
		_, err = idx.Build(chunks, vectors)
		require.NoError(t, err)
	}

	fb := fallback.NewHandler(common.FallbackConfig{}, logger)
	ret := retriever.NewService(embedder, idx, common.RetrievalConfig{TopK: 3, RelevanceThreshold: 0.05}, logger)
	synth := synthesis.NewService(offline.NewExtractiveProvider(), fb, common.SynthesisConfig{
		Retry: common.RetryConfig{MaxAttempts: 1},
	}, logger)
	m := metrics.New(prometheus.NewRegistry())

	return &pipeline{
		deps: Dependencies{
			Retriever:   ret,
			Synthesizer: synth,
			Fallback:    fb,
			Metrics:     m,
		},
		index:    idx,
		fallback: fb,
		metrics:  m,
	}
}

func (p *pipeline) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(p.deps, common.OrchestratorConfig{}, 0, arbor.NewLogger())
	require.NoError(t, err)
	return o
}

func teslaDoc() *models.Document {
	return &models.Document{
		ID:     "doc_tsla",
		Key:    "us:TSLA:quote",
		Source: "quote",
		Text:   "Tesla price today: Tesla (TSLA) stock price is 251.30 USD. Volume was above average.",
	}
}

func silentWAV() []byte {
	samples := make([]byte, 3200)
	buf := new(bytes.Buffer)
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+len(samples)))
	buf.WriteString("WAVEfmt ")
	for _, v := range []any{uint32(16), uint16(1), uint16(1), uint32(16000), uint32(32000), uint16(2), uint16(16)} {
		_ = binary.Write(buf, binary.LittleEndian, v)
	}
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(samples)))
	buf.Write(samples)
	return buf.Bytes()
}

func TestAsk_EmptyIndexReturnsFallbackWithSuggestions(t *testing.T) {
	p := newPipeline(t)
	answer := p.orchestrator(t).Ask(context.Background(), models.NewTextQuery("What is the current price of XYZ?"))

	assert.Equal(t, string(StateCompleted), answer.State)
	assert.Empty(t, answer.Error)
	assert.Equal(t, fallback.Message(fallback.NoContext), answer.Answer)
	assert.NotEmpty(t, answer.Suggestions)
	assert.Empty(t, answer.AudioRef)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.FallbacksTotal.WithLabelValues(string(fallback.NoContext))))
}

func TestAsk_GroundedAnswer(t *testing.T) {
	p := newPipeline(t, teslaDoc())
	log := &transitionLog{}

	answer := p.orchestrator(t).Ask(context.Background(), models.NewTextQuery("What is the current price of Tesla?"), log)

	assert.Equal(t, string(StateCompleted), answer.State)
	assert.NotEmpty(t, answer.Answer)
	assert.NotContains(t, answer.Answer, fallback.Message(fallback.NoContext))
	assert.Contains(t, answer.Answer, "251.30")
	assert.Empty(t, answer.Error)
	require.NotEmpty(t, answer.Sources)
	assert.Equal(t, "doc_tsla", answer.Sources[0].DocumentID)
	assert.NotEmpty(t, answer.RequestID)

	assert.Equal(t, []string{"received", "retrieving", "synthesizing", "completed"}, log.steps)
	assert.Len(t, answer.Transitions, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.RequestsTotal.WithLabelValues("text", "completed")))
}

func TestAsk_SilentAudioFails(t *testing.T) {
	p := newPipeline(t, teslaDoc())
	backend := &fakeBackend{text: "should not be used"}
	p.deps.Transcriber = voice.NewService(backend, nil, common.VoiceConfig{SilenceThreshold: 0.01}, arbor.NewLogger())
	p.deps.Speech = &fakeSpeech{audio: []byte("ID3")}
	p.deps.AudioStore = mustStore(t)

	answer := p.orchestrator(t).Ask(context.Background(), models.NewAudioQuery(silentWAV(), "question.wav"))

	assert.Equal(t, string(StateFailed), answer.State)
	assert.Equal(t, fallback.Message(fallback.VoiceError), answer.Error)
	assert.Equal(t, fallback.Suggestions(fallback.VoiceError), answer.Suggestions)
	assert.Empty(t, answer.AudioRef)
	assert.Empty(t, answer.Answer)
	assert.Zero(t, backend.calls)
}

func TestAsk_AudioRoundTrip(t *testing.T) {
	p := newPipeline(t, teslaDoc())
	speech := &fakeSpeech{audio: []byte("ID3 fake mp3")}
	store := mustStore(t)
	p.deps.Transcriber = &fakeTranscriber{text: "What is the current price of Tesla?"}
	p.deps.Speech = speech
	p.deps.AudioStore = store
	log := &transitionLog{}

	answer := p.orchestrator(t).Ask(context.Background(), models.NewAudioQuery([]byte("audio"), "q.mp3"), log)

	assert.Equal(t, string(StateCompleted), answer.State)
	assert.Equal(t, "What is the current price of Tesla?", answer.Question)
	assert.Empty(t, answer.Error)
	assert.Equal(t, answer.RequestID+".mp3", answer.AudioRef)
	assert.Equal(t, []string{answer.Answer}, speech.texts)

	path, err := store.Path(answer.AudioRef)
	require.NoError(t, err)
	assert.FileExists(t, path)

	assert.Equal(t, []string{"received", "transcribing", "retrieving", "synthesizing", "speaking_out", "completed"}, log.steps)
}

func TestAsk_SpeechFailureIsNotFatal(t *testing.T) {
	p := newPipeline(t, teslaDoc())
	p.deps.Transcriber = &fakeTranscriber{text: "What is the current price of Tesla?"}
	p.deps.Speech = &fakeSpeech{err: &models.ModelUnavailableError{Component: "speech", Provider: "fake", Err: errors.New("down")}}
	p.deps.AudioStore = mustStore(t)

	answer := p.orchestrator(t).Ask(context.Background(), models.NewAudioQuery([]byte("audio"), "q.mp3"))

	assert.Equal(t, string(StateCompleted), answer.State)
	assert.NotEmpty(t, answer.Answer)
	assert.Empty(t, answer.Error)
	assert.Empty(t, answer.AudioRef)
}

func TestAsk_TranscriptionError(t *testing.T) {
	p := newPipeline(t, teslaDoc())
	p.deps.Transcriber = &fakeTranscriber{err: &models.TranscriptionError{Reason: models.TranscriptionUnsupportedFormat}}

	answer := p.orchestrator(t).Ask(context.Background(), models.NewAudioQuery([]byte("not audio"), "q.txt"))

	assert.Equal(t, string(StateFailed), answer.State)
	assert.Equal(t, fallback.Message(fallback.VoiceError), answer.Error)
	assert.Empty(t, answer.AudioRef)
}

func TestAsk_AudioWithoutTranscriber(t *testing.T) {
	p := newPipeline(t, teslaDoc())
	answer := p.orchestrator(t).Ask(context.Background(), models.NewAudioQuery([]byte("audio"), "q.mp3"))

	assert.Equal(t, string(StateFailed), answer.State)
	assert.Equal(t, fallback.Message(fallback.VoiceError), answer.Error)
}

func TestAsk_BlankQuestion(t *testing.T) {
	p := newPipeline(t, teslaDoc())
	answer := p.orchestrator(t).Ask(context.Background(), models.NewTextQuery("   "))

	assert.Equal(t, string(StateFailed), answer.State)
	assert.Equal(t, fallback.Message(fallback.InvalidInput), answer.Error)
	assert.NotEmpty(t, answer.Suggestions)
}

func TestAsk_CancelledContext(t *testing.T) {
	p := newPipeline(t, teslaDoc())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	answer := p.orchestrator(t).Ask(ctx, models.NewTextQuery("What is the current price of Tesla?"))

	assert.Equal(t, string(StateFailed), answer.State)
	assert.Equal(t, fallback.Message(fallback.Timeout), answer.Error)
}

func TestAsk_RetrievalErrorContinuesWithoutContext(t *testing.T) {
	p := newPipeline(t, teslaDoc())
	p.deps.Retriever = failingRetriever{err: &models.ModelUnavailableError{Component: "embedder", Provider: "fake", Err: errors.New("down")}}

	answer := p.orchestrator(t).Ask(context.Background(), models.NewTextQuery("What is the current price of Tesla?"))

	assert.Equal(t, string(StateCompleted), answer.State)
	assert.Equal(t, fallback.Message(fallback.NoContext), answer.Answer)
	assert.NotEmpty(t, answer.Suggestions)
}

func TestAsk_PanicBecomesGeneralFallback(t *testing.T) {
	p := newPipeline(t, teslaDoc())
	p.deps.Synthesizer = panickingSynthesizer{}

	answer := p.orchestrator(t).Ask(context.Background(), models.NewTextQuery("What is the current price of Tesla?"))

	assert.Equal(t, string(StateFailed), answer.State)
	assert.Equal(t, fallback.Message(fallback.General), answer.Error)
	assert.Equal(t, 1, p.fallback.Health().ErrorCount)
}

func TestAsk_ObserverPanicDoesNotBreakRequest(t *testing.T) {
	p := newPipeline(t, teslaDoc())
	bad := ObserverFunc(func(string, models.Transition) { panic("observer") })

	answer := p.orchestrator(t).Ask(context.Background(), models.NewTextQuery("What is the current price of Tesla?"), bad)
	assert.Equal(t, string(StateCompleted), answer.State)
	assert.Empty(t, answer.Error)
}

func TestAsk_ConcurrentRequests(t *testing.T) {
	p := newPipeline(t, teslaDoc())
	o := p.orchestrator(t)

	var wg sync.WaitGroup
	answers := make([]*models.Answer, 20)
	for i := range answers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			answers[i] = o.Ask(context.Background(), models.NewTextQuery(fmt.Sprintf("What is the current price of Tesla? #%d", i)))
		}(i)
	}
	wg.Wait()

	ids := map[string]bool{}
	for _, a := range answers {
		require.NotNil(t, a)
		assert.Equal(t, string(StateCompleted), a.State)
		assert.Empty(t, a.Error)
		ids[a.RequestID] = true
	}
	assert.Len(t, ids, len(answers))
}

func TestNew_RequiresCoreStages(t *testing.T) {
	p := newPipeline(t)

	deps := p.deps
	deps.Retriever = nil
	_, err := New(deps, common.OrchestratorConfig{}, 3, arbor.NewLogger())
	assert.Error(t, err)

	deps = p.deps
	deps.Synthesizer = nil
	_, err = New(deps, common.OrchestratorConfig{}, 3, arbor.NewLogger())
	assert.Error(t, err)

	o, err := New(p.deps, common.OrchestratorConfig{SpeakTimeout: "5s"}, 0, arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, o.topK)
	assert.Equal(t, 5*time.Second, o.timeouts.Speak)
	assert.Equal(t, 15*time.Second, o.timeouts.Retrieve)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateReceived, StateTranscribing))
	assert.True(t, CanTransition(StateSynthesizing, StateCompleted))
	assert.True(t, CanTransition(StateSpeakingOut, StateFailed))
	assert.False(t, CanTransition(StateReceived, StateSynthesizing))
	assert.False(t, CanTransition(StateCompleted, StateFailed))
	assert.False(t, CanTransition(StateFailed, StateRetrieving))
}

func mustStore(t *testing.T) interfaces.AudioStore {
	t.Helper()
	store, err := voice.NewFileAudioStore(t.TempDir(), arbor.NewLogger())
	require.NoError(t, err)
	return store
}
