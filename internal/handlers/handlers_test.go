package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/metrics"
	"github.com/ternarybob/finrag/internal/models"
	"github.com/ternarybob/finrag/internal/services/fallback"
	"github.com/ternarybob/finrag/internal/services/index"
	"github.com/ternarybob/finrag/internal/services/ingestion"
	"github.com/ternarybob/finrag/internal/services/orchestrator"
	"github.com/ternarybob/finrag/internal/services/scheduler"
	"github.com/ternarybob/finrag/internal/services/voice"
)

// fakeAsker records queries and replays a fixed transition sequence
type fakeAsker struct {
	mu       sync.Mutex
	queries  []models.Query
	audioRef string
}

func (f *fakeAsker) Ask(ctx context.Context, query models.Query, observers ...orchestrator.Observer) *models.Answer {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	question := query.RawText
	if query.Modality == models.ModalityAudio {
		question = "transcribed question"
	}

	states := []string{"received", "retrieving", "synthesizing", "completed"}
	for i := 1; i < len(states); i++ {
		for _, o := range observers {
			o.OnTransition("req-1", models.Transition{From: states[i-1], To: states[i], At: time.Now(), Duration: time.Millisecond})
		}
	}

	return &models.Answer{
		RequestID: "req-1",
		Question:  question,
		Answer:    "Tesla closed at 250.50.",
		AudioRef:  f.audioRef,
		State:     "completed",
	}
}

func (f *fakeAsker) last() models.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAskLLMHandler(t *testing.T) {
	asker := &fakeAsker{}
	handler := NewAskHandler(asker, arbor.NewLogger())

	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "valid question", method: http.MethodPost, body: `{"question":"What is Tesla's price?"}`, wantStatus: http.StatusOK},
		{name: "missing question", method: http.MethodPost, body: `{}`, wantStatus: http.StatusBadRequest, wantError: "question is required"},
		{name: "empty body", method: http.MethodPost, body: ``, wantStatus: http.StatusBadRequest, wantError: "request body is empty"},
		{name: "invalid json", method: http.MethodPost, body: `{"question":`, wantStatus: http.StatusBadRequest, wantError: "invalid JSON"},
		{name: "too long", method: http.MethodPost, body: `{"question":"` + strings.Repeat("a", 2001) + `"}`, wantStatus: http.StatusBadRequest, wantError: "at most 2000"},
		{name: "wrong method", method: http.MethodGet, wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/ask_llm", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			handler.AskLLMHandler(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody(t, rec)
			if tt.wantError != "" {
				assert.Equal(t, "error", body["status"])
				assert.Contains(t, body["error"], tt.wantError)
			}
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "req-1", body["request_id"])
				assert.Equal(t, "Tesla closed at 250.50.", body["answer"])
				assert.Equal(t, "completed", body["state"])
				assert.NotContains(t, body, "audio_url")
				assert.Equal(t, models.ModalityText, asker.last().Modality)
				assert.Equal(t, "What is Tesla's price?", asker.last().RawText)
			}
		})
	}
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	if field != "" {
		part, err := writer.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	} else {
		require.NoError(t, writer.WriteField("note", "no file"))
	}
	require.NoError(t, writer.Close())
	return buf, writer.FormDataContentType()
}

func TestAskAudioHandler(t *testing.T) {
	for _, field := range []string{"file", "audio_file"} {
		t.Run(field, func(t *testing.T) {
			asker := &fakeAsker{audioRef: "req-1.mp3"}
			handler := NewAudioHandler(asker, nil, 1024*1024, arbor.NewLogger())

			body, contentType := multipartBody(t, field, "question.wav", []byte("RIFF....WAVE"))
			req := httptest.NewRequest(http.MethodPost, "/ask_audio", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()

			handler.AskAudioHandler(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			resp := decodeBody(t, rec)
			assert.Equal(t, "transcribed question", resp["question"])
			assert.Equal(t, "req-1.mp3", resp["audio_ref"])
			assert.Equal(t, "/audio/req-1.mp3", resp["audio_url"])

			query := asker.last()
			assert.Equal(t, models.ModalityAudio, query.Modality)
			assert.Equal(t, "question.wav", query.Filename)
			assert.Equal(t, []byte("RIFF....WAVE"), query.Audio)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		handler := NewAudioHandler(&fakeAsker{}, nil, 1024*1024, arbor.NewLogger())
		body, contentType := multipartBody(t, "", "", nil)
		req := httptest.NewRequest(http.MethodPost, "/ask_audio", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()

		handler.AskAudioHandler(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], `"file" is required`)
	})

	t.Run("not multipart", func(t *testing.T) {
		handler := NewAudioHandler(&fakeAsker{}, nil, 1024*1024, arbor.NewLogger())
		req := httptest.NewRequest(http.MethodPost, "/ask_audio", strings.NewReader(`{"question":"hi"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		handler.AskAudioHandler(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServeAudioHandler(t *testing.T) {
	store, err := voice.NewFileAudioStore(t.TempDir(), arbor.NewLogger())
	require.NoError(t, err)
	ref, err := store.Save("req-42", []byte("ID3 fake mp3 bytes"))
	require.NoError(t, err)

	handler := NewAudioHandler(&fakeAsker{}, store, 0, arbor.NewLogger())

	t.Run("existing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeAudioHandler(rec, httptest.NewRequest(http.MethodGet, "/audio/"+ref, nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
		assert.Equal(t, "ID3 fake mp3 bytes", rec.Body.String())
	})

	for _, path := range []string{"/audio/missing.mp3", "/audio/notes.txt", "/audio/"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeAudioHandler(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

// fakeRefresher returns a canned report or error
type fakeRefresher struct {
	mu      sync.Mutex
	running bool
	err     error
	calls   int
	called  chan struct{}
}

func (f *fakeRefresher) Refresh(ctx context.Context) (*ingestion.RefreshReport, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.called != nil {
		close(f.called)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ingestion.RefreshReport{Added: 2, Unchanged: 5, IndexVersion: 3}, nil
}

func (f *fakeRefresher) Running() bool { return f.running }

func TestRefreshHandler(t *testing.T) {
	logger := arbor.NewLogger()

	t.Run("sync report", func(t *testing.T) {
		handler := NewIngestHandler(&fakeRefresher{}, logger)
		rec := httptest.NewRecorder()
		handler.RefreshHandler(rec, httptest.NewRequest(http.MethodPost, "/ingest", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.EqualValues(t, 2, body["added"])
		assert.EqualValues(t, 3, body["index_version"])
	})

	t.Run("already running", func(t *testing.T) {
		refresher := &fakeRefresher{running: true}
		handler := NewIngestHandler(refresher, logger)
		rec := httptest.NewRecorder()
		handler.RefreshHandler(rec, httptest.NewRequest(http.MethodPost, "/ingest", nil))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, 0, refresher.calls)
	})

	t.Run("lost race", func(t *testing.T) {
		handler := NewIngestHandler(&fakeRefresher{err: ingestion.ErrRefreshInProgress}, logger)
		rec := httptest.NewRecorder()
		handler.RefreshHandler(rec, httptest.NewRequest(http.MethodPost, "/ingest", nil))

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("failure", func(t *testing.T) {
		handler := NewIngestHandler(&fakeRefresher{err: errors.New("index merge failed")}, logger)
		rec := httptest.NewRecorder()
		handler.RefreshHandler(rec, httptest.NewRequest(http.MethodPost, "/ingest", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["error"], "index merge failed")
	})

	t.Run("async", func(t *testing.T) {
		refresher := &fakeRefresher{called: make(chan struct{})}
		handler := NewIngestHandler(refresher, logger)
		rec := httptest.NewRecorder()
		handler.RefreshHandler(rec, httptest.NewRequest(http.MethodPost, "/ingest?async=true", nil))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "started", decodeBody(t, rec)["status"])
		select {
		case <-refresher.called:
		case <-time.After(time.Second):
			t.Fatal("background refresh did not run")
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		handler := NewIngestHandler(&fakeRefresher{}, logger)
		rec := httptest.NewRecorder()
		handler.RefreshHandler(rec, httptest.NewRequest(http.MethodGet, "/ingest", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

type fakeIngestionStatus struct {
	last time.Time
}

func (f fakeIngestionStatus) Running() bool     { return false }
func (f fakeIngestionStatus) Sources() []string { return []string{"quote", "file"} }
func (f fakeIngestionStatus) LastRefresh(context.Context) (time.Time, error) {
	return f.last, nil
}

type fakeDocumentCounter struct{}

func (fakeDocumentCounter) CountDocuments(context.Context) (int, int, error) { return 4, 6, nil }

func TestHealthHandler(t *testing.T) {
	logger := arbor.NewLogger()
	fb := fallback.NewHandler(common.FallbackConfig{ErrorWindow: "60s", RateLimitThreshold: 10, HealthyThreshold: 5}, logger)
	sched := scheduler.NewService(nil, logger)
	require.NoError(t, sched.RegisterJob("ingestion_refresh", "@every 1h", "refresh", false, func(context.Context) error { return nil }))

	lastRefresh := time.Date(2026, 10, 1, 6, 0, 0, 0, time.UTC)
	handler := NewHealthHandler(HealthDependencies{
		Fallback:  fb,
		Index:     index.New(logger),
		Documents: fakeDocumentCounter{},
		Ingestion: fakeIngestionStatus{last: lastRefresh},
		Scheduler: sched,
		LLM:       "offline",
	}, logger)

	rec := httptest.NewRecorder()
	handler.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Fallback.Healthy)
	assert.Equal(t, 0, resp.Index.Chunks)
	require.NotNil(t, resp.Documents)
	assert.Equal(t, 4, resp.Documents.Current)
	assert.Equal(t, 6, resp.Documents.Total)
	require.NotNil(t, resp.Ingestion)
	assert.Equal(t, []string{"quote", "file"}, resp.Ingestion.Sources)
	require.NotNil(t, resp.Ingestion.LastRefresh)
	assert.True(t, lastRefresh.Equal(*resp.Ingestion.LastRefresh))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "ingestion_refresh", resp.Jobs[0].Name)
	assert.Equal(t, "offline", resp.LLM)

	// Enough recent errors flip the status
	for i := 0; i < 6; i++ {
		fb.Respond(fallback.LLMError, "q", errors.New("provider down"))
	}
	rec = httptest.NewRecorder()
	handler.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.Fallback.Healthy)
}

func TestHealthHandler_MinimalDependencies(t *testing.T) {
	logger := arbor.NewLogger()
	handler := NewHealthHandler(HealthDependencies{
		Fallback: fallback.NewHandler(common.FallbackConfig{}, logger),
		Index:    index.New(logger),
	}, logger)

	rec := httptest.NewRecorder()
	handler.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.NotContains(t, body, "documents")
	assert.NotContains(t, body, "ingestion")
	assert.NotContains(t, body, "jobs")
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RecordFallback("no_context")
	m.SetIndex(7, 120)

	server := httptest.NewServer(NewMetricsHandler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `finrag_fallbacks_total{kind="no_context"} 1`)
	assert.Contains(t, string(data), "finrag_index_chunks 120")
}

func TestAPIHandler(t *testing.T) {
	handler := NewAPIHandler(arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, common.GetVersion(), decodeBody(t, rec)["version"])

	rec = httptest.NewRecorder()
	handler.RootHandler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	rec = httptest.NewRecorder()
	handler.RootHandler(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "/nope", decodeBody(t, rec)["path"])
}
