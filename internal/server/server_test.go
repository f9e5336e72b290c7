package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/app"
	"github.com/ternarybob/finrag/internal/common"
)

// newTestApp builds a keyless app: hashing embeddings, offline LLM, voice disabled, file source only
func newTestApp(t *testing.T) (*app.App, *httptest.Server) {
	t.Helper()
	t.Setenv("FINRAG_EODHD_API_KEY", "")
	t.Setenv("EODHD_API_KEY", "")

	dir := t.TempDir()
	docsDir := filepath.Join(dir, "documents")
	require.NoError(t, os.MkdirAll(docsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docsDir, "tesla.txt"),
		[]byte("Tesla price today: Tesla (TSLA) stock price is 251.30 USD. Volume was above average."), 0o644))

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = filepath.Join(dir, "badger")
	cfg.LLM.DefaultProvider = common.LLMProviderOffline
	cfg.Embeddings.Provider = "hashing"
	cfg.Embeddings.Dimension = 256
	cfg.Retrieval.RelevanceThreshold = 0.05
	cfg.Voice.Provider = "disabled"
	cfg.Voice.AudioDir = filepath.Join(dir, "audio")
	cfg.Ingestion.FilesDir = docsDir
	cfg.Ingestion.EarningsNews = false
	cfg.Ingestion.Pages = nil
	cfg.Ingestion.PruneSchedule = ""
	cfg.Voice.ReapSchedule = "@every 1h"

	application, err := app.New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	require.NoError(t, application.StartBackground())
	t.Cleanup(func() { application.Close() })

	srv := New(application)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return application, ts
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, v interface{}) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestServer_IngestThenAsk(t *testing.T) {
	_, ts := newTestApp(t)

	var report map[string]interface{}
	require.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/ingest", "", &report))
	assert.EqualValues(t, 1, report["added"])

	var answer map[string]interface{}
	require.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/ask_llm", `{"question":"What is the current price of Tesla?"}`, &answer))
	assert.Equal(t, "completed", answer["state"])
	assert.Contains(t, answer["answer"], "251.30")
	assert.NotEmpty(t, answer["sources"])

	var health map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "offline", health["llm"])
	assert.Equal(t, false, health["voice"])
	index := health["index"].(map[string]interface{})
	assert.Greater(t, index["chunks"], float64(0))
	ingestion := health["ingestion"].(map[string]interface{})
	assert.NotEmpty(t, ingestion["last_refresh"])

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `finrag_requests_total{modality="text",state="completed"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServer_RebuildOnBootRestoresIndex(t *testing.T) {
	application, ts := newTestApp(t)
	require.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/ingest", "", nil))
	chunks := application.Index.Stats().Chunks
	require.Greater(t, chunks, 0)

	cfg := application.Config
	require.NoError(t, application.Close())

	restarted, err := app.New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	defer restarted.Close()
	assert.Equal(t, chunks, restarted.Index.Stats().Chunks)
}

func TestServer_AudioWithoutVoiceFails(t *testing.T) {
	_, ts := newTestApp(t)

	var status map[string]interface{}
	require.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/audio/missing.mp3", &status))
	assert.Equal(t, "error", status["status"])
}

func TestServer_Routing(t *testing.T) {
	_, ts := newTestApp(t)

	var body map[string]interface{}
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/nope", &body))
	assert.Equal(t, "/nope", body["path"])

	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/", &body))
	assert.Equal(t, "healthy", body["status"])

	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/version", &body))
	assert.Equal(t, common.GetVersion(), body["version"])

	assert.Equal(t, http.StatusMethodNotAllowed, getJSON(t, ts.URL+"/ask_llm", nil))
	assert.Equal(t, http.StatusBadRequest, postJSON(t, ts.URL+"/ask_llm", `{}`, nil))

	var jobs []map[string]interface{}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/jobs", &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, app.JobAudioReap, jobs[0]["name"])

	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/jobs/"+app.JobAudioReap, &body))
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/jobs/"+app.JobAudioReap+"/unknown", nil))
	assert.Equal(t, http.StatusAccepted, postJSON(t, ts.URL+"/jobs/"+app.JobAudioReap+"/trigger", "", nil))
	assert.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/jobs/"+app.JobAudioReap+"/disable", "", &body))
	assert.Equal(t, false, body["enabled"])
}

func TestServer_CORSPreflight(t *testing.T) {
	_, ts := newTestApp(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/ask_llm", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_WebSocketAsk(t *testing.T) {
	_, ts := newTestApp(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+wsAskPath, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, conn.WriteJSON(map[string]string{"question": "What is the RSI for Apple?"}))

	var states []string
	for {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "answer" {
			var answer map[string]interface{}
			require.NoError(t, json.Unmarshal(msg.Payload, &answer))
			assert.Equal(t, "completed", answer["state"])
			break
		}
		var transition struct {
			To string `json:"to"`
		}
		require.NoError(t, json.Unmarshal(msg.Payload, &transition))
		states = append(states, transition.To)
	}
	assert.Equal(t, []string{"retrieving", "synthesizing", "completed"}, states)
}

func TestServer_ShutdownClosesWebSockets(t *testing.T) {
	application, _ := newTestApp(t)
	srv := New(application)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+wsAskPath, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return application.WSHandler.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}
