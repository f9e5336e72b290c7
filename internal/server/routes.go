package server

import (
	"net/http"
	"strings"
)

const wsAskPath = "/ws/ask"

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Liveness and build info
	mux.HandleFunc("/", s.app.APIHandler.RootHandler)
	mux.HandleFunc("/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/health", s.app.HealthHandler.HealthHandler)
	mux.Handle("/metrics", s.app.MetricsHandler)

	// Questions
	mux.HandleFunc("/ask_llm", s.app.AskHandler.AskLLMHandler)       // POST {question}
	mux.HandleFunc("/ask_audio", s.app.AudioHandler.AskAudioHandler) // POST multipart file
	mux.HandleFunc("/audio/", s.app.AudioHandler.ServeAudioHandler)  // GET /audio/{file}
	mux.HandleFunc(wsAskPath, s.app.WSHandler.HandleAsk)             // WebSocket

	// Ingestion and background jobs
	mux.HandleFunc("/ingest", s.app.IngestHandler.RefreshHandler) // POST, ?async=true
	mux.HandleFunc("/jobs", s.app.SchedulerHandler.ListJobsHandler)
	mux.HandleFunc("/jobs/", s.handleJobRoutes)

	return mux
}

// handleJobRoutes routes /jobs/{name} and /jobs/{name}/{action}
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	h := s.app.SchedulerHandler
	if RouteByPathSuffix(w, r, "/jobs/", []PathSuffixRouter{
		{Suffix: "/trigger", Handler: h.TriggerJobHandler},
		{Suffix: "/enable", Handler: h.EnableJobHandler},
		{Suffix: "/disable", Handler: h.DisableJobHandler},
	}) {
		return
	}

	if strings.Contains(strings.TrimPrefix(r.URL.Path, "/jobs/"), "/") || r.URL.Path == "/jobs/" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	RouteByMethod(w, r, MethodRouter{
		http.MethodGet: h.GetJobHandler,
	})
}
