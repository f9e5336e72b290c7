package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/models"
	"github.com/ternarybob/finrag/internal/services/fallback"
	"github.com/ternarybob/finrag/internal/services/scheduler"
)

// HealthDependencies are the components reported by /health. Documents, Ingestion and Scheduler may be nil.
type HealthDependencies struct {
	Fallback  HealthReporter
	Index     IndexStatter
	Documents DocumentCounter
	Ingestion IngestionStatus
	Scheduler JobLister
	LLM       string
	Voice     bool
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string                 `json:"status"` // "ok" or "degraded"
	Fallback  fallback.Health        `json:"fallback"`
	Index     models.IndexStats      `json:"index"`
	Documents *DocumentCounts        `json:"documents,omitempty"`
	Ingestion *IngestionHealth       `json:"ingestion,omitempty"`
	Jobs      []*scheduler.JobStatus `json:"jobs,omitempty"`
	LLM       string                 `json:"llm"`
	Voice     bool                   `json:"voice"`
}

// DocumentCounts reports stored documents; total includes superseded versions
type DocumentCounts struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// IngestionHealth reports the refresh state
type IngestionHealth struct {
	Running     bool       `json:"running"`
	Sources     []string   `json:"sources"`
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
}

// HealthHandler reports pipeline health
type HealthHandler struct {
	deps   HealthDependencies
	logger arbor.ILogger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(deps HealthDependencies, logger arbor.ILogger) *HealthHandler {
	return &HealthHandler{
		deps:   deps,
		logger: logger,
	}
}

// HealthHandler handles GET /health. It always answers 200 while the process is serving;
// the status field turns "degraded" when recent errors exceed the healthy threshold.
func (h *HealthHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	ctx := r.Context()
	resp := HealthResponse{
		Status:   "ok",
		Fallback: h.deps.Fallback.Health(),
		Index:    h.deps.Index.Stats(),
		LLM:      h.deps.LLM,
		Voice:    h.deps.Voice,
	}
	if !resp.Fallback.Healthy || resp.Fallback.RateLimited {
		resp.Status = "degraded"
	}

	if h.deps.Documents != nil {
		current, total, err := h.deps.Documents.CountDocuments(ctx)
		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to count documents for health")
		} else {
			resp.Documents = &DocumentCounts{Current: current, Total: total}
		}
	}

	if h.deps.Ingestion != nil {
		ing := &IngestionHealth{
			Running: h.deps.Ingestion.Running(),
			Sources: h.deps.Ingestion.Sources(),
		}
		last, err := h.deps.Ingestion.LastRefresh(ctx)
		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to read last refresh for health")
		} else if !last.IsZero() {
			ing.LastRefresh = &last
		}
		resp.Ingestion = ing
	}

	if h.deps.Scheduler != nil {
		resp.Jobs = h.deps.Scheduler.GetAllJobStatuses()
	}

	WriteJSON(w, http.StatusOK, resp)
}

// NewMetricsHandler exposes the registry in the Prometheus text format
func NewMetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
