package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/services/ingestion"
)

// IngestHandler triggers document refreshes
type IngestHandler struct {
	refresher Refresher
	logger    arbor.ILogger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(refresher Refresher, logger arbor.ILogger) *IngestHandler {
	return &IngestHandler{
		refresher: refresher,
		logger:    logger,
	}
}

// RefreshHandler handles POST /ingest. With ?async=true the refresh runs in the background
// and the call returns 202 immediately; otherwise the refresh report is returned.
func (h *IngestHandler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if h.refresher.Running() {
		WriteError(w, http.StatusConflict, ingestion.ErrRefreshInProgress.Error())
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		go func() {
			if _, err := h.refresher.Refresh(context.Background()); err != nil {
				h.logger.Warn().Err(err).Msg("Background refresh failed")
			}
		}()
		WriteStarted(w, "Refresh started")
		return
	}

	report, err := h.refresher.Refresh(r.Context())
	if err != nil {
		if errors.Is(err, ingestion.ErrRefreshInProgress) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Refresh failed")
		WriteError(w, http.StatusInternalServerError, "Refresh failed: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, report)
}
