package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/services/scheduler"
)

// JobController manages scheduled jobs
type JobController interface {
	JobLister
	GetJobStatus(name string) (*scheduler.JobStatus, error)
	TriggerJob(name string) error
	EnableJob(name string) error
	DisableJob(name string) error
}

// SchedulerHandler handles scheduled job endpoints
type SchedulerHandler struct {
	scheduler JobController
	logger    arbor.ILogger
}

// NewSchedulerHandler creates a new scheduler handler
func NewSchedulerHandler(scheduler JobController, logger arbor.ILogger) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: scheduler,
		logger:    logger,
	}
}

// jobName extracts {name} from /jobs/{name}[/action]
func jobName(path string) string {
	rest := strings.TrimPrefix(path, "/jobs/")
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

// ListJobsHandler handles GET /jobs
func (h *SchedulerHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.scheduler.GetAllJobStatuses())
}

// GetJobHandler handles GET /jobs/{name}
func (h *SchedulerHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	status, err := h.scheduler.GetJobStatus(jobName(r.URL.Path))
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// TriggerJobHandler handles POST /jobs/{name}/trigger. The job runs in the background.
func (h *SchedulerHandler) TriggerJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	name := jobName(r.URL.Path)
	status, err := h.scheduler.GetJobStatus(name)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	if status.IsRunning {
		WriteError(w, http.StatusConflict, scheduler.ErrJobRunning.Error())
		return
	}

	go func() {
		if err := h.scheduler.TriggerJob(name); err != nil && !errors.Is(err, scheduler.ErrJobRunning) {
			h.logger.Warn().Str("job_name", name).Err(err).Msg("Triggered job failed")
		}
	}()

	WriteStarted(w, "Job "+name+" triggered")
}

// EnableJobHandler handles POST /jobs/{name}/enable
func (h *SchedulerHandler) EnableJobHandler(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// DisableJobHandler handles POST /jobs/{name}/disable
func (h *SchedulerHandler) DisableJobHandler(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *SchedulerHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	name := jobName(r.URL.Path)
	var err error
	if enabled {
		err = h.scheduler.EnableJob(name)
	} else {
		err = h.scheduler.DisableJob(name)
	}
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	status, err := h.scheduler.GetJobStatus(name)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, status)
}
