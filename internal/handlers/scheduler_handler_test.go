package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/services/scheduler"
)

func newTestScheduler(t *testing.T, handler scheduler.Handler) *scheduler.Service {
	t.Helper()
	s := scheduler.NewService(nil, arbor.NewLogger())
	require.NoError(t, s.RegisterJob("audio_reap", "@every 1h", "reap audio", false, handler))
	return s
}

func TestSchedulerHandler_ListAndGet(t *testing.T) {
	handler := NewSchedulerHandler(newTestScheduler(t, func(context.Context) error { return nil }), arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.ListJobsHandler(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []scheduler.JobStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "audio_reap", jobs[0].Name)

	rec = httptest.NewRecorder()
	handler.GetJobHandler(rec, httptest.NewRequest(http.MethodGet, "/jobs/audio_reap", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetJobHandler(rec, httptest.NewRequest(http.MethodGet, "/jobs/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchedulerHandler_Trigger(t *testing.T) {
	var runs atomic.Int32
	handler := NewSchedulerHandler(newTestScheduler(t, func(context.Context) error {
		runs.Add(1)
		return nil
	}), arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.TriggerJobHandler(rec, httptest.NewRequest(http.MethodPost, "/jobs/audio_reap/trigger", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	rec = httptest.NewRecorder()
	handler.TriggerJobHandler(rec, httptest.NewRequest(http.MethodPost, "/jobs/missing/trigger", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchedulerHandler_TriggerWhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	sched := newTestScheduler(t, func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	handler := NewSchedulerHandler(sched, arbor.NewLogger())

	go sched.TriggerJob("audio_reap")
	<-started

	rec := httptest.NewRecorder()
	handler.TriggerJobHandler(rec, httptest.NewRequest(http.MethodPost, "/jobs/audio_reap/trigger", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	close(release)
}

func TestSchedulerHandler_EnableDisable(t *testing.T) {
	handler := NewSchedulerHandler(newTestScheduler(t, func(context.Context) error { return nil }), arbor.NewLogger())

	rec := httptest.NewRecorder()
	handler.DisableJobHandler(rec, httptest.NewRequest(http.MethodPost, "/jobs/audio_reap/disable", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status scheduler.JobStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Enabled)

	rec = httptest.NewRecorder()
	handler.EnableJobHandler(rec, httptest.NewRequest(http.MethodPost, "/jobs/audio_reap/enable", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Enabled)

	rec = httptest.NewRecorder()
	handler.EnableJobHandler(rec, httptest.NewRequest(http.MethodPost, "/jobs/nope/enable", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.EnableJobHandler(rec, httptest.NewRequest(http.MethodGet, "/jobs/audio_reap/enable", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
