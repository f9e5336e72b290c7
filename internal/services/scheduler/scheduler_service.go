package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/interfaces"
)

// Handler is the work performed by a scheduled job
type Handler func(ctx context.Context) error

// JobStatus describes a registered job
type JobStatus struct {
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Description string     `json:"description"`
	Enabled     bool       `json:"enabled"`
	AutoStart   bool       `json:"auto_start"`
	IsRunning   bool       `json:"is_running"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// ErrJobRunning is returned by TriggerJob when the job is already executing
var ErrJobRunning = errors.New("job already running")

// jobEntry represents a registered job with metadata
type jobEntry struct {
	name        string
	schedule    string
	description string
	handler     Handler
	enabled     bool
	autoStart   bool
	cronID      cron.EntryID
	lastRun     *time.Time
	isRunning   bool
	lastError   string
}

// jobSettings is the persisted part of a job entry
type jobSettings struct {
	Enabled   bool       `json:"enabled"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Service runs background jobs on cron schedules.
// A job never overlaps itself: a tick that fires while it is still running is skipped.
type Service struct {
	cron    *cron.Cron
	kv      interfaces.KeyValueStorage // Optional, persists last run and enabled state
	logger  arbor.ILogger
	jobMu   sync.Mutex // Protects jobs map
	jobs    map[string]*jobEntry
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a new scheduler service
func NewService(kv interfaces.KeyValueStorage, logger arbor.ILogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cron:   cron.New(cron.WithParser(common.ScheduleParser)),
		kv:     kv,
		logger: logger,
		jobs:   make(map[string]*jobEntry),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins firing registered jobs. Jobs registered with autoStart run once immediately.
func (s *Service) Start() error {
	s.jobMu.Lock()
	if s.running {
		s.jobMu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true

	autoStartJobs := make([]string, 0)
	for name, entry := range s.jobs {
		if entry.enabled && entry.autoStart {
			autoStartJobs = append(autoStartJobs, name)
		}
	}
	s.jobMu.Unlock()

	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")

	for _, name := range autoStartJobs {
		s.logger.Info().Str("job_name", name).Msg("Executing auto-start job")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.executeJob(name)
		}()
	}

	return nil
}

// Stop halts the scheduler, cancels running jobs and waits for them to return
func (s *Service) Stop() error {
	s.jobMu.Lock()
	if !s.running {
		s.jobMu.Unlock()
		return nil
	}
	s.running = false
	s.jobMu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true if scheduler is active
func (s *Service) IsRunning() bool {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	return s.running
}

// RegisterJob registers a new job with the scheduler
func (s *Service) RegisterJob(name string, schedule string, description string, autoStart bool, handler Handler) error {
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:        name,
		schedule:    schedule,
		description: description,
		handler:     handler,
		enabled:     true,
		autoStart:   autoStart,
	}

	if settings, ok := s.loadJobSettings(name); ok {
		entry.enabled = settings.Enabled
		entry.lastRun = settings.LastRun
		entry.lastError = settings.LastError
	}

	if entry.enabled {
		cronID, err := s.cron.AddFunc(schedule, func() {
			s.executeJob(name)
		})
		if err != nil {
			return fmt.Errorf("failed to add job to cron: %w", err)
		}
		entry.cronID = cronID
	}

	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Bool("enabled", entry.enabled).
		Msg("Job registered")

	return nil
}

// EnableJob enables a disabled job
func (s *Service) EnableJob(name string) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	if entry.enabled {
		return nil
	}

	cronID, err := s.cron.AddFunc(entry.schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}
	entry.cronID = cronID
	entry.enabled = true

	s.logger.Info().Str("job_name", name).Msg("Job enabled")
	s.saveJobSettings(entry)
	return nil
}

// DisableJob disables an enabled job; a run in progress is not interrupted
func (s *Service) DisableJob(name string) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	if !entry.enabled {
		return nil
	}

	s.cron.Remove(entry.cronID)
	entry.enabled = false

	s.logger.Info().Str("job_name", name).Msg("Job disabled")
	s.saveJobSettings(entry)
	return nil
}

// TriggerJob runs a job now and waits for it to finish
func (s *Service) TriggerJob(name string) error {
	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		return fmt.Errorf("job %s not found", name)
	}
	running := entry.isRunning
	s.jobMu.Unlock()

	if running {
		return ErrJobRunning
	}

	s.logger.Info().Str("job_name", name).Msg("Manual job trigger requested")
	if !s.executeJob(name) {
		return ErrJobRunning
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if entry.lastError != "" {
		return errors.New(entry.lastError)
	}
	return nil
}

// GetJobStatus returns the status of a specific job
func (s *Service) GetJobStatus(name string) (*JobStatus, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}
	return s.statusLocked(entry), nil
}

// GetAllJobStatuses returns all job statuses ordered by name
func (s *Service) GetAllJobStatuses() []*JobStatus {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	statuses := make([]*JobStatus, 0, len(s.jobs))
	for _, entry := range s.jobs {
		statuses = append(statuses, s.statusLocked(entry))
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func (s *Service) statusLocked(entry *jobEntry) *JobStatus {
	var nextRun *time.Time
	if entry.enabled {
		if next := s.cron.Entry(entry.cronID).Next; !next.IsZero() {
			nextRun = &next
		}
	}

	return &JobStatus{
		Name:        entry.name,
		Schedule:    entry.schedule,
		Description: entry.description,
		Enabled:     entry.enabled,
		AutoStart:   entry.autoStart,
		IsRunning:   entry.isRunning,
		LastRun:     entry.lastRun,
		NextRun:     nextRun,
		LastError:   entry.lastError,
	}
}

// executeJob wraps job execution with overlap protection, panic recovery and status tracking.
// It returns false when the job was already running and this run was skipped.
func (s *Service) executeJob(name string) (ran bool) {
	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Job not found")
		return false
	}
	if entry.isRunning {
		s.jobMu.Unlock()
		s.logger.Debug().Str("job_name", name).Msg("Job still running, skipping this cycle")
		return false
	}
	entry.isRunning = true
	handler := entry.handler
	s.jobMu.Unlock()

	start := time.Now()
	s.logger.Info().Str("job_name", name).Msg("🚀 Job execution started")

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Str("job_name", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("PANIC RECOVERED in job execution")
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = handler(s.ctx)
	}()

	completionTime := time.Now()

	s.jobMu.Lock()
	entry.isRunning = false
	entry.lastRun = &completionTime
	if err != nil {
		entry.lastError = err.Error()
		s.logger.Error().
			Str("job_name", name).
			Err(err).
			Str("duration", time.Since(start).String()).
			Msg("❌ Job execution failed")
	} else {
		entry.lastError = ""
		s.logger.Info().
			Str("job_name", name).
			Str("duration", time.Since(start).String()).
			Msg("✅ Job execution completed successfully")
	}
	s.saveJobSettings(entry)
	s.jobMu.Unlock()

	return true
}

func settingsKey(name string) string {
	return "scheduler.job." + name
}

// saveJobSettings persists enabled state and last run; the caller holds jobMu
func (s *Service) saveJobSettings(entry *jobEntry) {
	if s.kv == nil {
		return
	}
	data, err := json.Marshal(jobSettings{
		Enabled:   entry.enabled,
		LastRun:   entry.lastRun,
		LastError: entry.lastError,
	})
	if err != nil {
		return
	}
	if err := s.kv.Set(context.Background(), settingsKey(entry.name), string(data)); err != nil {
		s.logger.Warn().Str("job_name", entry.name).Err(err).Msg("Failed to persist job settings")
	}
}

func (s *Service) loadJobSettings(name string) (jobSettings, bool) {
	var settings jobSettings
	if s.kv == nil {
		return settings, false
	}
	value, err := s.kv.Get(context.Background(), settingsKey(name))
	if err != nil {
		if !errors.Is(err, interfaces.ErrKeyNotFound) {
			s.logger.Warn().Str("job_name", name).Err(err).Msg("Failed to load job settings")
		}
		return settings, false
	}
	if err := json.Unmarshal([]byte(value), &settings); err != nil {
		s.logger.Warn().Str("job_name", name).Err(err).Msg("Ignoring corrupt job settings")
		return settings, false
	}
	return settings, true
}
