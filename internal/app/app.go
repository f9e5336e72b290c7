package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/handlers"
	"github.com/ternarybob/finrag/internal/httpclient"
	"github.com/ternarybob/finrag/internal/interfaces"
	"github.com/ternarybob/finrag/internal/metrics"
	"github.com/ternarybob/finrag/internal/services/chunker"
	"github.com/ternarybob/finrag/internal/services/embeddings"
	"github.com/ternarybob/finrag/internal/services/fallback"
	"github.com/ternarybob/finrag/internal/services/index"
	"github.com/ternarybob/finrag/internal/services/ingestion"
	"github.com/ternarybob/finrag/internal/services/llm"
	"github.com/ternarybob/finrag/internal/services/llm/offline"
	"github.com/ternarybob/finrag/internal/services/orchestrator"
	"github.com/ternarybob/finrag/internal/services/retriever"
	"github.com/ternarybob/finrag/internal/services/scheduler"
	"github.com/ternarybob/finrag/internal/services/synthesis"
	"github.com/ternarybob/finrag/internal/services/voice"
	"github.com/ternarybob/finrag/internal/storage"
)

// Scheduled job names
const (
	JobIngestionRefresh = "ingestion_refresh"
	JobAudioReap        = "audio_reap"
	JobDocumentPrune    = "document_prune"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Observability
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Retrieval pipeline
	Index        *index.Index
	Embeddings   *embeddings.Service
	LLM          interfaces.LLMProvider
	Retriever    *retriever.Service
	Synthesizer  *synthesis.Service
	Fallback     *fallback.Handler
	Voice        *voice.Service // nil when voice failed to initialise
	AudioStore   *voice.FileAudioStore
	Orchestrator *orchestrator.Orchestrator

	// Background work
	Ingestion *ingestion.Service
	Scheduler *scheduler.Service

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	AskHandler       *handlers.AskHandler
	AudioHandler     *handlers.AudioHandler
	WSHandler        *handlers.WebSocketHandler
	IngestHandler    *handlers.IngestHandler
	HealthHandler    *handlers.HealthHandler
	SchedulerHandler *handlers.SchedulerHandler
	MetricsHandler   http.Handler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	app.initHandlers()

	// The index lives in memory; restore it from stored documents
	if cfg.Ingestion.RebuildOnBoot {
		if _, err := app.Ingestion.Rebuild(context.Background()); err != nil {
			app.Logger.Warn().Err(err).Msg("Failed to rebuild index from stored documents")
		}
	}

	app.Logger.Info().
		Str("llm", app.LLM.Name()).
		Str("embeddings", app.Embeddings.Model()).
		Int("sources", len(app.Ingestion.Sources())).
		Bool("voice", app.Voice != nil).
		Msg("Application initialized")

	return app, nil
}

// initDatabase initializes the Badger storage layer
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices builds the pipeline, ingestion and scheduler
func (a *App) initServices() error {
	ctx := context.Background()
	var err error

	// 1. Metrics registry
	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	// 2. Embeddings and index
	a.Embeddings, err = embeddings.NewServiceFromConfig(ctx, a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create embedding service: %w", err)
	}
	a.Index = index.New(a.Logger)

	// 3. LLM provider, falling back to the extractive provider so answers stay available
	a.LLM, err = llm.NewProvider(ctx, a.Config, "", a.Logger)
	if err != nil {
		a.Logger.Warn().
			Err(err).
			Str("provider", string(a.Config.LLM.DefaultProvider)).
			Msg("LLM provider unavailable, using offline extractive provider")
		a.LLM = offline.NewExtractiveProvider()
	}

	// 4. Retrieval and synthesis
	a.Fallback = fallback.NewHandler(a.Config.Fallback, a.Logger)
	a.Retriever = retriever.NewService(a.Embeddings, a.Index, a.Config.Retrieval, a.Logger)
	a.Synthesizer = synthesis.NewService(a.LLM, a.Fallback, a.Config.Synthesis, a.Logger)

	// 5. Voice (optional)
	a.AudioStore, err = voice.NewFileAudioStore(a.Config.Voice.AudioDir, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create audio store: %w", err)
	}
	if a.Config.Voice.Provider != "disabled" {
		a.Voice, err = voice.NewServiceFromConfig(ctx, a.Config, a.Logger)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Voice service unavailable, audio questions disabled")
			a.Voice = nil
		}
	}

	// 6. Orchestrator
	deps := orchestrator.Dependencies{
		Retriever:   a.Retriever,
		Synthesizer: a.Synthesizer,
		AudioStore:  a.AudioStore,
		Fallback:    a.Fallback,
		Metrics:     a.Metrics,
	}
	if a.Voice != nil {
		if a.Voice.TranscriptionEnabled() {
			deps.Transcriber = a.Voice
		}
		if a.Voice.SpeechEnabled() {
			deps.Speech = a.Voice
		}
	}
	a.Orchestrator, err = orchestrator.New(deps, a.Config.Orchestrator, a.Config.Retrieval.TopK, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	// 7. Ingestion
	ch, err := chunker.NewFromConfig(a.Config.Chunking)
	if err != nil {
		return fmt.Errorf("failed to create chunker: %w", err)
	}
	scrapeClient, err := httpclient.NewScrapeClient(common.ParseDuration(a.Config.Ingestion.FetchTimeout, 60*time.Second))
	if err != nil {
		return err
	}
	sources, err := ingestion.NewSourcesFromConfig(a.Config, scrapeClient, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create document sources: %w", err)
	}
	a.Ingestion = ingestion.NewService(ingestion.Dependencies{
		Sources:   sources,
		Documents: a.StorageManager.DocumentStorage(),
		KV:        a.StorageManager.KeyValueStorage(),
		Chunker:   ch,
		Embedder:  a.Embeddings,
		Index:     a.Index,
		Metrics:   a.Metrics,
	}, a.Config.Ingestion, a.Logger)

	// 8. Scheduler (jobs are registered by StartBackground)
	a.Scheduler = scheduler.NewService(a.StorageManager.KeyValueStorage(), a.Logger)

	return nil
}

// initHandlers creates the HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.AskHandler = handlers.NewAskHandler(a.Orchestrator, a.Logger)
	a.AudioHandler = handlers.NewAudioHandler(a.Orchestrator, a.AudioStore, a.Config.Voice.MaxAudioBytes, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Orchestrator, a.Logger)
	a.IngestHandler = handlers.NewIngestHandler(a.Ingestion, a.Logger)
	a.HealthHandler = handlers.NewHealthHandler(handlers.HealthDependencies{
		Fallback:  a.Fallback,
		Index:     a.Index,
		Documents: a.StorageManager.DocumentStorage(),
		Ingestion: a.Ingestion,
		Scheduler: a.Scheduler,
		LLM:       a.LLM.Name(),
		Voice:     a.Voice != nil,
	}, a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.Scheduler, a.Logger)
	a.MetricsHandler = handlers.NewMetricsHandler(a.Registry)
}

// StartBackground registers scheduled jobs and starts the scheduler
func (a *App) StartBackground() error {
	if a.Config.Ingestion.Enabled {
		if err := a.Scheduler.RegisterJob(JobIngestionRefresh, a.Config.Ingestion.Schedule,
			"Refresh documents from all sources", true, a.refreshJob); err != nil {
			return fmt.Errorf("failed to register %s: %w", JobIngestionRefresh, err)
		}
	}

	if a.Config.Voice.ReapSchedule != "" {
		maxAge := common.ParseDuration(a.Config.Voice.ReapMaxAge, 24*time.Hour)
		if err := a.Scheduler.RegisterJob(JobAudioReap, a.Config.Voice.ReapSchedule,
			"Delete generated audio older than "+maxAge.String(), false, func(ctx context.Context) error {
				removed, err := a.AudioStore.Reap(maxAge)
				if removed > 0 {
					a.Logger.Info().Int("removed", removed).Msg("Reaped generated audio")
				}
				return err
			}); err != nil {
			return fmt.Errorf("failed to register %s: %w", JobAudioReap, err)
		}
	}

	if a.Config.Ingestion.PruneSchedule != "" {
		retain := common.ParseDuration(a.Config.Ingestion.RetainFor, 30*24*time.Hour)
		if err := a.Scheduler.RegisterJob(JobDocumentPrune, a.Config.Ingestion.PruneSchedule,
			"Delete superseded document versions older than "+retain.String(), false, func(ctx context.Context) error {
				_, err := a.Ingestion.Prune(ctx, retain)
				return err
			}); err != nil {
			return fmt.Errorf("failed to register %s: %w", JobDocumentPrune, err)
		}
	}

	return a.Scheduler.Start()
}

func (a *App) refreshJob(ctx context.Context) error {
	_, err := a.Ingestion.Refresh(ctx)
	if errors.Is(err, ingestion.ErrRefreshInProgress) {
		a.Logger.Debug().Msg("Refresh already running, skipping scheduled run")
		return nil
	}
	return err
}

// Close releases all resources in reverse order of creation
func (a *App) Close() error {
	// Stop scheduler service
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	// Close LLM provider
	if a.LLM != nil {
		if err := a.LLM.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM provider")
		} else {
			a.Logger.Info().Msg("LLM provider closed")
		}
		a.LLM = nil
	}

	// Close storage
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.StorageManager = nil
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
