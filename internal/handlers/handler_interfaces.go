package handlers

import (
	"context"
	"time"

	"github.com/ternarybob/finrag/internal/models"
	"github.com/ternarybob/finrag/internal/services/fallback"
	"github.com/ternarybob/finrag/internal/services/ingestion"
	"github.com/ternarybob/finrag/internal/services/orchestrator"
	"github.com/ternarybob/finrag/internal/services/scheduler"
)

// Asker runs a question through the pipeline.
type Asker interface {
	Ask(ctx context.Context, query models.Query, observers ...orchestrator.Observer) *models.Answer
}

// AudioLocator resolves stored audio references to files.
type AudioLocator interface {
	Path(ref string) (string, error)
}

// Refresher triggers document ingestion.
type Refresher interface {
	Refresh(ctx context.Context) (*ingestion.RefreshReport, error)
	Running() bool
}

// IngestionStatus reports ingestion state for the health endpoint.
type IngestionStatus interface {
	Running() bool
	Sources() []string
	LastRefresh(ctx context.Context) (time.Time, error)
}

// HealthReporter reports recent pipeline failures.
type HealthReporter interface {
	Health() fallback.Health
}

// IndexStatter reports the active index snapshot.
type IndexStatter interface {
	Stats() models.IndexStats
}

// DocumentCounter counts stored documents.
type DocumentCounter interface {
	CountDocuments(ctx context.Context) (current int, total int, err error)
}

// JobLister lists scheduled jobs.
type JobLister interface {
	GetAllJobStatuses() []*scheduler.JobStatus
}
