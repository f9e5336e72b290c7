// Package ingestion fetches finance documents from market data, news, web pages and
// local files, stores them with supersede semantics and keeps the vector index current.
package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/eodhd"
	"github.com/ternarybob/finrag/internal/interfaces"
	"github.com/ternarybob/finrag/internal/metrics"
	"github.com/ternarybob/finrag/internal/models"
	"golang.org/x/sync/errgroup"
)

// KV keys for persisted refresh state
const (
	KeyLastRefresh = "ingestion.last_refresh"
	KeyLastReport  = "ingestion.last_report"
)

// ErrRefreshInProgress is returned when a refresh is requested while one is running
var ErrRefreshInProgress = errors.New("ingestion refresh already in progress")

// ChunkEmbedder embeds chunks and pairs the vectors with chunk IDs
type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, chunks []models.Chunk) ([]models.Embedding, error)
}

// Dependencies are the collaborators of the ingestion service
type Dependencies struct {
	Sources   []interfaces.DocumentSource
	Documents interfaces.DocumentStorage
	KV        interfaces.KeyValueStorage // Optional
	Chunker   interfaces.Chunker
	Embedder  ChunkEmbedder
	Index     interfaces.VectorIndex
	Metrics   *metrics.Metrics // Optional
}

// SourceReport summarises one source in a refresh
type SourceReport struct {
	Name      string        `json:"name"`
	Documents int           `json:"documents"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// RefreshReport summarises a refresh run
type RefreshReport struct {
	StartedAt    time.Time      `json:"started_at"`
	Duration     time.Duration  `json:"duration"`
	Sources      []SourceReport `json:"sources"`
	Added        int            `json:"added"`
	Updated      int            `json:"updated"`
	Unchanged    int            `json:"unchanged"`
	Failed       int            `json:"failed"`
	IndexVersion uint64         `json:"index_version"`
	IndexChunks  int            `json:"index_chunks"`
}

// Changed reports whether the run stored any new document version
func (r *RefreshReport) Changed() bool {
	return r.Added+r.Updated > 0
}

// Service runs document refreshes and index rebuilds
type Service struct {
	deps         Dependencies
	concurrency  int
	fetchTimeout time.Duration
	running      atomic.Bool
	logger       arbor.ILogger
}

// NewService creates the ingestion service
func NewService(deps Dependencies, config common.IngestionConfig, logger arbor.ILogger) *Service {
	concurrency := config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		deps:         deps,
		concurrency:  concurrency,
		fetchTimeout: common.ParseDuration(config.FetchTimeout, 60*time.Second),
		logger:       logger,
	}
}

// Sources returns the names of the configured sources
func (s *Service) Sources() []string {
	names := make([]string, len(s.deps.Sources))
	for i, src := range s.deps.Sources {
		names[i] = src.Name()
	}
	return names
}

// Running reports whether a refresh is in progress
func (s *Service) Running() bool {
	return s.running.Load()
}

// Refresh fetches every source, merges the chunks of changed documents into the index and
// then stores those documents. A failing source is logged and skipped. Nothing is stored
// unless the merge succeeded, so a document whose embedding fails, or a run that is
// cancelled before the merge, is picked up again by the next refresh.
func (s *Service) Refresh(ctx context.Context) (*RefreshReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRefreshInProgress
	}
	defer s.running.Store(false)

	report := &RefreshReport{StartedAt: time.Now().UTC()}
	s.logger.Info().Int("sources", len(s.deps.Sources)).Msg("🔄 Ingestion refresh started")

	batches := s.fetchAll(ctx, report)
	if err := ctx.Err(); err != nil {
		s.finish(ctx, report, "cancelled")
		return report, err
	}

	var (
		pending     []*pendingDocument
		replaceKeys []string
		newChunks   []models.Chunk
		newVectors  []models.Embedding
		seen        = make(map[string]struct{})
	)

	for i, docs := range batches {
		source := report.Sources[i].Name
		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				s.finish(ctx, report, "cancelled")
				return report, err
			}
			if doc == nil || doc.Key == "" {
				report.Failed++
				s.deps.Metrics.RecordDocuments(source, "failed", 1)
				continue
			}
			if _, dup := seen[doc.Key]; dup {
				continue
			}
			seen[doc.Key] = struct{}{}

			p, err := s.prepareDocument(ctx, source, doc)
			switch {
			case err != nil:
				report.Failed++
				s.deps.Metrics.RecordDocuments(source, "failed", 1)
				s.logger.Warn().Str("source", source).Str("key", doc.Key).Err(err).Msg("Failed to ingest document")
				continue
			case p == nil:
				report.Unchanged++
				s.deps.Metrics.RecordDocuments(source, "unchanged", 1)
				continue
			}

			pending = append(pending, p)
			replaceKeys = append(replaceKeys, doc.Key)
			newChunks = append(newChunks, p.chunks...)
			newVectors = append(newVectors, p.embeddings...)
		}
	}

	if err := ctx.Err(); err != nil {
		s.finish(ctx, report, "cancelled")
		return report, err
	}

	if len(pending) > 0 {
		if _, err := s.deps.Index.Merge(replaceKeys, newChunks, newVectors); err != nil {
			s.logger.Error().Err(err).Int("documents", len(replaceKeys)).Msg("Failed to merge documents into index")
			s.finish(ctx, report, "failed")
			return report, fmt.Errorf("failed to merge index: %w", err)
		}
		// The index already serves these chunks; the store must follow even if the caller gives up now
		s.commit(context.WithoutCancel(ctx), pending, report)
	}

	s.finish(ctx, report, "success")
	return report, nil
}

// pendingDocument is a changed document that has been chunked and embedded but not stored
type pendingDocument struct {
	source     string
	doc        *models.Document
	chunks     []models.Chunk
	embeddings []models.Embedding
}

// commit stores documents whose chunks are already in the index
func (s *Service) commit(ctx context.Context, pending []*pendingDocument, report *RefreshReport) {
	for _, p := range pending {
		result, err := s.deps.Documents.SaveDocument(ctx, p.doc)
		switch {
		case err != nil:
			report.Failed++
			s.deps.Metrics.RecordDocuments(p.source, "failed", 1)
			s.logger.Error().Str("source", p.source).Str("key", p.doc.Key).Err(err).Msg("Failed to store indexed document")
		case result.Superseded != nil:
			report.Updated++
			s.deps.Metrics.RecordDocuments(p.source, "updated", 1)
		case result.Unchanged:
			report.Unchanged++
			s.deps.Metrics.RecordDocuments(p.source, "unchanged", 1)
		default:
			report.Added++
			s.deps.Metrics.RecordDocuments(p.source, "added", 1)
		}
	}
}

// fetchAll runs the sources concurrently, bounded by the configured concurrency.
// The returned slice is indexed like s.deps.Sources.
func (s *Service) fetchAll(ctx context.Context, report *RefreshReport) [][]*models.Document {
	batches := make([][]*models.Document, len(s.deps.Sources))
	report.Sources = make([]SourceReport, len(s.deps.Sources))

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for i, src := range s.deps.Sources {
		report.Sources[i].Name = src.Name()
		g.Go(func() error {
			start := time.Now()
			docs, err := s.fetchSource(ctx, src)
			report.Sources[i].Duration = time.Since(start)
			report.Sources[i].Documents = len(docs)
			if err != nil {
				report.Sources[i].Error = err.Error()
				s.logger.Warn().Str("source", src.Name()).Err(err).Msg("Source fetch failed")
			}
			batches[i] = docs
			return nil
		})
	}
	_ = g.Wait()

	return batches
}

func (s *Service) fetchSource(ctx context.Context, src interfaces.DocumentSource) (docs []*models.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("source", src.Name()).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Source panicked")
			docs, err = nil, fmt.Errorf("source %s panicked: %v", src.Name(), r)
		}
	}()

	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	docs, err = src.Fetch(fctx)
	s.logger.Debug().Str("source", src.Name()).Int("documents", len(docs)).Msg("Source fetched")
	return docs, err
}

// prepareDocument chunks and embeds doc when its content differs from the current version.
// It returns nil for unchanged documents.
func (s *Service) prepareDocument(ctx context.Context, source string, doc *models.Document) (*pendingDocument, error) {
	hash := models.HashText(doc.Text)

	current, err := s.deps.Documents.GetCurrentByKey(ctx, doc.Key)
	switch {
	case err == nil && current.ContentHash == hash:
		return nil, nil
	case err != nil && !errors.Is(err, interfaces.ErrDocumentNotFound):
		return nil, err
	}

	doc.ID = common.NewDocumentID()
	doc.ContentHash = hash
	chunks := s.deps.Chunker.Chunk(doc)

	embeddings, err := s.deps.Embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to embed: %w", err)
	}

	return &pendingDocument{source: source, doc: doc, chunks: chunks, embeddings: embeddings}, nil
}

func (s *Service) finish(ctx context.Context, report *RefreshReport, status string) {
	report.Duration = time.Since(report.StartedAt)

	stats := s.deps.Index.Stats()
	report.IndexVersion = stats.Version
	report.IndexChunks = stats.Chunks

	s.deps.Metrics.RecordIngestion(status, report.Duration)
	s.deps.Metrics.SetIndex(stats.Version, stats.Chunks)

	s.logger.Info().
		Str("status", status).
		Int("added", report.Added).
		Int("updated", report.Updated).
		Int("unchanged", report.Unchanged).
		Int("failed", report.Failed).
		Int64("index_version", int64(stats.Version)).
		Str("duration", report.Duration.String()).
		Msg("✅ Ingestion refresh finished")

	if s.deps.KV == nil || status == "cancelled" {
		return
	}
	if err := s.deps.KV.Set(ctx, KeyLastRefresh, report.StartedAt.Format(time.RFC3339)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist last refresh time")
	}
	if data, err := json.Marshal(report); err == nil {
		if err := s.deps.KV.Set(ctx, KeyLastReport, string(data)); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to persist refresh report")
		}
	}
}

// LastRefresh returns when the last completed refresh started, zero if none was recorded
func (s *Service) LastRefresh(ctx context.Context) (time.Time, error) {
	if s.deps.KV == nil {
		return time.Time{}, nil
	}
	value, err := s.deps.KV.Get(ctx, KeyLastRefresh)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, value)
}

// LastReport returns the report of the last completed refresh, nil if none was recorded
func (s *Service) LastReport(ctx context.Context) (*RefreshReport, error) {
	if s.deps.KV == nil {
		return nil, nil
	}
	value, err := s.deps.KV.Get(ctx, KeyLastReport)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var report RefreshReport
	if err := json.Unmarshal([]byte(value), &report); err != nil {
		return nil, fmt.Errorf("failed to decode refresh report: %w", err)
	}
	return &report, nil
}

// Prune deletes document versions superseded more than retain ago
func (s *Service) Prune(ctx context.Context, retain time.Duration) (int, error) {
	removed, err := s.deps.Documents.PruneSuperseded(ctx, time.Now().Add(-retain))
	if err != nil {
		return removed, fmt.Errorf("failed to prune superseded documents: %w", err)
	}
	s.logger.Info().
		Int("removed", removed).
		Str("retain", retain.String()).
		Msg("Pruned superseded documents")
	return removed, nil
}

// Rebuild re-embeds every current document and publishes a fresh index snapshot.
// Documents whose embedding fails are left out and logged.
func (s *Service) Rebuild(ctx context.Context) (uint64, error) {
	docs, err := s.deps.Documents.ListCurrentDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list documents: %w", err)
	}

	var chunks []models.Chunk
	var embeddings []models.Embedding
	failed := 0

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		docChunks := s.deps.Chunker.Chunk(doc)
		vectors, err := s.deps.Embedder.EmbedChunks(ctx, docChunks)
		if err != nil {
			failed++
			s.logger.Warn().Str("key", doc.Key).Err(err).Msg("Failed to embed document for rebuild")
			continue
		}
		chunks = append(chunks, docChunks...)
		embeddings = append(embeddings, vectors...)
	}

	if failed > 0 && failed == len(docs) {
		return 0, fmt.Errorf("failed to embed all %d documents", failed)
	}

	version, err := s.deps.Index.Build(chunks, embeddings)
	if err != nil {
		return 0, fmt.Errorf("failed to build index: %w", err)
	}
	s.deps.Metrics.SetIndex(version, len(chunks))

	s.logger.Info().
		Int("documents", len(docs)-failed).
		Int("chunks", len(chunks)).
		Int64("version", int64(version)).
		Msg("Index rebuilt from stored documents")

	return version, nil
}

// NewSourcesFromConfig builds the configured document sources.
// Market sources are skipped when no EODHD API key is available.
func NewSourcesFromConfig(config *common.Config, httpClient *http.Client, logger arbor.ILogger) ([]interfaces.DocumentSource, error) {
	cfg := config.Ingestion

	aliases, err := common.LoadSymbolAliases(cfg.SymbolsFile)
	if err != nil {
		return nil, err
	}
	tickers := common.ParseTickers(cfg.Symbols, aliases)

	var sources []interfaces.DocumentSource

	client := eodhd.NewClientFromConfig(config.EODHD, logger)
	if client.HasAPIKey() && len(tickers) > 0 {
		sources = append(sources,
			NewQuoteSource(client, tickers, aliases, logger),
			NewNewsSource(client, tickers, aliases, cfg.NewsLimit, logger),
		)
		if cfg.Technicals {
			sources = append(sources, NewTechnicalsSource(client, tickers, logger))
		}
	} else if len(tickers) > 0 {
		logger.Warn().Msg("EODHD API key not configured, market data sources disabled")
	}

	if cfg.EarningsNews && len(tickers) > 0 {
		sources = append(sources, NewEarningsSource(cfg.RSSBaseURL, httpClient, tickers, aliases, logger))
	}
	if len(cfg.Pages) > 0 {
		sources = append(sources, NewPageSource(cfg.Pages, httpClient, logger))
	}
	if cfg.FilesDir != "" {
		sources = append(sources, NewFileSource(cfg.FilesDir, logger))
	}

	logger.Debug().Int("sources", len(sources)).Int("tickers", len(tickers)).Msg("Ingestion sources configured")
	return sources, nil
}
