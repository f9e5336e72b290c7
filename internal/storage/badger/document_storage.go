package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/interfaces"
	"github.com/ternarybob/finrag/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DocumentStorage implements the DocumentStorage interface for Badger.
// Documents are never rewritten in place: a changed document for a key is stored
// under a new ID and the previous version is marked superseded.
type DocumentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// Serialises read-compare-write on a key so two saves cannot both become current
	mu sync.Mutex
}

// NewDocumentStorage creates a new DocumentStorage instance
func NewDocumentStorage(db *BadgerDB, logger arbor.ILogger) *DocumentStorage {
	return &DocumentStorage{
		db:     db,
		logger: logger,
	}
}

func currentByKey(key string) *badgerhold.Query {
	return badgerhold.Where("Key").Eq(key).And("SupersededBy").Eq("")
}

// SaveDocument stores doc as the current version of doc.Key
func (s *DocumentStorage) SaveDocument(ctx context.Context, doc *models.Document) (*interfaces.SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document is nil")
	}
	if strings.TrimSpace(doc.Key) == "" {
		return nil, fmt.Errorf("document key is required")
	}

	if doc.ID == "" {
		doc.ID = common.NewDocumentID()
	}
	if doc.ContentHash == "" {
		doc.ContentHash = models.HashText(doc.Text)
	}
	if doc.FetchedAt.IsZero() {
		doc.FetchedAt = time.Now().UTC()
	}
	doc.SupersededBy = ""
	doc.SupersededAt = time.Time{}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := &interfaces.SaveResult{}
	store := s.db.Store()

	err := store.Badger().Update(func(tx *badger.Txn) error {
		var existing []models.Document
		if err := store.TxFind(tx, &existing, currentByKey(doc.Key)); err != nil {
			return fmt.Errorf("failed to find current document: %w", err)
		}

		for i := range existing {
			prev := existing[i]
			if prev.ContentHash == doc.ContentHash {
				result.Document = &prev
				result.Unchanged = true
				continue
			}
			prev.SupersededBy = doc.ID
			prev.SupersededAt = doc.FetchedAt
			if err := store.TxUpsert(tx, prev.ID, &prev); err != nil {
				return fmt.Errorf("failed to supersede document %s: %w", prev.ID, err)
			}
			result.Superseded = &prev
		}

		if result.Unchanged {
			return nil
		}

		if err := store.TxInsert(tx, doc.ID, doc); err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
		result.Document = doc
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Unchanged {
		s.logger.Trace().Str("key", doc.Key).Msg("Document unchanged, keeping current version")
	} else if result.Superseded != nil {
		s.logger.Debug().
			Str("key", doc.Key).
			Str("document_id", doc.ID).
			Str("superseded_id", result.Superseded.ID).
			Msg("Document superseded")
	}

	return result, nil
}

// GetDocument returns any version by ID
func (s *DocumentStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc models.Document
	if err := s.db.Store().Get(id, &doc); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrDocumentNotFound, id)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// GetCurrentByKey returns the current version for a source key
func (s *DocumentStorage) GetCurrentByKey(ctx context.Context, key string) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var docs []models.Document
	if err := s.db.Store().Find(&docs, currentByKey(key)); err != nil {
		return nil, fmt.Errorf("failed to find document: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: key %s", interfaces.ErrDocumentNotFound, key)
	}
	return &docs[0], nil
}

// ListCurrentDocuments returns every non-superseded document ordered by key
func (s *DocumentStorage) ListCurrentDocuments(ctx context.Context) ([]*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var docs []models.Document
	if err := s.db.Store().Find(&docs, badgerhold.Where("SupersededBy").Eq("")); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	result := make([]*models.Document, len(docs))
	for i := range docs {
		result[i] = &docs[i]
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// CountDocuments returns the number of current documents and of all stored versions
func (s *DocumentStorage) CountDocuments(ctx context.Context) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	current, err := s.db.Store().Count(&models.Document{}, badgerhold.Where("SupersededBy").Eq(""))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count documents: %w", err)
	}
	total, err := s.db.Store().Count(&models.Document{}, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(current), int(total), nil
}

// PruneSuperseded deletes versions superseded before cutoff. Current documents are never removed.
func (s *DocumentStorage) PruneSuperseded(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var docs []models.Document
	if err := s.db.Store().Find(&docs, badgerhold.Where("SupersededBy").Ne("")); err != nil {
		return 0, fmt.Errorf("failed to find superseded documents: %w", err)
	}

	removed := 0
	for _, doc := range docs {
		if !doc.SupersededAt.Before(cutoff) {
			continue
		}
		if err := s.db.Store().Delete(doc.ID, &models.Document{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return removed, fmt.Errorf("failed to delete document %s: %w", doc.ID, err)
		}
		removed++
	}
	return removed, nil
}

// Close is a no-op; the manager owns the database
func (s *DocumentStorage) Close() error {
	return nil
}
