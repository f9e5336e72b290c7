package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/finrag/internal/models"
)

// SaveResult describes what SaveDocument did
type SaveResult struct {
	Document   *models.Document // The current document for the key after the save
	Superseded *models.Document // The previous version, nil if none
	Unchanged  bool             // true when the content hash matched the current version
}

// DocumentStorage persists ingested documents with supersede-not-mutate semantics
type DocumentStorage interface {
	// SaveDocument stores doc as the current version of doc.Key.
	// An identical current version is left untouched; a different one is marked superseded.
	SaveDocument(ctx context.Context, doc *models.Document) (*SaveResult, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetCurrentByKey(ctx context.Context, key string) (*models.Document, error)
	ListCurrentDocuments(ctx context.Context) ([]*models.Document, error)
	CountDocuments(ctx context.Context) (current int, total int, err error)
	// PruneSuperseded deletes versions superseded before cutoff and returns how many were removed
	PruneSuperseded(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Lookup errors returned by storage implementations
var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrDocumentNotFound = errors.New("document not found")
)

// KeyValuePair is a small piece of persisted runtime state
type KeyValuePair struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KeyValueStorage persists runtime state such as the last ingestion run
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	GetPair(ctx context.Context, key string) (*KeyValuePair, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// StorageManager owns the database and the stores built on it
type StorageManager interface {
	DocumentStorage() DocumentStorage
	KeyValueStorage() KeyValueStorage
	Close() error
}
