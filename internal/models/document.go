package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Document represents a raw text document produced by an ingestion source.
// Documents are immutable once stored: re-ingesting the same Key stores a new
// Document and marks the previous one superseded.
type Document struct {
	// Identity
	ID     string `json:"id"`     // doc_{uuid}
	Key    string `json:"key"`    // Stable source key, e.g. "us:TSLA:quote" or a page URL
	Source string `json:"source"` // quote, news, earnings, technicals, page, file

	// Content
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url,omitempty"`

	// Source-specific metadata (symbol, exchange, headline flags)
	Metadata map[string]string `json:"metadata,omitempty"`

	// Versioning
	ContentHash  string    `json:"content_hash"`
	FetchedAt    time.Time `json:"fetched_at"`
	SupersededBy string    `json:"superseded_by,omitempty"` // ID of the document that replaced this one
	SupersededAt time.Time `json:"superseded_at,omitempty"`
}

// IsCurrent reports whether the document has not been superseded
func (d *Document) IsCurrent() bool {
	return d.SupersededBy == ""
}

// HashText returns the content hash used to detect unchanged re-ingestion
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
