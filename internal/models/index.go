package models

import "time"

// IndexStats describes the active index snapshot
type IndexStats struct {
	Version   uint64    `json:"version"`
	Chunks    int       `json:"chunks"`
	Documents int       `json:"documents"`
	Dimension int       `json:"dimension"`
	BuiltAt   time.Time `json:"built_at"`
}
