package models

import (
	"path/filepath"
	"strings"
)

// Modality is the input channel of a request
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
)

// Query is a single transient user request
type Query struct {
	ID       string   `json:"id"`
	RawText  string   `json:"raw_text,omitempty"`
	Modality Modality `json:"modality"`

	// Audio input (audio modality only)
	Audio    []byte `json:"-"`
	Filename string `json:"filename,omitempty"` // Extension hint, e.g. "question.wav"
}

// NewTextQuery builds a text-modality query
func NewTextQuery(question string) Query {
	return Query{RawText: question, Modality: ModalityText}
}

// NewAudioQuery builds an audio-modality query
func NewAudioQuery(audio []byte, filename string) Query {
	return Query{Audio: audio, Filename: filename, Modality: ModalityAudio}
}

// Extension returns the lower-case filename extension without the dot
func (q Query) Extension() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(q.Filename)), ".")
}
