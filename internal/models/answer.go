package models

import (
	"time"
)

// Source is a reference to a document that grounded an answer
type Source struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	Score      float32 `json:"score"`
}

// AnswerFragment is the synthesizer's contribution to an Answer
type AnswerFragment struct {
	Text        string
	Suggestions []string
	Sources     []Source
	Grounded    bool   // true when the text came from the LLM over retrieved context
	Error       string // user-facing error message when synthesis failed
	FallbackKey string // fallback kind used, empty for grounded answers
}

// Answer is the terminal artifact of one request
type Answer struct {
	RequestID   string   `json:"request_id"`
	Question    string   `json:"question"`
	Answer      string   `json:"answer,omitempty"`
	AudioRef    string   `json:"audio_ref,omitempty"`
	Error       string   `json:"error,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Sources     []Source `json:"sources,omitempty"`
	State       string   `json:"state"`

	Transitions []Transition `json:"-"`
}

// Transition records one state change of the request state machine
type Transition struct {
	From     string        `json:"from"`
	To       string        `json:"to"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"` // time spent in From
}

// HasError reports whether the answer carries an error
func (a *Answer) HasError() bool {
	return a.Error != ""
}
