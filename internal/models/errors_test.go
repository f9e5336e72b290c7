package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeNetError struct{ timeout bool }

func (e fakeNetError) Error() string   { return "network failure" }
func (e fakeNetError) Timeout() bool   { return e.timeout }
func (e fakeNetError) Temporary() bool { return false }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline exceeded", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"cancelled", context.Canceled, false},
		{"429 status", &StatusError{StatusCode: 429}, true},
		{"503 status", &StatusError{StatusCode: 503}, true},
		{"400 status", &StatusError{StatusCode: 400, Body: "bad request"}, false},
		{"401 status", &StatusError{StatusCode: 401}, false},
		{"net timeout", fakeNetError{timeout: true}, true},
		{"net non-timeout", fakeNetError{timeout: false}, false},
		{"gemini quota message", errors.New("Error 429, Status: RESOURCE_EXHAUSTED"), true},
		{"overloaded message", errors.New("anthropic: overloaded_error"), true},
		{"malformed request", errors.New("invalid argument: prompt too long"), false},
		{"exhausted retries", &UpstreamTimeoutError{Operation: "llm", Attempts: 3, Err: context.DeadlineExceeded}, false},
		{"transcription error", &TranscriptionError{Reason: TranscriptionSilentAudio}, false},
		{"parse error", &SynthesisParseError{Reason: "empty completion"}, false},
		{"number in validation message", errors.New("invalid argument: max 500 characters"), false},
		{"count of 503 items", errors.New("rejected batch of 503 items"), false},
		{"status in message", errors.New("upstream returned status 502"), true},
		{"reason phrase", errors.New("503 Service Unavailable"), true},
		{"labelled client status", errors.New("Error 400, Message: quota field missing"), false},
		{"unavailable wrapping bad request", &ModelUnavailableError{Component: "embedder", Provider: "gemini", Err: &StatusError{StatusCode: 400}}, false},
		{"unavailable wrapping refused connection", &ModelUnavailableError{Component: "llm", Provider: "claude", Err: errors.New("dial tcp: connection refused")}, true},
		{"wrapped unavailable without cause", fmt.Errorf("embed: %w", &ModelUnavailableError{Component: "embedder", Provider: "hashing"}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestStatusInText(t *testing.T) {
	assert.Equal(t, 429, StatusInText("Error 429, Message: Resource has been exhausted"))
	assert.Equal(t, 503, StatusInText("status code: 503"))
	assert.Equal(t, 502, StatusInText("HTTP/1.1 502"))
	assert.Equal(t, 504, StatusInText("504 Gateway Timeout"))
	assert.Zero(t, StatusInText("max 500 characters"))
	assert.Zero(t, StatusInText("error5000"))
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("dial tcp: connection refused")

	var unavailable error = &ModelUnavailableError{Component: "embedder", Provider: "gemini", Err: inner}
	assert.ErrorIs(t, unavailable, inner)
	assert.Contains(t, unavailable.Error(), "embedder model unavailable")

	var timeout error = &UpstreamTimeoutError{Operation: "embed", Attempts: 3, Err: inner}
	assert.ErrorIs(t, timeout, inner)

	var transcription error = &TranscriptionError{Reason: TranscriptionProviderError, Err: inner}
	assert.ErrorIs(t, transcription, inner)

	var target *TranscriptionError
	assert.True(t, errors.As(fmt.Errorf("ask: %w", transcription), &target))
	assert.Equal(t, TranscriptionProviderError, target.Reason)
}

func TestRetrievalOutcome(t *testing.T) {
	result := RetrievalResult{
		Items: []ScoredChunk{
			{Chunk: Chunk{ID: "a"}, Score: 0.9},
			{Chunk: Chunk{ID: "b"}, Score: 0.4},
		},
		SnapshotVersion: 2,
	}

	found := Found(result)
	assert.True(t, found.IsFound())
	assert.Equal(t, float32(0.9), found.TopScore)

	empty := Empty(EmptyReasonBelowThreshold, result)
	assert.False(t, empty.IsFound())
	assert.Equal(t, EmptyReasonBelowThreshold, empty.Reason)

	assert.False(t, Found(RetrievalResult{}).IsFound())
}
