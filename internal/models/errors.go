package models

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ModelUnavailableError is returned when an embedding, LLM or voice backend is unreachable or erroring.
type ModelUnavailableError struct {
	Component string // embedder, llm, transcriber, speech
	Provider  string
	Err       error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("%s model unavailable (provider: %s): %v", e.Component, e.Provider, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error {
	return e.Err
}

// TranscriptionError is returned when audio input cannot be turned into text.
type TranscriptionError struct {
	Reason string // empty_audio, unsupported_format, silent_audio, too_large, no_speech, provider_error
	Err    error
}

// Transcription failure reasons
const (
	TranscriptionEmptyAudio        = "empty_audio"
	TranscriptionUnsupportedFormat = "unsupported_format"
	TranscriptionSilentAudio       = "silent_audio"
	TranscriptionTooLarge          = "too_large"
	TranscriptionNoSpeech          = "no_speech"
	TranscriptionProviderError     = "provider_error"
)

func (e *TranscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcription failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transcription failed (%s)", e.Reason)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// UpstreamTimeoutError is returned when a transient upstream fault persisted through every retry.
type UpstreamTimeoutError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *UpstreamTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %d attempt(s): %v", e.Operation, e.Attempts, e.Err)
}

func (e *UpstreamTimeoutError) Unwrap() error {
	return e.Err
}

// SynthesisParseError is returned when an LLM completion cannot be turned into an answer.
type SynthesisParseError struct {
	Reason string
	Raw    string
}

func (e *SynthesisParseError) Error() string {
	return fmt.Sprintf("could not parse completion: %s", e.Reason)
}

// StatusError carries an HTTP status from a REST backend.
type StatusError struct {
	StatusCode int
	Body       string
	Endpoint   string
	Retry      time.Duration // Retry-After hint, zero if absent
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream error: status %d from %s: %s", e.StatusCode, e.Endpoint, e.Body)
}

// RetryAfter returns the upstream-suggested delay
func (e *StatusError) RetryAfter() time.Duration {
	return e.Retry
}

// IsTransientStatus reports whether an HTTP status is worth retrying
func IsTransientStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= http.StatusInternalServerError
}

// statusPatterns find an HTTP status in an error message. A bare number is not
// enough: it must follow a status label or precede its reason phrase.
var statusPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:status(?:[ _]code)?|code|http(?:/[\d.]+)?|error)[\s:=#]*(\d{3})\b`),
	regexp.MustCompile(`(?i)\b(\d{3})[\s:-]+(?:too many requests|request timeout|internal server error|bad gateway|service unavailable|gateway timeout)\b`),
}

// StatusInText returns the HTTP status named in msg, or zero if none is named
func StatusInText(msg string) int {
	for _, pattern := range statusPatterns {
		if m := pattern.FindStringSubmatch(msg); len(m) == 2 {
			if code, err := strconv.Atoi(m[1]); err == nil && code >= 100 && code <= 599 {
				return code
			}
		}
	}
	return 0
}

var transientMarkers = []string{
	"resource_exhausted",
	"rate limit",
	"quota",
	"service unavailable",
	"status: unavailable",
	"deadline_exceeded",
	"overloaded",
	"timeout",
	"connection reset",
	"connection refused",
}

// IsTransient reports whether err is a network-transient failure worth retrying:
// timeouts, rate limits and 5xx/unavailable responses. Exhausted retries, bad input
// and cancellation are not transient. Typed errors decide before the message is read.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var timeoutErr *UpstreamTimeoutError
	var transcriptionErr *TranscriptionError
	var parseErr *SynthesisParseError
	if errors.As(err, &timeoutErr) || errors.As(err, &transcriptionErr) || errors.As(err, &parseErr) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return IsTransientStatus(statusErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// The wrapper names the backend, its cause decides
	var unavailable *ModelUnavailableError
	if errors.As(err, &unavailable) {
		return unavailable.Err != nil && IsTransient(unavailable.Err)
	}

	if code := StatusInText(err.Error()); code != 0 {
		return IsTransientStatus(code)
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsTimeout reports whether err is a deadline or timeout failure rather than a refusal or rejection.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusRequestTimeout || statusErr.StatusCode == http.StatusGatewayTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline_exceeded")
}
