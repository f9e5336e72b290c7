package llm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ternarybob/finrag/internal/models"
	"google.golang.org/genai"
)

// ProviderError wraps a failed completion with the HTTP status and the
// upstream-suggested retry delay when either is known.
type ProviderError struct {
	Provider   string
	StatusCode int
	Retry      time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s completion failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s completion failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// RetryAfter returns the upstream-suggested delay, zero if none
func (e *ProviderError) RetryAfter() time.Duration {
	return e.Retry
}

// IsRateLimitError checks if an error is a rate limit error.
// Matches 429 status codes and RESOURCE_EXHAUSTED errors.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode == 429 {
		return true
	}
	errStr := err.Error()
	return models.StatusInText(errStr) == 429 ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "quota")
}

// retryDelayRegex matches "Please retry in Xs" or "retryDelay:Xs" patterns
var retryDelayRegex = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s"]+)(\d+(?:\.\d+)?)\s*s`)

// ExtractRetryDelay parses the API-suggested retry delay from an error message.
// Returns 0 if no delay is found.
//
// Example error message:
// "Error 429, Message: ... Please retry in 45.387061394s., Status: RESOURCE_EXHAUSTED"
func ExtractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}

	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}

	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}

	return time.Duration(seconds * float64(time.Second))
}

// wrapError converts a raw SDK error into a ProviderError
func wrapError(provider string, err error) error {
	pe := &ProviderError{Provider: provider, Err: err}

	var apiErr *anthropic.Error
	var geminiErr genai.APIError
	var geminiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		pe.StatusCode = apiErr.StatusCode
	case errors.As(err, &geminiErr):
		pe.StatusCode = geminiErr.Code
	case errors.As(err, &geminiErrPtr):
		pe.StatusCode = geminiErrPtr.Code
	}

	if IsRateLimitError(err) {
		if pe.StatusCode == 0 {
			pe.StatusCode = 429
		}
		pe.Retry = ExtractRetryDelay(err)
	}

	return pe
}

// IsTransient reports whether a completion failure is worth retrying.
// A known status decides; otherwise the generic classification applies.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.StatusCode != 0 {
		return models.IsTransientStatus(pe.StatusCode)
	}
	return models.IsTransient(err)
}
