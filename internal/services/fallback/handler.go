// Package fallback provides the user-facing messages and suggestions returned when
// part of the pipeline cannot produce an answer, and tracks recent failures for
// health reporting.
package fallback

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
)

// Kind identifies a fallback scenario
type Kind string

const (
	NoContext    Kind = "no_context"
	APIError     Kind = "api_error"
	LLMError     Kind = "llm_error"
	VoiceError   Kind = "voice_error"
	Timeout      Kind = "timeout"
	InvalidInput Kind = "invalid_input"
	NoData       Kind = "no_data"
	General      Kind = "general"
)

var messages = map[Kind]string{
	NoContext: "I couldn't find specific information about that topic in my knowledge base. " +
		"Please try rephrasing your question or ask about a different topic.",
	APIError: "I'm having trouble connecting to the data source right now. " +
		"Please try again in a few moments.",
	LLMError: "I encountered an issue while generating a response. " +
		"Please try again or simplify your question.",
	VoiceError: "I had trouble processing the audio. " +
		"Please make sure the recording is clear and try again.",
	Timeout: "The request took too long to process. " +
		"Please try a simpler query or try again later.",
	InvalidInput: "I couldn't understand your request. " +
		"Please provide a clear financial question.",
	NoData: "No market data is available for that symbol or time period. " +
		"Please check the ticker symbol and try again.",
	General: "Something went wrong while processing your request. " +
		"Please try again later or contact support.",
}

var suggestions = []string{
	"Try asking about specific stock tickers like AAPL, TSMC, or MSFT",
	"Ask about earnings reports, price trends, or market analysis",
	"You can ask questions like 'What is the RSI for Apple?' or 'Did TSMC beat earnings?'",
	"For voice queries, speak clearly and avoid background noise",
}

var componentKinds = map[string]Kind{
	"ingestion":   APIError,
	"market_data": APIError,
	"scraper":     APIError,
	"synthesizer": LLMError,
	"retriever":   NoContext,
	"voice":       VoiceError,
	"analytics":   NoData,
}

// Message returns the user-facing text for kind, or the general message for an unknown kind
func Message(kind Kind) string {
	if msg, ok := messages[kind]; ok {
		return msg
	}
	return messages[General]
}

// Suggestions returns the hints shown alongside a fallback of the given kind
func Suggestions(kind Kind) []string {
	switch kind {
	case VoiceError:
		return []string{suggestions[3]}
	case NoContext, NoData:
		return append([]string(nil), suggestions[:3]...)
	default:
		return []string{suggestions[0], suggestions[1]}
	}
}

// KindForComponent maps a failing pipeline component to its fallback kind
func KindForComponent(component string) Kind {
	if kind, ok := componentKinds[component]; ok {
		return kind
	}
	return General
}

// countsAsError reports whether a fallback of this kind indicates a fault.
// Questions with no matching context or unusable input are expected traffic.
func countsAsError(kind Kind) bool {
	return kind != NoContext && kind != InvalidInput
}

// Response is a fallback answer
type Response struct {
	Kind        Kind      `json:"error_type"`
	Message     string    `json:"message"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Health summarises recent failures
type Health struct {
	ErrorCount    int        `json:"error_count"`
	TotalErrors   int        `json:"total_errors"`
	LastErrorTime *time.Time `json:"last_error_time"`
	Healthy       bool       `json:"is_healthy"`
	RateLimited   bool       `json:"rate_limited"`
}

// Handler builds fallback responses and keeps a sliding window of recent errors
type Handler struct {
	mu                 sync.Mutex
	recent             []time.Time
	total              int
	lastError          time.Time
	window             time.Duration
	rateLimitThreshold int
	healthyThreshold   int
	logger             arbor.ILogger
	now                func() time.Time
}

// NewHandler creates a fallback handler
func NewHandler(config common.FallbackConfig, logger arbor.ILogger) *Handler {
	h := &Handler{
		window:             common.ParseDuration(config.ErrorWindow, 60*time.Second),
		rateLimitThreshold: config.RateLimitThreshold,
		healthyThreshold:   config.HealthyThreshold,
		logger:             logger,
		now:                time.Now,
	}
	if h.rateLimitThreshold <= 0 {
		h.rateLimitThreshold = 10
	}
	if h.healthyThreshold <= 0 {
		h.healthyThreshold = 5
	}
	return h
}

// Respond returns the fallback for kind and records it. query and cause are only logged.
func (h *Handler) Respond(kind Kind, query string, cause error) Response {
	if _, ok := messages[kind]; !ok {
		kind = General
	}

	event := h.logger.Warn()
	if countsAsError(kind) {
		h.record()
	} else {
		event = h.logger.Info()
	}

	event = event.Str("kind", string(kind))
	if query != "" {
		event = event.Str("query", truncate(query, 100))
	}
	if cause != nil {
		event = event.Str("details", truncate(cause.Error(), 200))
	}
	event.Msg("Fallback triggered")

	return Response{
		Kind:        kind,
		Message:     Message(kind),
		Suggestions: Suggestions(kind),
		Timestamp:   h.now(),
	}
}

// ForComponent returns the fallback for a failure in the named component
func (h *Handler) ForComponent(component, query string, cause error) Response {
	return h.Respond(KindForComponent(component), query, cause)
}

// Health reports the current error accounting
func (h *Handler) Health() Health {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := h.pruneLocked()
	health := Health{
		ErrorCount:  count,
		TotalErrors: h.total,
		Healthy:     count < h.healthyThreshold,
		RateLimited: count >= h.rateLimitThreshold,
	}
	if !h.lastError.IsZero() {
		last := h.lastError
		health.LastErrorTime = &last
	}
	return health
}

func (h *Handler) record() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	h.recent = append(h.recent, now)
	h.total++
	h.lastError = now
	h.pruneLocked()
}

// pruneLocked drops errors older than the window and returns how many remain
func (h *Handler) pruneLocked() int {
	cutoff := h.now().Add(-h.window)
	keep := 0
	for keep < len(h.recent) && h.recent[keep].Before(cutoff) {
		keep++
	}
	h.recent = h.recent[keep:]
	return len(h.recent)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
