package interfaces

import (
	"context"
)

// Message represents a single message in a chat conversation
type Message struct {
	// Role identifies the message sender: "user" or "assistant"
	Role string

	// Content contains the text content of the message
	Content string
}

// ContentRequest holds the parameters for a single completion
type ContentRequest struct {
	// Messages is the conversation in chronological order
	Messages []Message

	// SystemInstruction carries the fixed persona
	SystemInstruction string

	// Temperature controls randomness (0.0-1.0). Nil uses the provider's configured value.
	Temperature *float32

	// MaxTokens caps the response length
	MaxTokens int
}

// ContentResponse holds a completion and where it came from
type ContentResponse struct {
	Text     string
	Provider string
	Model    string
}

// LLMProvider generates completions from a language model.
// Implementations may call cloud APIs (Gemini, Claude) or answer offline.
type LLMProvider interface {
	// Generate produces a completion for the request.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - request: Messages, persona and sampling parameters
	//
	// Returns:
	//   - *ContentResponse: The raw completion text and provider details
	//   - error: Provider error; callers classify it with models.IsTransient
	Generate(ctx context.Context, request *ContentRequest) (*ContentResponse, error)

	// Name returns the provider name ("gemini", "claude", "offline")
	Name() string

	// Close releases any held resources
	Close() error
}
