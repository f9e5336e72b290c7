// Package offline answers from the prompt's own context without calling a model.
// It keeps the pipeline usable without API keys.
package offline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ternarybob/finrag/internal/interfaces"
)

// Prompt markers shared with the synthesis prompt template
const (
	ContextMarker    = "Context:\n"
	QuestionMarker   = "\n\nQuestion:"
	PassageSeparator = "\n---\n"
)

// MaxAnswerChars caps the extracted answer
const MaxAnswerChars = 600

var passagePrefix = regexp.MustCompile(`^\[\d+\]\s*(?:\([^)]*\)\s*)?`)

// ExtractiveProvider returns the leading sentences of the best-ranked passage
type ExtractiveProvider struct {
	sentences int
}

var _ interfaces.LLMProvider = (*ExtractiveProvider)(nil)

// NewExtractiveProvider creates an offline provider answering with two sentences
func NewExtractiveProvider() *ExtractiveProvider {
	return &ExtractiveProvider{sentences: 2}
}

// Name returns "offline"
func (p *ExtractiveProvider) Name() string { return "offline" }

// Close is a no-op
func (p *ExtractiveProvider) Close() error { return nil }

// Generate extracts an answer from the context section of the last user message.
// A prompt without context yields empty text.
func (p *ExtractiveProvider) Generate(ctx context.Context, request *interfaces.ContentRequest) (*interfaces.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(request.Messages) == 0 {
		return nil, fmt.Errorf("messages cannot be empty")
	}

	var prompt string
	for i := len(request.Messages) - 1; i >= 0; i-- {
		if request.Messages[i].Role == "user" {
			prompt = request.Messages[i].Content
			break
		}
	}

	text := ""
	if passage := firstPassage(prompt); passage != "" {
		text = leadingSentences(passage, p.sentences)
	}

	return &interfaces.ContentResponse{
		Text:     text,
		Provider: p.Name(),
		Model:    "extractive",
	}, nil
}

func firstPassage(prompt string) string {
	start := strings.Index(prompt, ContextMarker)
	if start < 0 {
		return ""
	}
	body := prompt[start+len(ContextMarker):]
	if end := strings.LastIndex(body, QuestionMarker); end >= 0 {
		body = body[:end]
	}

	passage, _, _ := strings.Cut(body, PassageSeparator)
	passage = strings.TrimSpace(passage)
	return strings.TrimSpace(passagePrefix.ReplaceAllString(passage, ""))
}

// leadingSentences returns up to n sentences, collapsing whitespace
func leadingSentences(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)

	count := 0
	end := len(runes)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// A terminator ends a sentence only before whitespace or at the end, so "2.5" survives
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		count++
		if count == n {
			end = i + 1
			break
		}
	}

	if end > MaxAnswerChars {
		end = MaxAnswerChars
	}
	return strings.TrimSpace(string(runes[:end]))
}
