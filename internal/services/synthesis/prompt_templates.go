package synthesis

import (
	"strings"

	"github.com/ternarybob/finrag/internal/services/llm/offline"
)

// SystemPersona is sent as the system instruction on every completion
const SystemPersona = `You are a financial analyst.

When answering questions:
1. Use only the provided context; quote prices, percentages and dates exactly as given
2. If the context does not contain the answer, say so clearly
3. Be concise: two to four sentences unless the question asks for more
4. Do not give personalised investment advice`

// promptPreamble precedes the context block in the user message
const promptPreamble = "Use the following context to answer the question.\n\n"

// BuildPrompt assembles the user message: preamble, context block and the question verbatim
func BuildPrompt(contextBlock, question string) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString(offline.ContextMarker)
	b.WriteString(contextBlock)
	b.WriteString(offline.QuestionMarker)
	b.WriteString(" ")
	b.WriteString(question)
	return b.String()
}
