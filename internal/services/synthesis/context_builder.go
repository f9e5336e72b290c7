package synthesis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/finrag/internal/models"
	"github.com/ternarybob/finrag/internal/services/llm/offline"
)

// BuildContext formats chunks as numbered passages, best first, within maxChars
// characters. Passages that no longer fit are dropped from the lowest rank up;
// a top passage larger than the whole budget is truncated.
func BuildContext(items []models.ScoredChunk, maxChars int) (string, []models.Source) {
	ranked := make([]models.ScoredChunk, len(items))
	copy(ranked, items)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	var b strings.Builder
	var sources []models.Source
	used := 0

	for i, item := range ranked {
		header := passageHeader(i+1, item.Chunk.DocumentKey)
		text := strings.TrimSpace(item.Chunk.Text)

		cost := runeLen(header) + runeLen(text)
		if i > 0 {
			cost += runeLen(offline.PassageSeparator)
		}

		if used+cost > maxChars {
			if i > 0 {
				break
			}
			room := maxChars - runeLen(header)
			if room <= 0 {
				break
			}
			text = truncateContent(text, room)
			cost = runeLen(header) + runeLen(text)
		}

		if i > 0 {
			b.WriteString(offline.PassageSeparator)
		}
		b.WriteString(header)
		b.WriteString(text)
		used += cost

		sources = append(sources, models.Source{
			DocumentID: item.Chunk.DocumentID,
			ChunkID:    item.Chunk.ID,
			Score:      item.Score,
		})
	}

	return b.String(), sources
}

func passageHeader(n int, key string) string {
	if key == "" {
		return fmt.Sprintf("[%d] ", n)
	}
	return fmt.Sprintf("[%d] (%s) ", n, key)
}

// truncateContent cuts text to at most max characters
func truncateContent(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

func runeLen(s string) int {
	return len([]rune(s))
}
