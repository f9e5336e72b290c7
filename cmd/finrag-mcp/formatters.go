package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/finrag/internal/models"
	"github.com/ternarybob/finrag/internal/services/ingestion"
)

const passagePreview = 400

// formatAnswer formats an answer as markdown
func formatAnswer(answer *models.Answer) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s\n\n", answer.Question))

	if answer.Error != "" {
		sb.WriteString(fmt.Sprintf("**Error:** %s\n", answer.Error))
		if len(answer.Suggestions) > 0 {
			sb.WriteString("\n**Try:**\n")
			for _, s := range answer.Suggestions {
				sb.WriteString(fmt.Sprintf("- %s\n", s))
			}
		}
		return sb.String()
	}

	sb.WriteString(answer.Answer)
	sb.WriteString("\n")

	if len(answer.Sources) > 0 {
		sb.WriteString("\n**Sources:**\n")
		for i, src := range answer.Sources {
			sb.WriteString(fmt.Sprintf("%d. %s (score %.3f)\n", i+1, src.DocumentID, src.Score))
		}
	}

	return sb.String()
}

// formatOutcome formats retrieved passages as markdown
func formatOutcome(query string, outcome models.RetrievalOutcome) string {
	items := outcome.Result.Items

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Context for \"%s\" (%d passages)\n\n", query, len(items)))

	if !outcome.IsFound() {
		sb.WriteString(fmt.Sprintf("No relevant context (%s, top score %.3f).\n", outcome.Reason, outcome.TopScore))
		return sb.String()
	}

	for i, item := range items {
		sb.WriteString(fmt.Sprintf("### %d. %s (score %.3f)\n", i+1, item.Chunk.DocumentKey, item.Score))
		text := []rune(item.Chunk.Text)
		if len(text) > passagePreview {
			text = append(text[:passagePreview], []rune("...")...)
		}
		sb.WriteString(string(text))
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// formatStatus formats index and ingestion state as markdown
func formatStatus(stats models.IndexStats, report *ingestion.RefreshReport) string {
	var sb strings.Builder
	sb.WriteString("## Index\n\n")
	sb.WriteString(fmt.Sprintf("**Version:** %d\n", stats.Version))
	sb.WriteString(fmt.Sprintf("**Chunks:** %d from %d documents\n", stats.Chunks, stats.Documents))
	if !stats.BuiltAt.IsZero() {
		sb.WriteString(fmt.Sprintf("**Built:** %s\n", stats.BuiltAt.Format(time.RFC3339)))
	}

	sb.WriteString("\n## Last Refresh\n\n")
	if report == nil {
		sb.WriteString("No refresh has run yet.\n")
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("**Started:** %s (%s)\n", report.StartedAt.Format(time.RFC3339), report.Duration.Round(time.Millisecond)))
	sb.WriteString(fmt.Sprintf("**Documents:** %d added, %d updated, %d unchanged, %d failed\n\n",
		report.Added, report.Updated, report.Unchanged, report.Failed))
	for _, src := range report.Sources {
		if src.Error != "" {
			sb.WriteString(fmt.Sprintf("- %s: failed (%s)\n", src.Name, src.Error))
			continue
		}
		sb.WriteString(fmt.Sprintf("- %s: %d documents\n", src.Name, src.Documents))
	}

	return sb.String()
}
