package main

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/models"
	"github.com/ternarybob/finrag/internal/services/ingestion"
	"github.com/ternarybob/finrag/internal/services/orchestrator"
)

const maxSearchLimit = 20

// asker answers questions end to end
type asker interface {
	Ask(ctx context.Context, query models.Query, observers ...orchestrator.Observer) *models.Answer
}

// contextRetriever finds passages for a question
type contextRetriever interface {
	Retrieve(ctx context.Context, question string, k int) (models.RetrievalOutcome, error)
}

type indexStatter interface {
	Stats() models.IndexStats
}

type reportReader interface {
	LastReport(ctx context.Context) (*ingestion.RefreshReport, error)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

// handleAskFinance implements the ask_finance tool
func handleAskFinance(orch asker, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := request.RequireString("question")
		if err != nil || question == "" {
			return textResult("Error: question parameter is required"), nil
		}

		answer := orch.Ask(ctx, models.NewTextQuery(question))
		if answer.HasError() {
			logger.Warn().
				Str("request_id", answer.RequestID).
				Str("state", answer.State).
				Msg("Question answered with fallback")
		}

		return textResult(formatAnswer(answer)), nil
	}
}

// handleSearchContext implements the search_context tool
func handleSearchContext(retriever contextRetriever, defaultLimit int, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil || query == "" {
			return textResult("Error: query parameter is required"), nil
		}

		limit := request.GetInt("limit", defaultLimit)
		if limit <= 0 {
			limit = defaultLimit
		}
		if limit > maxSearchLimit {
			limit = maxSearchLimit
		}

		outcome, err := retriever.Retrieve(ctx, query, limit)
		if err != nil {
			logger.Error().Err(err).Msg("Retrieve failed")
			return textResult(fmt.Sprintf("Search error: %v", err)), nil
		}

		return textResult(formatOutcome(query, outcome)), nil
	}
}

// handleIndexStatus implements the index_status tool
func handleIndexStatus(index indexStatter, reports reportReader, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := reports.LastReport(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to read last refresh report")
		}
		return textResult(formatStatus(index.Stats(), report)), nil
	}
}
