package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createAskFinanceTool returns the ask_finance tool definition
func createAskFinanceTool() mcp.Tool {
	return mcp.NewTool("ask_finance",
		mcp.WithDescription("Answer a finance question from indexed quotes, news, earnings coverage and documents"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Natural language question, e.g. \"What is the current price of Tesla?\""),
		),
	)
}

// createSearchContextTool returns the search_context tool definition
func createSearchContextTool() mcp.Tool {
	return mcp.NewTool("search_context",
		mcp.WithDescription("Return the indexed passages most similar to a query, with scores"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search text"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum passages to return (default: retrieval.top_k, max: 20)"),
		),
	)
}

// createIndexStatusTool returns the index_status tool definition
func createIndexStatusTool() mcp.Tool {
	return mcp.NewTool("index_status",
		mcp.WithDescription("Report the active index snapshot and the last ingestion run"),
	)
}
