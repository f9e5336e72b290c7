package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/finrag/internal/app"
	"github.com/ternarybob/finrag/internal/common"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	var configFiles []string
	configPath := os.Getenv("FINRAG_CONFIG")
	if configPath == "" {
		if _, err := os.Stat("finrag.toml"); err == nil {
			configPath = "finrag.toml"
		}
	}
	if configPath != "" {
		configFiles = append(configFiles, configPath)
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Minimal console logging; stdout carries the MCP protocol
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	mcpServer := server.NewMCPServer(
		"finrag",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createAskFinanceTool(), handleAskFinance(application.Orchestrator, logger))
	mcpServer.AddTool(createSearchContextTool(), handleSearchContext(application.Retriever, config.Retrieval.TopK, logger))
	mcpServer.AddTool(createIndexStatusTool(), handleIndexStatus(application.Index, application.Ingestion, logger))

	// Blocks on stdio
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}
