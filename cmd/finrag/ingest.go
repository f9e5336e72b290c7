package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/finrag/internal/app"
	"github.com/ternarybob/finrag/internal/common"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Refresh documents from all configured sources",
	Long:  `Fetches every configured source once, stores changed documents and publishes a new index snapshot.`,
	Args:  cobra.NoArgs,
	RunE:  runIngest,
}

var (
	ingestPrune bool
	ingestJSON  bool
)

func init() {
	ingestCmd.Flags().BoolVar(&ingestPrune, "prune", false, "Delete superseded document versions past the retention period")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "Output the refresh report as JSON")
}

func runIngest(cmd *cobra.Command, args []string) error {
	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	ctx := context.Background()
	report, err := application.Ingestion.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	if ingestJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		cmd.Println(string(data))
	} else {
		cmd.Printf("Refreshed %d sources in %s\n", len(report.Sources), report.Duration.Round(time.Millisecond))
		for _, src := range report.Sources {
			if src.Error != "" {
				cmd.Printf("  %-12s failed: %s\n", src.Name, src.Error)
				continue
			}
			cmd.Printf("  %-12s documents=%d\n", src.Name, src.Documents)
		}
		cmd.Printf("Added %d, updated %d, unchanged %d, failed %d\n", report.Added, report.Updated, report.Unchanged, report.Failed)
		cmd.Printf("Index version %d with %d chunks\n", report.IndexVersion, report.IndexChunks)
	}

	if ingestPrune {
		retain := common.ParseDuration(config.Ingestion.RetainFor, 30*24*time.Hour)
		removed, err := application.Ingestion.Prune(ctx, retain)
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
		cmd.Printf("Pruned %d superseded documents\n", removed)
	}

	return nil
}
