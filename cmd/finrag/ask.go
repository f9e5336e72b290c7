package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ternarybob/finrag/internal/app"
	"github.com/ternarybob/finrag/internal/models"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a finance question",
	Long: `Answers a question from the local index without starting the server.
Pass --audio to transcribe a recorded question instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

var (
	askAudioFile string
	askJSON      bool
)

func init() {
	askCmd.Flags().StringVar(&askAudioFile, "audio", "", "Audio file holding the spoken question")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Output the full answer as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	var query models.Query
	switch {
	case askAudioFile != "":
		data, err := os.ReadFile(askAudioFile)
		if err != nil {
			return fmt.Errorf("failed to read audio file: %w", err)
		}
		query = models.NewAudioQuery(data, filepath.Base(askAudioFile))
	case len(args) == 1 && strings.TrimSpace(args[0]) != "":
		query = models.NewTextQuery(args[0])
	default:
		return fmt.Errorf("a question or --audio file is required")
	}

	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	answer := application.Orchestrator.Ask(context.Background(), query)

	if askJSON {
		data, err := json.MarshalIndent(answer, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	printAnswer(cmd, answer)
	if answer.HasError() {
		return fmt.Errorf("question failed in state %s", answer.State)
	}
	return nil
}

func printAnswer(cmd *cobra.Command, answer *models.Answer) {
	if answer.Question != "" {
		cmd.Printf("Q: %s\n", answer.Question)
	}
	if answer.Error != "" {
		cmd.Printf("Error: %s\n", answer.Error)
		for _, s := range answer.Suggestions {
			cmd.Printf("  - %s\n", s)
		}
		return
	}

	cmd.Printf("A: %s\n", answer.Answer)
	if len(answer.Sources) > 0 {
		cmd.Println()
		cmd.Println("Sources:")
		for i, src := range answer.Sources {
			cmd.Printf("  [%d] %s (%.3f)\n", i+1, src.DocumentID, src.Score)
		}
	}
	if answer.AudioRef != "" {
		cmd.Printf("\nAudio: %s\n", filepath.Join(config.Voice.AudioDir, answer.AudioRef))
	}
}
