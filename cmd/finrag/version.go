package main

import (
	"github.com/spf13/cobra"
	"github.com/ternarybob/finrag/internal/common"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("FinRAG version %s\n", common.GetFullVersion())
	},
}
