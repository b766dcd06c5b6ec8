package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paperdash/paperdash/cmd/paperdash/commands"
	"github.com/paperdash/paperdash/logger"
)

var rootCmd = &cobra.Command{
	Use:   "paperdash",
	Short: "paperdash - task execution engine for academic paper analysis",
	Long: `paperdash - collection and deep-analysis task engine.

paperdash runs paper-collection and analysis jobs either once, immediately,
or repeatedly on an interval, tracking lifecycle state for every attempt.

Examples:
  paperdash serve           # Start the engine against the local config
  paperdash status          # Show recent task results from history`,
}

func init() {
	rootCmd.AddCommand(commands.ServeCmd())
	rootCmd.AddCommand(commands.StatusCmd())
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
