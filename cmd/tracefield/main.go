package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tracefield/tracefield/cmd/tracefield/commands"
)

var rootCmd = &cobra.Command{
	Use:   "tracefield",
	Short: "tracefield - entity resolution and statistics pipeline",
	Long: `tracefield - research data pipeline

Resolves records from ingested datasets onto canonical entities and runs
statistical analyses over the resulting feature graph. Work is submitted as
jobs (status=queued rows) and processed by polling workers.

Examples:
  tracefield db migrate              # Apply schema migrations
  tracefield worker                  # Run resolution + analysis workers
  tracefield jobs ls                 # List jobs and their status
  tracefield jobs reap --older-than 15m
  tracefield export --job <id> --format csv`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Path to config file (TOML)")
	rootCmd.PersistentFlags().BoolVar(&commands.JSONLogs, "json-logs", false, "Emit structured JSON logs")

	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.ExportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
