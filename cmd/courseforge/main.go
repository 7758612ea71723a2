package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teranos/courseforge/cmd/courseforge/commands"
	"github.com/teranos/courseforge/logger"
)

var rootCmd = &cobra.Command{
	Use:   "courseforge",
	Short: "courseforge - AI course generation pipeline",
	Long: `courseforge - Asynchronous course generation with credits, research and batching.

Authors create courses and lessons; generation jobs turn them into outlines,
lesson plans, scripts, quizzes, content variations, enhancements, cover images
and fact-checks. Every job is metered against the owner's credit balance.

Available commands:
  serve    - Start the HTTP API and websocket event hub
  jobs     - List, inspect, retry and watch generation jobs
  batch    - Run a batch of generation requests from a JSON file
  credits  - Inspect and top up credit accounts
  db       - Manage the database schema
  am       - Show, validate and initialise configuration
  version  - Show version information

Examples:
  courseforge serve -v                        # Start the API with info logging
  courseforge jobs ls --owner ada             # List ada's jobs
  courseforge credits grant ada 50            # Top up ada by 50 credits
  courseforge batch run items.json --owner ada`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; a missing file is not an error
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
		}

		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().String("db-path", "", "Custom database path (overrides config)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.BatchCmd)
	rootCmd.AddCommand(commands.CreditsCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
