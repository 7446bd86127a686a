package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/strata/cmd/strata/commands"
	"github.com/teranos/strata/logger"
)

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "strata - transactional object graph over SQLite",
	Long: `strata - a transactional object graph with a main-thread view.

Objects are committed to a SQLite store by serial or parallel transactions
and merged into a read-only main context.

Available commands:
  init    - Write a starter config and schema and create the store
  stats   - Show object counts per entity
  query   - Fetch objects from the main context
  bench   - Compare serial and parallel transaction scheduling
  version - Show version information

Examples:
  strata init                          # strata.toml, strata.schema.yaml, strata.db
  strata query Item 'name == "A"'      # Filter with an expr-lang expression
  strata bench -g 16 -n 50 -vv         # Lost-update benchmark with debug logs`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
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
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: strata.toml searched upward from the working directory)")

	rootCmd.AddCommand(commands.InitCmd)
	rootCmd.AddCommand(commands.StatsCmd)
	rootCmd.AddCommand(commands.QueryCmd)
	rootCmd.AddCommand(commands.BenchCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
