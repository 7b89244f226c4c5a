package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	buildVersion string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "azkit",
		Short: "azkit - Azure infrastructure automation toolkit",
		Long: `azkit discovers Azure resources into a local SQLite-backed cache,
maps the dependency graph between them, and executes declarative
operation definitions with rollback and recovery artifacts.

Features:
  - Cache-first resource queries over the Azure CLI
  - Typed dependency detection with cycle analysis and DOT/JSON export
  - Declarative YAML operations with prerequisites and idempotency
  - LIFO rollback plus standalone recovery scripts
  - Rego policy guardrails evaluated before execution`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newDiscoverCommand())
	rootCmd.AddCommand(newQueryCommand())
	rootCmd.AddCommand(newDepsCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newOpsCommand())
	rootCmd.AddCommand(newInvalidateCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newStatsCommand())

	return rootCmd
}
