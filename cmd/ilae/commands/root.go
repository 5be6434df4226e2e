// Package commands implements the ilae CLI. The CLI drives the engine
// through its public contract only; platform connectors run in mock mode.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	dbPath        string
	rulesPath     string
	verbose       bool
	jsonOutput    bool
	metricsListen string
	traceExporter string
	traceEndpoint string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ilae",
		Short: "ILAE - Identity Lifecycle Automation Engine",
		Long: `ILAE automates joiner/mover/leaver workflows across downstream platforms.

Each lifecycle transition is planned as a diff between the desired access
(resolved from declarative policy rules) and the access actually applied,
then executed step by step with a tamper-evident evidence record for every
attempt.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "ilae.db", "SQLite database path (empty for in-memory)")
	rootCmd.PersistentFlags().StringVarP(&rulesPath, "rules", "r", "rules.yaml", "policy rule file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&metricsListen, "metrics-listen", "", "address for the Prometheus /metrics endpoint (empty disables)")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace-exporter", "", "trace exporter: otlp, stdout, or none (empty disables tracing)")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "localhost:4317", "OTLP gRPC endpoint for the otlp trace exporter")

	// Add subcommands
	rootCmd.AddCommand(newSubmitCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newIdentitiesCommand())
	rootCmd.AddCommand(newReportCommand())

	return rootCmd
}
