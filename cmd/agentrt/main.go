// Package main provides the CLI entry point for agentrt, an autonomous
// conversational agent runtime: Dispatcher-driven turns, background job
// scheduling, routine/reminder execution, and a webhook surface for
// external channels.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentrt",
		Short: "agentrt - autonomous conversational agent runtime",
		Long: `agentrt drives one Dispatcher agentic loop across channels, jobs, and
routines: LLM + tool-calling turns, a sandboxed WASM tool surface, a
bounded-worker job scheduler, a cron/event routine engine, and a signed
webhook surface, all backed by a single SQLite store.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
	)

	return rootCmd
}

func defaultConfigPath() string {
	if path := os.Getenv("AGENTRT_CONFIG"); path != "" {
		return path
	}
	return "agentrt.yaml"
}
