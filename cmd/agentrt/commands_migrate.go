package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vela-systems/agentrt/internal/config"
	"github.com/vela-systems/agentrt/internal/storage"
)

// buildMigrateCmd creates the "migrate" command. Storage.Open applies
// every pending migration itself on connect, so this command is just an
// explicit way to trigger that without also starting the server.
func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Open the configured SQLite store and apply any migrations not yet
recorded in its migrations table. The serve command does this
automatically on startup; this command exists for deploy scripts that
want migrations applied as a separate, observable step.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = defaultConfigPath()
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := storage.Open(cmd.Context(), cfg.Storage)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer db.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
