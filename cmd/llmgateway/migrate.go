package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexus-gateway/llmgateway/internal/config"
	"github.com/nexus-gateway/llmgateway/internal/signature"
)

// buildMigrateCmd creates the "migrate" command, which bootstraps the
// signature store's SQLite schema (signature_cache, tool_signature_cache,
// session_signature_cache, conversation_state) without starting the server.
//
// signature.OpenL2 runs its CREATE TABLE IF NOT EXISTS statements on every
// open, so this command's only job is to surface that it ran and where.
func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the signature store's SQLite schema",
		Long: `Open the signature store's database, applying its schema if this is the
first run against this file.

Normally unnecessary: "llmgateway serve" does this itself on startup. This
command exists to validate a database file, or to pre-create it, without
also binding a listening socket.`,
		Example: `  llmgateway migrate
  llmgateway migrate --config /etc/llmgateway/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func runMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	l2, err := signature.OpenL2(cfg.Signature.DatabasePath)
	if err != nil {
		return fmt.Errorf("open signature store: %w", err)
	}
	defer l2.Close()

	fmt.Fprintf(out, "schema up to date: %s\n", cfg.Signature.DatabasePath)
	return nil
}
