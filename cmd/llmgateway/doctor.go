package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexus-gateway/llmgateway/internal/config"
)

// buildDoctorCmd creates the "doctor" command for config validation.
func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration without starting the server",
		Long: `Load and validate the configuration file, then print a summary of the
backend table and routing rules it resolved to.

Exits non-zero if the configuration fails to load or fails validation
(duplicate backend names, a routing rule naming an unconfigured backend,
antigravity enabled with no matching backend entry, and so on).`,
		Example: `  llmgateway doctor
  llmgateway doctor --config /etc/llmgateway/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")

	return cmd
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	fmt.Fprintf(out, "config OK: %s\n", configPath)
	fmt.Fprintf(out, "server: %s\n", cfg.Server.Addr)
	fmt.Fprintf(out, "signature store: %s\n", cfg.Signature.DatabasePath)
	fmt.Fprintf(out, "retry enabled: %v\n", cfg.Retry.Enabled)
	fmt.Fprintf(out, "client rate limit: enabled=%v rps=%.1f burst=%d\n",
		cfg.ClientLimit.Enabled, cfg.ClientLimit.RequestsPerSecond, cfg.ClientLimit.BurstSize)

	fmt.Fprintln(out, "backends:")
	for _, b := range cfg.Backends {
		fmt.Fprintf(out, "  - %s (enabled=%v priority=%d format=%s models=%v)\n",
			b.Name, b.Enabled, b.Priority, b.APIFormat, b.SupportedModels)
	}

	fmt.Fprintln(out, "routing:")
	for _, r := range cfg.Routing {
		fmt.Fprintf(out, "  - %s -> %v\n", r.ModelPattern, r.Backends)
	}

	if cfg.Antigravity.Enabled {
		fmt.Fprintln(out, "antigravity: enabled")
	}

	return nil
}
