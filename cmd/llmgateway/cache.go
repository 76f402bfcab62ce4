package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexus-gateway/llmgateway/internal/config"
	"github.com/nexus-gateway/llmgateway/internal/signature"
)

// buildCacheCmd creates the "cache" command group for inspecting and
// clearing C1's signature store out of band from a running server.
func buildCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the signature cache",
		Long: `Manage the signature store (C1) that maps a thinking block's hash back to
the signature an upstream backend issued for it.`,
	}

	cmd.AddCommand(buildCacheStatsCmd())
	cmd.AddCommand(buildCacheClearCmd())

	return cmd
}

func buildCacheStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print signature cache hit/miss counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheStats(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func runCacheStats(cmd *cobra.Command, configPath string) error {
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

	store := signature.NewStore(l2, cfg.Signature.Store)
	defer store.Close(context.Background())

	stats := store.Stats()
	fmt.Fprintf(out, "database: %s\n", cfg.Signature.DatabasePath)
	fmt.Fprintf(out, "l1 size: %d\n", stats.L1Size)
	fmt.Fprintf(out, "hits: %d\n", stats.Hits)
	fmt.Fprintf(out, "misses: %d\n", stats.Misses)
	if stats.TotalFailed > 0 {
		fmt.Fprintf(out, "failed writes: %d (last error: %s)\n", stats.TotalFailed, stats.LastError)
	}
	return nil
}

func buildCacheClearCmd() *cobra.Command {
	var (
		configPath     string
		namespace      string
		conversationID string
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cached signatures",
		Long: `Clear cached signatures from the L2 store, either everything (no flags) or
scoped to a single namespace and/or conversation.`,
		Example: `  llmgateway cache clear
  llmgateway cache clear --namespace ide
  llmgateway cache clear --namespace ide --conversation-id abc123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheClear(cmd, configPath, namespace, conversationID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&namespace, "namespace", "", "Only clear entries in this namespace")
	cmd.Flags().StringVar(&conversationID, "conversation-id", "", "Only clear entries for this conversation ID")

	return cmd
}

func runCacheClear(cmd *cobra.Command, configPath, namespace, conversationID string) error {
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

	store := signature.NewStore(l2, cfg.Signature.Store)
	defer store.Close(context.Background())

	store.Clear(cmd.Context(), namespace, conversationID)
	fmt.Fprintf(out, "cleared signature cache (namespace=%q conversation_id=%q)\n", namespace, conversationID)
	return nil
}
