// Package main provides the CLI entry point for the LLM gateway.
//
// llmgateway sits in front of one or more upstream LLM backends (Anthropic,
// OpenAI, and an in-process Gemini/Antigravity path), rewriting requests so
// IDE-style clients never trip a backend's signature verification, and
// falling over to the next backend in a model's chain on rate limits or
// server errors.
//
// # Basic Usage
//
// Start the gateway:
//
//	llmgateway serve --config gateway.yaml
//
// Validate configuration without starting anything:
//
//	llmgateway doctor --config gateway.yaml
//
// # Environment Variables
//
//   - LLMGATEWAY_CONFIG: path to the configuration file (default: gateway.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY: upstream credentials,
//     referenced from the config file via ${VAR} expansion
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
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

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "llmgateway",
		Short: "llmgateway - multi-backend LLM proxy with IDE compatibility rewriting",
		Long: `llmgateway proxies OpenAI- and Anthropic-shaped completion requests to one
or more configured backends, with per-model fallback chains, rate-limit
cooldown tracking, and request sanitization for IDE clients that can't
verify another vendor's thinking-block signatures.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildDoctorCmd(),
		buildCacheCmd(),
		buildMigrateCmd(),
	)

	return rootCmd
}

func defaultConfigPath() string {
	if p := os.Getenv("LLMGATEWAY_CONFIG"); p != "" {
		return p
	}
	return "gateway.yaml"
}
