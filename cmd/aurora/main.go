// Package main is the Aurora CLI entry point.
//
// Aurora orchestrates agentic cloud operations: an LLM-driven tool loop over
// cloud CLIs and terraform, scoped per-user credentials, and a background
// root-cause-analysis pipeline for incoming incidents.
//
// Start the gateway:
//
//	aurora serve --config aurora.yaml
//
// Start a background RCA worker:
//
//	aurora worker --config aurora.yaml
//
// Configuration can also come from the environment: AGENT_RECURSION_LIMIT,
// ANTHROPIC_API_KEY, OPENAI_API_KEY, OPENROUTER_API_KEY, DATABASE_URL,
// REDIS_ADDR, ENABLE_POD_ISOLATION.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/auroraops/aurora/internal/config"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aurora",
		Short: "Aurora - agentic cloud-ops orchestrator",
		Long: `Aurora connects LLM agents to cloud control planes with scoped credentials.

Supported providers: GCP, AWS, Azure, OVH, Scaleway, Tailscale
Tools: cloud_exec (CLI dispatch), iac_tool (terraform), MCP bridge`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildWorkerCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Println(string(schema))
			return nil
		},
	})
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aurora %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
