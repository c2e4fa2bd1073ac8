// Package main is the entry point for the reporter-agent binary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for reporter-agent
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reporter-agent",
		Short: "Ships agent metricsets to a collector over HTTPS",
		Long: `reporter-agent gathers its own metrics and any configured Prometheus
sources and ships them to the collector intake over pooled HTTPS connections.

Server certificates are verified unless reporter.verify_server_cert is false.

Example:
  reporter-agent run --config /etc/reporter/config.yaml`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to configuration file (YAML)")

	rootCmd.AddCommand(newRunCmd(), newProbeCmd(), newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), userAgent())
			return err
		},
	}
}

// configPath returns the --config flag value.
func configPath(cmd *cobra.Command) (string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", fmt.Errorf("failed to get config flag: %w", err)
	}
	return path, nil
}
