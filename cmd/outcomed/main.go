// Outcomed classifies workflow-automation executions into business outcomes.
//
// Usage:
//
//	# Start the API (and the Temporal worker when enabled)
//	outcomed serve --config /etc/outcomed/config.yaml
//
//	# Sync one tenant without the server
//	outcomed sync --tenant acme
//
//	# Apply migrations and seed the default anchors
//	outcomed migrate up
//	outcomed seed-anchors
//
// Configuration is read from the YAML file given with --config and
// overridden by OUTCOMED_* environment variables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the YAML config file; it may not exist.
	configPath string
	// serverURL is the API base URL used by the review commands.
	serverURL string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "outcomed",
	Short: "Business outcome detection for workflow executions",
	Long: `outcomed watches a workflow-automation platform, decides which business
outcome each successful execution produced, writes the matching CRM records
and asks a human when it is not sure.`,
	SilenceUsage: true,
	Version:      version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "outcomed.yaml", "path to the YAML config file")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "outcomed by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

// loadConfig loads the config file and builds the logger from its logging
// section.
func loadConfig() (*config.Config, *config.Source, *logging.Logger, error) {
	cfg, src, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	logCfg := logging.NewDefaultConfig()
	if err := src.Section("logging", logCfg); err != nil {
		return nil, nil, nil, err
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, src, logger, nil
}
