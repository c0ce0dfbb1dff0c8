package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/tenant"
	"github.com/fyrsmithlabs/outcomed/internal/workflows"
)

var (
	syncTenant  string
	syncDurable bool
)

func init() {
	syncCmd.Flags().StringVar(&syncTenant, "tenant", "", "tenant to sync (required)")
	syncCmd.Flags().BoolVar(&syncDurable, "durable", false, "start the Temporal sync workflow instead of running inline")
	_ = syncCmd.MarkFlagRequired("tenant")

	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync batch for a tenant",
	Long: `Fetch the tenant's successful executions, classify them and write the
results. The batch result is printed as JSON.

Examples:
  # Run inline
  outcomed sync --tenant acme

  # Hand the batch to the Temporal worker
  outcomed sync --tenant acme --durable`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := tenant.Validate(syncTenant); err != nil {
		return err
	}

	cfg, _, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if syncDurable {
		w, err := workflows.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer w.Stop()

		runID, err := w.TriggerSync(ctx, syncTenant)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Started sync workflow for %s (run %s)\n", syncTenant, runID)
		return nil
	}

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	a, err := newApp(startCtx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}
	defer a.Close()

	res, runErr := a.runner.Run(ctx, syncTenant)
	if res != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	}
	if runErr != nil {
		logger.Warn(ctx, "sync stopped early", zap.Error(runErr))
		return fmt.Errorf("sync for %s is partial: %w", syncTenant, runErr)
	}
	return nil
}
