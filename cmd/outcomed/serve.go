package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	httpserver "github.com/fyrsmithlabs/outcomed/internal/http"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/router"
	"github.com/fyrsmithlabs/outcomed/internal/telemetry"
	"github.com/fyrsmithlabs/outcomed/internal/workflows"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. When temporal.enabled is set, a Temporal worker for the
outcome sync workflow runs in the same process.

Router thresholds are reloaded when the config file changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, src, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	telCfg := telemetry.NewDefaultConfig()
	telCfg.ServiceVersion = version
	if err := src.Section("telemetry", telCfg); err != nil {
		return err
	}
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telCfg.Shutdown.Timeout.Duration())
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()
	if degraded, reason := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", reason))
	}

	logger.Info(ctx, "starting outcomed",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("temporal", cfg.Temporal.Enabled),
	)

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	a, err := newApp(startCtx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Temporal.Enabled {
		w, err := workflows.StartWorker(ctx, cfg.Temporal, workflows.NewActivities(a.runner), logger)
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Syncer:     a.runner,
		Classifier: a.classifier,
		Router:     a.router,
		Reviewer:   a.notifier,
		Scrubber:   a.scrubber,
	}, logger, cfg.Server)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if path := src.Path(); path != "" {
		watcher, err := config.NewWatcher(path, reloadRouter(gctx, a.router, logger), func(err error) {
			logger.Warn(gctx, "config reload failed", zap.Error(err))
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}

	err = g.Wait()
	logger.Info(context.Background(), "server shutdown complete")
	return err
}

// reloadRouter applies new router thresholds from a reloaded config. Other
// sections need a restart.
func reloadRouter(ctx context.Context, r *router.Router, logger *logging.Logger) func(*config.Config) {
	return func(cfg *config.Config) {
		if err := r.SetThresholds(cfg.Router); err != nil {
			logger.Warn(ctx, "rejected router thresholds", zap.Error(err))
			return
		}
		logger.Info(ctx, "router thresholds reloaded",
			zap.Float64("confirm", cfg.Router.ConfirmThreshold),
			zap.Float64("learn", cfg.Router.LearnThreshold),
		)
	}
}
