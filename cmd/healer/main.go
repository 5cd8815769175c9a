// healer runs adaptive health policies against mirador-core signals.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-healer/internal/api"
	"github.com/miradorstack/mirador-healer/internal/bootstrap"
	"github.com/miradorstack/mirador-healer/internal/config"
	"github.com/miradorstack/mirador-healer/internal/metrics"
	"github.com/miradorstack/mirador-healer/internal/utils"
)

const version = "0.1.0"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "healer",
		Short:         "Adaptive health policy executor for mirador",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (default $MIRADOR_HEALER_CONFIG)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(onceCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("healer failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	return cfg, utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON), nil
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and wire every policy without starting anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := bootstrap.Build(cmd.Context(), cfg, logger, bootstrap.Options{SkipStore: true})
			if err != nil {
				return err
			}
			defer app.Close()
			for _, p := range app.Policies {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tinterval=%s\tcapabilities=%s\n", p.Name(), p.Interval(), p.Capabilities())
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}
}

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run every policy once, ignoring schedules, and print the resulting actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer app.Close()

			actions, err := app.Scheduler.RunOnce(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(actions)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler with its gRPC health and HTTP status endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, logger)
		},
	}
}

func run(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting mirador-healer",
		slog.String("address", cfg.Server.Address),
		slog.String("http_address", cfg.Server.HTTPAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("release resources", slog.Any("error", err))
		}
	}()

	server, err := api.NewServer(cfg.Server, logger)
	if err != nil {
		return fmt.Errorf("create gRPC server: %w", err)
	}

	var httpServer *http.Server
	if cfg.Server.HTTPAddress != "" {
		var history api.ActionLister
		if app.Store != nil {
			history = app.Store
		}
		httpServer = &http.Server{
			Addr:         cfg.Server.HTTPAddress,
			Handler:      api.NewHTTPHandler(app.Scheduler, history, nil, logger),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	handle := app.Scheduler.Start(ctx)
	server.TrackScheduler(ctx, handle.Done())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-handle.Done():
		runErr = handle.Err()
	}
	app.Scheduler.Stop()
	if err := handle.Wait(); err != nil {
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server shutdown", slog.Any("error", err))
		}
	}

	logger.Info("mirador-healer stopped")
	return runErr
}
