package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/marmos91/dittodrive/pkg/server"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server",
	Long:  `Load the configuration, assemble storage and services, and serve the enabled adapters until SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd.Context())
	},
}

func runStart(parent context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("DittoDrive %s (%s) starting", version, commit)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsResult := config.InitializeMetrics(cfg)

	stack, err := config.InitializeStack(ctx, cfg, metricsResult)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	stack.Start()

	srv := server.New(stack.Documents)
	if metricsResult.Server != nil {
		srv.SetMetricsServer(metricsResult.Server)
	}

	adapters, err := config.CreateAdapters(cfg, metricsResult.WebDAV)
	if err != nil {
		_ = stack.Close(context.Background())
		return err
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			_ = stack.Close(context.Background())
			return err
		}
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")
	serveErr := srv.Serve(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := stack.Close(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	logger.Info("Server stopped gracefully")
	return nil
}
