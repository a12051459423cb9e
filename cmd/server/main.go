package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zateckar/monitor-sub001/internal/app"
	"github.com/zateckar/monitor-sub001/internal/config"
	"github.com/zateckar/monitor-sub001/pkg/logger"
)

func main() {
	// Load configuration from environment variables.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize structured logger with a runtime-adjustable level.
	log, level := logger.NewLeveled("monitor", cfg.LogLevel, os.Stdout)
	log.Info("starting monitor",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
		slog.String("location", cfg.InstanceLocation),
	)

	// Create the application with all dependencies wired.
	application, err := app.NewApp(cfg, log, level)
	if err != nil {
		log.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Create a context that is canceled on SIGINT or SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Run the application. This blocks until shutdown.
	if err := application.Run(ctx); err != nil {
		log.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("monitor stopped")
}
