package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/markdave123-py/contexta-ingest/internal/app"
	"github.com/markdave123-py/contexta-ingest/internal/config"
)

func main() {
	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	logger.Info("contexta-ingest is running", "store", cfg.StoreDriver, "embedder", cfg.EmbedProvider)
	if err := application.Run(ctx); err != nil {
		logger.Error("shutdown with errors", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down cleanly")
}
