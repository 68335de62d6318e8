package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"truckpress/internal/app"
	"truckpress/internal/config"
	"truckpress/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New("error", "json")
		fallback.Fatal().Err(err).Msg("invalid configuration")
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	application, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	if err := application.Run(ctx); err != nil {
		log.Error().Err(err).Msg("application stopped")
		os.Exit(1)
	}
}
