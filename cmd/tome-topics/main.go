package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/illmade-knight/tome-topics/pkg/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// 1. Setup logger
	level, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if os.Getenv("LOG_FORMAT") == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// 2. Load configuration from environment
	cfg, err := service.LoadConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := log.Logger.With().Str("service", cfg.ServiceName).Str("environment", cfg.Environment).Logger()
	logger.Info().
		Str("hyperscaler", cfg.Hyperscaler).
		Str("provider", cfg.Bus.Provider).
		Str("base_path", cfg.BasePath).
		Str("port", cfg.Port).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Wire and run the service
	svc, err := service.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build service")
	}
	if err := svc.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Service stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("Shutdown complete.")
}
