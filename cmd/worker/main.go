package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"streamocr-worker-go/internal/api"
	"streamocr-worker-go/internal/config"
	"streamocr-worker-go/internal/logging"
	"streamocr-worker-go/internal/services"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = time.RFC3339
	console := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = log.Output(console)

	// Load configuration
	cfg := config.Load()

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogdyEnabled {
		writer, _ := logging.StartLogdy(cfg)
		log.Logger = log.Output(io.MultiWriter(console, writer))
	}

	log.Info().
		Str("worker_id", cfg.WorkerID).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Int("ocr_workers", cfg.OcrWorkers).
		Bool("nats_enabled", cfg.NatsEnabled).
		Msg("Starting StreamOCR Worker")

	container, err := services.NewServiceContainer(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create services")
	}
	container.Start()

	server := api.NewServer(cfg, api.Dependencies{
		Manager: container.Manager,
		Results: container.Results,
		Jobs:    container.Scheduler,
		ExecLog: container.ExecLog,
		Engines: container.Engines,
		Source:  container.Source,
		Events:  container.Hub,
	})
	if err := server.Setup(); err != nil {
		log.Fatal().Err(err).Msg("Failed to setup API server")
	}

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := container.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Services did not stop cleanly")
	} else {
		log.Info().Msg("Server shutdown complete")
	}
}
