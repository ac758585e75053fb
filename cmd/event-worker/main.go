package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/finshield/fraud-engine/configs"
	"github.com/finshield/fraud-engine/internal/audit"
	"github.com/finshield/fraud-engine/internal/queue"
	"github.com/finshield/fraud-engine/internal/repositories"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Int("concurrency", cfg.Worker.Concurrency).
		Msg("Starting Fraud Engine Event Worker")

	// Initialize database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis Stream client
	streamClient, err := queue.NewFraudStreamClient(cfg.Redis, cfg.Worker.DeadLetterStream)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Stream")
	}
	defer streamClient.Close()

	// Initialize Kafka producer for analytics fan-out
	kafkaPublisher, err := queue.NewKafkaPublisher(cfg.Kafka)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Kafka")
	}
	defer kafkaPublisher.Close()

	// Initialize repository
	eventRepo := repositories.NewFraudEventRepository(db)

	// Create worker pool
	workerPool := audit.NewWorkerPool(
		cfg.Worker.Concurrency,
		eventRepo,
		streamClient,
		kafkaPublisher,
		cfg.Worker,
	)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start worker pool in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- workerPool.Start(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Worker pool error")
		}
	}

	// Stop worker pool
	if err := workerPool.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop worker pool")
	}

	log.Info().Msg("Worker shutdown complete")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
