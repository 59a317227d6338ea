package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/zoff-tech/order-events/pkg/broker"
	"github.com/zoff-tech/order-events/pkg/cache"
	"github.com/zoff-tech/order-events/pkg/config"
	"github.com/zoff-tech/order-events/pkg/logging"
	"github.com/zoff-tech/order-events/pkg/store"
	"github.com/zoff-tech/order-events/pkg/telemetry"
	"github.com/zoff-tech/order-events/pkg/worker"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

// run returns an error only when the worker stops on its own. Deferred
// cleanup has finished by the time main sees it.
func run() error {
	// Load configuration from file or environment
	cfg, err := config.LoadFromFile("./cmd/event-worker")
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	logger, err := logging.NewLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	defer logger.Sync()

	// Initialize telemetry (tracing)
	shutdownTelemetry, err := telemetry.Init(cfg.Observability, logger)
	if err != nil {
		logger.Fatalw("failed to initialize telemetry", "error", err)
	}
	defer shutdownTelemetry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The worker only consumes from RabbitMQ
	if cfg.Broker.Type != "" && cfg.Broker.Type != "rabbitmq" {
		logger.Fatalw("event worker requires a rabbitmq broker", "broker_type", cfg.Broker.Type)
	}
	if !cfg.Broker.Configured() {
		logger.Fatalw("broker URL not configured, set RABBITMQ_URL or PIPELINE_BROKER_URL")
	}
	rabbit, err := broker.DialRabbitMQ(ctx, &cfg.Broker, logger)
	if err != nil {
		logger.Fatalw("failed to connect to broker", "error", err)
	}
	defer rabbit.Close()

	// Initialize the document store
	docs, err := store.NewRepository(ctx, cfg.Database)
	if err != nil {
		logger.Fatalw("failed to initialize document store", "db_type", cfg.Database.Type, "error", err)
	}
	defer docs.Close(context.Background())

	// The cache is best effort: while Redis is unreachable invalidations are
	// skipped, and they resume once it answers again
	redisCache := cache.Connect(ctx, cfg.Cache, logger)
	defer redisCache.Close()

	w := worker.NewWorker(rabbit, docs, redisCache, cfg.Worker, logger)

	// Blocks until SIGINT/SIGTERM
	return runUntilStopped(ctx, w, logger)
}

type runner interface {
	Run(ctx context.Context) error
}

func runUntilStopped(ctx context.Context, w runner, logger *zap.SugaredLogger) error {
	if err := w.Run(ctx); err != nil {
		logger.Errorw("worker stopped with error", "error", err)
		return err
	}
	logger.Infow("worker shut down")
	return nil
}
