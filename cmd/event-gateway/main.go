package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zoff-tech/order-events/pkg/broker"
	"github.com/zoff-tech/order-events/pkg/config"
	"github.com/zoff-tech/order-events/pkg/gateway"
	"github.com/zoff-tech/order-events/pkg/logging"
	"github.com/zoff-tech/order-events/pkg/publisher"
	"github.com/zoff-tech/order-events/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration from file or environment
	cfg, err := config.LoadFromFile("./cmd/event-gateway")
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

	// A missing broker degrades publishing, it never stops the gateway. An
	// unreachable RabbitMQ is re-dialed in the background and the publisher
	// reports connected again once it is back.
	pub := publisher.Disconnected(logger)
	if cfg.Broker.Configured() {
		b, err := broker.NewBroker(ctx, &cfg.Broker, logger)
		if err != nil {
			logger.Warnw("broker unavailable, events will not be published", "broker_type", cfg.Broker.Type, "error", err)
		} else {
			pub = publisher.NewPublisher(b, logger)
		}
	} else {
		logger.Warnw("broker not configured, events will not be published")
	}
	defer pub.Close()

	srv := &http.Server{
		Addr:              cfg.Gateway.Addr,
		Handler:           gateway.NewHandler(pub, cfg.Gateway, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infow("event gateway listening", "addr", srv.Addr, "publisher", pub.Status().String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("graceful shutdown failed", "error", err)
	}
}
