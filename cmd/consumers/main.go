package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticketsaga/internal/app"
	"ticketsaga/internal/config"
	"ticketsaga/internal/logger"
	"ticketsaga/internal/messaging"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	slog.Info("Starting consumers service...")

	if cfg.StoreDriver == "memory" {
		logger.Fatal("Consumers need a shared store, STORE_DRIVER=memory only works with the api binary and BROKER_DRIVER=local")
	}

	// Override client ID for consumers
	cfg.Broker.ClientID = cfg.Broker.ClientID + "-consumers"

	a, err := app.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize application", "error", err)
	}

	broker, err := messaging.New(cfg.Broker)
	if err != nil {
		logger.Fatal("Failed to connect to broker", "error", err)
	}

	workers, err := a.StartWorkers(broker)
	if err != nil {
		logger.Fatal("Failed to start consumers", "error", err)
	}

	slog.Info("Consumers service started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down consumers service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := workers.Stop(ctx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}
	if err := a.Close(); err != nil {
		slog.Error("Error closing connections", "error", err)
	}

	slog.Info("Consumers service stopped")
}
