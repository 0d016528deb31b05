package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticketsaga/internal/api"
	"ticketsaga/internal/app"
	"ticketsaga/internal/config"
	"ticketsaga/internal/logger"
	"ticketsaga/internal/messaging"
)

func main() {
	// Загружаем конфигурацию
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	a, err := app.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize application", "error", err)
	}

	// С локальным брокером сага выполняется в этом же процессе
	var workers *app.Workers
	if cfg.Broker.Driver == "local" {
		broker, err := messaging.New(cfg.Broker)
		if err != nil {
			logger.Fatal("Failed to create broker", "error", err)
		}
		if workers, err = a.StartWorkers(broker); err != nil {
			logger.Fatal("Failed to start workers", "error", err)
		}
	}

	server := api.NewServer(a)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.GetRouter(),
	}

	// Запускаем сервер в отдельной горутине
	go func() {
		slog.Info("Starting server", "port", cfg.Port, "store", cfg.StoreDriver, "broker", cfg.Broker.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Ждем сигнал для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	if workers != nil {
		if err := workers.Stop(ctx); err != nil {
			slog.Error("Error stopping workers", "error", err)
		}
	}

	// Закрываем соединения
	if err := server.Cleanup(); err != nil {
		slog.Error("Error during cleanup", "error", err)
	}

	slog.Info("Server stopped")
}
