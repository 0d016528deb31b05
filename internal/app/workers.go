package app

import (
	"context"
	"log/slog"

	"ticketsaga/internal/consumers"
	"ticketsaga/internal/jobs"
	"ticketsaga/internal/messaging"
	"ticketsaga/internal/models"
	"ticketsaga/internal/outbox"
)

// Workers is the background half of the system: saga consumers, one outbox
// relay per service and the periodic sweeps.
type Workers struct {
	consumers  *consumers.ConsumerService
	relays     []*outbox.Relay
	expiration *jobs.ReservationExpirationJob
	cleanup    *jobs.OutboxCleanupJob
	cancel     context.CancelFunc
}

// StartWorkers subscribes the saga handlers to broker and starts the relays
// and jobs. The broker is closed by Workers.Stop.
func (a *App) StartWorkers(broker messaging.Broker) (*Workers, error) {
	cfg := a.Config
	handlers := consumers.NewHandlers(a.Store, a.Services.Wallet, cfg.Wallet)
	cs := consumers.NewConsumerService(broker, handlers)
	if err := cs.Start(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Workers{consumers: cs, cancel: cancel}

	relayCfg := outbox.RelayConfig{
		Interval:   cfg.Outbox.PollInterval,
		BatchSize:  cfg.Outbox.BatchSize,
		MaxRetries: cfg.Outbox.MaxRetries,
	}
	for _, svc := range models.OutboxServices {
		relay := outbox.NewRelay(svc, a.Store, broker, relayCfg)
		relay.Start(ctx)
		w.relays = append(w.relays, relay)
	}

	w.expiration = jobs.NewReservationExpirationJob(a.Services.Reservations,
		cfg.Hold.ExpirySweepInterval, cfg.Hold.ExpirySweepBatch)
	w.expiration.Start(ctx)

	w.cleanup = jobs.NewOutboxCleanupJob(outbox.NewCleaner(a.Store, cfg.Outbox.Retention),
		cfg.Outbox.CleanupInterval)
	w.cleanup.Start(ctx)

	slog.Info("Workers started", "relays", len(w.relays), "broker", cfg.Broker.Driver)
	return w, nil
}

// Stop halts producers first so nothing is published into a closed broker.
func (w *Workers) Stop(ctx context.Context) error {
	w.expiration.Stop()
	w.cleanup.Stop()
	for _, r := range w.relays {
		r.Stop()
	}
	w.cancel()
	return w.consumers.Shutdown(ctx)
}
