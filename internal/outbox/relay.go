package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ticketsaga/internal/messaging"
	"ticketsaga/internal/metrics"
	"ticketsaga/internal/models"
	"ticketsaga/internal/repository"
)

type RelayConfig struct {
	Interval time.Duration
	// BatchSize bounds the rows claimed per run. The claiming transaction and
	// its row locks stay open while the whole batch is published, so a slow
	// broker keeps them for up to BatchSize publish calls.
	BatchSize  int
	MaxRetries int
}

// Relay moves one service's PENDING outbox rows to the broker.
type Relay struct {
	service   models.OutboxService
	store     repository.Store
	publisher messaging.Publisher
	cfg       RelayConfig
	now       func() time.Time

	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

func NewRelay(service models.OutboxService, store repository.Store, publisher messaging.Publisher, cfg RelayConfig) *Relay {
	return &Relay{
		service:   service,
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

type RelayResult struct {
	Published int
	Failed    int
}

// RunOnce publishes one batch oldest first. Claimed rows stay locked until the
// batch transaction commits, so concurrent relays pick disjoint rows. A row
// whose publish succeeded but whose commit failed is published again on the
// next run; consumers tolerate the duplicate.
func (r *Relay) RunOnce(ctx context.Context) (RelayResult, error) {
	var res RelayResult
	err := r.store.InTx(ctx, func(repos *repository.Repositories) error {
		res = RelayResult{}
		repo := repos.Outbox(r.service)

		events, err := repo.ClaimPending(ctx, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to claim %s outbox rows: %w", r.service, err)
		}

		for _, e := range events {
			if pubErr := r.publisher.Publish(ctx, e.Topic, e.MessageKey, e.Payload); pubErr != nil {
				res.Failed++
				metrics.OutboxPublishErrors.WithLabelValues(string(r.service)).Inc()
				slog.Warn("Failed to publish outbox event",
					"service", r.service, "id", e.ID, "event_type", e.EventType,
					"retry_count", e.RetryCount+1, "max_retries", r.cfg.MaxRetries, "error", pubErr)
				if e.RetryCount+1 >= r.cfg.MaxRetries {
					slog.Error("Outbox event exceeded max retries, needs operator",
						"service", r.service, "id", e.ID, "event_type", e.EventType, "aggregate_id", e.AggregateID)
				}
				if err := repo.MarkFailed(ctx, e.ID, pubErr.Error(), r.cfg.MaxRetries); err != nil {
					return err
				}
				continue
			}

			if err := repo.MarkPublished(ctx, e.ID, r.now()); err != nil {
				return err
			}
			res.Published++
		}
		return nil
	})
	if err != nil {
		return RelayResult{}, err
	}

	metrics.OutboxPublished.WithLabelValues(string(r.service)).Add(float64(res.Published))
	if res.Published > 0 || res.Failed > 0 {
		slog.Debug("Outbox batch relayed", "service", r.service, "published", res.Published, "failed", res.Failed)
	}
	return res, nil
}

// Start polls every Interval until Stop.
func (r *Relay) Start(ctx context.Context) {
	slog.Info("Starting outbox relay", "service", r.service, "interval", r.cfg.Interval, "batch_size", r.cfg.BatchSize)

	r.ticker = time.NewTicker(r.cfg.Interval)
	go func() {
		for {
			select {
			case <-r.ticker.C:
				if _, err := r.RunOnce(ctx); err != nil {
					slog.Error("Outbox relay run failed", "service", r.service, "error", err)
				}
			case <-ctx.Done():
				return
			case <-r.done:
				slog.Info("Outbox relay stopped", "service", r.service)
				return
			}
		}
	}()
}

// Stop ends polling. Calling it again is a no-op.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		if r.ticker != nil {
			r.ticker.Stop()
		}
		close(r.done)
	})
}
