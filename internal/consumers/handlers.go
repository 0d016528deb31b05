package consumers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"ticketsaga/internal/config"
	"ticketsaga/internal/database"
	"ticketsaga/internal/messaging"
	"ticketsaga/internal/metrics"
	"ticketsaga/internal/repository"
	"ticketsaga/internal/retry"
	"ticketsaga/internal/service"
)

// Handlers are the saga steps of the three services. Each step runs one local
// transaction that mutates its aggregate and enqueues the next message in the
// service's own outbox. A step returns an error only for infrastructure
// failures, which leaves the delivery unacknowledged.
type Handlers struct {
	Payment     *PaymentHandler
	Wallet      *WalletHandler
	Reservation *ReservationHandler
}

func NewHandlers(store repository.Store, wallet *service.WalletService, cfg config.WalletConfig) *Handlers {
	// Payment and reservation rows are locked too; deadlock losers retry like wallet writes.
	policy := retry.Policy{
		MaxAttempts: cfg.RetryAttempts,
		Delay:       cfg.RetryDelay,
		Backoff:     2,
		Retryable:   database.IsRetryable,
	}

	return &Handlers{
		Payment:     &PaymentHandler{store: store, policy: policy, now: time.Now},
		Wallet:      &WalletHandler{store: store, wallet: wallet, now: time.Now},
		Reservation: &ReservationHandler{store: store, policy: policy, now: time.Now},
	}
}

// handle decodes a delivery into T before calling fn. A payload that does not
// decode is acknowledged: redelivery cannot fix it.
func handle[T any](fn func(ctx context.Context, in T) error) messaging.Handler {
	return func(ctx context.Context, msg messaging.Message) error {
		var in T
		if err := json.Unmarshal(msg.Data, &in); err != nil {
			slog.Error("Failed to unmarshal saga message", "topic", msg.Topic, "key", msg.Key, "error", err)
			metrics.SagaMessages.WithLabelValues(msg.Topic, metrics.OutcomeRejected).Inc()
			return nil
		}

		if err := fn(ctx, in); err != nil {
			slog.Error("Saga step failed, message will be redelivered", "topic", msg.Topic, "key", msg.Key, "error", err)
			metrics.SagaMessages.WithLabelValues(msg.Topic, metrics.OutcomeError).Inc()
			return err
		}
		return nil
	}
}

func observe(topic, outcome string) {
	metrics.SagaMessages.WithLabelValues(topic, outcome).Inc()
}
