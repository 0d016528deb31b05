package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketsaga_outbox_published_total",
		Help: "Outbox rows delivered to the broker.",
	}, []string{"service"})

	OutboxPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketsaga_outbox_publish_errors_total",
		Help: "Failed publish attempts of outbox rows.",
	}, []string{"service"})

	OutboxCleaned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketsaga_outbox_cleaned_total",
		Help: "Published outbox rows removed by the retention sweep.",
	}, []string{"service"})

	SagaMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketsaga_saga_messages_total",
		Help: "Saga messages consumed, by handler and outcome.",
	}, []string{"topic", "outcome"})

	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketsaga_gateway_requests_total",
		Help: "Idempotent gateway calls, by operation and the path that answered them.",
	}, []string{"operation", "path"})

	WalletLockRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticketsaga_wallet_lock_retries_total",
		Help: "Wallet mutations retried after lock contention.",
	})

	ExpiredSeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticketsaga_expired_seats_total",
		Help: "Seat holds released by the expiration job.",
	})
)

// Saga message outcomes
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

// Gateway answer paths
const (
	PathCache       = "cache"
	PathIdempotency = "idempotency_key"
	PathExecuted    = "executed"
	PathRecovered   = "constraint_fallback"
)
