package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ticketsaga/internal/models"
	"ticketsaga/internal/repository"
)

// Event is a message to enqueue in the caller's transaction.
type Event struct {
	AggregateType string
	AggregateID   int64
	EventType     string
	Topic         string
	// Key is the saga correlation id (the payment id) and the broker partition key.
	Key     int64
	Payload any
}

// Enqueue writes ev as a PENDING row. Call it with the repositories of the
// transaction that performs the domain change it announces.
func Enqueue(ctx context.Context, repo repository.OutboxRepository, ev Event, now time.Time) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", ev.EventType, err)
	}

	row := &models.OutboxEvent{
		AggregateType: ev.AggregateType,
		AggregateID:   fmt.Sprint(ev.AggregateID),
		EventType:     ev.EventType,
		Topic:         ev.Topic,
		MessageKey:    fmt.Sprint(ev.Key),
		Payload:       payload,
		Status:        models.OutboxPending,
		CreatedAt:     now,
	}
	if err := repo.Insert(ctx, row); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", ev.EventType, err)
	}
	return nil
}

// Reply enqueues a saga handler's answer to a command and records the step
// as handled, both in the caller's transaction.
func Reply(ctx context.Context, repos *repository.Repositories, svc models.OutboxService, ev Event, now time.Time) error {
	if err := Enqueue(ctx, repos.Outbox(svc), ev, now); err != nil {
		return err
	}
	return repos.Processed.Insert(ctx, svc, fmt.Sprint(ev.Key), ev.EventType, now)
}

// Handled reports whether svc already answered the saga key with eventType.
// Saga handlers use it to make redelivered commands no-ops. The processed
// record survives the Cleaner; the outbox row covers answers written before
// processed records existed.
func Handled(ctx context.Context, repos *repository.Repositories, svc models.OutboxService, key int64, eventType string) (bool, error) {
	messageKey := fmt.Sprint(key)
	ok, err := repos.Processed.Exists(ctx, svc, messageKey, eventType)
	if err == nil && !ok {
		ok, err = repos.Outbox(svc).Exists(ctx, messageKey, eventType)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s for %s: %w", svc, eventType, err)
	}
	return ok, nil
}
