package repository

import (
	"context"
	"fmt"
	"time"

	"ticketsaga/internal/database"
	"ticketsaga/internal/models"
)

type ProcessedRepo struct {
	q querier
}

func NewProcessedRepository(q querier) *ProcessedRepo {
	return &ProcessedRepo{q: q}
}

func (r *ProcessedRepo) Insert(ctx context.Context, svc models.OutboxService, messageKey, eventType string, at time.Time) error {
	query := `
		INSERT INTO processed_messages (service, message_key, event_type, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (service, message_key, event_type) DO NOTHING`

	if _, err := r.q.ExecContext(ctx, query, svc, messageKey, eventType, at); err != nil {
		return fmt.Errorf("failed to record %s %s for %s: %w", svc, eventType, messageKey, database.Classify(err))
	}
	return nil
}

func (r *ProcessedRepo) Exists(ctx context.Context, svc models.OutboxService, messageKey, eventType string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM processed_messages WHERE service = $1 AND message_key = $2 AND event_type = $3)`
	if err := r.q.QueryRowContext(ctx, query, svc, messageKey, eventType).Scan(&exists); err != nil {
		return false, database.Classify(err)
	}
	return exists, nil
}
