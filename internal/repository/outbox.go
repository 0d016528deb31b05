package repository

import (
	"context"
	"fmt"
	"time"

	"ticketsaga/internal/database"
	"ticketsaga/internal/models"
)

// OutboxRepo works on one service's outbox table.
type OutboxRepo struct {
	q     querier
	table string
}

func NewOutboxRepository(q querier, svc models.OutboxService) *OutboxRepo {
	return &OutboxRepo{q: q, table: svc.Table()}
}

func (r *OutboxRepo) Insert(ctx context.Context, e *models.OutboxEvent) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (aggregate_type, aggregate_id, event_type, topic, message_key, payload, status, created_at, retry_count, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, '')
		RETURNING id`, r.table)

	err := r.q.QueryRowContext(ctx, query,
		e.AggregateType,
		e.AggregateID,
		e.EventType,
		e.Topic,
		e.MessageKey,
		[]byte(e.Payload),
		e.Status,
		e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert %s row: %w", r.table, database.Classify(err))
	}
	return nil
}

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, topic, message_key, payload, status, created_at, published_at, retry_count, error_message`

func (r *OutboxRepo) list(ctx context.Context, query string, args ...any) ([]models.OutboxEvent, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.Classify(err)
	}
	defer rows.Close()

	events := []models.OutboxEvent{}
	for rows.Next() {
		var e models.OutboxEvent
		var payload []byte
		if err := rows.Scan(
			&e.ID,
			&e.AggregateType,
			&e.AggregateID,
			&e.EventType,
			&e.Topic,
			&e.MessageKey,
			&payload,
			&e.Status,
			&e.CreatedAt,
			&e.PublishedAt,
			&e.RetryCount,
			&e.ErrorMessage,
		); err != nil {
			return nil, err
		}
		e.Payload = payload
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *OutboxRepo) ClaimPending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE status = 'PENDING'
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, outboxColumns, r.table)
	return r.list(ctx, query, limit)
}

func (r *OutboxRepo) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET status = 'PUBLISHED', published_at = $2 WHERE id = $1 AND status = 'PENDING'`, r.table)
	if _, err := r.q.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to mark %s row %d published: %w", r.table, id, database.Classify(err))
	}
	return nil
}

func (r *OutboxRepo) MarkFailed(ctx context.Context, id int64, errMsg string, maxRetries int) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET retry_count = retry_count + 1,
		    error_message = $2,
		    status = CASE WHEN retry_count + 1 >= $3 THEN 'FAILED' ELSE status END
		WHERE id = $1 AND status = 'PENDING'`, r.table)
	if _, err := r.q.ExecContext(ctx, query, id, errMsg, maxRetries); err != nil {
		return fmt.Errorf("failed to mark %s row %d failed: %w", r.table, id, database.Classify(err))
	}
	return nil
}

func (r *OutboxRepo) Exists(ctx context.Context, messageKey, eventType string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE message_key = $1 AND event_type = $2)`, r.table)
	if err := r.q.QueryRowContext(ctx, query, messageKey, eventType).Scan(&exists); err != nil {
		return false, database.Classify(err)
	}
	return exists, nil
}

func (r *OutboxRepo) ListFailed(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = 'FAILED' ORDER BY created_at DESC LIMIT $1`, outboxColumns, r.table)
	return r.list(ctx, query, limit)
}

func (r *OutboxRepo) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE status = 'PUBLISHED' AND published_at < $1`, r.table)
	result, err := r.q.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, database.Classify(err)
	}
	return result.RowsAffected()
}
