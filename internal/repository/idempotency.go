package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticketsaga/internal/database"
	"ticketsaga/internal/models"
)

type IdempotencyRepo struct {
	q querier
}

func NewIdempotencyRepository(q querier) *IdempotencyRepo {
	return &IdempotencyRepo{q: q}
}

func (r *IdempotencyRepo) Insert(ctx context.Context, k *models.IdempotencyKey) error {
	query := `
		INSERT INTO idempotency_keys (request_id, user_id, resource_type, resource_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.q.ExecContext(ctx, query, k.RequestID, k.UserID, k.ResourceType, k.ResourceID, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert idempotency key: %w", database.Classify(err))
	}
	return nil
}

func (r *IdempotencyRepo) Get(ctx context.Context, requestID string, userID int64, resourceType models.ResourceType) (*models.IdempotencyKey, error) {
	k := &models.IdempotencyKey{}
	query := `
		SELECT request_id, user_id, resource_type, resource_id, created_at
		FROM idempotency_keys
		WHERE request_id = $1 AND user_id = $2 AND resource_type = $3`

	err := r.q.QueryRowContext(ctx, query, requestID, userID, resourceType).Scan(
		&k.RequestID, &k.UserID, &k.ResourceType, &k.ResourceID, &k.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Classify(err)
	}
	return k, nil
}
