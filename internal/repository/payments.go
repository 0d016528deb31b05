package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticketsaga/internal/database"
	"ticketsaga/internal/models"
)

type PaymentRepo struct {
	q querier
}

func NewPaymentRepository(q querier) *PaymentRepo {
	return &PaymentRepo{q: q}
}

func (r *PaymentRepo) Insert(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (reservation_id, user_id, payment_code, request_id, amount, status, failure_reason, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err := r.q.QueryRowContext(ctx, query,
		p.ReservationID,
		p.UserID,
		p.Code,
		p.RequestID,
		p.Amount,
		p.Status,
		p.FailureReason,
		p.PaidAt,
		p.CreatedAt,
		p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", database.Classify(err))
	}
	return nil
}

const paymentColumns = `id, reservation_id, user_id, payment_code, request_id, amount, status, failure_reason, paid_at, created_at, updated_at`

func (r *PaymentRepo) get(ctx context.Context, query string, args ...any) (*models.Payment, error) {
	p := &models.Payment{}
	var paidAt sql.NullTime

	err := r.q.QueryRowContext(ctx, query, args...).Scan(
		&p.ID,
		&p.ReservationID,
		&p.UserID,
		&p.Code,
		&p.RequestID,
		&p.Amount,
		&p.Status,
		&p.FailureReason,
		&paidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Classify(err)
	}
	if paidAt.Valid {
		p.PaidAt = &paidAt.Time
	}
	return p, nil
}

func (r *PaymentRepo) GetByID(ctx context.Context, id int64) (*models.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *PaymentRepo) GetByRequestID(ctx context.Context, requestID string) (*models.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE request_id = $1`, requestID)
}

func (r *PaymentRepo) GetForUpdate(ctx context.Context, id int64) (*models.Payment, error) {
	return r.get(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
}

func (r *PaymentRepo) Update(ctx context.Context, p *models.Payment) error {
	query := `
		UPDATE payments
		SET status = $2, failure_reason = $3, paid_at = $4, updated_at = $5
		WHERE id = $1`

	_, err := r.q.ExecContext(ctx, query, p.ID, p.Status, p.FailureReason, p.PaidAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update payment %d: %w", p.ID, database.Classify(err))
	}
	return nil
}

func (r *PaymentRepo) HasActive(ctx context.Context, reservationID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM payments WHERE reservation_id = $1 AND status <> 'FAILED')`
	if err := r.q.QueryRowContext(ctx, query, reservationID).Scan(&exists); err != nil {
		return false, database.Classify(err)
	}
	return exists, nil
}
