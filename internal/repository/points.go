package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticketsaga/internal/database"
	"ticketsaga/internal/models"
)

type PointRepo struct {
	q           querier
	inTx        bool
	lockTimeout time.Duration
}

func NewPointRepository(q querier, inTx bool, lockTimeout time.Duration) *PointRepo {
	return &PointRepo{q: q, inTx: inTx, lockTimeout: lockTimeout}
}

func (r *PointRepo) get(ctx context.Context, query string, userID int64) (*models.Point, error) {
	p := &models.Point{}
	err := r.q.QueryRowContext(ctx, query, userID).Scan(&p.UserID, &p.Balance, &p.Version, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Classify(err)
	}
	return p, nil
}

func (r *PointRepo) Get(ctx context.Context, userID int64) (*models.Point, error) {
	return r.get(ctx, `SELECT user_id, balance, version, updated_at FROM points WHERE user_id = $1`, userID)
}

func (r *PointRepo) GetForUpdate(ctx context.Context, userID int64) (*models.Point, error) {
	if r.inTx && r.lockTimeout > 0 {
		// SET does not take bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := r.q.ExecContext(ctx, stmt); err != nil {
			return nil, database.Classify(err)
		}
	}
	return r.get(ctx, `SELECT user_id, balance, version, updated_at FROM points WHERE user_id = $1 FOR UPDATE`, userID)
}

func (r *PointRepo) Create(ctx context.Context, userID int64, now time.Time) error {
	query := `
		INSERT INTO points (user_id, balance, version, updated_at)
		VALUES ($1, 0, 0, $2)
		ON CONFLICT (user_id) DO NOTHING`

	if _, err := r.q.ExecContext(ctx, query, userID, now); err != nil {
		return fmt.Errorf("failed to create wallet for user %d: %w", userID, database.Classify(err))
	}
	return nil
}

func (r *PointRepo) Update(ctx context.Context, p *models.Point) error {
	query := `UPDATE points SET balance = $2, version = $3, updated_at = $4 WHERE user_id = $1`
	if _, err := r.q.ExecContext(ctx, query, p.UserID, p.Balance, p.Version, p.UpdatedAt); err != nil {
		return fmt.Errorf("failed to update wallet for user %d: %w", p.UserID, database.Classify(err))
	}
	return nil
}

func (r *PointRepo) InsertHistory(ctx context.Context, h *models.PointHistory) error {
	query := `
		INSERT INTO point_history (user_id, request_id, type, amount, balance_before, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.q.QueryRowContext(ctx, query,
		h.UserID, h.RequestID, h.Type, h.Amount, h.BalanceBefore, h.BalanceAfter, h.CreatedAt,
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("failed to insert point history: %w", database.Classify(err))
	}
	return nil
}

const historyColumns = `id, user_id, request_id, type, amount, balance_before, balance_after, created_at`

func scanHistory(scan func(dest ...any) error) (models.PointHistory, error) {
	var h models.PointHistory
	err := scan(&h.ID, &h.UserID, &h.RequestID, &h.Type, &h.Amount, &h.BalanceBefore, &h.BalanceAfter, &h.CreatedAt)
	return h, err
}

func (r *PointRepo) GetHistory(ctx context.Context, userID int64, txType models.PointTxType, requestID string) (*models.PointHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM point_history WHERE user_id = $1 AND type = $2 AND request_id = $3`
	h, err := scanHistory(r.q.QueryRowContext(ctx, query, userID, txType, requestID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Classify(err)
	}
	return &h, nil
}

func (r *PointRepo) ListHistory(ctx context.Context, userID int64, limit int) ([]models.PointHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM point_history WHERE user_id = $1 ORDER BY id DESC LIMIT $2`
	rows, err := r.q.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, database.Classify(err)
	}
	defer rows.Close()

	history := []models.PointHistory{}
	for rows.Next() {
		h, err := scanHistory(rows.Scan)
		if err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}
