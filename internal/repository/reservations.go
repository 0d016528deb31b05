package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticketsaga/internal/database"
	"ticketsaga/internal/models"

	"github.com/lib/pq"
)

type ReservationRepo struct {
	q querier
}

func NewReservationRepository(q querier) *ReservationRepo {
	return &ReservationRepo{q: q}
}

func (r *ReservationRepo) Insert(ctx context.Context, res *models.Reservation) (ConflictKind, error) {
	query := `
		INSERT INTO reservations (user_id, show_id, reservation_code, request_id, amount, expires_at, confirmed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := r.q.QueryRowContext(ctx, query,
		res.UserID,
		res.ShowID,
		res.Code,
		res.RequestID,
		res.Amount,
		res.ExpiresAt,
		res.ConfirmedAt,
		res.CreatedAt,
	).Scan(&res.ID)
	if err != nil {
		return reservationConflict(err)
	}

	seatQuery := `
		INSERT INTO reservation_seats (reservation_id, show_id, seat_id, price, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	for i := range res.Seats {
		seat := &res.Seats[i]
		seat.ReservationID = res.ID
		err := r.q.QueryRowContext(ctx, seatQuery,
			seat.ReservationID, seat.ShowID, seat.SeatID, seat.Price, seat.Status,
		).Scan(&seat.ID)
		if err != nil {
			return reservationConflict(err)
		}
	}

	return ConflictNone, nil
}

func reservationConflict(err error) (ConflictKind, error) {
	err = database.Classify(err)
	if constraint, ok := database.UniqueConstraint(err); ok {
		switch constraint {
		case database.ConstraintReservationRequest:
			return ConflictRequestID, err
		case database.ConstraintSeatSlot:
			return ConflictSeat, err
		}
	}
	return ConflictNone, fmt.Errorf("failed to insert reservation: %w", err)
}

const reservationColumns = `id, user_id, show_id, reservation_code, request_id, amount, expires_at, confirmed_at, created_at`

func (r *ReservationRepo) get(ctx context.Context, query string, args ...any) (*models.Reservation, error) {
	res := &models.Reservation{}
	var expiresAt, confirmedAt sql.NullTime

	err := r.q.QueryRowContext(ctx, query, args...).Scan(
		&res.ID,
		&res.UserID,
		&res.ShowID,
		&res.Code,
		&res.RequestID,
		&res.Amount,
		&expiresAt,
		&confirmedAt,
		&res.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Classify(err)
	}

	if expiresAt.Valid {
		res.ExpiresAt = &expiresAt.Time
	}
	if confirmedAt.Valid {
		res.ConfirmedAt = &confirmedAt.Time
	}

	if res.Seats, err = r.seats(ctx, res.ID); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *ReservationRepo) seats(ctx context.Context, reservationID int64) ([]models.ReservationSeat, error) {
	query := `
		SELECT id, reservation_id, show_id, seat_id, price, status
		FROM reservation_seats
		WHERE reservation_id = $1
		ORDER BY seat_id`

	rows, err := r.q.QueryContext(ctx, query, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seats []models.ReservationSeat
	for rows.Next() {
		var s models.ReservationSeat
		if err := rows.Scan(&s.ID, &s.ReservationID, &s.ShowID, &s.SeatID, &s.Price, &s.Status); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

func (r *ReservationRepo) GetByID(ctx context.Context, id int64) (*models.Reservation, error) {
	return r.get(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
}

func (r *ReservationRepo) GetByRequestID(ctx context.Context, userID int64, requestID string) (*models.Reservation, error) {
	return r.get(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE user_id = $1 AND request_id = $2`, userID, requestID)
}

func (r *ReservationRepo) GetForUpdate(ctx context.Context, id int64) (*models.Reservation, error) {
	return r.get(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id)
}

// Update writes the resolution timestamps and every seat status.
func (r *ReservationRepo) Update(ctx context.Context, res *models.Reservation) error {
	query := `UPDATE reservations SET expires_at = $2, confirmed_at = $3 WHERE id = $1`
	if _, err := r.q.ExecContext(ctx, query, res.ID, res.ExpiresAt, res.ConfirmedAt); err != nil {
		return fmt.Errorf("failed to update reservation %d: %w", res.ID, database.Classify(err))
	}

	for _, s := range res.Seats {
		if _, err := r.q.ExecContext(ctx, `UPDATE reservation_seats SET status = $2 WHERE id = $1`, s.ID, s.Status); err != nil {
			return fmt.Errorf("failed to update reservation seat %d: %w", s.ID, database.Classify(err))
		}
	}
	return nil
}

func (r *ReservationRepo) ExpireHeldSeats(ctx context.Context, showID int64, seatIDs []int64, now time.Time) (int64, error) {
	query := `
		UPDATE reservation_seats rs
		SET status = 'EXPIRED'
		FROM reservations r
		WHERE rs.reservation_id = r.id
		  AND rs.show_id = $1
		  AND rs.seat_id = ANY($2)
		  AND rs.status = 'HOLD'
		  AND r.expires_at IS NOT NULL
		  AND r.expires_at <= $3`

	result, err := r.q.ExecContext(ctx, query, showID, pq.Array(seatIDs), now)
	if err != nil {
		return 0, database.Classify(err)
	}
	return result.RowsAffected()
}

func (r *ReservationRepo) ExpireStale(ctx context.Context, now time.Time, limit int) (int64, error) {
	query := `
		UPDATE reservation_seats
		SET status = 'EXPIRED'
		WHERE id IN (
			SELECT rs.id
			FROM reservation_seats rs
			JOIN reservations r ON r.id = rs.reservation_id
			WHERE rs.status = 'HOLD'
			  AND r.expires_at IS NOT NULL
			  AND r.expires_at <= $1
			ORDER BY r.expires_at
			LIMIT $2
			FOR UPDATE OF rs SKIP LOCKED
		)`

	result, err := r.q.ExecContext(ctx, query, now, limit)
	if err != nil {
		return 0, database.Classify(err)
	}
	return result.RowsAffected()
}
