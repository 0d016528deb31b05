package repository

import (
	"context"
	"database/sql"
	"errors"

	"ticketsaga/internal/models"

	"github.com/lib/pq"
)

// CatalogRepo reads show data owned by the catalog service. It never writes.
type CatalogRepo struct {
	q querier
}

func NewCatalogRepository(q querier) *CatalogRepo {
	return &CatalogRepo{q: q}
}

func (r *CatalogRepo) GetShow(ctx context.Context, id int64) (*models.Show, error) {
	show := &models.Show{}
	err := r.q.QueryRowContext(ctx, `SELECT id, concert_id, starts_at FROM shows WHERE id = $1`, id).
		Scan(&show.ID, &show.ConcertID, &show.StartsAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return show, err
}

func (r *CatalogRepo) GetShowSeats(ctx context.Context, showID int64, seatIDs []int64) ([]models.ShowSeat, error) {
	query := `
		SELECT show_id, seat_id, price
		FROM show_seats
		WHERE show_id = $1 AND seat_id = ANY($2)
		ORDER BY seat_id`

	rows, err := r.q.QueryContext(ctx, query, showID, pq.Array(seatIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seats []models.ShowSeat
	for rows.Next() {
		var s models.ShowSeat
		if err := rows.Scan(&s.ShowID, &s.SeatID, &s.Price); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}
