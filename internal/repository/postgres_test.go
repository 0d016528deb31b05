package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"ticketsaga/internal/database"
	"ticketsaga/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func uniqueViolation(constraint string) error {
	return &pq.Error{Code: "23505", Constraint: constraint}
}

func heldReservation() *models.Reservation {
	now := time.Now()
	expires := now.Add(10 * time.Minute)
	return &models.Reservation{
		UserID:    7,
		ShowID:    1,
		Code:      "R-1",
		RequestID: "res-1",
		Amount:    3000,
		ExpiresAt: &expires,
		CreatedAt: now,
		Seats: []models.ReservationSeat{
			{ShowID: 1, SeatID: 1, Price: 1000, Status: models.SeatHold},
			{ShowID: 1, SeatID: 2, Price: 2000, Status: models.SeatHold},
		},
	}
}

func TestReservationInsert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReservationRepository(db)

	mock.ExpectQuery(`INSERT INTO reservations`).
		WithArgs(int64(7), int64(1), "R-1", "res-1", int64(3000), sqlmock.AnyArg(), nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(41)))
	mock.ExpectQuery(`INSERT INTO reservation_seats`).
		WithArgs(int64(41), int64(1), int64(1), int64(1000), "HOLD").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(100)))
	mock.ExpectQuery(`INSERT INTO reservation_seats`).
		WithArgs(int64(41), int64(1), int64(2), int64(2000), "HOLD").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(101)))

	res := heldReservation()
	kind, err := repo.Insert(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, ConflictNone, kind)
	assert.Equal(t, int64(41), res.ID)
	assert.Equal(t, int64(41), res.Seats[1].ReservationID)
	assert.Equal(t, int64(101), res.Seats[1].ID)
}

func TestReservationInsertRequestIDConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReservationRepository(db)

	mock.ExpectQuery(`INSERT INTO reservations`).
		WillReturnError(uniqueViolation(database.ConstraintReservationRequest))

	kind, err := repo.Insert(context.Background(), heldReservation())
	require.Error(t, err)
	assert.Equal(t, ConflictRequestID, kind)

	constraint, ok := database.UniqueConstraint(err)
	require.True(t, ok)
	assert.Equal(t, database.ConstraintReservationRequest, constraint)
}

func TestReservationInsertSeatConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReservationRepository(db)

	mock.ExpectQuery(`INSERT INTO reservations`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(41)))
	mock.ExpectQuery(`INSERT INTO reservation_seats`).
		WithArgs(int64(41), int64(1), int64(1), int64(1000), "HOLD").
		WillReturnError(uniqueViolation(database.ConstraintSeatSlot))

	kind, err := repo.Insert(context.Background(), heldReservation())
	require.Error(t, err)
	assert.Equal(t, ConflictSeat, kind)
	assert.True(t, database.IsUniqueViolation(err))
}

func TestReservationInsertOtherErrors(t *testing.T) {
	db, mock := newMock(t)
	repo := NewReservationRepository(db)

	mock.ExpectQuery(`INSERT INTO reservations`).
		WillReturnError(uniqueViolation(database.ConstraintReservationCode))
	mock.ExpectQuery(`INSERT INTO reservations`).
		WillReturnError(errors.New("connection reset by peer"))

	kind, err := repo.Insert(context.Background(), heldReservation())
	require.Error(t, err)
	assert.Equal(t, ConflictNone, kind)
	assert.True(t, database.IsUniqueViolation(err))

	kind, err = repo.Insert(context.Background(), heldReservation())
	require.Error(t, err)
	assert.Equal(t, ConflictNone, kind)
	assert.Contains(t, err.Error(), "failed to insert reservation")
}

func TestOutboxMarkFailed(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOutboxRepository(db, models.OutboxPayment)

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE payment_outbox SET retry_count = retry_count + 1, error_message = $2, ` +
			`status = CASE WHEN retry_count + 1 >= $3 THEN 'FAILED' ELSE status END ` +
			`WHERE id = $1 AND status = 'PENDING'`)).
		WithArgs(int64(5), "broker unavailable", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkFailed(context.Background(), 5, "broker unavailable", 3))
}

func TestOutboxMarkFailedError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOutboxRepository(db, models.OutboxPoint)

	mock.ExpectExec(`UPDATE point_outbox`).
		WithArgs(int64(5), "broker unavailable", 3).
		WillReturnError(&pq.Error{Code: "40P01"})

	err := repo.MarkFailed(context.Background(), 5, "broker unavailable", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrDeadlock)
	assert.Contains(t, err.Error(), "point_outbox row 5")
}

func TestOutboxClaimPending(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOutboxRepository(db, models.OutboxPayment)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "aggregate_type", "aggregate_id", "event_type", "topic", "message_key",
		"payload", "status", "created_at", "published_at", "retry_count", "error_message",
	}).
		AddRow(int64(1), models.AggregatePayment, "12", models.EventUsePoint, models.TopicUsePoint, "12",
			[]byte(`{"paymentId":12}`), "PENDING", now, nil, int64(2), "broker unavailable")

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE status = 'PENDING' ORDER BY created_at, id LIMIT $1 FOR UPDATE SKIP LOCKED`)).
		WithArgs(10).
		WillReturnRows(rows)

	events, err := repo.ClaimPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.OutboxPending, events[0].Status)
	assert.Equal(t, "12", events[0].MessageKey)
	assert.JSONEq(t, `{"paymentId":12}`, string(events[0].Payload))
	assert.Nil(t, events[0].PublishedAt)
	assert.Equal(t, 2, events[0].RetryCount)
}

func TestWalletLockTimeoutRollsBack(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresStore(&database.DB{DB: db}, 250*time.Millisecond)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET LOCAL lock_timeout = '250ms'`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM points WHERE user_id = $1 FOR UPDATE`)).
		WithArgs(int64(7)).
		WillReturnError(&pq.Error{Code: "55P03"})
	mock.ExpectRollback()

	err := store.InTx(ctx, func(repos *Repositories) error {
		_, err := repos.Points.GetForUpdate(ctx, 7)
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrLockNotAvailable)
	assert.True(t, database.IsRetryable(err))
}

func TestWalletLockOutsideTransaction(t *testing.T) {
	db, mock := newMock(t)
	store := NewPostgresStore(&database.DB{DB: db}, 250*time.Millisecond)

	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "version", "updated_at"}).
			AddRow(int64(7), int64(5000), int64(3), time.Now()))

	p, err := store.Repos().Points.GetForUpdate(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), p.Balance)
}

func TestPointHistoryIsScopedByType(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPointRepository(db, false, 0)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM point_history WHERE user_id = $1 AND type = $2 AND request_id = $3`)).
		WithArgs(int64(7), "USE", "r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "request_id", "type", "amount", "balance_before", "balance_after", "created_at"}))

	h, err := repo.GetHistory(context.Background(), 7, models.PointUse, "r1")
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestProcessedInsertIgnoresDuplicates(t *testing.T) {
	db, mock := newMock(t)
	repo := NewProcessedRepository(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (service, message_key, event_type) DO NOTHING`)).
		WithArgs("point", "12", models.EventPointUsed, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM processed_messages`).
		WithArgs("point", "12", models.EventPointUsed).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	require.NoError(t, repo.Insert(ctx, models.OutboxPoint, "12", models.EventPointUsed, now))
	ok, err := repo.Exists(ctx, models.OutboxPoint, "12", models.EventPointUsed)
	require.NoError(t, err)
	assert.True(t, ok)
}
