package repository

import (
	"context"
	"database/sql"
	"time"

	"ticketsaga/internal/database"
	"ticketsaga/internal/models"
)

// ConflictKind classifies a rejected reservation insert.
type ConflictKind int

const (
	ConflictNone ConflictKind = iota
	// ConflictRequestID means the same user already created a reservation with this request id.
	ConflictRequestID
	// ConflictSeat means one of the seats is held or confirmed by another reservation.
	ConflictSeat
)

type ReservationRepository interface {
	// Insert stores the reservation and its seats. A unique violation is
	// reported as a ConflictKind together with the error.
	Insert(ctx context.Context, r *models.Reservation) (ConflictKind, error)
	GetByID(ctx context.Context, id int64) (*models.Reservation, error)
	GetByRequestID(ctx context.Context, userID int64, requestID string) (*models.Reservation, error)
	GetForUpdate(ctx context.Context, id int64) (*models.Reservation, error)
	Update(ctx context.Context, r *models.Reservation) error
	// ExpireHeldSeats marks lapsed HOLD rows for the given seats EXPIRED.
	ExpireHeldSeats(ctx context.Context, showID int64, seatIDs []int64, now time.Time) (int64, error)
	// ExpireStale marks up to limit lapsed HOLD rows EXPIRED.
	ExpireStale(ctx context.Context, now time.Time, limit int) (int64, error)
}

type PaymentRepository interface {
	Insert(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id int64) (*models.Payment, error)
	GetByRequestID(ctx context.Context, requestID string) (*models.Payment, error)
	GetForUpdate(ctx context.Context, id int64) (*models.Payment, error)
	Update(ctx context.Context, p *models.Payment) error
	// HasActive reports whether a non-failed payment exists for the reservation.
	HasActive(ctx context.Context, reservationID int64) (bool, error)
}

type PointRepository interface {
	Get(ctx context.Context, userID int64) (*models.Point, error)
	// GetForUpdate locks the wallet row. Lock waits are bounded and surface as
	// database.ErrLockNotAvailable.
	GetForUpdate(ctx context.Context, userID int64) (*models.Point, error)
	Create(ctx context.Context, userID int64, now time.Time) error
	Update(ctx context.Context, p *models.Point) error
	InsertHistory(ctx context.Context, h *models.PointHistory) error
	GetHistory(ctx context.Context, userID int64, txType models.PointTxType, requestID string) (*models.PointHistory, error)
	ListHistory(ctx context.Context, userID int64, limit int) ([]models.PointHistory, error)
}

type OutboxRepository interface {
	Insert(ctx context.Context, e *models.OutboxEvent) error
	// ClaimPending returns PENDING rows oldest first. Inside a transaction the
	// rows stay locked and are skipped by other relays until commit.
	ClaimPending(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
	// MarkFailed records a publish failure. The row becomes FAILED once
	// retry_count reaches maxRetries.
	MarkFailed(ctx context.Context, id int64, errMsg string, maxRetries int) error
	Exists(ctx context.Context, messageKey, eventType string) (bool, error)
	ListFailed(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ProcessedRepository remembers the saga steps a service has answered. Rows
// are never cleaned up, unlike the outbox rows carrying the answers.
type ProcessedRepository interface {
	// Insert records the step. Recording it twice is a no-op.
	Insert(ctx context.Context, svc models.OutboxService, messageKey, eventType string, at time.Time) error
	Exists(ctx context.Context, svc models.OutboxService, messageKey, eventType string) (bool, error)
}

type IdempotencyRepository interface {
	Insert(ctx context.Context, k *models.IdempotencyKey) error
	Get(ctx context.Context, requestID string, userID int64, resourceType models.ResourceType) (*models.IdempotencyKey, error)
}

type CatalogRepository interface {
	GetShow(ctx context.Context, id int64) (*models.Show, error)
	GetShowSeats(ctx context.Context, showID int64, seatIDs []int64) ([]models.ShowSeat, error)
}

// Repositories groups every repository bound to one connection or transaction.
type Repositories struct {
	Reservations      ReservationRepository
	Payments          PaymentRepository
	Points            PointRepository
	PaymentOutbox     OutboxRepository
	PointOutbox       OutboxRepository
	ReservationOutbox OutboxRepository
	Processed         ProcessedRepository
	Idempotency       IdempotencyRepository
	Catalog           CatalogRepository
}

func (r *Repositories) Outbox(svc models.OutboxService) OutboxRepository {
	switch svc {
	case models.OutboxPayment:
		return r.PaymentOutbox
	case models.OutboxPoint:
		return r.PointOutbox
	case models.OutboxReservation:
		return r.ReservationOutbox
	}
	return nil
}

// Store hands out repositories and runs units of work.
type Store interface {
	Repos() *Repositories
	InTx(ctx context.Context, fn func(repos *Repositories) error) error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresStore struct {
	db          *database.DB
	lockTimeout time.Duration
}

func NewPostgresStore(db *database.DB, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

func (s *PostgresStore) Repos() *Repositories {
	return s.repositories(s.db, false)
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(repos *Repositories) error) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(s.repositories(tx, true))
	})
}

func (s *PostgresStore) repositories(q querier, inTx bool) *Repositories {
	return &Repositories{
		Reservations:      NewReservationRepository(q),
		Payments:          NewPaymentRepository(q),
		Points:            NewPointRepository(q, inTx, s.lockTimeout),
		PaymentOutbox:     NewOutboxRepository(q, models.OutboxPayment),
		PointOutbox:       NewOutboxRepository(q, models.OutboxPoint),
		ReservationOutbox: NewOutboxRepository(q, models.OutboxReservation),
		Processed:         NewProcessedRepository(q),
		Idempotency:       NewIdempotencyRepository(q),
		Catalog:           NewCatalogRepository(q),
	}
}
