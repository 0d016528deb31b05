package database

import (
	"fmt"
	"log/slog"
	"strings"
)

// Constraint names the repositories classify on.
const (
	ConstraintReservationRequest = "uk_reservations_user_request"
	ConstraintReservationCode    = "uk_reservations_code"
	ConstraintSeatSlot           = "uk_reservation_seats_unique_slot"
	ConstraintPaymentRequest     = "uk_payments_request_id"
	ConstraintPaymentCode        = "uk_payments_code"
	ConstraintPointHistory       = "uk_point_history_user_type_req"
	ConstraintIdempotencyKey     = "uk_idempotency_key"
)

func (db *DB) RunMigrations() error {
	slog.Info("Running database migrations...")

	migrations := []string{
		createShowsTable,
		createShowSeatsTable,
		createReservationsTable,
		createReservationSeatsTable,
		createReservationSeatsSlotIndex,
		createPaymentsTable,
		createPaymentsReservationIndex,
		createPointsTable,
		createPointHistoryTable,
		dropPointHistoryUserReq,
		createPointHistoryUniqueIndex,
		createIdempotencyKeysTable,
		createProcessedMessagesTable,
	}
	for _, table := range []string{"payment_outbox", "point_outbox", "reservation_outbox"} {
		migrations = append(migrations,
			strings.ReplaceAll(createOutboxTable, "{table}", table),
			strings.ReplaceAll(createOutboxPendingIndex, "{table}", table),
		)
	}

	for i, migration := range migrations {
		slog.Debug("Running migration", "step", i+1)
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	slog.Info("All migrations completed successfully", "count", len(migrations))
	return nil
}

const createShowsTable = `
CREATE TABLE IF NOT EXISTS shows (
    id BIGSERIAL PRIMARY KEY,
    concert_id BIGINT NOT NULL,
    starts_at TIMESTAMPTZ NOT NULL
);`

const createShowSeatsTable = `
CREATE TABLE IF NOT EXISTS show_seats (
    show_id BIGINT NOT NULL REFERENCES shows(id),
    seat_id BIGINT NOT NULL,
    price BIGINT NOT NULL CHECK (price >= 0),
    PRIMARY KEY (show_id, seat_id)
);`

const createReservationsTable = `
CREATE TABLE IF NOT EXISTS reservations (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    show_id BIGINT NOT NULL,
    reservation_code VARCHAR(64) NOT NULL,
    request_id VARCHAR(128) NOT NULL,
    amount BIGINT NOT NULL CHECK (amount > 0),
    expires_at TIMESTAMPTZ,
    confirmed_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT uk_reservations_code UNIQUE (reservation_code),
    CONSTRAINT uk_reservations_user_request UNIQUE (user_id, request_id)
);`

const createReservationSeatsTable = `
CREATE TABLE IF NOT EXISTS reservation_seats (
    id BIGSERIAL PRIMARY KEY,
    reservation_id BIGINT NOT NULL REFERENCES reservations(id),
    show_id BIGINT NOT NULL,
    seat_id BIGINT NOT NULL,
    price BIGINT NOT NULL,
    status VARCHAR(16) NOT NULL
);`

const createReservationSeatsSlotIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS uk_reservation_seats_unique_slot
    ON reservation_seats (show_id, seat_id)
    WHERE status IN ('HOLD', 'CONFIRMED');`

const createPaymentsTable = `
CREATE TABLE IF NOT EXISTS payments (
    id BIGSERIAL PRIMARY KEY,
    reservation_id BIGINT NOT NULL REFERENCES reservations(id),
    user_id BIGINT NOT NULL,
    payment_code VARCHAR(64) NOT NULL,
    request_id VARCHAR(128) NOT NULL,
    amount BIGINT NOT NULL CHECK (amount > 0),
    status VARCHAR(16) NOT NULL,
    failure_reason TEXT NOT NULL DEFAULT '',
    paid_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT uk_payments_code UNIQUE (payment_code),
    CONSTRAINT uk_payments_request_id UNIQUE (request_id)
);`

const createPaymentsReservationIndex = `
CREATE INDEX IF NOT EXISTS idx_payments_reservation ON payments (reservation_id, status);`

const createPointsTable = `
CREATE TABLE IF NOT EXISTS points (
    user_id BIGINT PRIMARY KEY,
    balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    version BIGINT NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const createPointHistoryTable = `
CREATE TABLE IF NOT EXISTS point_history (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    request_id VARCHAR(160) NOT NULL,
    type VARCHAR(16) NOT NULL,
    amount BIGINT NOT NULL,
    balance_before BIGINT NOT NULL CHECK (balance_before >= 0),
    balance_after BIGINT NOT NULL CHECK (balance_after >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// A request id is unique per mutation type: a charge and a payment may share one.
const dropPointHistoryUserReq = `
ALTER TABLE point_history DROP CONSTRAINT IF EXISTS uk_point_history_user_req;`

const createPointHistoryUniqueIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS uk_point_history_user_type_req
    ON point_history (user_id, type, request_id);`

const createIdempotencyKeysTable = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
    request_id VARCHAR(128) NOT NULL,
    user_id BIGINT NOT NULL,
    resource_type VARCHAR(32) NOT NULL,
    resource_id BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT uk_idempotency_key UNIQUE (request_id, user_id, resource_type)
);`

// Outlives outbox retention; saga handlers consult it to skip redelivered commands.
const createProcessedMessagesTable = `
CREATE TABLE IF NOT EXISTS processed_messages (
    service VARCHAR(32) NOT NULL,
    message_key VARCHAR(64) NOT NULL,
    event_type VARCHAR(64) NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (service, message_key, event_type)
);`

const createOutboxTable = `
CREATE TABLE IF NOT EXISTS {table} (
    id BIGSERIAL PRIMARY KEY,
    aggregate_type VARCHAR(64) NOT NULL,
    aggregate_id VARCHAR(64) NOT NULL,
    event_type VARCHAR(64) NOT NULL,
    topic VARCHAR(128) NOT NULL,
    message_key VARCHAR(64) NOT NULL DEFAULT '',
    payload JSONB NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    published_at TIMESTAMPTZ,
    retry_count INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT ''
);`

const createOutboxPendingIndex = `
CREATE INDEX IF NOT EXISTS idx_{table}_status_created ON {table} (status, created_at);
CREATE INDEX IF NOT EXISTS idx_{table}_key_event ON {table} (message_key, event_type);`
