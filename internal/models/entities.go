package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	apperrors "ticketsaga/internal/errors"

	"github.com/google/uuid"
)

type SeatStatus string

const (
	SeatHold      SeatStatus = "HOLD"
	SeatConfirmed SeatStatus = "CONFIRMED"
	SeatCanceled  SeatStatus = "CANCELED"
	SeatExpired   SeatStatus = "EXPIRED"
)

// ReservationSeat is one seat slot of a reservation. Only HOLD seats can move.
type ReservationSeat struct {
	ID            int64      `json:"id" db:"id"`
	ReservationID int64      `json:"reservation_id" db:"reservation_id"`
	ShowID        int64      `json:"show_id" db:"show_id"`
	SeatID        int64      `json:"seat_id" db:"seat_id"`
	Price         int64      `json:"price" db:"price"`
	Status        SeatStatus `json:"status" db:"status"`
}

func (s *ReservationSeat) transition(to SeatStatus) error {
	if s.Status != SeatHold {
		return fmt.Errorf("%w: seat %d %s -> %s", apperrors.ErrInvalidTransition, s.SeatID, s.Status, to)
	}
	s.Status = to
	return nil
}

func (s *ReservationSeat) Confirm() error { return s.transition(SeatConfirmed) }
func (s *ReservationSeat) Cancel() error  { return s.transition(SeatCanceled) }
func (s *ReservationSeat) Expire() error  { return s.transition(SeatExpired) }

// Reservation holds seats for a user until it is confirmed, cancelled or the hold lapses.
type Reservation struct {
	ID          int64             `json:"id" db:"id"`
	UserID      int64             `json:"user_id" db:"user_id"`
	ShowID      int64             `json:"show_id" db:"show_id"`
	Code        string            `json:"reservation_code" db:"reservation_code"`
	RequestID   string            `json:"request_id" db:"request_id"`
	Amount      int64             `json:"amount" db:"amount"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty" db:"expires_at"`
	ConfirmedAt *time.Time        `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	Seats       []ReservationSeat `json:"seats"`
}

// NewReservation builds a HOLD reservation for the given priced seats.
func NewReservation(userID, showID int64, requestID string, seats []ShowSeat, now time.Time, hold time.Duration) (*Reservation, error) {
	if len(seats) == 0 {
		return nil, fmt.Errorf("%w: reservation needs at least one seat", apperrors.ErrInvalidArgument)
	}

	expiresAt := now.Add(hold)
	r := &Reservation{
		UserID:    userID,
		ShowID:    showID,
		Code:      "reservation-" + uuid.New().String(),
		RequestID: requestID,
		ExpiresAt: &expiresAt,
		CreatedAt: now,
		Seats:     make([]ReservationSeat, 0, len(seats)),
	}
	for _, seat := range seats {
		r.Amount += seat.Price
		r.Seats = append(r.Seats, ReservationSeat{
			ShowID: showID,
			SeatID: seat.SeatID,
			Price:  seat.Price,
			Status: SeatHold,
		})
	}
	if r.Amount <= 0 {
		return nil, fmt.Errorf("%w: reservation amount must be positive", apperrors.ErrInvalidArgument)
	}
	return r, nil
}

// IsExpired reports whether the hold lapsed. Resolved reservations never expire.
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

func (r *Reservation) AllSeatsHeld() bool {
	if len(r.Seats) == 0 {
		return false
	}
	for _, s := range r.Seats {
		if s.Status != SeatHold {
			return false
		}
	}
	return true
}

func (r *Reservation) SeatIDs() []int64 {
	ids := make([]int64, 0, len(r.Seats))
	for _, s := range r.Seats {
		ids = append(ids, s.SeatID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Confirm moves every seat HOLD -> CONFIRMED.
func (r *Reservation) Confirm(now time.Time) error {
	if len(r.Seats) == 0 {
		return fmt.Errorf("%w: reservation %d has no seats", apperrors.ErrInvalidArgument, r.ID)
	}
	if r.ConfirmedAt != nil || !r.AllSeatsHeld() {
		return fmt.Errorf("%w: reservation %d", apperrors.ErrAlreadyResolved, r.ID)
	}
	if r.IsExpired(now) {
		return fmt.Errorf("%w: reservation %d expired at %s", apperrors.ErrReservationExpired, r.ID, r.ExpiresAt.Format(time.RFC3339))
	}

	for i := range r.Seats {
		if err := r.Seats[i].Confirm(); err != nil {
			return err
		}
	}
	r.resolve(now)
	return nil
}

// Cancel releases HOLD seats. Seats that already lapsed stay EXPIRED.
func (r *Reservation) Cancel(now time.Time) error {
	if len(r.Seats) == 0 {
		return fmt.Errorf("%w: reservation %d has no seats", apperrors.ErrInvalidArgument, r.ID)
	}
	for _, s := range r.Seats {
		if s.Status == SeatCanceled || s.Status == SeatConfirmed {
			return fmt.Errorf("%w: reservation %d seat %d is %s", apperrors.ErrAlreadyResolved, r.ID, s.SeatID, s.Status)
		}
	}

	for i := range r.Seats {
		if r.Seats[i].Status == SeatHold {
			if err := r.Seats[i].Cancel(); err != nil {
				return err
			}
		}
	}
	r.resolve(now)
	return nil
}

// ExpireHolds marks HOLD seats EXPIRED once the hold lapsed and returns how many moved.
func (r *Reservation) ExpireHolds(now time.Time) int {
	if !r.IsExpired(now) {
		return 0
	}
	n := 0
	for i := range r.Seats {
		if r.Seats[i].Expire() == nil {
			n++
		}
	}
	return n
}

func (r *Reservation) resolve(now time.Time) {
	r.ExpiresAt = nil
	r.ConfirmedAt = &now
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentSucceeded  PaymentStatus = "SUCCEEDED"
	PaymentFailed     PaymentStatus = "FAILED"
)

// Payment is one purchase attempt for a reservation.
type Payment struct {
	ID            int64         `json:"id" db:"id"`
	ReservationID int64         `json:"reservation_id" db:"reservation_id"`
	UserID        int64         `json:"user_id" db:"user_id"`
	Code          string        `json:"payment_code" db:"payment_code"`
	RequestID     string        `json:"request_id" db:"request_id"`
	Amount        int64         `json:"amount" db:"amount"`
	Status        PaymentStatus `json:"status" db:"status"`
	FailureReason string        `json:"failure_reason,omitempty" db:"failure_reason"`
	PaidAt        *time.Time    `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

func NewPayment(userID, reservationID int64, requestID string, amount int64, now time.Time) *Payment {
	return &Payment{
		ReservationID: reservationID,
		UserID:        userID,
		Code:          "payment-" + uuid.New().String(),
		RequestID:     requestID,
		Amount:        amount,
		Status:        PaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentSucceeded || p.Status == PaymentFailed
}

func (p *Payment) StartProcessing(now time.Time) error {
	if p.Status != PaymentPending {
		return fmt.Errorf("%w: payment %d %s -> %s", apperrors.ErrInvalidTransition, p.ID, p.Status, PaymentProcessing)
	}
	p.Status = PaymentProcessing
	p.UpdatedAt = now
	return nil
}

func (p *Payment) Succeed(now time.Time) error {
	if p.Status != PaymentProcessing {
		return fmt.Errorf("%w: payment %d %s -> %s", apperrors.ErrInvalidTransition, p.ID, p.Status, PaymentSucceeded)
	}
	p.Status = PaymentSucceeded
	p.PaidAt = &now
	p.UpdatedAt = now
	return nil
}

func (p *Payment) Fail(reason string, now time.Time) error {
	if p.IsTerminal() {
		return fmt.Errorf("%w: payment %d %s -> %s", apperrors.ErrInvalidTransition, p.ID, p.Status, PaymentFailed)
	}
	p.Status = PaymentFailed
	p.FailureReason = reason
	p.UpdatedAt = now
	return nil
}

type PointTxType string

const (
	PointCharge PointTxType = "CHARGE"
	PointUse    PointTxType = "USE"
	PointRefund PointTxType = "REFUND"
)

const (
	MaxChargeAmount int64 = 1_000_000
	MinUseUnit      int64 = 1000
)

// ValidatePointAmount checks the per-type amount policy.
func ValidatePointAmount(txType PointTxType, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", apperrors.ErrInvalidArgument)
	}
	switch txType {
	case PointCharge:
		if amount > MaxChargeAmount {
			return fmt.Errorf("%w: charge amount exceeds %d", apperrors.ErrInvalidArgument, MaxChargeAmount)
		}
	case PointUse:
		if amount%MinUseUnit != 0 {
			return fmt.Errorf("%w: use amount must be a multiple of %d", apperrors.ErrInvalidArgument, MinUseUnit)
		}
	case PointRefund:
	default:
		return fmt.Errorf("%w: unknown point transaction type %q", apperrors.ErrInvalidArgument, txType)
	}
	return nil
}

// Point is a user's wallet. Mutated only under its row lock.
type Point struct {
	UserID    int64     `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int64     `json:"version" db:"version"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Apply changes the balance and returns the ledger row describing the change.
func (p *Point) Apply(txType PointTxType, amount int64, requestID string, now time.Time) (*PointHistory, error) {
	if err := ValidatePointAmount(txType, amount); err != nil {
		return nil, err
	}

	delta := amount
	if txType == PointUse {
		delta = -amount
	}
	before := p.Balance
	after := before + delta
	if after < 0 {
		return nil, fmt.Errorf("%w: balance %d, requested %d", apperrors.ErrInsufficientBalance, before, amount)
	}

	p.Balance = after
	p.Version++
	p.UpdatedAt = now

	return &PointHistory{
		UserID:        p.UserID,
		RequestID:     requestID,
		Type:          txType,
		Amount:        delta,
		BalanceBefore: before,
		BalanceAfter:  after,
		CreatedAt:     now,
	}, nil
}

// PointHistory is an append-only ledger row. Amount is signed.
type PointHistory struct {
	ID            int64       `json:"id" db:"id"`
	UserID        int64       `json:"user_id" db:"user_id"`
	RequestID     string      `json:"request_id" db:"request_id"`
	Type          PointTxType `json:"type" db:"type"`
	Amount        int64       `json:"amount" db:"amount"`
	BalanceBefore int64       `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64       `json:"balance_after" db:"balance_after"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}

// OutboxService names the service owning an outbox table.
type OutboxService string

const (
	OutboxPayment     OutboxService = "payment"
	OutboxPoint       OutboxService = "point"
	OutboxReservation OutboxService = "reservation"
)

var OutboxServices = []OutboxService{OutboxPayment, OutboxPoint, OutboxReservation}

func (s OutboxService) Table() string {
	return string(s) + "_outbox"
}

func (s OutboxService) Valid() bool {
	switch s {
	case OutboxPayment, OutboxPoint, OutboxReservation:
		return true
	}
	return false
}

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxFailed    OutboxStatus = "FAILED"
)

// OutboxEvent is an event that must reach the broker. MessageKey carries the
// saga correlation id and is used as the broker partition key.
type OutboxEvent struct {
	ID            int64           `json:"id" db:"id"`
	AggregateType string          `json:"aggregate_type" db:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id" db:"aggregate_id"`
	EventType     string          `json:"event_type" db:"event_type"`
	Topic         string          `json:"topic" db:"topic"`
	MessageKey    string          `json:"message_key" db:"message_key"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	Status        OutboxStatus    `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	PublishedAt   *time.Time      `json:"published_at,omitempty" db:"published_at"`
	RetryCount    int             `json:"retry_count" db:"retry_count"`
	ErrorMessage  string          `json:"error_message,omitempty" db:"error_message"`
}

type ResourceType string

const (
	ResourcePayment     ResourceType = "PAYMENT"
	ResourceReservation ResourceType = "RESERVATION"
	ResourcePointCharge ResourceType = "POINT_CHARGE"
)

// IdempotencyKey maps a client request to the resource it created.
type IdempotencyKey struct {
	RequestID    string       `json:"request_id" db:"request_id"`
	UserID       int64        `json:"user_id" db:"user_id"`
	ResourceType ResourceType `json:"resource_type" db:"resource_type"`
	ResourceID   int64        `json:"resource_id" db:"resource_id"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

// Show and ShowSeat are read-only catalog rows.
type Show struct {
	ID        int64     `json:"id" db:"id"`
	ConcertID int64     `json:"concert_id" db:"concert_id"`
	StartsAt  time.Time `json:"starts_at" db:"starts_at"`
}

type ShowSeat struct {
	ShowID int64 `json:"show_id" db:"show_id"`
	SeatID int64 `json:"seat_id" db:"seat_id"`
	Price  int64 `json:"price" db:"price"`
}
