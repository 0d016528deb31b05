// Package memory is an in-process Store. It enforces the same unique
// constraints as the Postgres schema and serializes transactions behind one
// mutex, which stands in for row locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ticketsaga/internal/models"
	"ticketsaga/internal/repository"
)

type idemKey struct {
	requestID    string
	userID       int64
	resourceType models.ResourceType
}

type historyKey struct {
	userID    int64
	txType    models.PointTxType
	requestID string
}

type processedKey struct {
	svc        models.OutboxService
	messageKey string
	eventType  string
}

type state struct {
	shows        map[int64]models.Show
	showSeats    map[int64]map[int64]models.ShowSeat
	reservations map[int64]*models.Reservation
	payments     map[int64]*models.Payment
	points       map[int64]*models.Point
	history      map[historyKey]models.PointHistory
	outbox       map[models.OutboxService][]models.OutboxEvent
	processed    map[processedKey]time.Time
	idem         map[idemKey]models.IdempotencyKey

	nextReservationID int64
	nextSeatID        int64
	nextPaymentID     int64
	nextHistoryID     int64
	nextOutboxID      int64
}

func newState() *state {
	return &state{
		shows:        make(map[int64]models.Show),
		showSeats:    make(map[int64]map[int64]models.ShowSeat),
		reservations: make(map[int64]*models.Reservation),
		payments:     make(map[int64]*models.Payment),
		points:       make(map[int64]*models.Point),
		history:      make(map[historyKey]models.PointHistory),
		outbox:       make(map[models.OutboxService][]models.OutboxEvent),
		processed:    make(map[processedKey]time.Time),
		idem:         make(map[idemKey]models.IdempotencyKey),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.shows {
		c.shows[k] = v
	}
	for k, seats := range s.showSeats {
		m := make(map[int64]models.ShowSeat, len(seats))
		for id, seat := range seats {
			m[id] = seat
		}
		c.showSeats[k] = m
	}
	for k, v := range s.reservations {
		c.reservations[k] = copyReservation(v)
	}
	for k, v := range s.payments {
		p := *v
		c.payments[k] = &p
	}
	for k, v := range s.points {
		p := *v
		c.points[k] = &p
	}
	for k, v := range s.history {
		c.history[k] = v
	}
	for k, v := range s.outbox {
		c.outbox[k] = append([]models.OutboxEvent(nil), v...)
	}
	for k, v := range s.processed {
		c.processed[k] = v
	}
	for k, v := range s.idem {
		c.idem[k] = v
	}
	c.nextReservationID = s.nextReservationID
	c.nextSeatID = s.nextSeatID
	c.nextPaymentID = s.nextPaymentID
	c.nextHistoryID = s.nextHistoryID
	c.nextOutboxID = s.nextOutboxID
	return c
}

func copyReservation(r *models.Reservation) *models.Reservation {
	c := *r
	c.Seats = append([]models.ReservationSeat(nil), r.Seats...)
	return &c
}

// Store implements repository.Store in memory.
type Store struct {
	mu         sync.Mutex
	st         *state
	lockCounts map[int64]int
}

func NewStore() *Store {
	return &Store{
		st:         newState(),
		lockCounts: make(map[int64]int),
	}
}

func (s *Store) Repos() *repository.Repositories {
	return s.repositories(false)
}

// InTx runs fn with exclusive access to the store. fn's error discards every change it made.
func (s *Store) InTx(ctx context.Context, fn func(repos *repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(s.repositories(true)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) repositories(inTx bool) *repository.Repositories {
	b := &binding{s: s, inTx: inTx}
	return &repository.Repositories{
		Reservations:      &reservationRepo{b},
		Payments:          &paymentRepo{b},
		Points:            &pointRepo{b},
		PaymentOutbox:     &outboxRepo{b, models.OutboxPayment},
		PointOutbox:       &outboxRepo{b, models.OutboxPoint},
		ReservationOutbox: &outboxRepo{b, models.OutboxReservation},
		Processed:         &processedRepo{b},
		Idempotency:       &idempotencyRepo{b},
		Catalog:           &catalogRepo{b},
	}
}

type binding struct {
	s    *Store
	inTx bool
}

func (b *binding) with(fn func(st *state) error) error {
	if !b.inTx {
		b.s.mu.Lock()
		defer b.s.mu.Unlock()
	}
	return fn(b.s.st)
}

// AddShow seeds catalog data.
func (s *Store) AddShow(show models.Show, seats ...models.ShowSeat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.shows[show.ID] = show
	m := s.st.showSeats[show.ID]
	if m == nil {
		m = make(map[int64]models.ShowSeat)
		s.st.showSeats[show.ID] = m
	}
	for _, seat := range seats {
		seat.ShowID = show.ID
		m[seat.SeatID] = seat
	}
}

// SetBalance creates or overwrites a wallet without writing a ledger row.
func (s *Store) SetBalance(userID, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.points[userID] = &models.Point{UserID: userID, Balance: balance, UpdatedAt: time.Now()}
}

// FailWalletLocks makes the next n wallet row locks for userID fail with
// database.ErrLockNotAvailable, the way a Postgres lock_timeout would.
func (s *Store) FailWalletLocks(userID int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockCounts[userID] = n
}

// OutboxEvents returns every row of a service's outbox in insertion order.
func (s *Store) OutboxEvents(svc models.OutboxService) []models.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutboxEvent(nil), s.st.outbox[svc]...)
}

// History returns a user's ledger oldest first.
func (s *Store) History(userID int64) []models.PointHistory {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.PointHistory
	for k, h := range s.st.history {
		if k.userID == userID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveSeatRows counts HOLD and CONFIRMED rows for a seat across all reservations.
func (s *Store) ActiveSeatRows(showID, seatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.st.reservations {
		for _, seat := range r.Seats {
			if seat.ShowID == showID && seat.SeatID == seatID && activeSeat(seat.Status) {
				n++
			}
		}
	}
	return n
}

// PaymentCount returns the number of stored payments.
func (s *Store) PaymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.payments)
}

func activeSeat(status models.SeatStatus) bool {
	return status == models.SeatHold || status == models.SeatConfirmed
}
