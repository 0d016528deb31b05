package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ticketsaga/internal/database"
	"ticketsaga/internal/models"
	"ticketsaga/internal/repository"
)

func uniqueViolation(constraint string) error {
	return &database.UniqueViolationError{Constraint: constraint}
}

type reservationRepo struct{ b *binding }

func (r *reservationRepo) Insert(_ context.Context, res *models.Reservation) (repository.ConflictKind, error) {
	var kind repository.ConflictKind
	err := r.b.with(func(st *state) error {
		for _, existing := range st.reservations {
			if existing.UserID == res.UserID && existing.RequestID == res.RequestID {
				kind = repository.ConflictRequestID
				return uniqueViolation(database.ConstraintReservationRequest)
			}
		}
		for _, existing := range st.reservations {
			for _, held := range existing.Seats {
				for _, want := range res.Seats {
					if held.ShowID == want.ShowID && held.SeatID == want.SeatID && activeSeat(held.Status) {
						kind = repository.ConflictSeat
						return uniqueViolation(database.ConstraintSeatSlot)
					}
				}
			}
		}

		st.nextReservationID++
		res.ID = st.nextReservationID
		for i := range res.Seats {
			st.nextSeatID++
			res.Seats[i].ID = st.nextSeatID
			res.Seats[i].ReservationID = res.ID
		}
		st.reservations[res.ID] = copyReservation(res)
		return nil
	})
	return kind, err
}

func (r *reservationRepo) find(match func(*models.Reservation) bool) (*models.Reservation, error) {
	var found *models.Reservation
	err := r.b.with(func(st *state) error {
		for _, res := range st.reservations {
			if match(res) {
				found = copyReservation(res)
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *reservationRepo) GetByID(_ context.Context, id int64) (*models.Reservation, error) {
	return r.find(func(res *models.Reservation) bool { return res.ID == id })
}

func (r *reservationRepo) GetByRequestID(_ context.Context, userID int64, requestID string) (*models.Reservation, error) {
	return r.find(func(res *models.Reservation) bool { return res.UserID == userID && res.RequestID == requestID })
}

func (r *reservationRepo) GetForUpdate(ctx context.Context, id int64) (*models.Reservation, error) {
	return r.GetByID(ctx, id)
}

func (r *reservationRepo) Update(_ context.Context, res *models.Reservation) error {
	return r.b.with(func(st *state) error {
		if _, ok := st.reservations[res.ID]; !ok {
			return fmt.Errorf("reservation %d does not exist", res.ID)
		}
		st.reservations[res.ID] = copyReservation(res)
		return nil
	})
}

func (r *reservationRepo) expire(now time.Time, limit int, match func(models.ReservationSeat) bool) (int64, error) {
	var n int64
	err := r.b.with(func(st *state) error {
		ids := make([]int64, 0, len(st.reservations))
		for id := range st.reservations {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			res := st.reservations[id]
			if !res.IsExpired(now) {
				continue
			}
			for i := range res.Seats {
				if limit > 0 && n >= int64(limit) {
					return nil
				}
				if res.Seats[i].Status == models.SeatHold && match(res.Seats[i]) {
					res.Seats[i].Status = models.SeatExpired
					n++
				}
			}
		}
		return nil
	})
	return n, err
}

func (r *reservationRepo) ExpireHeldSeats(_ context.Context, showID int64, seatIDs []int64, now time.Time) (int64, error) {
	wanted := make(map[int64]bool, len(seatIDs))
	for _, id := range seatIDs {
		wanted[id] = true
	}
	return r.expire(now, 0, func(s models.ReservationSeat) bool {
		return s.ShowID == showID && wanted[s.SeatID]
	})
}

func (r *reservationRepo) ExpireStale(_ context.Context, now time.Time, limit int) (int64, error) {
	return r.expire(now, limit, func(models.ReservationSeat) bool { return true })
}

type paymentRepo struct{ b *binding }

func (r *paymentRepo) Insert(_ context.Context, p *models.Payment) error {
	return r.b.with(func(st *state) error {
		for _, existing := range st.payments {
			if existing.RequestID == p.RequestID {
				return fmt.Errorf("failed to insert payment: %w", uniqueViolation(database.ConstraintPaymentRequest))
			}
		}
		st.nextPaymentID++
		p.ID = st.nextPaymentID
		c := *p
		st.payments[p.ID] = &c
		return nil
	})
}

func (r *paymentRepo) find(match func(*models.Payment) bool) (*models.Payment, error) {
	var found *models.Payment
	err := r.b.with(func(st *state) error {
		for _, p := range st.payments {
			if match(p) {
				c := *p
				found = &c
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *paymentRepo) GetByID(_ context.Context, id int64) (*models.Payment, error) {
	return r.find(func(p *models.Payment) bool { return p.ID == id })
}

func (r *paymentRepo) GetByRequestID(_ context.Context, requestID string) (*models.Payment, error) {
	return r.find(func(p *models.Payment) bool { return p.RequestID == requestID })
}

func (r *paymentRepo) GetForUpdate(ctx context.Context, id int64) (*models.Payment, error) {
	return r.GetByID(ctx, id)
}

func (r *paymentRepo) Update(_ context.Context, p *models.Payment) error {
	return r.b.with(func(st *state) error {
		if _, ok := st.payments[p.ID]; !ok {
			return fmt.Errorf("payment %d does not exist", p.ID)
		}
		c := *p
		st.payments[p.ID] = &c
		return nil
	})
}

func (r *paymentRepo) HasActive(_ context.Context, reservationID int64) (bool, error) {
	p, err := r.find(func(p *models.Payment) bool {
		return p.ReservationID == reservationID && p.Status != models.PaymentFailed
	})
	return p != nil, err
}

type pointRepo struct{ b *binding }

func (r *pointRepo) Get(_ context.Context, userID int64) (*models.Point, error) {
	var found *models.Point
	err := r.b.with(func(st *state) error {
		if p, ok := st.points[userID]; ok {
			c := *p
			found = &c
		}
		return nil
	})
	return found, err
}

func (r *pointRepo) GetForUpdate(ctx context.Context, userID int64) (*models.Point, error) {
	err := r.b.with(func(*state) error {
		if r.b.s.lockCounts[userID] > 0 {
			r.b.s.lockCounts[userID]--
			return fmt.Errorf("lock wallet %d: %w", userID, database.ErrLockNotAvailable)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, userID)
}

func (r *pointRepo) Create(_ context.Context, userID int64, now time.Time) error {
	return r.b.with(func(st *state) error {
		if _, ok := st.points[userID]; !ok {
			st.points[userID] = &models.Point{UserID: userID, UpdatedAt: now}
		}
		return nil
	})
}

func (r *pointRepo) Update(_ context.Context, p *models.Point) error {
	return r.b.with(func(st *state) error {
		if p.Balance < 0 {
			return fmt.Errorf("wallet %d balance would be negative", p.UserID)
		}
		c := *p
		st.points[p.UserID] = &c
		return nil
	})
}

func (r *pointRepo) InsertHistory(_ context.Context, h *models.PointHistory) error {
	return r.b.with(func(st *state) error {
		key := historyKey{userID: h.UserID, txType: h.Type, requestID: h.RequestID}
		if _, ok := st.history[key]; ok {
			return fmt.Errorf("failed to insert point history: %w", uniqueViolation(database.ConstraintPointHistory))
		}
		st.nextHistoryID++
		h.ID = st.nextHistoryID
		st.history[key] = *h
		return nil
	})
}

func (r *pointRepo) GetHistory(_ context.Context, userID int64, txType models.PointTxType, requestID string) (*models.PointHistory, error) {
	var found *models.PointHistory
	err := r.b.with(func(st *state) error {
		if h, ok := st.history[historyKey{userID: userID, txType: txType, requestID: requestID}]; ok {
			found = &h
		}
		return nil
	})
	return found, err
}

func (r *pointRepo) ListHistory(_ context.Context, userID int64, limit int) ([]models.PointHistory, error) {
	out := []models.PointHistory{}
	err := r.b.with(func(st *state) error {
		for k, h := range st.history {
			if k.userID == userID {
				out = append(out, h)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type outboxRepo struct {
	b   *binding
	svc models.OutboxService
}

func (r *outboxRepo) Insert(_ context.Context, e *models.OutboxEvent) error {
	return r.b.with(func(st *state) error {
		st.nextOutboxID++
		e.ID = st.nextOutboxID
		st.outbox[r.svc] = append(st.outbox[r.svc], *e)
		return nil
	})
}

func (r *outboxRepo) ClaimPending(_ context.Context, limit int) ([]models.OutboxEvent, error) {
	var out []models.OutboxEvent
	err := r.b.with(func(st *state) error {
		for _, e := range st.outbox[r.svc] {
			if e.Status == models.OutboxPending {
				out = append(out, e)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *outboxRepo) update(id int64, fn func(e *models.OutboxEvent)) error {
	return r.b.with(func(st *state) error {
		rows := st.outbox[r.svc]
		for i := range rows {
			if rows[i].ID == id && rows[i].Status == models.OutboxPending {
				fn(&rows[i])
			}
		}
		return nil
	})
}

func (r *outboxRepo) MarkPublished(_ context.Context, id int64, at time.Time) error {
	return r.update(id, func(e *models.OutboxEvent) {
		e.Status = models.OutboxPublished
		e.PublishedAt = &at
	})
}

func (r *outboxRepo) MarkFailed(_ context.Context, id int64, errMsg string, maxRetries int) error {
	return r.update(id, func(e *models.OutboxEvent) {
		e.RetryCount++
		e.ErrorMessage = errMsg
		if e.RetryCount >= maxRetries {
			e.Status = models.OutboxFailed
		}
	})
}

func (r *outboxRepo) Exists(_ context.Context, messageKey, eventType string) (bool, error) {
	found := false
	err := r.b.with(func(st *state) error {
		for _, e := range st.outbox[r.svc] {
			if e.MessageKey == messageKey && e.EventType == eventType {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *outboxRepo) ListFailed(_ context.Context, limit int) ([]models.OutboxEvent, error) {
	out := []models.OutboxEvent{}
	err := r.b.with(func(st *state) error {
		rows := st.outbox[r.svc]
		for i := len(rows) - 1; i >= 0; i-- {
			if rows[i].Status == models.OutboxFailed {
				out = append(out, rows[i])
			}
		}
		return nil
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *outboxRepo) DeletePublishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.b.with(func(st *state) error {
		kept := st.outbox[r.svc][:0]
		for _, e := range st.outbox[r.svc] {
			if e.Status == models.OutboxPublished && e.PublishedAt != nil && e.PublishedAt.Before(cutoff) {
				n++
				continue
			}
			kept = append(kept, e)
		}
		st.outbox[r.svc] = kept
		return nil
	})
	return n, err
}

type processedRepo struct{ b *binding }

func (r *processedRepo) Insert(_ context.Context, svc models.OutboxService, messageKey, eventType string, at time.Time) error {
	return r.b.with(func(st *state) error {
		key := processedKey{svc: svc, messageKey: messageKey, eventType: eventType}
		if _, ok := st.processed[key]; !ok {
			st.processed[key] = at
		}
		return nil
	})
}

func (r *processedRepo) Exists(_ context.Context, svc models.OutboxService, messageKey, eventType string) (bool, error) {
	var found bool
	err := r.b.with(func(st *state) error {
		_, found = st.processed[processedKey{svc: svc, messageKey: messageKey, eventType: eventType}]
		return nil
	})
	return found, err
}

type idempotencyRepo struct{ b *binding }

func (r *idempotencyRepo) Insert(_ context.Context, k *models.IdempotencyKey) error {
	return r.b.with(func(st *state) error {
		key := idemKey{requestID: k.RequestID, userID: k.UserID, resourceType: k.ResourceType}
		if _, ok := st.idem[key]; ok {
			return fmt.Errorf("failed to insert idempotency key: %w", uniqueViolation(database.ConstraintIdempotencyKey))
		}
		st.idem[key] = *k
		return nil
	})
}

func (r *idempotencyRepo) Get(_ context.Context, requestID string, userID int64, resourceType models.ResourceType) (*models.IdempotencyKey, error) {
	var found *models.IdempotencyKey
	err := r.b.with(func(st *state) error {
		if k, ok := st.idem[idemKey{requestID: requestID, userID: userID, resourceType: resourceType}]; ok {
			found = &k
		}
		return nil
	})
	return found, err
}

type catalogRepo struct{ b *binding }

func (r *catalogRepo) GetShow(_ context.Context, id int64) (*models.Show, error) {
	var found *models.Show
	err := r.b.with(func(st *state) error {
		if s, ok := st.shows[id]; ok {
			found = &s
		}
		return nil
	})
	return found, err
}

func (r *catalogRepo) GetShowSeats(_ context.Context, showID int64, seatIDs []int64) ([]models.ShowSeat, error) {
	var out []models.ShowSeat
	err := r.b.with(func(st *state) error {
		for _, id := range seatIDs {
			if seat, ok := st.showSeats[showID][id]; ok {
				out = append(out, seat)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
	return out, err
}
