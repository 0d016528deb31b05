package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"ticketsaga/internal/config"
	apperrors "ticketsaga/internal/errors"
	"ticketsaga/internal/idempotency"
	"ticketsaga/internal/logger"
	"ticketsaga/internal/metrics"
	"ticketsaga/internal/models"
	"ticketsaga/internal/repository"
)

const ReservationResultPrefix = "reservation:result:"

// errReservationReplay aborts the insert transaction when the user already
// created a reservation with the same request id.
var errReservationReplay = errors.New("reservation request already accepted")

type ReservationService struct {
	store   repository.Store
	gateway *idempotency.Gateway
	cfg     config.HoldConfig
	now     func() time.Time
}

func NewReservationService(store repository.Store, gateway *idempotency.Gateway, cfg config.HoldConfig) *ReservationService {
	return &ReservationService{store: store, gateway: gateway, cfg: cfg, now: time.Now}
}

// Hold places a timed hold on the requested seats. Seat ownership is decided
// by the unique index on active seat rows; the gateway lock only collapses
// duplicates of the same seat set.
func (s *ReservationService) Hold(ctx context.Context, userID int64, req models.CreateReservationRequest) (*models.Reservation, error) {
	if userID <= 0 {
		return nil, apperrors.ErrUnauthorized
	}
	if req.RequestID == "" {
		return nil, fmt.Errorf("%w: request id is required", apperrors.ErrInvalidArgument)
	}
	if req.ShowID <= 0 {
		return nil, fmt.Errorf("%w: show id is required", apperrors.ErrInvalidArgument)
	}
	seatIDs, err := normalizeSeatIDs(req.SeatIDs, s.cfg.MaxSeatsPerRequest)
	if err != nil {
		return nil, err
	}

	return idempotency.Execute(ctx, s.gateway, idempotency.Request[models.Reservation]{
		Operation: "reservation",
		CacheKey:  ReservationResultPrefix + req.RequestID,
		LockKey:   SeatLockKey(req.ShowID, seatIDs),
		Lookup: func(ctx context.Context) (*models.Reservation, error) {
			return s.lookup(ctx, userID, req.RequestID)
		},
		Accept: func(r *models.Reservation) bool { return r.UserID == userID },
		Run: func(ctx context.Context) (*models.Reservation, error) {
			return s.hold(ctx, userID, req.ShowID, req.RequestID, seatIDs)
		},
	})
}

// SeatLockKey names the gateway lock for a seat set. ids must be sorted so
// overlapping requests agree on the key.
func SeatLockKey(showID int64, ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("show:%d:seats:%s", showID, strings.Join(parts, ","))
}

func normalizeSeatIDs(ids []int64, limit int) ([]int64, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one seat is required", apperrors.ErrInvalidArgument)
	}

	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, fmt.Errorf("%w: invalid seat id %d", apperrors.ErrInvalidArgument, id)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if limit > 0 && len(out) > limit {
		return nil, fmt.Errorf("%w: at most %d seats per reservation", apperrors.ErrInvalidArgument, limit)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *ReservationService) lookup(ctx context.Context, userID int64, requestID string) (*models.Reservation, error) {
	repos := s.store.Repos()
	key, err := repos.Idempotency.Get(ctx, requestID, userID, models.ResourceReservation)
	if err != nil || key == nil {
		return nil, err
	}
	return repos.Reservations.GetByID(ctx, key.ResourceID)
}

func (s *ReservationService) hold(ctx context.Context, userID, showID int64, requestID string, seatIDs []int64) (*models.Reservation, error) {
	log := logger.WithContext(ctx)
	catalog := s.store.Repos().Catalog

	show, err := catalog.GetShow(ctx, showID)
	if err != nil {
		return nil, fmt.Errorf("failed to get show: %w", err)
	}
	if show == nil {
		return nil, fmt.Errorf("%w: show %d not found", apperrors.ErrInvalidArgument, showID)
	}
	seats, err := catalog.GetShowSeats(ctx, showID, seatIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get show seats: %w", err)
	}
	if len(seats) != len(seatIDs) {
		return nil, fmt.Errorf("%w: unknown seats for show %d", apperrors.ErrInvalidArgument, showID)
	}

	now := s.now()
	r, err := models.NewReservation(userID, showID, requestID, seats, now, s.cfg.Duration)
	if err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(repos *repository.Repositories) error {
		// Lapsed holds would otherwise keep the slot index occupied.
		if _, err := repos.Reservations.ExpireHeldSeats(ctx, showID, seatIDs, now); err != nil {
			return err
		}

		kind, err := repos.Reservations.Insert(ctx, r)
		switch kind {
		case repository.ConflictRequestID:
			return errReservationReplay
		case repository.ConflictSeat:
			return fmt.Errorf("%w: show %d seats %v", apperrors.ErrSeatAlreadyHeld, showID, seatIDs)
		}
		if err != nil {
			return err
		}

		return repos.Idempotency.Insert(ctx, &models.IdempotencyKey{
			RequestID:    requestID,
			UserID:       userID,
			ResourceType: models.ResourceReservation,
			ResourceID:   r.ID,
			CreatedAt:    now,
		})
	})

	if errors.Is(err, errReservationReplay) {
		existing, lookupErr := s.store.Repos().Reservations.GetByRequestID(ctx, userID, requestID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing == nil {
			return nil, fmt.Errorf("reservation for request %s vanished", requestID)
		}
		return existing, nil
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrSeatAlreadyHeld) {
			log.Info("Seat hold rejected", "show_id", showID, "seat_ids", seatIDs)
		}
		return nil, err
	}

	log.Info("Seats held", "reservation_id", r.ID, "show_id", showID, "seats", len(seatIDs), "expires_at", r.ExpiresAt)
	return r, nil
}

// Get returns the user's reservation. Reservations of other users are not found.
func (s *ReservationService) Get(ctx context.Context, userID, id int64) (*models.Reservation, error) {
	r, err := s.store.Repos().Reservations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	if r == nil || r.UserID != userID {
		return nil, fmt.Errorf("%w: reservation %d", apperrors.ErrNotFound, id)
	}
	return r, nil
}

// ExpireStale releases up to limit lapsed holds.
func (s *ReservationService) ExpireStale(ctx context.Context, limit int) (int64, error) {
	var n int64
	err := s.store.InTx(ctx, func(repos *repository.Repositories) error {
		var err error
		n, err = repos.Reservations.ExpireStale(ctx, s.now(), limit)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale holds: %w", err)
	}
	metrics.ExpiredSeats.Add(float64(n))
	return n, nil
}
