package service

import (
	"context"
	"fmt"
	"time"

	apperrors "ticketsaga/internal/errors"
	"ticketsaga/internal/idempotency"
	"ticketsaga/internal/logger"
	"ticketsaga/internal/models"
	"ticketsaga/internal/outbox"
	"ticketsaga/internal/repository"
)

const PaymentResultPrefix = "payment:result:"

type PaymentService struct {
	store   repository.Store
	gateway *idempotency.Gateway
	now     func() time.Time
}

func NewPaymentService(store repository.Store, gateway *idempotency.Gateway) *PaymentService {
	return &PaymentService{store: store, gateway: gateway, now: time.Now}
}

// Create starts the purchase saga for a held reservation: it stores a PENDING
// payment and enqueues UsePoint in the same transaction. The gateway lock is
// scoped to the reservation, so two request ids racing for one reservation
// are serialized too.
func (s *PaymentService) Create(ctx context.Context, userID int64, req models.CreatePaymentRequest) (*models.Payment, error) {
	if userID <= 0 {
		return nil, apperrors.ErrUnauthorized
	}
	if req.RequestID == "" {
		return nil, fmt.Errorf("%w: request id is required", apperrors.ErrInvalidArgument)
	}
	if req.ReservationID <= 0 {
		return nil, fmt.Errorf("%w: reservation id is required", apperrors.ErrInvalidArgument)
	}
	// The wallet only debits whole use units.
	if err := models.ValidatePointAmount(models.PointUse, req.Amount); err != nil {
		return nil, err
	}

	return idempotency.Execute(ctx, s.gateway, idempotency.Request[models.Payment]{
		Operation: "payment",
		CacheKey:  PaymentResultPrefix + req.RequestID,
		LockKey:   fmt.Sprintf("reservation:%d", req.ReservationID),
		Lookup: func(ctx context.Context) (*models.Payment, error) {
			return s.lookup(ctx, userID, req.RequestID)
		},
		Accept: func(p *models.Payment) bool { return p.UserID == userID },
		Run: func(ctx context.Context) (*models.Payment, error) {
			return s.create(ctx, userID, req)
		},
	})
}

func (s *PaymentService) lookup(ctx context.Context, userID int64, requestID string) (*models.Payment, error) {
	repos := s.store.Repos()
	key, err := repos.Idempotency.Get(ctx, requestID, userID, models.ResourcePayment)
	if err != nil || key == nil {
		return nil, err
	}
	return repos.Payments.GetByID(ctx, key.ResourceID)
}

func (s *PaymentService) create(ctx context.Context, userID int64, req models.CreatePaymentRequest) (*models.Payment, error) {
	now := s.now()
	var payment *models.Payment

	err := s.store.InTx(ctx, func(repos *repository.Repositories) error {
		existing, err := repos.Payments.GetByRequestID(ctx, req.RequestID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.UserID != userID {
				return fmt.Errorf("%w: request id %s is already used", apperrors.ErrInvalidArgument, req.RequestID)
			}
			payment = existing
			return nil
		}

		r, err := repos.Reservations.GetForUpdate(ctx, req.ReservationID)
		if err != nil {
			return err
		}
		if r == nil || r.UserID != userID {
			return fmt.Errorf("%w: reservation %d not found", apperrors.ErrInvalidArgument, req.ReservationID)
		}
		if r.IsExpired(now) {
			return fmt.Errorf("%w: reservation %d", apperrors.ErrReservationExpired, r.ID)
		}
		if !r.AllSeatsHeld() {
			return fmt.Errorf("%w: reservation %d", apperrors.ErrAlreadyResolved, r.ID)
		}
		if req.Amount != r.Amount {
			return fmt.Errorf("%w: amount %d does not match reservation amount %d", apperrors.ErrInvalidArgument, req.Amount, r.Amount)
		}
		active, err := repos.Payments.HasActive(ctx, r.ID)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("%w: reservation %d already has a payment", apperrors.ErrAlreadyResolved, r.ID)
		}

		p := models.NewPayment(userID, r.ID, req.RequestID, req.Amount, now)
		if err := repos.Payments.Insert(ctx, p); err != nil {
			return err
		}
		if err := repos.Idempotency.Insert(ctx, &models.IdempotencyKey{
			RequestID:    req.RequestID,
			UserID:       userID,
			ResourceType: models.ResourcePayment,
			ResourceID:   p.ID,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		cmd := models.UsePointCommand{
			SagaRef: models.SagaRef{PaymentID: p.ID, ReservationID: r.ID, UserID: userID, RequestID: req.RequestID},
			Amount:  p.Amount,
		}
		if err := outbox.Enqueue(ctx, repos.PaymentOutbox, outbox.Event{
			AggregateType: models.AggregatePayment,
			AggregateID:   p.ID,
			EventType:     models.EventUsePoint,
			Topic:         models.TopicUsePoint,
			Key:           p.ID,
			Payload:       cmd,
		}, now); err != nil {
			return err
		}

		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx).Info("Payment created",
		"payment_id", payment.ID, "reservation_id", payment.ReservationID, "amount", payment.Amount, "status", payment.Status)
	return payment, nil
}

// Get returns the user's payment. Payments of other users are not found.
func (s *PaymentService) Get(ctx context.Context, userID, id int64) (*models.Payment, error) {
	p, err := s.store.Repos().Payments.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	if p == nil || p.UserID != userID {
		return nil, fmt.Errorf("%w: payment %d", apperrors.ErrNotFound, id)
	}
	return p, nil
}
