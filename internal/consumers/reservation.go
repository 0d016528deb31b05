package consumers

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "ticketsaga/internal/errors"
	"ticketsaga/internal/logger"
	"ticketsaga/internal/metrics"
	"ticketsaga/internal/models"
	"ticketsaga/internal/outbox"
	"ticketsaga/internal/repository"
	"ticketsaga/internal/retry"
)

// ReservationHandler confirms or releases held seats for a payment.
type ReservationHandler struct {
	store  repository.Store
	policy retry.Policy
	now    func() time.Time
}

func (h *ReservationHandler) enqueue(ctx context.Context, repos *repository.Repositories, aggregateID, key int64, eventType, topic string, payload any) error {
	return outbox.Reply(ctx, repos, models.OutboxReservation, outbox.Event{
		AggregateType: models.AggregateReservation,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		Key:           key,
		Payload:       payload,
	}, h.now())
}

// load returns the reservation a saga message refers to, or a failure reason
// when it does not belong to the paying user.
func load(ctx context.Context, repos *repository.Repositories, ref models.SagaRef) (*models.Reservation, string, error) {
	r, err := repos.Reservations.GetForUpdate(ctx, ref.ReservationID)
	if err != nil {
		return nil, "", err
	}
	if r == nil || r.UserID != ref.UserID {
		return nil, fmt.Sprintf("reservation %d not found", ref.ReservationID), nil
	}
	return r, "", nil
}

// OnConfirmSeats confirms every held seat. An expired or already resolved
// reservation answers with a failed SeatsConfirmed so the payment refunds.
func (h *ReservationHandler) OnConfirmSeats(ctx context.Context, cmd models.ConfirmSeatsCommand) error {
	log := logger.WithContext(ctx).With("payment_id", cmd.PaymentID, "reservation_id", cmd.ReservationID)

	var skipped bool
	var evt models.SeatsConfirmedEvent
	err := h.policy.Do(ctx, func(ctx context.Context) error {
		return h.store.InTx(ctx, func(repos *repository.Repositories) error {
			done, err := outbox.Handled(ctx, repos, models.OutboxReservation, cmd.PaymentID, models.EventSeatsConfirmed)
			if err != nil {
				return err
			}
			if skipped = done; done {
				return nil
			}

			evt = models.SeatsConfirmedEvent{SagaRef: cmd.SagaRef, Succeeded: true}
			r, reason, err := load(ctx, repos, cmd.SagaRef)
			if err != nil {
				return err
			}
			if r == nil {
				evt.Succeeded, evt.FailureReason = false, reason
				return h.enqueue(ctx, repos, cmd.ReservationID, cmd.PaymentID, models.EventSeatsConfirmed, models.TopicSeatsConfirmed, evt)
			}

			now := h.now()
			if err := r.Confirm(now); err != nil {
				if !apperrors.IsBusiness(err) {
					return err
				}
				evt.Succeeded, evt.FailureReason = false, err.Error()
				if errors.Is(err, apperrors.ErrReservationExpired) && r.ExpireHolds(now) > 0 {
					if err := repos.Reservations.Update(ctx, r); err != nil {
						return err
					}
				}
				return h.enqueue(ctx, repos, r.ID, cmd.PaymentID, models.EventSeatsConfirmed, models.TopicSeatsConfirmed, evt)
			}

			if err := repos.Reservations.Update(ctx, r); err != nil {
				return err
			}
			if err := h.enqueue(ctx, repos, r.ID, cmd.PaymentID, models.EventSeatsConfirmed, models.TopicSeatsConfirmed, evt); err != nil {
				return err
			}
			return h.enqueue(ctx, repos, r.ID, cmd.PaymentID, models.EventReservationCompleted, models.TopicReservationCompleted,
				models.ReservationCompletedEvent{
					ReservationID: r.ID,
					PaymentID:     cmd.PaymentID,
					UserID:        r.UserID,
					ShowID:        r.ShowID,
					SeatIDs:       r.SeatIDs(),
					Amount:        r.Amount,
					ConfirmedAt:   now,
				})
		})
	})
	if err != nil {
		return err
	}

	switch {
	case skipped:
		log.Info("ConfirmSeats already handled")
		observe(models.TopicConfirmSeats, metrics.OutcomeSkipped)
	case evt.Succeeded:
		log.Info("Seats confirmed")
		observe(models.TopicConfirmSeats, metrics.OutcomeProcessed)
	default:
		log.Info("Seat confirmation rejected", "reason", evt.FailureReason)
		observe(models.TopicConfirmSeats, metrics.OutcomeProcessed)
	}
	return nil
}

// OnCancelSeats releases the held seats of a declined payment. Seats whose
// hold already lapsed stay EXPIRED.
func (h *ReservationHandler) OnCancelSeats(ctx context.Context, cmd models.CancelSeatsCommand) error {
	log := logger.WithContext(ctx).With("payment_id", cmd.PaymentID, "reservation_id", cmd.ReservationID)

	var skipped bool
	var evt models.SeatsCancelledEvent
	err := h.policy.Do(ctx, func(ctx context.Context) error {
		return h.store.InTx(ctx, func(repos *repository.Repositories) error {
			done, err := outbox.Handled(ctx, repos, models.OutboxReservation, cmd.PaymentID, models.EventSeatsCancelled)
			if err != nil {
				return err
			}
			if skipped = done; done {
				return nil
			}

			evt = models.SeatsCancelledEvent{SagaRef: cmd.SagaRef, Succeeded: true}
			r, reason, err := load(ctx, repos, cmd.SagaRef)
			if err != nil {
				return err
			}
			switch {
			case r == nil:
				evt.Succeeded, evt.FailureReason = false, reason
			default:
				if err := r.Cancel(h.now()); err != nil {
					if !apperrors.IsBusiness(err) {
						return err
					}
					evt.Succeeded, evt.FailureReason = false, err.Error()
				} else if err := repos.Reservations.Update(ctx, r); err != nil {
					return err
				}
			}
			return h.enqueue(ctx, repos, cmd.ReservationID, cmd.PaymentID, models.EventSeatsCancelled, models.TopicSeatsCancelled, evt)
		})
	})
	if err != nil {
		return err
	}

	switch {
	case skipped:
		log.Info("CancelSeats already handled")
		observe(models.TopicCancelSeats, metrics.OutcomeSkipped)
	case evt.Succeeded:
		log.Info("Seats released", "reason", cmd.Reason)
		observe(models.TopicCancelSeats, metrics.OutcomeProcessed)
	default:
		logger.Critical(ctx, "Failed to release seats", "payment_id", cmd.PaymentID,
			"reservation_id", cmd.ReservationID, "reason", evt.FailureReason)
		observe(models.TopicCancelSeats, metrics.OutcomeRejected)
	}
	return nil
}
