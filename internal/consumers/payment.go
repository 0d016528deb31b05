package consumers

import (
	"context"
	"time"

	"ticketsaga/internal/logger"
	"ticketsaga/internal/metrics"
	"ticketsaga/internal/models"
	"ticketsaga/internal/outbox"
	"ticketsaga/internal/repository"
	"ticketsaga/internal/retry"
)

// PaymentHandler drives the payment state machine from wallet and
// reservation outcomes and issues the compensating commands.
type PaymentHandler struct {
	store  repository.Store
	policy retry.Policy
	now    func() time.Time
}

// settle loads the payment under lock and calls fn when it is in the wanted
// status. Any other status means the event was already applied.
func (h *PaymentHandler) settle(ctx context.Context, paymentID int64, want models.PaymentStatus,
	fn func(repos *repository.Repositories, p *models.Payment) error) (bool, error) {

	var applied bool
	err := h.policy.Do(ctx, func(ctx context.Context) error {
		return h.store.InTx(ctx, func(repos *repository.Repositories) error {
			applied = false
			p, err := repos.Payments.GetForUpdate(ctx, paymentID)
			if err != nil {
				return err
			}
			if p == nil {
				logger.WithContext(ctx).Warn("Saga event for unknown payment", "payment_id", paymentID)
				return nil
			}
			if p.Status != want {
				return nil
			}
			if err := fn(repos, p); err != nil {
				return err
			}
			applied = true
			return nil
		})
	})
	return applied, err
}

func (h *PaymentHandler) enqueue(ctx context.Context, repos *repository.Repositories, p *models.Payment, eventType, topic string, payload any) error {
	return outbox.Enqueue(ctx, repos.PaymentOutbox, outbox.Event{
		AggregateType: models.AggregatePayment,
		AggregateID:   p.ID,
		EventType:     eventType,
		Topic:         topic,
		Key:           p.ID,
		Payload:       payload,
	}, h.now())
}

// OnPointUsed moves a PENDING payment on: PROCESSING and ConfirmSeats when the
// debit went through, FAILED and CancelSeats when it was declined.
func (h *PaymentHandler) OnPointUsed(ctx context.Context, evt models.PointUsedEvent) error {
	log := logger.WithContext(ctx).With("payment_id", evt.PaymentID, "reservation_id", evt.ReservationID)

	applied, err := h.settle(ctx, evt.PaymentID, models.PaymentPending, func(repos *repository.Repositories, p *models.Payment) error {
		now := h.now()
		if evt.Succeeded {
			if err := p.StartProcessing(now); err != nil {
				return err
			}
			if err := repos.Payments.Update(ctx, p); err != nil {
				return err
			}
			return h.enqueue(ctx, repos, p, models.EventConfirmSeats, models.TopicConfirmSeats,
				models.ConfirmSeatsCommand{SagaRef: evt.SagaRef})
		}

		if err := p.Fail(evt.FailureReason, now); err != nil {
			return err
		}
		if err := repos.Payments.Update(ctx, p); err != nil {
			return err
		}
		return h.enqueue(ctx, repos, p, models.EventCancelSeats, models.TopicCancelSeats,
			models.CancelSeatsCommand{SagaRef: evt.SagaRef, Reason: evt.FailureReason})
	})
	if err != nil {
		return err
	}

	if !applied {
		log.Info("PointUsed ignored, payment is not pending")
		observe(models.TopicPointUsed, metrics.OutcomeSkipped)
		return nil
	}
	if evt.Succeeded {
		log.Info("Payment processing, confirming seats")
	} else {
		log.Info("Payment failed, releasing seats", "reason", evt.FailureReason)
	}
	observe(models.TopicPointUsed, metrics.OutcomeProcessed)
	return nil
}

// OnSeatsConfirmed finishes a PROCESSING payment. A failed confirmation
// fails the payment and refunds the points already debited.
func (h *PaymentHandler) OnSeatsConfirmed(ctx context.Context, evt models.SeatsConfirmedEvent) error {
	log := logger.WithContext(ctx).With("payment_id", evt.PaymentID, "reservation_id", evt.ReservationID)

	applied, err := h.settle(ctx, evt.PaymentID, models.PaymentProcessing, func(repos *repository.Repositories, p *models.Payment) error {
		now := h.now()
		if evt.Succeeded {
			if err := p.Succeed(now); err != nil {
				return err
			}
			return repos.Payments.Update(ctx, p)
		}

		if err := p.Fail(evt.FailureReason, now); err != nil {
			return err
		}
		if err := repos.Payments.Update(ctx, p); err != nil {
			return err
		}
		return h.enqueue(ctx, repos, p, models.EventRefundPoint, models.TopicRefundPoint,
			models.RefundPointCommand{SagaRef: evt.SagaRef, Amount: p.Amount, Reason: evt.FailureReason})
	})
	if err != nil {
		return err
	}

	if !applied {
		log.Info("SeatsConfirmed ignored, payment is not processing")
		observe(models.TopicSeatsConfirmed, metrics.OutcomeSkipped)
		return nil
	}
	if evt.Succeeded {
		log.Info("Payment succeeded")
	} else {
		log.Info("Seat confirmation failed, refunding points", "reason", evt.FailureReason)
	}
	observe(models.TopicSeatsConfirmed, metrics.OutcomeProcessed)
	return nil
}

// OnSeatsCancelled ends the declined-payment path. There is nothing left to
// compensate, so a failed release only needs an operator.
func (h *PaymentHandler) OnSeatsCancelled(ctx context.Context, evt models.SeatsCancelledEvent) error {
	if !evt.Succeeded {
		logger.Critical(ctx, "Seats of a failed payment were not released",
			"payment_id", evt.PaymentID, "reservation_id", evt.ReservationID, "reason", evt.FailureReason)
		observe(models.TopicSeatsCancelled, metrics.OutcomeRejected)
		return nil
	}
	logger.WithContext(ctx).Info("Seats released after failed payment",
		"payment_id", evt.PaymentID, "reservation_id", evt.ReservationID)
	observe(models.TopicSeatsCancelled, metrics.OutcomeProcessed)
	return nil
}

// OnPointRefunded records the outcome of a refund.
func (h *PaymentHandler) OnPointRefunded(ctx context.Context, evt models.PointRefundedEvent) error {
	if !evt.Succeeded {
		logger.Critical(ctx, "Refund for failed payment was not applied",
			"payment_id", evt.PaymentID, "user_id", evt.UserID, "amount", evt.Amount, "reason", evt.FailureReason)
		observe(models.TopicPointRefunded, metrics.OutcomeRejected)
		return nil
	}
	logger.WithContext(ctx).Info("Refund applied", "payment_id", evt.PaymentID, "user_id", evt.UserID, "amount", evt.Amount)
	observe(models.TopicPointRefunded, metrics.OutcomeProcessed)
	return nil
}
