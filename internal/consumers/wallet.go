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
	"ticketsaga/internal/service"
)

// WalletHandler debits points for payments and credits them back on compensation.
type WalletHandler struct {
	store  repository.Store
	wallet *service.WalletService
	now    func() time.Time
}

// OnUsePoint debits the payment amount. A declined debit is a PointUsed
// failure event, not a handler error.
func (h *WalletHandler) OnUsePoint(ctx context.Context, cmd models.UsePointCommand) error {
	log := logger.WithContext(ctx).With("payment_id", cmd.PaymentID, "user_id", cmd.UserID)

	var skipped bool
	var evt models.PointUsedEvent
	err := h.wallet.RetryPolicy().Do(ctx, func(ctx context.Context) error {
		return h.store.InTx(ctx, func(repos *repository.Repositories) error {
			done, err := outbox.Handled(ctx, repos, models.OutboxPoint, cmd.PaymentID, models.EventPointUsed)
			if err != nil {
				return err
			}
			if skipped = done; done {
				return nil
			}

			evt = models.PointUsedEvent{SagaRef: cmd.SagaRef, Amount: cmd.Amount, Succeeded: true}
			_, err = h.wallet.ApplyTx(ctx, repos, service.PointMutation{
				UserID:    cmd.UserID,
				RequestID: cmd.RequestID,
				Type:      models.PointUse,
				Amount:    cmd.Amount,
			})
			if err != nil {
				if !apperrors.IsBusiness(err) {
					return err
				}
				evt.Succeeded = false
				evt.FailureReason = err.Error()
			}

			return outbox.Reply(ctx, repos, models.OutboxPoint, outbox.Event{
				AggregateType: models.AggregatePoint,
				AggregateID:   cmd.UserID,
				EventType:     models.EventPointUsed,
				Topic:         models.TopicPointUsed,
				Key:           cmd.PaymentID,
				Payload:       evt,
			}, h.now())
		})
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			log.Warn("Wallet is contended, leaving UsePoint for redelivery", "error", err)
		}
		return err
	}

	if skipped {
		log.Info("UsePoint already handled")
		observe(models.TopicUsePoint, metrics.OutcomeSkipped)
		return nil
	}

	if evt.Succeeded {
		log.Info("Points used", "amount", cmd.Amount)
	} else {
		log.Info("Point use declined", "amount", cmd.Amount, "reason", evt.FailureReason)
	}
	observe(models.TopicUsePoint, metrics.OutcomeProcessed)
	return nil
}

// OnRefundPoint credits a debited payment back under the payment's refund
// request id. A refund that cannot be applied is acknowledged and escalated
// for manual resolution.
func (h *WalletHandler) OnRefundPoint(ctx context.Context, cmd models.RefundPointCommand) error {
	log := logger.WithContext(ctx).With("payment_id", cmd.PaymentID, "user_id", cmd.UserID)
	refundID := models.RefundRequestID(cmd.RequestID)

	var skipped bool
	var res *service.PointResult
	err := h.wallet.RetryPolicy().Do(ctx, func(ctx context.Context) error {
		return h.store.InTx(ctx, func(repos *repository.Repositories) error {
			done, err := outbox.Handled(ctx, repos, models.OutboxPoint, cmd.PaymentID, models.EventPointRefunded)
			if err != nil {
				return err
			}
			if skipped = done; done {
				return nil
			}

			res, err = h.wallet.ApplyTx(ctx, repos, service.PointMutation{
				UserID:    cmd.UserID,
				RequestID: refundID,
				Type:      models.PointRefund,
				Amount:    cmd.Amount,
			})
			if err != nil {
				return err
			}

			return h.enqueueRefunded(ctx, repos, models.PointRefundedEvent{SagaRef: cmd.SagaRef, Amount: cmd.Amount, Succeeded: true})
		})
	})

	switch {
	case err == nil && skipped:
		log.Info("RefundPoint already handled")
		observe(models.TopicRefundPoint, metrics.OutcomeSkipped)
		return nil
	case err == nil:
		log.Info("Points refunded", "amount", cmd.Amount, "balance", res.Balance, "reason", cmd.Reason)
		observe(models.TopicRefundPoint, metrics.OutcomeProcessed)
		return nil
	case !apperrors.IsBusiness(err) && !errors.Is(err, retry.ErrExhausted):
		return err
	}

	logger.Critical(ctx, "Point refund failed",
		"payment_id", cmd.PaymentID, "user_id", cmd.UserID, "request_id", refundID, "amount", cmd.Amount, "error", err)

	failed := models.PointRefundedEvent{SagaRef: cmd.SagaRef, Amount: cmd.Amount, FailureReason: err.Error()}
	if err := h.store.InTx(ctx, func(repos *repository.Repositories) error {
		return h.enqueueRefunded(ctx, repos, failed)
	}); err != nil {
		return fmt.Errorf("failed to record refund failure: %w", err)
	}
	observe(models.TopicRefundPoint, metrics.OutcomeRejected)
	return nil
}

func (h *WalletHandler) enqueueRefunded(ctx context.Context, repos *repository.Repositories, evt models.PointRefundedEvent) error {
	return outbox.Reply(ctx, repos, models.OutboxPoint, outbox.Event{
		AggregateType: models.AggregatePoint,
		AggregateID:   evt.UserID,
		EventType:     models.EventPointRefunded,
		Topic:         models.TopicPointRefunded,
		Key:           evt.PaymentID,
		Payload:       evt,
	}, h.now())
}
