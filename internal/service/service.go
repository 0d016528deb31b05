package service

import (
	"context"
	"fmt"

	"ticketsaga/internal/config"
	apperrors "ticketsaga/internal/errors"
	"ticketsaga/internal/idempotency"
	"ticketsaga/internal/models"
	"ticketsaga/internal/repository"
)

type Services struct {
	Reservations *ReservationService
	Payments     *PaymentService
	Wallet       *WalletService
	Outbox       *OutboxAdminService
}

func NewServices(store repository.Store, gateway *idempotency.Gateway, cfg *config.Config) *Services {
	return &Services{
		Reservations: NewReservationService(store, gateway, cfg.Hold),
		Payments:     NewPaymentService(store, gateway),
		Wallet:       NewWalletService(store, gateway, cfg.Wallet),
		Outbox:       NewOutboxAdminService(store),
	}
}

// OutboxAdminService lets operators inspect rows the relay gave up on.
type OutboxAdminService struct {
	store repository.Store
}

func NewOutboxAdminService(store repository.Store) *OutboxAdminService {
	return &OutboxAdminService{store: store}
}

func (s *OutboxAdminService) ListFailed(ctx context.Context, svc models.OutboxService, limit int) ([]models.OutboxEvent, error) {
	if !svc.Valid() {
		return nil, fmt.Errorf("%w: unknown outbox service %q", apperrors.ErrInvalidArgument, svc)
	}
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	events, err := s.store.Repos().Outbox(svc).ListFailed(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed %s outbox rows: %w", svc, err)
	}
	return events, nil
}
