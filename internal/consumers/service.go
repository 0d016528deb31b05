package consumers

import (
	"context"
	"log/slog"

	"ticketsaga/internal/messaging"
	"ticketsaga/internal/models"
)

// Consumer groups, one per owning service.
const (
	GroupPoint       = "point-service"
	GroupPayment     = "payment-service"
	GroupReservation = "reservation-service"
)

type ConsumerService struct {
	broker   messaging.Broker
	handlers *Handlers
}

func NewConsumerService(broker messaging.Broker, handlers *Handlers) *ConsumerService {
	return &ConsumerService{broker: broker, handlers: handlers}
}

type subscription struct {
	topic   string
	group   string
	handler messaging.Handler
}

func (cs *ConsumerService) subscriptions() []subscription {
	h := cs.handlers
	return []subscription{
		{models.TopicUsePoint, GroupPoint, handle(h.Wallet.OnUsePoint)},
		{models.TopicRefundPoint, GroupPoint, handle(h.Wallet.OnRefundPoint)},

		{models.TopicPointUsed, GroupPayment, handle(h.Payment.OnPointUsed)},
		{models.TopicSeatsConfirmed, GroupPayment, handle(h.Payment.OnSeatsConfirmed)},
		{models.TopicSeatsCancelled, GroupPayment, handle(h.Payment.OnSeatsCancelled)},
		{models.TopicPointRefunded, GroupPayment, handle(h.Payment.OnPointRefunded)},

		{models.TopicConfirmSeats, GroupReservation, handle(h.Reservation.OnConfirmSeats)},
		{models.TopicCancelSeats, GroupReservation, handle(h.Reservation.OnCancelSeats)},
	}
}

func (cs *ConsumerService) Start() error {
	slog.Info("Starting saga consumers...")

	for _, sub := range cs.subscriptions() {
		if err := cs.broker.Subscribe(sub.topic, sub.group, sub.handler); err != nil {
			return err
		}
		slog.Info("Subscribed", "topic", sub.topic, "group", sub.group)
	}

	slog.Info("All consumers started successfully")
	return nil
}

func (cs *ConsumerService) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down consumer service...")

	if cs.broker != nil {
		if err := cs.broker.Close(); err != nil {
			slog.Error("Error closing broker connection", "error", err)
			return err
		}
	}
	return nil
}
