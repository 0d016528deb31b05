package models

import "time"

// Saga topics
const (
	TopicUsePoint       = "saga.point.use"
	TopicPointUsed      = "saga.point.used"
	TopicConfirmSeats   = "saga.seats.confirm"
	TopicCancelSeats    = "saga.seats.cancel"
	TopicSeatsConfirmed = "saga.seats.confirmed"
	TopicSeatsCancelled = "saga.seats.cancelled"
	TopicRefundPoint    = "saga.point.refund"
	TopicPointRefunded  = "saga.point.refunded"

	TopicReservationCompleted = "reservation.completed"
)

// Event types stored in the outbox
const (
	EventUsePoint             = "UsePoint"
	EventPointUsed            = "PointUsed"
	EventConfirmSeats         = "ConfirmSeats"
	EventCancelSeats          = "CancelSeats"
	EventSeatsConfirmed       = "SeatsConfirmed"
	EventSeatsCancelled       = "SeatsCancelled"
	EventRefundPoint          = "RefundPoint"
	EventPointRefunded        = "PointRefunded"
	EventReservationCompleted = "ReservationCompleted"
)

const (
	AggregatePayment     = "Payment"
	AggregatePoint       = "Point"
	AggregateReservation = "Reservation"
)

// SagaRef identifies the payment a saga message belongs to.
type SagaRef struct {
	PaymentID     int64  `json:"paymentId"`
	ReservationID int64  `json:"reservationId"`
	UserID        int64  `json:"userId"`
	RequestID     string `json:"requestId"`
}

type UsePointCommand struct {
	SagaRef
	Amount int64 `json:"amount"`
}

type PointUsedEvent struct {
	SagaRef
	Amount        int64  `json:"amount"`
	Succeeded     bool   `json:"succeeded"`
	FailureReason string `json:"failureReason,omitempty"`
}

type ConfirmSeatsCommand struct {
	SagaRef
}

type CancelSeatsCommand struct {
	SagaRef
	Reason string `json:"reason"`
}

type SeatsConfirmedEvent struct {
	SagaRef
	Succeeded     bool   `json:"succeeded"`
	FailureReason string `json:"failureReason,omitempty"`
}

type SeatsCancelledEvent struct {
	SagaRef
	Succeeded     bool   `json:"succeeded"`
	FailureReason string `json:"failureReason,omitempty"`
}

type RefundPointCommand struct {
	SagaRef
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type PointRefundedEvent struct {
	SagaRef
	Amount        int64  `json:"amount"`
	Succeeded     bool   `json:"succeeded"`
	FailureReason string `json:"failureReason,omitempty"`
}

// ReservationCompletedEvent is published for passive consumers such as ranking.
type ReservationCompletedEvent struct {
	ReservationID int64     `json:"reservationId"`
	PaymentID     int64     `json:"paymentId"`
	UserID        int64     `json:"userId"`
	ShowID        int64     `json:"showId"`
	SeatIDs       []int64   `json:"seatIds"`
	Amount        int64     `json:"amount"`
	ConfirmedAt   time.Time `json:"confirmedAt"`
}

// RefundRequestID is the ledger request id of the compensating credit for a payment.
func RefundRequestID(requestID string) string {
	return requestID + "-refund"
}
