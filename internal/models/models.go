package models

import "time"

// CreateReservationRequest - модель для создания бронирования мест
type CreateReservationRequest struct {
	ShowID    int64   `json:"showId" binding:"required"`
	SeatIDs   []int64 `json:"seatIds" binding:"required"`
	RequestID string  `json:"requestId" binding:"required"`
}

// ReservationResponse - модель ответа с бронированием
type ReservationResponse struct {
	ID          int64                 `json:"id"`
	Code        string                `json:"reservationCode"`
	ShowID      int64                 `json:"showId"`
	Amount      int64                 `json:"amount"`
	ExpiresAt   *time.Time            `json:"expiresAt,omitempty"`
	ConfirmedAt *time.Time            `json:"confirmedAt,omitempty"`
	Seats       []ReservationSeatItem `json:"seats"`
}

// ReservationSeatItem - место в бронировании
type ReservationSeatItem struct {
	SeatID int64      `json:"seatId"`
	Price  int64      `json:"price"`
	Status SeatStatus `json:"status"`
}

func NewReservationResponse(r *Reservation) ReservationResponse {
	resp := ReservationResponse{
		ID:          r.ID,
		Code:        r.Code,
		ShowID:      r.ShowID,
		Amount:      r.Amount,
		ExpiresAt:   r.ExpiresAt,
		ConfirmedAt: r.ConfirmedAt,
		Seats:       make([]ReservationSeatItem, 0, len(r.Seats)),
	}
	for _, s := range r.Seats {
		resp.Seats = append(resp.Seats, ReservationSeatItem{SeatID: s.SeatID, Price: s.Price, Status: s.Status})
	}
	return resp
}

// CreatePaymentRequest - модель для оплаты бронирования баллами
type CreatePaymentRequest struct {
	ReservationID int64  `json:"reservationId" binding:"required"`
	Amount        int64  `json:"amount" binding:"required"`
	RequestID     string `json:"requestId" binding:"required"`
}

// PaymentResponse - модель ответа с платежом
type PaymentResponse struct {
	ID            int64         `json:"id"`
	Code          string        `json:"paymentCode"`
	ReservationID int64         `json:"reservationId"`
	Amount        int64         `json:"amount"`
	Status        PaymentStatus `json:"status"`
	FailureReason string        `json:"failureReason,omitempty"`
	PaidAt        *time.Time    `json:"paidAt,omitempty"`
}

func NewPaymentResponse(p *Payment) PaymentResponse {
	return PaymentResponse{
		ID:            p.ID,
		Code:          p.Code,
		ReservationID: p.ReservationID,
		Amount:        p.Amount,
		Status:        p.Status,
		FailureReason: p.FailureReason,
		PaidAt:        p.PaidAt,
	}
}

// ChargePointRequest - модель для пополнения баллов
type ChargePointRequest struct {
	Amount    int64  `json:"amount" binding:"required"`
	RequestID string `json:"requestId" binding:"required"`
}

// PointBalanceResponse - текущий баланс пользователя
type PointBalanceResponse struct {
	UserID  int64 `json:"userId"`
	Balance int64 `json:"balance"`
}

// PointHistoryResponse - история изменений баланса
type PointHistoryResponse []PointHistory

// OutboxEventsResponse - список событий outbox для оператора
type OutboxEventsResponse struct {
	Service OutboxService `json:"service"`
	Events  []OutboxEvent `json:"events"`
}
