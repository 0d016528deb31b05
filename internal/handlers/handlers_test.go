package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ticketsaga/internal/cache"
	"ticketsaga/internal/config"
	apperrors "ticketsaga/internal/errors"
	"ticketsaga/internal/idempotency"
	"ticketsaga/internal/middleware"
	"ticketsaga/internal/models"
	"ticketsaga/internal/repository/memory"
	"ticketsaga/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*gin.Engine, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	store.AddShow(models.Show{ID: 1, ConcertID: 1, StartsAt: time.Now().Add(24 * time.Hour)},
		models.ShowSeat{SeatID: 1, Price: 1000},
		models.ShowSeat{SeatID: 2, Price: 2000},
	)
	gateway := idempotency.NewGateway(cache.NewMemoryCache(), cache.NewLocalLocker(), idempotency.Config{
		LockWait:  time.Second,
		LockLease: 5 * time.Second,
		CacheTTL:  time.Minute,
	})
	services := service.NewServices(store, gateway, &config.Config{
		Hold:   config.HoldConfig{Duration: 10 * time.Minute, MaxSeatsPerRequest: 4},
		Wallet: config.WalletConfig{RetryAttempts: 3, RetryDelay: time.Millisecond},
	})
	h := NewHandlers(services)

	r := gin.New()
	api := r.Group("/api")
	api.Use(middleware.AdmittedUser())
	{
		api.POST("/reservations", h.CreateReservation)
		api.GET("/reservations/:id", h.GetReservation)
		api.POST("/payments", h.CreatePayment)
		api.GET("/payments/:id", h.GetPayment)
		api.GET("/points", h.GetBalance)
		api.POST("/points/charge", h.ChargePoints)
		api.GET("/points/history", h.ListPointHistory)
	}
	r.GET("/admin/outbox/failed", h.ListFailedOutbox)

	return r, store
}

func doRequest(r *gin.Engine, method, path string, userID int64, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req.Header.Set(middleware.HeaderUserID, fmt.Sprint(userID))
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateReservation(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, "POST", "/api/reservations", 7, models.CreateReservationRequest{
		ShowID: 1, SeatIDs: []int64{2, 1}, RequestID: "res-1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp models.ReservationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3000), resp.Amount)
	assert.Len(t, resp.Seats, 2)
	assert.NotEmpty(t, resp.Code)

	w = doRequest(r, "GET", fmt.Sprintf("/api/reservations/%d", resp.ID), 7, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, "GET", fmt.Sprintf("/api/reservations/%d", resp.ID), 8, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMissingUserHeader(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, "GET", "/api/points", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReservationSeatConflict(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, "POST", "/api/reservations", 7, models.CreateReservationRequest{
		ShowID: 1, SeatIDs: []int64{1}, RequestID: "res-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(r, "POST", "/api/reservations", 8, models.CreateReservationRequest{
		ShowID: 1, SeatIDs: []int64{1}, RequestID: "res-2",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateReservationBadBody(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, "POST", "/api/reservations", 7, map[string]any{"showId": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, "GET", "/api/reservations/abc", 7, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePaymentIsIdempotent(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, "POST", "/api/reservations", 7, models.CreateReservationRequest{
		ShowID: 1, SeatIDs: []int64{1}, RequestID: "res-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var res models.ReservationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	body := models.CreatePaymentRequest{ReservationID: res.ID, Amount: 1000, RequestID: "pay-1"}

	w = doRequest(r, "POST", "/api/payments", 7, body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var first models.PaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, models.PaymentPending, first.Status)

	w = doRequest(r, "POST", "/api/payments", 7, body)
	require.Equal(t, http.StatusAccepted, w.Code)
	var second models.PaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, first.ID, second.ID)

	w = doRequest(r, "GET", fmt.Sprintf("/api/payments/%d", first.ID), 7, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreatePaymentAmountMismatch(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, "POST", "/api/reservations", 7, models.CreateReservationRequest{
		ShowID: 1, SeatIDs: []int64{2}, RequestID: "res-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var res models.ReservationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	w = doRequest(r, "POST", "/api/payments", 7, models.CreatePaymentRequest{
		ReservationID: res.ID, Amount: 1000, RequestID: "pay-1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPoints(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, "GET", "/api/points", 7, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balance models.PointBalanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	assert.Equal(t, int64(0), balance.Balance)

	charge := models.ChargePointRequest{Amount: 5000, RequestID: "charge-1"}
	for i := 0; i < 2; i++ {
		w = doRequest(r, "POST", "/api/points/charge", 7, charge)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
		assert.Equal(t, int64(5000), balance.Balance)
	}

	w = doRequest(r, "GET", "/api/points/history", 7, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history models.PointHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, models.PointCharge, history[0].Type)

	w = doRequest(r, "GET", "/api/points/history?limit=500", 7, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, "POST", "/api/points/charge", 7, models.ChargePointRequest{
		Amount: models.MaxChargeAmount + 1, RequestID: "charge-2",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListFailedOutbox(t *testing.T) {
	r, _ := setupRouter(t)

	w := doRequest(r, "GET", "/admin/outbox/failed?service=billing", 0, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, "GET", "/admin/outbox/failed?service=point", 0, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp models.OutboxEventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.OutboxPoint, resp.Service)
	assert.Empty(t, resp.Events)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.ErrInvalidArgument, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", apperrors.ErrNotFound), http.StatusNotFound},
		{apperrors.ErrSeatAlreadyHeld, http.StatusConflict},
		{apperrors.ErrInsufficientBalance, http.StatusConflict},
		{apperrors.ErrLocked, http.StatusLocked},
		{apperrors.ErrTooManyRequests, http.StatusTooManyRequests},
		{fmt.Errorf("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), tt.err.Error())
	}
}
