package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	apperrors "ticketsaga/internal/errors"
	"ticketsaga/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHoldCreatesReservation(t *testing.T) {
	env := newTestEnv(t)

	r := env.hold(t, 1, "req-1", 3, 1, 3)
	assert.NotZero(t, r.ID)
	assert.Equal(t, int64(4000), r.Amount)
	assert.Equal(t, []int64{1, 3}, r.SeatIDs())
	require.NotNil(t, r.ExpiresAt)
	assert.Nil(t, r.ConfirmedAt)
	for _, s := range r.Seats {
		assert.Equal(t, models.SeatHold, s.Status)
	}

	got, err := env.svc.Reservations.Get(context.Background(), 1, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Code, got.Code)

	_, err = env.svc.Reservations.Get(context.Background(), 2, r.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestHoldReplayReturnsSameReservation(t *testing.T) {
	env := newTestEnv(t)

	first := env.hold(t, 1, "req-1", 1, 2)
	again := env.hold(t, 1, "req-1", 1, 2)
	assert.Equal(t, first.ID, again.ID)

	// same request id with another seat set still resolves to the original
	other := env.hold(t, 1, "req-1", 4)
	assert.Equal(t, first.ID, other.ID)
	assert.Equal(t, 0, env.store.ActiveSeatRows(testShowID, 4))
}

func TestHoldSameSeatConcurrently(t *testing.T) {
	env := newTestEnv(t)

	const contenders = 12
	errs := make([]error, contenders)
	runConcurrently(contenders, func(i int) {
		// overlapping but different seat sets take different gateway locks
		seats := []int64{2}
		if i%2 == 1 {
			seats = append(seats, 3)
		}
		_, errs[i] = env.svc.Reservations.Hold(context.Background(), int64(i+1), models.CreateReservationRequest{
			ShowID: testShowID, SeatIDs: seats, RequestID: fmt.Sprintf("req-%d", i),
		})
	})

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrSeatAlreadyHeld)
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, env.store.ActiveSeatRows(testShowID, 2))
}

func TestHoldValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		userID  int64
		req     models.CreateReservationRequest
		wantErr error
	}{
		{"no user", 0, models.CreateReservationRequest{ShowID: testShowID, SeatIDs: []int64{1}, RequestID: "r"}, apperrors.ErrUnauthorized},
		{"no request id", 1, models.CreateReservationRequest{ShowID: testShowID, SeatIDs: []int64{1}}, apperrors.ErrInvalidArgument},
		{"no seats", 1, models.CreateReservationRequest{ShowID: testShowID, RequestID: "r"}, apperrors.ErrInvalidArgument},
		{"too many seats", 1, models.CreateReservationRequest{ShowID: testShowID, SeatIDs: []int64{1, 2, 3, 4, 5}, RequestID: "r"}, apperrors.ErrInvalidArgument},
		{"unknown show", 1, models.CreateReservationRequest{ShowID: 99, SeatIDs: []int64{1}, RequestID: "r"}, apperrors.ErrInvalidArgument},
		{"unknown seat", 1, models.CreateReservationRequest{ShowID: testShowID, SeatIDs: []int64{1, 77}, RequestID: "r"}, apperrors.ErrInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Reservations.Hold(ctx, tc.userID, tc.req)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestHoldTakesOverLapsedSeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.hold(t, 1, "req-1", 1)

	env.svc.Reservations.now = func() time.Time { return time.Now().Add(time.Hour) }
	second := env.hold(t, 2, "req-2", 1)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, env.store.ActiveSeatRows(testShowID, 1))

	lapsed, err := env.svc.Reservations.Get(ctx, 1, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SeatExpired, lapsed.Seats[0].Status)
}

func TestExpireStale(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.hold(t, 1, "req-1", 1, 2)
	env.hold(t, 2, "req-2", 3)

	n, err := env.svc.Reservations.ExpireStale(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.svc.Reservations.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = env.svc.Reservations.ExpireStale(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = env.svc.Reservations.ExpireStale(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	for _, seat := range []int64{1, 2, 3} {
		assert.Zero(t, env.store.ActiveSeatRows(testShowID, seat))
	}
}

func TestSeatLockKeyIsSorted(t *testing.T) {
	ids, err := normalizeSeatIDs([]int64{9, 3, 9, 5}, 10)
	require.NoError(t, err)
	assert.Equal(t, "show:7:seats:3,5,9", SeatLockKey(7, ids))
}
