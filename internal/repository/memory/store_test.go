package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"ticketsaga/internal/database"
	"ticketsaga/internal/models"
	"ticketsaga/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	store.SetBalance(1, 5000)

	boom := errors.New("boom")
	err := store.InTx(ctx, func(repos *repository.Repositories) error {
		p, err := repos.Points.GetForUpdate(ctx, 1)
		require.NoError(t, err)
		p.Balance = 0
		require.NoError(t, repos.Points.Update(ctx, p))
		require.NoError(t, repos.PointOutbox.Insert(ctx, &models.OutboxEvent{EventType: "x", Status: models.OutboxPending}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := store.Repos().Points.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), p.Balance)
	assert.Empty(t, store.OutboxEvents(models.OutboxPoint))
}

func TestReservationInsertConflicts(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repos()
	now := time.Now()

	first, err := models.NewReservation(1, 10, "req-1", []models.ShowSeat{{SeatID: 5, Price: 1000}}, now, time.Minute)
	require.NoError(t, err)
	kind, err := repos.Reservations.Insert(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, repository.ConflictNone, kind)

	replay, _ := models.NewReservation(1, 10, "req-1", []models.ShowSeat{{SeatID: 6, Price: 1000}}, now, time.Minute)
	kind, err = repos.Reservations.Insert(ctx, replay)
	assert.Equal(t, repository.ConflictRequestID, kind)
	assert.True(t, database.IsUniqueViolation(err))

	rival, _ := models.NewReservation(2, 10, "req-9", []models.ShowSeat{{SeatID: 5, Price: 1000}}, now, time.Minute)
	kind, err = repos.Reservations.Insert(ctx, rival)
	assert.Equal(t, repository.ConflictSeat, kind)
	constraint, ok := database.UniqueConstraint(err)
	assert.True(t, ok)
	assert.Equal(t, database.ConstraintSeatSlot, constraint)

	n, err := repos.Reservations.ExpireHeldSeats(ctx, 10, []int64{5}, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	kind, err = repos.Reservations.Insert(ctx, rival)
	require.NoError(t, err)
	assert.Equal(t, repository.ConflictNone, kind)
}

func TestOutboxMarkFailedBecomesTerminal(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Repos().PaymentOutbox

	e := &models.OutboxEvent{EventType: models.EventUsePoint, Status: models.OutboxPending, CreatedAt: time.Now()}
	require.NoError(t, repo.Insert(ctx, e))

	require.NoError(t, repo.MarkFailed(ctx, e.ID, "broker down", 2))
	pending, err := repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)

	require.NoError(t, repo.MarkFailed(ctx, e.ID, "broker down", 2))
	pending, err = repo.ClaimPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, repo.MarkPublished(ctx, e.ID, time.Now()))
	failed, err := repo.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, models.OutboxFailed, failed[0].Status)
}
