package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"ticketsaga/internal/database"
	"ticketsaga/internal/models"
	"ticketsaga/internal/repository"
	"ticketsaga/internal/repository/memory"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic, key string
	data       []byte
}

type fakePublisher struct {
	mu    sync.Mutex
	fail  map[string]bool
	sent  []published
	calls int
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail[topic] {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, published{topic: topic, key: key, data: data})
	return nil
}

func enqueue(t *testing.T, store *memory.Store, ev Event, at time.Time) {
	t.Helper()
	err := store.InTx(context.Background(), func(repos *repository.Repositories) error {
		return Enqueue(context.Background(), repos.PaymentOutbox, ev, at)
	})
	require.NoError(t, err)
}

func usePoint(paymentID int64) Event {
	return Event{
		AggregateType: models.AggregatePayment,
		AggregateID:   paymentID,
		EventType:     models.EventUsePoint,
		Topic:         models.TopicUsePoint,
		Key:           paymentID,
		Payload:       models.UsePointCommand{SagaRef: models.SagaRef{PaymentID: paymentID}, Amount: 1000},
	}
}

func TestRelayPublishesFIFOAndMarksPublished(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	base := time.Now()
	enqueue(t, store, usePoint(2), base.Add(time.Second))
	enqueue(t, store, usePoint(1), base)

	pub := &fakePublisher{}
	relay := NewRelay(models.OutboxPayment, store, pub, RelayConfig{BatchSize: 10, MaxRetries: 3})

	res, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Published)

	require.Len(t, pub.sent, 2)
	assert.Equal(t, "1", pub.sent[0].key)
	assert.Equal(t, "2", pub.sent[1].key)

	var cmd models.UsePointCommand
	require.NoError(t, json.Unmarshal(pub.sent[0].data, &cmd))
	assert.Equal(t, int64(1), cmd.PaymentID)

	for _, e := range store.OutboxEvents(models.OutboxPayment) {
		assert.Equal(t, models.OutboxPublished, e.Status)
		assert.NotNil(t, e.PublishedAt)
	}

	res, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Published)
	assert.Equal(t, 2, pub.calls)
}

func TestRelayFailureCountsRetriesThenStops(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	enqueue(t, store, usePoint(1), time.Now())

	pub := &fakePublisher{fail: map[string]bool{models.TopicUsePoint: true}}
	relay := NewRelay(models.OutboxPayment, store, pub, RelayConfig{BatchSize: 10, MaxRetries: 3})

	for i := 1; i <= 3; i++ {
		res, err := relay.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)

		rows := store.OutboxEvents(models.OutboxPayment)
		require.Len(t, rows, 1)
		assert.Equal(t, i, rows[0].RetryCount)
		assert.Equal(t, "broker unavailable", rows[0].ErrorMessage)
	}

	rows := store.OutboxEvents(models.OutboxPayment)
	assert.Equal(t, models.OutboxFailed, rows[0].Status)

	// FAILED rows are left for an operator
	pub.fail = nil
	res, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Published)
	assert.Equal(t, 3, pub.calls)

	failed, err := store.Repos().PaymentOutbox.ListFailed(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestRelayRecoversBeforeMaxRetries(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	enqueue(t, store, usePoint(1), time.Now())

	pub := &fakePublisher{fail: map[string]bool{models.TopicUsePoint: true}}
	relay := NewRelay(models.OutboxPayment, store, pub, RelayConfig{BatchSize: 10, MaxRetries: 3})

	_, err := relay.RunOnce(ctx)
	require.NoError(t, err)

	pub.fail = nil
	res, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)

	rows := store.OutboxEvents(models.OutboxPayment)
	assert.Equal(t, models.OutboxPublished, rows[0].Status)
	assert.Equal(t, 1, rows[0].RetryCount)
}

func TestRelayBatchSize(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	for i := int64(1); i <= 5; i++ {
		enqueue(t, store, usePoint(i), time.Now())
	}

	relay := NewRelay(models.OutboxPayment, store, &fakePublisher{}, RelayConfig{BatchSize: 2, MaxRetries: 3})
	res, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Published)
}

func TestRelayMarksFailedInClaimTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "aggregate_type", "aggregate_id", "event_type", "topic", "message_key",
		"payload", "status", "created_at", "published_at", "retry_count", "error_message",
	}).
		AddRow(int64(1), models.AggregatePayment, "12", models.EventUsePoint, models.TopicUsePoint, "12",
			[]byte(`{}`), "PENDING", time.Now(), nil, int64(2), "broker unavailable")

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM payment_outbox WHERE status = 'PENDING' .* FOR UPDATE SKIP LOCKED`).
		WithArgs(10).
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE payment_outbox SET retry_count = retry_count \+ 1`).
		WithArgs(int64(1), "broker unavailable", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := repository.NewPostgresStore(&database.DB{DB: db}, 0)
	pub := &fakePublisher{fail: map[string]bool{models.TopicUsePoint: true}}
	relay := NewRelay(models.OutboxPayment, store, pub, RelayConfig{BatchSize: 10, MaxRetries: 3})

	res, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelayStopTwice(t *testing.T) {
	relay := NewRelay(models.OutboxPayment, memory.NewStore(), &fakePublisher{}, RelayConfig{Interval: time.Millisecond, BatchSize: 10, MaxRetries: 3})
	relay.Start(context.Background())

	relay.Stop()
	assert.NotPanics(t, relay.Stop)

	idle := NewRelay(models.OutboxPoint, memory.NewStore(), &fakePublisher{}, RelayConfig{BatchSize: 10, MaxRetries: 3})
	idle.Stop()
	assert.NotPanics(t, idle.Stop)
}

func TestHandled(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	enqueue(t, store, usePoint(4), time.Now())

	ok, err := Handled(ctx, store.Repos(), models.OutboxPayment, 4, models.EventUsePoint)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Handled(ctx, store.Repos(), models.OutboxPayment, 5, models.EventUsePoint)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandledSurvivesCleanup(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now()

	ev := Event{
		AggregateType: models.AggregatePoint,
		AggregateID:   7,
		EventType:     models.EventPointUsed,
		Topic:         models.TopicPointUsed,
		Key:           9,
		Payload:       models.PointUsedEvent{SagaRef: models.SagaRef{PaymentID: 9}, FailureReason: "insufficient balance"},
	}
	require.NoError(t, store.InTx(ctx, func(repos *repository.Repositories) error {
		return Reply(ctx, repos, models.OutboxPoint, ev, now.Add(-8*24*time.Hour))
	}))

	rows := store.OutboxEvents(models.OutboxPoint)
	require.Len(t, rows, 1)
	require.NoError(t, store.Repos().PointOutbox.MarkPublished(ctx, rows[0].ID, now.Add(-8*24*time.Hour)))

	cleaner := NewCleaner(store, 7*24*time.Hour)
	cleaner.now = func() time.Time { return now }
	n, err := cleaner.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	assert.Empty(t, store.OutboxEvents(models.OutboxPoint))

	ok, err := Handled(ctx, store.Repos(), models.OutboxPoint, 9, models.EventPointUsed)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Handled(ctx, store.Repos(), models.OutboxReservation, 9, models.EventPointUsed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplyRollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	err := store.InTx(ctx, func(repos *repository.Repositories) error {
		if err := Reply(ctx, repos, models.OutboxPoint, usePoint(3), time.Now()); err != nil {
			return err
		}
		return errors.New("wallet update failed")
	})
	require.Error(t, err)

	ok, err := Handled(ctx, store.Repos(), models.OutboxPoint, 3, models.EventUsePoint)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, store.OutboxEvents(models.OutboxPoint))
}

func TestCleanerDeletesOnlyOldPublishedRows(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now()
	enqueue(t, store, usePoint(1), now)
	enqueue(t, store, usePoint(2), now)
	enqueue(t, store, usePoint(3), now)

	repo := store.Repos().PaymentOutbox
	rows := store.OutboxEvents(models.OutboxPayment)
	require.NoError(t, repo.MarkPublished(ctx, rows[0].ID, now.Add(-8*24*time.Hour)))
	require.NoError(t, repo.MarkPublished(ctx, rows[1].ID, now.Add(-time.Hour)))
	require.NoError(t, repo.MarkFailed(ctx, rows[2].ID, "x", 1))

	cleaner := NewCleaner(store, 7*24*time.Hour)
	cleaner.now = func() time.Time { return now }

	n, err := cleaner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left := store.OutboxEvents(models.OutboxPayment)
	require.Len(t, left, 2)
	assert.Equal(t, rows[1].ID, left[0].ID)
	assert.Equal(t, models.OutboxFailed, left[1].Status)
}
