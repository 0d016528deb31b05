package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HoldExpirer releases lapsed seat holds in batches.
type HoldExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int64, error)
}

// ReservationExpirationJob sweeps HOLD seats whose reservation has lapsed so
// their slots are free even when nobody tries to take them.
type ReservationExpirationJob struct {
	expirer  HoldExpirer
	interval time.Duration
	batch    int
	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

const defaultExpiryBatch = 500

func NewReservationExpirationJob(expirer HoldExpirer, interval time.Duration, batch int) *ReservationExpirationJob {
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &ReservationExpirationJob{
		expirer:  expirer,
		interval: interval,
		batch:    batch,
		done:     make(chan struct{}),
	}
}

// Start runs a sweep immediately and then on every tick.
func (j *ReservationExpirationJob) Start(ctx context.Context) {
	slog.Info("Starting reservation expiration job", "check_interval", j.interval, "batch", j.batch)

	j.ticker = time.NewTicker(j.interval)

	go j.sweep(ctx)

	go func() {
		for {
			select {
			case <-j.ticker.C:
				j.sweep(ctx)
			case <-ctx.Done():
				return
			case <-j.done:
				slog.Info("Reservation expiration job stopped")
				return
			}
		}
	}()
}

func (j *ReservationExpirationJob) Stop() {
	j.stopOnce.Do(func() {
		if j.ticker != nil {
			j.ticker.Stop()
		}
		close(j.done)
	})
}

// sweep keeps expiring full batches until the backlog is gone.
func (j *ReservationExpirationJob) sweep(ctx context.Context) {
	var total int64
	for {
		n, err := j.expirer.ExpireStale(ctx, j.batch)
		if err != nil {
			slog.Error("Failed to expire stale holds", "error", err, "expired_so_far", total)
			return
		}
		total += n
		if n < int64(j.batch) || ctx.Err() != nil {
			break
		}
	}

	if total == 0 {
		slog.Debug("No stale holds found")
		return
	}
	slog.Info("Expired stale holds", "seats", total)
}
