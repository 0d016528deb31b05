package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type OutboxPurger interface {
	RunOnce(ctx context.Context) (int64, error)
}

// OutboxCleanupJob periodically deletes published outbox rows past retention.
type OutboxCleanupJob struct {
	purger   OutboxPurger
	interval time.Duration
	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

func NewOutboxCleanupJob(purger OutboxPurger, interval time.Duration) *OutboxCleanupJob {
	return &OutboxCleanupJob{purger: purger, interval: interval, done: make(chan struct{})}
}

func (j *OutboxCleanupJob) Start(ctx context.Context) {
	slog.Info("Starting outbox cleanup job", "check_interval", j.interval)

	j.ticker = time.NewTicker(j.interval)
	go func() {
		for {
			select {
			case <-j.ticker.C:
				if _, err := j.purger.RunOnce(ctx); err != nil {
					slog.Error("Outbox cleanup failed", "error", err)
				}
			case <-ctx.Done():
				return
			case <-j.done:
				slog.Info("Outbox cleanup job stopped")
				return
			}
		}
	}()
}

func (j *OutboxCleanupJob) Stop() {
	j.stopOnce.Do(func() {
		if j.ticker != nil {
			j.ticker.Stop()
		}
		close(j.done)
	})
}
