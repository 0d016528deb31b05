package outbox

import (
	"context"
	"log/slog"
	"time"

	"ticketsaga/internal/metrics"
	"ticketsaga/internal/models"
	"ticketsaga/internal/repository"
)

// Cleaner deletes PUBLISHED rows older than the retention from every outbox.
// FAILED rows are kept for operators.
type Cleaner struct {
	store     repository.Store
	retention time.Duration
	now       func() time.Time
}

func NewCleaner(store repository.Store, retention time.Duration) *Cleaner {
	return &Cleaner{store: store, retention: retention, now: time.Now}
}

func (c *Cleaner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := c.now().Add(-c.retention)
	repos := c.store.Repos()

	var total int64
	for _, svc := range models.OutboxServices {
		n, err := repos.Outbox(svc).DeletePublishedBefore(ctx, cutoff)
		if err != nil {
			return total, err
		}
		if n > 0 {
			metrics.OutboxCleaned.WithLabelValues(string(svc)).Add(float64(n))
			slog.Info("Cleaned published outbox rows", "service", svc, "deleted", n, "cutoff", cutoff)
		}
		total += n
	}
	return total, nil
}
