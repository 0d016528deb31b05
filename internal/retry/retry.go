package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrExhausted wraps the last error once every attempt failed with a retryable error.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy retries an operation while Retryable classifies its error as transient.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// Backoff multiplies the delay after each attempt. Values below 1 mean a fixed delay.
	Backoff   float64
	Retryable func(error) bool
	// OnRetry is called before sleeping, e.g. to count contention.
	OnRetry func(attempt int, err error)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts run out.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		slog.Debug("Retrying operation", "attempt", attempt, "max_attempts", attempts, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if p.Backoff > 1 {
			delay = time.Duration(float64(delay) * p.Backoff)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}
