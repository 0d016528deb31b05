package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBusy = errors.New("busy")

func isBusy(err error) bool { return errors.Is(err, errBusy) }

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	retries := 0
	p := Policy{MaxAttempts: 3, Delay: time.Millisecond, Retryable: isBusy, OnRetry: func(int, error) { retries++ }}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBusy
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestDoExhausted(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 4, Delay: time.Millisecond, Backoff: 2, Retryable: isBusy}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errBusy
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 4, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := errors.New("invalid amount")
	p := Policy{MaxAttempts: 5, Delay: time.Millisecond, Retryable: isBusy}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, Delay: time.Hour, Retryable: isBusy}

	err := p.Do(ctx, func(context.Context) error {
		cancel()
		return errBusy
	})

	assert.ErrorIs(t, err, context.Canceled)
}
