package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "ticketsaga/internal/errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPollInterval = 25 * time.Millisecond

// Lock is a held mutual-exclusion lock.
type Lock interface {
	Release(ctx context.Context) error
}

// releaseScript deletes the key only if it still holds our token, so a lock
// that outlived its lease is never released by its previous owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker is a single-instance Redis lock: SET NX PX with a random token.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client, prefix: "lock:"}
}

type redisLock struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Acquire waits up to wait for the lock and holds it for at most lease.
// Exceeding wait returns apperrors.ErrLocked.
func (l *RedisLocker) Acquire(ctx context.Context, key string, wait, lease time.Duration) (Lock, error) {
	fullKey := l.prefix + key
	token := uuid.New().String()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, lease).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return &redisLock{client: l.client, key: fullKey, token: token}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrLocked, key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (l *redisLock) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	return nil
}

// LocalLocker serializes callers within one process. Leases are not enforced.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

type localLock struct {
	slot chan struct{}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, wait, _ time.Duration) (Lock, error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		return &localLock{slot: slot}, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrLocked, key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *localLock) Release(context.Context) error {
	select {
	case <-l.slot:
	default:
	}
	return nil
}
