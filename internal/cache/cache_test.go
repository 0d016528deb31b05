package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "ticketsaga/internal/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedPayment struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestResultCacheRoundTripAndTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniRedis(t)
	c := NewResultCache(client)

	var got cachedPayment
	ok, err := c.Get(ctx, "payment:result:req-1", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "payment:result:req-1", cachedPayment{ID: 3, Status: "PENDING"}, time.Minute))

	ok, err = c.Get(ctx, "payment:result:req-1", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, cachedPayment{ID: 3, Status: "PENDING"}, got)

	mr.FastForward(2 * time.Minute)
	ok, err = c.Get(ctx, "payment:result:req-1", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLockerExcludesAndTimesOut(t *testing.T) {
	ctx := context.Background()
	_, client := newMiniRedis(t)
	locker := NewRedisLocker(client)

	lock, err := locker.Acquire(ctx, "reservation:1", time.Second, 10*time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "reservation:1", 60*time.Millisecond, 10*time.Second)
	assert.ErrorIs(t, err, apperrors.ErrLocked)

	other, err := locker.Acquire(ctx, "reservation:2", 60*time.Millisecond, 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lock.Release(ctx))
	again, err := locker.Acquire(ctx, "reservation:1", 60*time.Millisecond, 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedisLockReleaseKeepsForeignLock(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniRedis(t)
	locker := NewRedisLocker(client)

	stale, err := locker.Acquire(ctx, "point:user:7", time.Second, time.Second)
	require.NoError(t, err)

	// lease runs out and someone else takes the lock
	mr.FastForward(2 * time.Second)
	current, err := locker.Acquire(ctx, "point:user:7", time.Second, 10*time.Second)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists("lock:point:user:7"))

	require.NoError(t, current.Release(ctx))
	assert.False(t, mr.Exists("lock:point:user:7"))
}

func TestLocalLockerSerializes(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, err := locker.Acquire(ctx, "show:1:seats:1,2", 5*time.Second, time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, lock.Release(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", cachedPayment{ID: 1}, time.Minute))
	var got cachedPayment
	ok, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}
