// Package idempotency makes the first step of a saga safe under concurrent
// duplicate requests. Execute answers from, in order: the result cache, the
// idempotency key store, and finally the use case itself run under a named lock.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"ticketsaga/internal/cache"
	"ticketsaga/internal/database"
	"ticketsaga/internal/logger"
	"ticketsaga/internal/metrics"
)

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type Locker interface {
	Acquire(ctx context.Context, key string, wait, lease time.Duration) (cache.Lock, error)
}

type Config struct {
	LockWait  time.Duration
	LockLease time.Duration
	CacheTTL  time.Duration
}

type Gateway struct {
	cache  Cache
	locker Locker
	cfg    Config
}

func NewGateway(c Cache, locker Locker, cfg Config) *Gateway {
	return &Gateway{cache: c, locker: locker, cfg: cfg}
}

// Request describes one idempotent operation.
type Request[T any] struct {
	// Operation labels metrics and logs, e.g. "payment".
	Operation string
	CacheKey  string
	LockKey   string
	// Lookup resolves the idempotency key to the stored resource, nil if absent.
	Lookup func(ctx context.Context) (*T, error)
	// Accept rejects a cached value that must not be served to this caller.
	Accept func(*T) bool
	// Run executes the use case. It must write the idempotency key in the
	// same transaction as the resource.
	Run func(ctx context.Context) (*T, error)
}

func Execute[T any](ctx context.Context, g *Gateway, req Request[T]) (*T, error) {
	log := logger.WithContext(ctx).With("operation", req.Operation, "lock_key", req.LockKey)

	if cached, ok := cachedResult(ctx, g, req); ok {
		metrics.GatewayRequests.WithLabelValues(req.Operation, metrics.PathCache).Inc()
		return cached, nil
	}

	existing, err := req.Lookup(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	if existing != nil {
		metrics.GatewayRequests.WithLabelValues(req.Operation, metrics.PathIdempotency).Inc()
		g.store(ctx, req.CacheKey, existing)
		return existing, nil
	}

	lock, err := g.locker.Acquire(ctx, req.LockKey, g.cfg.LockWait, g.cfg.LockLease)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to release lock", "error", err)
		}
	}()

	// A caller that waited behind the lock usually finds the winner's key here.
	if existing, err = req.Lookup(ctx); err != nil {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	if existing != nil {
		metrics.GatewayRequests.WithLabelValues(req.Operation, metrics.PathIdempotency).Inc()
		g.store(ctx, req.CacheKey, existing)
		return existing, nil
	}

	result, err := req.Run(ctx)
	if err != nil {
		if !database.IsUniqueViolation(err) {
			return nil, err
		}
		recovered, lookupErr := req.Lookup(ctx)
		if lookupErr != nil {
			return nil, fmt.Errorf("failed to re-check idempotency key: %w", lookupErr)
		}
		if recovered == nil {
			log.Error("Unique violation without a matching idempotency key", "error", err)
			return nil, fmt.Errorf("%s: %w", req.Operation, err)
		}
		metrics.GatewayRequests.WithLabelValues(req.Operation, metrics.PathRecovered).Inc()
		g.store(ctx, req.CacheKey, recovered)
		return recovered, nil
	}

	metrics.GatewayRequests.WithLabelValues(req.Operation, metrics.PathExecuted).Inc()
	g.store(ctx, req.CacheKey, result)
	return result, nil
}

func cachedResult[T any](ctx context.Context, g *Gateway, req Request[T]) (*T, bool) {
	var cached T
	ok, err := g.cache.Get(ctx, req.CacheKey, &cached)
	if err != nil {
		logger.WithContext(ctx).Warn("Result cache read failed", "key", req.CacheKey, "error", err)
		return nil, false
	}
	if !ok || (req.Accept != nil && !req.Accept(&cached)) {
		return nil, false
	}
	return &cached, true
}

// store is best effort: the idempotency key already guarantees correctness.
func (g *Gateway) store(ctx context.Context, key string, value any) {
	if err := g.cache.Set(ctx, key, value, g.cfg.CacheTTL); err != nil {
		logger.WithContext(ctx).Warn("Result cache write failed", "key", key, "error", err)
	}
}
