// Package app assembles the storage, cache, gateway and services shared by the
// API and the consumer binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ticketsaga/internal/cache"
	"ticketsaga/internal/config"
	"ticketsaga/internal/database"
	"ticketsaga/internal/idempotency"
	"ticketsaga/internal/models"
	"ticketsaga/internal/repository"
	"ticketsaga/internal/repository/memory"
	"ticketsaga/internal/service"

	"github.com/redis/go-redis/v9"
)

type App struct {
	Config   *config.Config
	DB       *database.DB // nil for the memory store
	Redis    *redis.Client
	Store    repository.Store
	Gateway  *idempotency.Gateway
	Services *service.Services
}

func New(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	switch cfg.StoreDriver {
	case "postgres", "":
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		a.DB = db
		a.Store = repository.NewPostgresStore(db, cfg.Wallet.LockTimeout)
	case "memory":
		store := memory.NewStore()
		seedDemoCatalog(store)
		a.Store = store
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	var (
		resultCache idempotency.Cache
		locker      idempotency.Locker
	)
	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
		resultCache = cache.NewResultCache(client)
		locker = cache.NewRedisLocker(client)
	} else {
		slog.Warn("REDIS_ADDR is empty, using in-process cache and locks")
		resultCache = cache.NewMemoryCache()
		locker = cache.NewLocalLocker()
	}

	a.Gateway = idempotency.NewGateway(resultCache, locker, idempotency.Config{
		LockWait:  cfg.Gateway.LockWait,
		LockLease: cfg.Gateway.LockLease,
		CacheTTL:  cfg.Gateway.ResultCacheTTL,
	})
	a.Services = service.NewServices(a.Store, a.Gateway, cfg)
	return a, nil
}

// Health reports every backing dependency. ok is false if any is down.
func (a *App) Health(ctx context.Context) (map[string]any, bool) {
	report := map[string]any{"store": a.Config.StoreDriver}
	ok := true

	if a.DB != nil {
		hc := a.DB.HealthCheck(ctx)
		report["database"] = hc
		ok = ok && hc.Status == "healthy"
	}
	if a.Redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := a.Redis.Ping(pingCtx).Err(); err != nil {
			report["redis"] = err.Error()
			ok = false
		} else {
			report["redis"] = "healthy"
		}
	}
	return report, ok
}

func (a *App) Close() error {
	var firstErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			firstErr = err
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// seedDemoCatalog gives the memory store one show to book against.
func seedDemoCatalog(store *memory.Store) {
	seats := make([]models.ShowSeat, 0, 100)
	for id := int64(1); id <= 100; id++ {
		price := int64(1000)
		if id <= 20 {
			price = 3000
		}
		seats = append(seats, models.ShowSeat{SeatID: id, Price: price})
	}
	store.AddShow(models.Show{ID: 1, ConcertID: 1, StartsAt: time.Now().Add(7 * 24 * time.Hour)}, seats...)
	slog.Info("Seeded demo catalog", "show_id", 1, "seats", len(seats))
}
