package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ticketsaga/internal/app"
	"ticketsaga/internal/cache"
	"ticketsaga/internal/config"
	"ticketsaga/internal/idempotency"
	"ticketsaga/internal/repository/memory"
	"ticketsaga/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.Config{
		GinMode:        "test",
		StoreDriver:    "memory",
		RequestTimeout: time.Second,
		Hold:           config.HoldConfig{Duration: time.Minute, MaxSeatsPerRequest: 4},
		Wallet:         config.WalletConfig{RetryAttempts: 1},
	}
	store := memory.NewStore()
	gateway := idempotency.NewGateway(cache.NewMemoryCache(), cache.NewLocalLocker(), idempotency.Config{LockWait: time.Second})

	return NewServer(&app.App{
		Config:   cfg,
		Store:    store,
		Gateway:  gateway,
		Services: service.NewServices(store, gateway, cfg),
	})
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	s.GetRouter().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	s.GetRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresAdmittedUser(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/points", nil)
	s.GetRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/points", nil)
	req.Header.Set("X-User-ID", "5")
	s.GetRouter().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
