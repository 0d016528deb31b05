package api

import (
	"fmt"
	"net/http"

	"ticketsaga/internal/app"
	"ticketsaga/internal/handlers"
	"ticketsaga/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server представляет HTTP сервер API
type Server struct {
	router *gin.Engine
	app    *app.App
}

// NewServer создает новый экземпляр сервера
func NewServer(a *app.App) *Server {
	gin.SetMode(a.Config.GinMode)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())

	server := &Server{router: router, app: a}
	server.setupRoutes()
	return server
}

// setupRoutes настраивает все API роуты
func (s *Server) setupRoutes() {
	h := handlers.NewHandlers(s.app.Services)

	// Пользователь приходит из X-User-ID, выставленного очередью допуска
	api := s.router.Group("/api")
	api.Use(middleware.AdmittedUser())
	api.Use(middleware.Timeout(s.app.Config.RequestTimeout))
	{
		reservations := api.Group("/reservations")
		{
			reservations.POST("", h.CreateReservation)
			reservations.GET("/:id", h.GetReservation)
		}

		payments := api.Group("/payments")
		{
			payments.POST("", h.CreatePayment)
			payments.GET("/:id", h.GetPayment)
		}

		points := api.Group("/points")
		{
			points.GET("", h.GetBalance)
			points.POST("/charge", h.ChargePoints)
			points.GET("/history", h.ListPointHistory)
		}
	}

	admin := s.router.Group("/admin")
	{
		admin.GET("/outbox/failed", h.ListFailedOutbox)
	}

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// healthCheck обрабатывает health check запросы
func (s *Server) healthCheck(c *gin.Context) {
	report, ok := s.app.Health(c.Request.Context())
	report["service"] = "ticketsaga-api"

	status := http.StatusOK
	report["status"] = "ok"
	if !ok {
		status = http.StatusServiceUnavailable
		report["status"] = "degraded"
	}
	c.JSON(status, report)
}

// Run запускает HTTP сервер
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.app.Config.Port))
}

// GetRouter возвращает роутер для тестирования
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Cleanup закрывает соединения
func (s *Server) Cleanup() error {
	return s.app.Close()
}
