package handlers

import (
	"errors"
	"net/http"

	apperrors "ticketsaga/internal/errors"
	"ticketsaga/internal/logger"
	"ticketsaga/internal/middleware"
	"ticketsaga/internal/service"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	services *service.Services
}

func NewHandlers(services *service.Services) *Handlers {
	return &Handlers{services: services}
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrSeatAlreadyHeld),
		errors.Is(err, apperrors.ErrAlreadyResolved),
		errors.Is(err, apperrors.ErrReservationExpired),
		errors.Is(err, apperrors.ErrInsufficientBalance),
		errors.Is(err, apperrors.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrLocked):
		return http.StatusLocked
	case errors.Is(err, apperrors.ErrTooManyRequests):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// respondError пишет ответ с ошибкой. Внутренние ошибки не раскрываются клиенту.
func respondError(c *gin.Context, msg string, err error) {
	status := errorStatus(err)
	log := logger.WithContext(c.Request.Context())

	if status == http.StatusInternalServerError {
		log.Error(msg, "error", err)
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	log.Info(msg, "status", status, "error", err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func userID(c *gin.Context) int64 {
	id, _ := middleware.UserIDFromContext(c.Request.Context())
	return id
}
