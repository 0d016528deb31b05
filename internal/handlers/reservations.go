package handlers

import (
	"net/http"
	"strconv"

	"ticketsaga/internal/models"

	"github.com/gin-gonic/gin"
)

// CreateReservation - POST /api/reservations
// Забронировать места на сеанс
func (h *Handlers) CreateReservation(c *gin.Context) {
	var req models.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := h.services.Reservations.Hold(c.Request.Context(), userID(c), req)
	if err != nil {
		respondError(c, "Failed to create reservation", err)
		return
	}

	c.JSON(http.StatusCreated, models.NewReservationResponse(r))
}

// GetReservation - GET /api/reservations/:id
// Получить бронирование
func (h *Handlers) GetReservation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation id"})
		return
	}

	r, err := h.services.Reservations.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		respondError(c, "Failed to get reservation", err)
		return
	}

	c.JSON(http.StatusOK, models.NewReservationResponse(r))
}
