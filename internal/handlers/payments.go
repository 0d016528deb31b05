package handlers

import (
	"net/http"
	"strconv"

	"ticketsaga/internal/models"

	"github.com/gin-gonic/gin"
)

// CreatePayment - POST /api/payments
// Оплатить бронирование баллами. Ответ 202: оплата завершается асинхронно
func (h *Handlers) CreatePayment(c *gin.Context) {
	var req models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.services.Payments.Create(c.Request.Context(), userID(c), req)
	if err != nil {
		respondError(c, "Failed to create payment", err)
		return
	}

	c.JSON(http.StatusAccepted, models.NewPaymentResponse(p))
}

// GetPayment - GET /api/payments/:id
// Получить статус платежа
func (h *Handlers) GetPayment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	p, err := h.services.Payments.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		respondError(c, "Failed to get payment", err)
		return
	}

	c.JSON(http.StatusOK, models.NewPaymentResponse(p))
}
