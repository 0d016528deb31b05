package handlers

import (
	"net/http"
	"strconv"

	"ticketsaga/internal/models"

	"github.com/gin-gonic/gin"
)

// GetBalance - GET /api/points
// Получить баланс баллов
func (h *Handlers) GetBalance(c *gin.Context) {
	uid := userID(c)
	balance, err := h.services.Wallet.Balance(c.Request.Context(), uid)
	if err != nil {
		respondError(c, "Failed to get balance", err)
		return
	}

	c.JSON(http.StatusOK, models.PointBalanceResponse{UserID: uid, Balance: balance})
}

// ChargePoints - POST /api/points/charge
// Пополнить баллы
func (h *Handlers) ChargePoints(c *gin.Context) {
	var req models.ChargePointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	uid := userID(c)
	res, err := h.services.Wallet.Charge(c.Request.Context(), uid, req)
	if err != nil {
		respondError(c, "Failed to charge points", err)
		return
	}

	c.JSON(http.StatusOK, models.PointBalanceResponse{UserID: uid, Balance: res.Balance})
}

// ListPointHistory - GET /api/points/history
// Получить историю изменений баланса
func (h *Handlers) ListPointHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}

	history, err := h.services.Wallet.History(c.Request.Context(), userID(c), limit)
	if err != nil {
		respondError(c, "Failed to list point history", err)
		return
	}

	c.JSON(http.StatusOK, models.PointHistoryResponse(history))
}
