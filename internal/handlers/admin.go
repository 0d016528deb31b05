package handlers

import (
	"net/http"
	"strconv"

	"ticketsaga/internal/models"

	"github.com/gin-gonic/gin"
)

// ListFailedOutbox - GET /admin/outbox/failed?service=payment
// События outbox, которые relay перестал отправлять
func (h *Handlers) ListFailedOutbox(c *gin.Context) {
	svc := models.OutboxService(c.DefaultQuery("service", string(models.OutboxPayment)))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	events, err := h.services.Outbox.ListFailed(c.Request.Context(), svc, limit)
	if err != nil {
		respondError(c, "Failed to list outbox events", err)
		return
	}

	c.JSON(http.StatusOK, models.OutboxEventsResponse{Service: svc, Events: events})
}
