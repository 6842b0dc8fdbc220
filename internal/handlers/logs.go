package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"invoice-harvester-go/internal/models"
)

func limitParam(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid_limit", Message: "limit must be a positive integer", Code: http.StatusBadRequest})
		return 0, false
	}
	return n, true
}

// GetRuns returns the latest run logs
func (h *Handlers) GetRuns(c *gin.Context) {
	limit, ok := limitParam(c, 50)
	if !ok {
		return
	}
	logs, err := h.runs.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch runs",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, logs)
}

// GetInvoices returns the latest ledger rows, newest first
func (h *Handlers) GetInvoices(c *gin.Context) {
	limit, ok := limitParam(c, 100)
	if !ok {
		return
	}
	rows, err := h.ledger.FindRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "ledger_error",
			Message: "Failed to read ledger",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if rows == nil {
		rows = []models.LedgerRow{}
	}
	c.JSON(http.StatusOK, rows)
}
