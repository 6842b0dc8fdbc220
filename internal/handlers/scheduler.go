package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"invoice-harvester-go/internal/models"
	"invoice-harvester-go/internal/scheduler"
)

// StartScheduler starts the periodic trigger
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// StopScheduler stops the periodic trigger
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// RunOnce starts a manual run. With ?wait=true the request blocks and
// returns the run summary; otherwise the run continues in the background.
func (h *Handlers) RunOnce(c *gin.Context) {
	if h.scheduler.Busy() {
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "busy", Message: scheduler.ErrBusy.Error(), Code: http.StatusConflict})
		return
	}

	if c.Query("wait") != "true" {
		go func() {
			if _, err := h.scheduler.RunOnce(context.Background()); err != nil && !errors.Is(err, scheduler.ErrBusy) {
				logrus.WithError(err).Error("Manual run failed")
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"status": "started"})
		return
	}

	summary, err := h.scheduler.RunOnce(c.Request.Context())
	if errors.Is(err, scheduler.ErrBusy) {
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "busy", Message: err.Error(), Code: http.StatusConflict})
		return
	}
	if err != nil {
		resp := gin.H{"error": err.Error()}
		if summary != nil {
			resp["summary"] = models.NewSummaryResponse(summary)
		}
		c.JSON(http.StatusInternalServerError, resp)
		return
	}
	c.JSON(http.StatusOK, models.NewSummaryResponse(summary))
}

// GetSchedulerStatus returns scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	status := "stopped"
	if h.scheduler.IsRunning() {
		status = "running"
	}
	resp := gin.H{
		"status":   status,
		"busy":     h.scheduler.Busy(),
		"next_run": h.scheduler.GetNextRun(),
		"last_run": h.scheduler.GetLastRun(),
	}
	if at := h.scheduler.PendingContinuation(); !at.IsZero() {
		resp["continuation_at"] = at
	}
	if last := h.scheduler.LastSummary(); last != nil {
		resp["last_summary"] = models.NewSummaryResponse(last)
	}
	c.JSON(http.StatusOK, resp)
}
