package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartScheduler starts the reply poll scheduler
func (h *Handlers) StartScheduler(c *gin.Context) {
	if !h.requireScheduler(c) {
		return
	}
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// StopScheduler stops the reply poll scheduler
func (h *Handlers) StopScheduler(c *gin.Context) {
	if !h.requireScheduler(c) {
		return
	}
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// RunOnce triggers one reply poll cycle
func (h *Handlers) RunOnce(c *gin.Context) {
	if !h.requireScheduler(c) {
		return
	}
	h.scheduler.RunOnce()
	c.Status(http.StatusOK)
}

// GetSchedulerStatus returns scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusOK, gin.H{"status": "disabled"})
		return
	}
	status := "stopped"
	if h.scheduler.IsRunning() {
		status = "running"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"next_run": h.scheduler.GetNextRun(),
		"last_run": h.scheduler.GetLastRun(),
	})
}

func (h *Handlers) requireScheduler(c *gin.Context) bool {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "scheduler_disabled",
			Message: "Inbound polling is not enabled",
			Code:    http.StatusServiceUnavailable,
		})
		return false
	}
	return true
}
