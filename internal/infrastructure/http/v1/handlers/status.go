package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rangescan/internal/domain/scheduler"
	"rangescan/internal/infrastructure/http/v1/dto"
)

// SchedulerView is the read-only part of the scheduler the status page shows.
type SchedulerView interface {
	Stats() scheduler.Stats
	SelfReport() scheduler.SelfReport
}

// StatusHandler exposes scheduler counters.
type StatusHandler struct {
	view SchedulerView
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(view SchedulerView) *StatusHandler {
	return &StatusHandler{view: view}
}

// Get returns counters, the active range and recent self transitions.
// GET /status
func (h *StatusHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, dto.FromScheduler(h.view.Stats(), h.view.SelfReport()))
}

// SchedulerControl pauses and resumes the allocation loop.
type SchedulerControl interface {
	Pause() bool
	Resume() bool
	Running() bool
}

// ControlHandler lets operators stop allocation without stopping the process.
type ControlHandler struct {
	control SchedulerControl
}

// NewControlHandler creates a control handler.
func NewControlHandler(control SchedulerControl) *ControlHandler {
	return &ControlHandler{control: control}
}

// Pause stops the loop after the in-flight allocation.
// POST /api/v1/scheduler/pause
func (h *ControlHandler) Pause(c *gin.Context) {
	changed := h.control.Pause()
	c.JSON(http.StatusOK, dto.SchedulerControlResponse{Running: h.control.Running(), Changed: changed})
}

// Resume restarts a paused loop.
// POST /api/v1/scheduler/resume
func (h *ControlHandler) Resume(c *gin.Context) {
	changed := h.control.Resume()
	c.JSON(http.StatusOK, dto.SchedulerControlResponse{Running: h.control.Running(), Changed: changed})
}
