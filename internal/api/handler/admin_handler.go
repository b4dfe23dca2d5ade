package handler

import (
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kmowery/farewatch/internal/domain"
	"github.com/kmowery/farewatch/internal/logger"
	"github.com/kmowery/farewatch/internal/repository"
	"github.com/kmowery/farewatch/internal/scheduler"
	"gorm.io/gorm"
)

// AdminHandler exposes the scheduler's administrative surface: status
// introspection, the manual-trigger toggle, and trigger submission.
type AdminHandler struct {
	sched   *scheduler.Scheduler
	gateway *scheduler.TriggerGateway
	jobs    *repository.JobRepository
	logger  *logger.Logger
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - sched: scheduler orchestrator.
//   - gateway: manual trigger gateway.
//   - jobs: job repository.
//   - log: logger instance.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(sched *scheduler.Scheduler, gateway *scheduler.TriggerGateway, jobs *repository.JobRepository, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		sched:   sched,
		gateway: gateway,
		jobs:    jobs,
		logger:  log,
	}
}

// log returns a logger from Gin context if available, otherwise returns the default logger
func (h *AdminHandler) log(c *gin.Context) *logger.Logger {
	if l := logger.FromContext(c.Request.Context()); l != nil {
		return l
	}
	return h.logger
}

// Status returns the scheduler introspection snapshot.
func (h *AdminHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.sched.Status())
}

// Enable switches manual triggers on.
func (h *AdminHandler) Enable(c *gin.Context) {
	h.gateway.SetEnabled(true)
	c.JSON(http.StatusOK, gin.H{"triggers_enabled": true})
}

// Disable switches manual triggers off.
func (h *AdminHandler) Disable(c *gin.Context) {
	h.gateway.SetEnabled(false)
	c.JSON(http.StatusOK, gin.H{"triggers_enabled": false})
}

// TriggerUserRequest represents the user-trigger API request.
type TriggerUserRequest struct {
	UserEmail string `json:"user_email" binding:"required,email"`
}

// TriggerUser queues a check of all of one user's trips.
func (h *AdminHandler) TriggerUser(c *gin.Context) {
	var req TriggerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_email is required"})
		return
	}

	job, err := h.gateway.QueueUserTrigger(c.Request.Context(), req.UserEmail)
	if err != nil {
		h.rejectTrigger(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

// TriggerTrip queues a manual check of a single trip.
func (h *AdminHandler) TriggerTrip(c *gin.Context) {
	job, err := h.gateway.QueueManualCheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.rejectTrigger(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

// rejectTrigger maps gateway errors to structured responses: disabled and
// cooldown rejections carry their detail, everything else is a 500.
func (h *AdminHandler) rejectTrigger(c *gin.Context, err error) {
	var cooldown *scheduler.CooldownError
	switch {
	case errors.Is(err, scheduler.ErrTriggersDisabled):
		c.JSON(http.StatusForbidden, gin.H{
			"error": "manual triggers are disabled",
		})
	case errors.As(err, &cooldown):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":               "cooldown active",
			"retry_after_seconds": int(math.Ceil(cooldown.Remaining.Seconds())),
		})
	case errors.Is(err, domain.ErrJobMissingTrip), errors.Is(err, domain.ErrJobMissingUser):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log(c).WithError(err).Error("Failed to queue trigger")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue job"})
	}
}

// GetJob returns one job's status and outcome.
func (h *AdminHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}
	c.JSON(http.StatusOK, job)
}
