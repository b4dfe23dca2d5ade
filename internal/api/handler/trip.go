package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kmowery/farewatch/internal/repository"
	"gorm.io/gorm"
)

// TripHandler serves read-only trip views: scheduling state, price facts,
// and the alert trail.
type TripHandler struct {
	trips  *repository.TripRepository
	alerts *repository.AlertRepository
}

// NewTripHandler creates a new trip handler.
// Parameters:
//   - trips: trip repository.
//   - alerts: alert repository.
// Returns:
//   - *TripHandler: initialized handler.
func NewTripHandler(trips *repository.TripRepository, alerts *repository.AlertRepository) *TripHandler {
	return &TripHandler{
		trips:  trips,
		alerts: alerts,
	}
}

// GetTrip returns one trip with its scheduling state and price history.
func (h *TripHandler) GetTrip(c *gin.Context) {
	trip, err := h.trips.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "trip not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trip"})
		return
	}
	c.JSON(http.StatusOK, trip)
}

// ListTrips returns a user's trips.
func (h *TripHandler) ListTrips(c *gin.Context) {
	userEmail := c.Query("user_email")
	if userEmail == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_email is required"})
		return
	}

	trips, err := h.trips.ListByUser(c.Request.Context(), userEmail)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list trips"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trips": trips,
		"count": len(trips),
	})
}

// ListTripAlerts returns a trip's alert records, newest first.
func (h *TripHandler) ListTripAlerts(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	recs, err := h.alerts.ListByTrip(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": recs,
		"count":  len(recs),
	})
}
