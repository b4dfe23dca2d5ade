package api

import (
	"github.com/gin-gonic/gin"
	"github.com/kmowery/farewatch/internal/api/handler"
	"github.com/kmowery/farewatch/internal/api/middleware"
	"github.com/kmowery/farewatch/internal/config"
	"github.com/kmowery/farewatch/internal/logger"
	"github.com/kmowery/farewatch/internal/repository"
	"github.com/kmowery/farewatch/internal/scheduler"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	sched *scheduler.Scheduler,
	gateway *scheduler.TriggerGateway,
	trips *repository.TripRepository,
	alerts *repository.AlertRepository,
	jobs *repository.JobRepository,
	cfg *config.Config,
	log *logger.Logger,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	tripHandler := handler.NewTripHandler(trips, alerts)
	adminHandler := handler.NewAdminHandler(sched, gateway, jobs, log)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Trips (read-only scheduling/price views)
		v1.GET("/trips", tripHandler.ListTrips)
		v1.GET("/trips/:id", tripHandler.GetTrip)
		v1.GET("/trips/:id/alerts", tripHandler.ListTripAlerts)

		// Manual checks
		v1.POST("/trips/:id/check", adminHandler.TriggerTrip)
		v1.POST("/checks", adminHandler.TriggerUser)
		v1.GET("/jobs/:id", adminHandler.GetJob)

		// Admin
		admin := v1.Group("/admin")
		{
			admin.GET("/status", adminHandler.Status)
			admin.POST("/enable", adminHandler.Enable)
			admin.POST("/disable", adminHandler.Disable)
		}
	}

	return r
}
