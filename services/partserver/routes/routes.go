// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

// Package routes registers the part server's endpoints.
package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/frc3322/Aerie-Part-Management/onshape"
	"github.com/frc3322/Aerie-Part-Management/pkg/config"
	"github.com/frc3322/Aerie-Part-Management/pkg/logging"
	"github.com/frc3322/Aerie-Part-Management/services/partserver/handlers"
	"github.com/frc3322/Aerie-Part-Management/services/partserver/middleware"
	"github.com/frc3322/Aerie-Part-Management/services/partserver/observability"
	"github.com/frc3322/Aerie-Part-Management/store"
)

// Dependencies carries everything the handlers need.
type Dependencies struct {
	Config       *config.Config
	Store        *store.Store
	Manager      *onshape.Manager
	OAuth        *onshape.OAuthClient // nil when not configured
	Scheduler    *store.BackupScheduler
	Metrics      *observability.Metrics
	OAuthLimiter *middleware.RateLimiter
	Log          *logging.Logger
}

// SetupRoutes wires every endpoint onto the engine under BASE_PATH.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	base := router.Group(deps.Config.BasePath)

	base.GET("/health", handlers.HealthCheck(deps.Store))
	base.GET("/metrics", deps.Metrics.Handler())

	auth := middleware.APIKeyAuth(deps.Config.SecretKey)

	api := base.Group("/api")
	{
		parts := api.Group("/parts", auth)
		{
			parts.GET("", handlers.ListParts(deps.Store, deps.Log))
			parts.POST("", handlers.CreatePart(deps.Store, deps.Log))
			parts.GET("/:id", handlers.GetPart(deps.Store, deps.Log))
			parts.PUT("/:id", handlers.UpdatePart(deps.Store, deps.Log))
			parts.DELETE("/:id", handlers.DeletePart(deps.Store, deps.Log))

			parts.POST("/:id/drawing", handlers.UploadDrawing(deps.Store, deps.Config, deps.Log))
			parts.GET("/:id/drawing", handlers.DownloadDrawing(deps.Store, deps.Config, deps.Log))
			parts.POST("/:id/drawing/import",
				handlers.ImportDrawing(deps.Store, deps.Manager, deps.OAuth, deps.Config, deps.Log))
		}

		onshapeGroup := api.Group("/onshape", deps.OAuthLimiter.Middleware())
		{
			onshapeGroup.GET("/connect", auth,
				handlers.OnshapeConnect(deps.Manager, deps.OAuth, deps.Log))
			// The callback arrives from the user's browser without our
			// API key; the signed state authenticates the flow.
			onshapeGroup.GET("/callback",
				handlers.OnshapeCallback(deps.Manager, deps.OAuth, deps.Log))
			onshapeGroup.GET("/status", auth, handlers.OnshapeStatus(deps.Manager))
			onshapeGroup.POST("/disconnect", auth,
				handlers.OnshapeDisconnect(deps.Manager, deps.Log))
		}

		backups := api.Group("/backups", auth)
		{
			backups.GET("/status", handlers.BackupStatus(deps.Scheduler))
			backups.POST("/force", handlers.ForceBackup(deps.Scheduler, deps.Log))
		}
	}
}
