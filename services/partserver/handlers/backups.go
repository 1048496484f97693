// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/frc3322/Aerie-Part-Management/pkg/logging"
	"github.com/frc3322/Aerie-Part-Management/services/partserver/datatypes"
	"github.com/frc3322/Aerie-Part-Management/store"
)

// BackupStatus handles GET /api/backups/status.
func BackupStatus(scheduler *store.BackupScheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, scheduler.Status())
	}
}

// ForceBackup handles POST /api/backups/force.
func ForceBackup(scheduler *store.BackupScheduler, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, err := scheduler.ForceBackup(c.Request.Context())
		if err != nil {
			log.Error("forced backup", "error", err)
			datatypes.AbortServerError(c, "backup failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "backup created",
			"path":    path,
		})
	}
}
