// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

// Package handlers implements the part server's HTTP endpoints as
// gin.HandlerFunc closures over their injected dependencies.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/frc3322/Aerie-Part-Management/store"
)

// HealthCheck reports liveness, including database reachability.
func HealthCheck(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "degraded",
				"error":  "database unreachable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
