// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

// Package middleware provides HTTP middleware for the part server:
// API-key authentication, request logging, and rate limiting for the
// OAuth endpoints.
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/frc3322/Aerie-Part-Management/services/partserver/datatypes"
)

// apiKeyContextKey is where the presented API key is stored in the gin
// context for downstream handlers (the Onshape session is keyed by it).
const apiKeyContextKey = "aerie_api_key"

// SetAPIKey stores the caller's API key in the gin context.
func SetAPIKey(c *gin.Context, key string) {
	c.Set(apiKeyContextKey, key)
}

// GetAPIKey returns the caller's API key, or "" when the request was
// not authenticated.
func GetAPIKey(c *gin.Context) string {
	if v, exists := c.Get(apiKeyContextKey); exists {
		if key, ok := v.(string); ok {
			return key
		}
	}
	return ""
}

// APIKeyAuth authenticates requests against the configured secret key.
// The key may arrive in the X-API-Key header or as a bearer token.
// With an empty secret (development mode) every request passes and the
// presented key, if any, is still recorded for session lookups.
func APIKeyAuth(secretKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := extractAPIKey(c)

		if secretKey != "" {
			if subtle.ConstantTimeCompare([]byte(presented), []byte(secretKey)) != 1 {
				datatypes.AbortUnauthorized(c, "invalid or missing api key")
				return
			}
		}

		SetAPIKey(c, presented)
		c.Next()
	}
}

// extractAPIKey pulls the key from X-API-Key or a Bearer header.
func extractAPIKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
