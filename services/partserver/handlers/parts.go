// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/frc3322/Aerie-Part-Management/pkg/logging"
	"github.com/frc3322/Aerie-Part-Management/services/partserver/datatypes"
	"github.com/frc3322/Aerie-Part-Management/store"
)

// partID parses the :id route parameter. A non-numeric id aborts with
// a 400 envelope and returns ok=false.
func partID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		datatypes.AbortBadRequest(c, "invalid part id")
		return 0, false
	}
	return id, true
}

// ListParts handles GET /api/parts with optional ?status= and ?search=
// filters.
func ListParts(s *store.Store, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := store.PartFilter{
			Status: c.Query("status"),
			Search: c.Query("search"),
		}
		parts, err := s.ListParts(c.Request.Context(), filter)
		if err != nil {
			log.Error("listing parts", "error", err)
			datatypes.AbortServerError(c, "failed to list parts")
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"parts": datatypes.NewPartListResponse(parts),
			"count": len(parts),
		})
	}
}

// CreatePart handles POST /api/parts.
func CreatePart(s *store.Store, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreatePartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			datatypes.AbortValidationError(c, err)
			return
		}

		part, err := s.CreatePart(c.Request.Context(), req.ToPart())
		if errors.Is(err, store.ErrDuplicatePartNumber) {
			datatypes.AbortConflict(c, "part number already exists", "part_number")
			return
		}
		if err != nil {
			log.Error("creating part", "part_number", req.PartNumber, "error", err)
			datatypes.AbortServerError(c, "failed to create part")
			return
		}

		log.Info("part created", "id", part.ID, "part_number", part.PartNumber)
		c.JSON(http.StatusCreated, datatypes.NewPartResponse(part))
	}
}

// GetPart handles GET /api/parts/:id.
func GetPart(s *store.Store, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := partID(c)
		if !ok {
			return
		}
		part, err := s.GetPart(c.Request.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			datatypes.AbortNotFound(c, "part not found")
			return
		}
		if err != nil {
			log.Error("fetching part", "id", id, "error", err)
			datatypes.AbortServerError(c, "failed to fetch part")
			return
		}
		c.JSON(http.StatusOK, datatypes.NewPartResponse(part))
	}
}

// UpdatePart handles PUT /api/parts/:id with a partial body.
func UpdatePart(s *store.Store, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := partID(c)
		if !ok {
			return
		}
		var req datatypes.UpdatePartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			datatypes.AbortValidationError(c, err)
			return
		}

		part, err := s.UpdatePart(c.Request.Context(), id, req.ToUpdate())
		if errors.Is(err, store.ErrNotFound) {
			datatypes.AbortNotFound(c, "part not found")
			return
		}
		if errors.Is(err, store.ErrDuplicatePartNumber) {
			datatypes.AbortConflict(c, "part number already exists", "part_number")
			return
		}
		if err != nil {
			log.Error("updating part", "id", id, "error", err)
			datatypes.AbortServerError(c, "failed to update part")
			return
		}

		log.Info("part updated", "id", part.ID)
		c.JSON(http.StatusOK, datatypes.NewPartResponse(part))
	}
}

// DeletePart handles DELETE /api/parts/:id.
func DeletePart(s *store.Store, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := partID(c)
		if !ok {
			return
		}
		err := s.DeletePart(c.Request.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			datatypes.AbortNotFound(c, "part not found")
			return
		}
		if err != nil {
			log.Error("deleting part", "id", id, "error", err)
			datatypes.AbortServerError(c, "failed to delete part")
			return
		}

		log.Info("part deleted", "id", id)
		c.JSON(http.StatusOK, gin.H{"message": "part deleted"})
	}
}
