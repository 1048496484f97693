// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/frc3322/Aerie-Part-Management/pkg/config"
	"github.com/frc3322/Aerie-Part-Management/pkg/logging"
	"github.com/frc3322/Aerie-Part-Management/services/partserver/datatypes"
	"github.com/frc3322/Aerie-Part-Management/store"
)

// drawingFilename builds a collision-free name for a stored drawing.
func drawingFilename(partNumber, ext string) string {
	return fmt.Sprintf("%s_%s.%s", partNumber, uuid.NewString()[:8], ext)
}

// writeDrawing stores drawing bytes in the upload folder.
func writeDrawing(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

// UploadDrawing handles POST /api/parts/:id/drawing (multipart field
// "file"). The extension allow-list and size cap come from config.
func UploadDrawing(s *store.Store, cfg *config.Config, log *logging.Logger) gin.HandlerFunc {
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
			log.Error("fetching part for upload", "id", id, "error", err)
			datatypes.AbortServerError(c, "failed to fetch part")
			return
		}

		file, err := c.FormFile("file")
		if err != nil {
			datatypes.AbortBadRequest(c, "missing file field")
			return
		}

		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Filename)), ".")
		if !cfg.AllowsExtension(ext) {
			c.AbortWithStatusJSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error:   "file type not allowed",
				Details: "allowed: " + strings.Join(cfg.AllowedExtensions, ", "),
				Field:   "file",
			})
			return
		}
		if cfg.MaxFileSize > 0 && file.Size > cfg.MaxFileSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, datatypes.ErrorResponse{
				Error:   "file too large",
				Details: fmt.Sprintf("limit is %d bytes", cfg.MaxFileSize),
				Field:   "file",
			})
			return
		}

		if err := os.MkdirAll(cfg.UploadFolder, 0o755); err != nil {
			log.Error("creating upload folder", "error", err)
			datatypes.AbortServerError(c, "failed to store drawing")
			return
		}
		name := drawingFilename(part.PartNumber, ext)
		if err := c.SaveUploadedFile(file, filepath.Join(cfg.UploadFolder, name)); err != nil {
			log.Error("saving uploaded drawing", "id", id, "error", err)
			datatypes.AbortServerError(c, "failed to store drawing")
			return
		}

		updated, err := setDrawingFile(c, s, part, name, cfg, log)
		if err != nil {
			return
		}
		log.Info("drawing uploaded", "id", id, "file", name)
		c.JSON(http.StatusOK, datatypes.NewPartResponse(updated))
	}
}

// setDrawingFile records the stored filename on the part, removing any
// previously stored drawing. Aborts the request on failure.
func setDrawingFile(c *gin.Context, s *store.Store, part *store.Part, name string,
	cfg *config.Config, log *logging.Logger) (*store.Part, error) {

	if part.DrawingFile != "" && part.DrawingFile != name {
		old := filepath.Join(cfg.UploadFolder, part.DrawingFile)
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			log.Warn("removing replaced drawing", "file", part.DrawingFile, "error", err)
		}
	}

	updated, err := s.UpdatePart(c.Request.Context(), part.ID, store.PartUpdate{DrawingFile: &name})
	if err != nil {
		log.Error("recording drawing file", "id", part.ID, "error", err)
		datatypes.AbortServerError(c, "failed to record drawing")
		return nil, err
	}
	return updated, nil
}

// DownloadDrawing handles GET /api/parts/:id/drawing.
func DownloadDrawing(s *store.Store, cfg *config.Config, log *logging.Logger) gin.HandlerFunc {
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
			log.Error("fetching part for download", "id", id, "error", err)
			datatypes.AbortServerError(c, "failed to fetch part")
			return
		}
		if part.DrawingFile == "" {
			datatypes.AbortNotFound(c, "part has no drawing")
			return
		}

		path := filepath.Join(cfg.UploadFolder, filepath.Base(part.DrawingFile))
		if _, err := os.Stat(path); err != nil {
			log.Warn("drawing file missing on disk", "id", id, "file", part.DrawingFile)
			datatypes.AbortNotFound(c, "drawing file missing")
			return
		}
		c.FileAttachment(path, part.DrawingFile)
	}
}
