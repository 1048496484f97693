// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package datatypes

import "time"

// ConnectResponse carries the Onshape authorization redirect target.
type ConnectResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// OnshapeUser mirrors the stored sessioninfo subset.
type OnshapeUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// OnshapeStatusResponse reports whether an Onshape session exists for
// the calling API key.
type OnshapeStatusResponse struct {
	Connected       bool         `json:"connected"`
	User            *OnshapeUser `json:"user,omitempty"`
	AuthenticatedAt *time.Time   `json:"authenticated_at,omitempty"`
}

// DisconnectResponse acknowledges an Onshape disconnect.
type DisconnectResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// ImportDrawingRequest is the body of POST /api/parts/:id/drawing/import.
type ImportDrawingRequest struct {
	DrawingURL string `json:"drawing_url" binding:"required,url"`
}

// ImportDrawingResponse reports a finished drawing import.
type ImportDrawingResponse struct {
	Message     string       `json:"message"`
	DrawingFile string       `json:"drawing_file"`
	Part        PartResponse `json:"part"`
}
