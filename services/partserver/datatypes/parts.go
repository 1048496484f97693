// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

// Package datatypes defines the request and response shapes of the
// part management API. Request types carry validator tags enforced by
// gin's binding layer.
package datatypes

import (
	"database/sql"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/frc3322/Aerie-Part-Management/store"
)

// PartStatuses are the workflow states a part moves through.
var PartStatuses = []string{"design", "review", "machining", "done"}

// partNumberPattern accepts team part numbers like "3322-0042" plus an
// optional revision suffix ("3322-0042-A").
var partNumberPattern = regexp.MustCompile(`^[0-9]{2,5}-[0-9A-Za-z]{1,8}(-[A-Za-z0-9]{1,4})?$`)

// PartNumberValidator backs the `partnumber` validation tag.
func PartNumberValidator(fl validator.FieldLevel) bool {
	return partNumberPattern.MatchString(fl.Field().String())
}

// RegisterValidators installs custom validation tags on the validator
// engine gin binds with.
func RegisterValidators(v *validator.Validate) error {
	return v.RegisterValidation("partnumber", PartNumberValidator)
}

// CreatePartRequest is the body of POST /api/parts.
type CreatePartRequest struct {
	PartNumber        string `json:"part_number" binding:"required,partnumber"`
	Name              string `json:"name" binding:"required,min=1,max=200"`
	Description       string `json:"description" binding:"max=2000"`
	Material          string `json:"material" binding:"max=200"`
	MaterialThickness string `json:"material_thickness" binding:"max=50"`
	Quantity          *int   `json:"quantity" binding:"omitempty,min=0"`
	Status            string `json:"status" binding:"omitempty,oneof=design review machining done"`
	OnshapeURL        string `json:"onshape_url" binding:"omitempty,url,max=500"`
}

// ToPart converts the request into a store row.
func (r *CreatePartRequest) ToPart() *store.Part {
	part := &store.Part{
		PartNumber:  r.PartNumber,
		Name:        r.Name,
		Description: r.Description,
		Material:    r.Material,
		Quantity:    1,
		Status:      "design",
		OnshapeURL:  r.OnshapeURL,
	}
	if r.MaterialThickness != "" {
		part.MaterialThickness = sql.NullString{String: r.MaterialThickness, Valid: true}
	}
	if r.Quantity != nil {
		part.Quantity = *r.Quantity
	}
	if r.Status != "" {
		part.Status = r.Status
	}
	return part
}

// UpdatePartRequest is the body of PUT /api/parts/:id. Absent fields
// leave the stored value alone.
type UpdatePartRequest struct {
	Name              *string `json:"name" binding:"omitempty,min=1,max=200"`
	Description       *string `json:"description" binding:"omitempty,max=2000"`
	Material          *string `json:"material" binding:"omitempty,max=200"`
	MaterialThickness *string `json:"material_thickness" binding:"omitempty,max=50"`
	Quantity          *int    `json:"quantity" binding:"omitempty,min=0"`
	Status            *string `json:"status" binding:"omitempty,oneof=design review machining done"`
	OnshapeURL        *string `json:"onshape_url" binding:"omitempty,max=500"`
}

// ToUpdate converts the request into a store update.
func (r *UpdatePartRequest) ToUpdate() store.PartUpdate {
	return store.PartUpdate{
		Name:              r.Name,
		Description:       r.Description,
		Material:          r.Material,
		MaterialThickness: r.MaterialThickness,
		Quantity:          r.Quantity,
		Status:            r.Status,
		OnshapeURL:        r.OnshapeURL,
	}
}

// PartResponse is the JSON shape of a part.
type PartResponse struct {
	ID                int64     `json:"id"`
	PartNumber        string    `json:"part_number"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Material          string    `json:"material"`
	MaterialThickness *string   `json:"material_thickness"`
	Quantity          int       `json:"quantity"`
	Status            string    `json:"status"`
	OnshapeURL        string    `json:"onshape_url"`
	DrawingFile       string    `json:"drawing_file"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewPartResponse maps a store row to its JSON shape.
func NewPartResponse(p *store.Part) PartResponse {
	resp := PartResponse{
		ID:          p.ID,
		PartNumber:  p.PartNumber,
		Name:        p.Name,
		Description: p.Description,
		Material:    p.Material,
		Quantity:    p.Quantity,
		Status:      p.Status,
		OnshapeURL:  p.OnshapeURL,
		DrawingFile: p.DrawingFile,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.MaterialThickness.Valid {
		resp.MaterialThickness = &p.MaterialThickness.String
	}
	return resp
}

// NewPartListResponse maps a slice of rows.
func NewPartListResponse(parts []*store.Part) []PartResponse {
	out := make([]PartResponse, 0, len(parts))
	for _, p := range parts {
		out = append(out, NewPartResponse(p))
	}
	return out
}
