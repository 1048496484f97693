// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package datatypes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// ErrorResponse is the JSON envelope every API error uses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
}

// AbortValidationError renders a 400 envelope. When err is a validator
// error the offending field and rule land in the response.
func AbortValidationError(c *gin.Context, err error) {
	resp := ErrorResponse{Error: "validation failed", Details: err.Error()}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		resp.Field = first.Field()
		resp.Details = "failed on the '" + first.Tag() + "' rule"
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, resp)
}

// AbortBadRequest renders a 400 envelope with a fixed message.
func AbortBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: message})
}

// AbortNotFound renders a 404 envelope.
func AbortNotFound(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Error: message})
}

// AbortUnauthorized renders a 401 envelope.
func AbortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: message})
}

// AbortForbidden renders a 403 envelope.
func AbortForbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: message})
}

// AbortConflict renders a 409 envelope, optionally naming the field.
func AbortConflict(c *gin.Context, message, field string) {
	c.AbortWithStatusJSON(http.StatusConflict, ErrorResponse{Error: message, Field: field})
}

// AbortServerError renders a 500 envelope. Internal details stay out
// of the response; log them instead.
func AbortServerError(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: message})
}
