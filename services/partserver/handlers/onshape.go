// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/frc3322/Aerie-Part-Management/onshape"
	"github.com/frc3322/Aerie-Part-Management/pkg/config"
	"github.com/frc3322/Aerie-Part-Management/pkg/logging"
	"github.com/frc3322/Aerie-Part-Management/services/partserver/datatypes"
	"github.com/frc3322/Aerie-Part-Management/services/partserver/middleware"
	"github.com/frc3322/Aerie-Part-Management/store"
)

// oauthErrorRedirect sends the browser back to the app with an error
// marker the frontend can surface.
func oauthErrorRedirect(c *gin.Context, reason string) {
	c.Redirect(http.StatusFound, "/?onshape_error="+url.QueryEscape(reason))
}

// OnshapeConnect handles GET /api/onshape/connect: issue a state token
// bound to the caller's API key and hand back the authorization URL.
func OnshapeConnect(mgr *onshape.Manager, oauth *onshape.OAuthClient, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if oauth == nil {
			datatypes.AbortServerError(c, "onshape oauth is not configured")
			return
		}
		state, err := mgr.GenerateState(middleware.GetAPIKey(c))
		if err != nil {
			log.Error("generating oauth state", "error", err)
			datatypes.AbortServerError(c, "failed to start onshape authorization")
			return
		}
		c.JSON(http.StatusOK, datatypes.ConnectResponse{
			AuthorizationURL: oauth.AuthorizationURL(state),
		})
	}
}

// OnshapeCallback handles GET /api/onshape/callback. Onshape redirects
// the browser here, so failures redirect back into the app instead of
// rendering JSON.
func OnshapeCallback(mgr *onshape.Manager, oauth *onshape.OAuthClient, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if reason := c.Query("error"); reason != "" {
			log.Warn("onshape authorization denied", "reason", reason)
			oauthErrorRedirect(c, reason)
			return
		}
		if oauth == nil {
			oauthErrorRedirect(c, "config")
			return
		}

		code := c.Query("code")
		state := c.Query("state")
		if code == "" || state == "" {
			datatypes.AbortBadRequest(c, "missing code or state parameter")
			return
		}

		appAPIKey, err := mgr.ValidateState(state)
		if err != nil {
			log.Warn("rejected oauth callback state")
			datatypes.AbortBadRequest(c, "invalid or expired state")
			return
		}

		ctx := c.Request.Context()
		token, err := oauth.Exchange(ctx, code)
		if err != nil {
			log.Error("exchanging onshape code", "error", err)
			oauthErrorRedirect(c, "callback_failed")
			return
		}

		var user onshape.UserInfo
		if info, err := oauth.FetchUserInfo(ctx, token.AccessToken); err != nil {
			log.Warn("fetching onshape user info", "error", err)
		} else {
			user = *info
		}

		if err := mgr.CreateSession(ctx, appAPIKey, token, user); err != nil {
			log.Error("storing onshape session", "error", err)
			oauthErrorRedirect(c, "callback_failed")
			return
		}

		log.Info("onshape connected", "user", user.Email)
		c.Redirect(http.StatusFound, "/?onshape_connected=true")
	}
}

// OnshapeStatus handles GET /api/onshape/status.
func OnshapeStatus(mgr *onshape.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := mgr.GetSession(c.Request.Context(), middleware.GetAPIKey(c))
		if err != nil {
			c.JSON(http.StatusOK, datatypes.OnshapeStatusResponse{Connected: false})
			return
		}
		authAt := session.AuthenticatedAt
		c.JSON(http.StatusOK, datatypes.OnshapeStatusResponse{
			Connected: true,
			User: &datatypes.OnshapeUser{
				ID:    session.User.ID,
				Email: session.User.Email,
				Name:  session.User.Name,
			},
			AuthenticatedAt: &authAt,
		})
	}
}

// OnshapeDisconnect handles POST /api/onshape/disconnect.
func OnshapeDisconnect(mgr *onshape.Manager, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := mgr.DeleteSession(c.Request.Context(), middleware.GetAPIKey(c)); err != nil {
			log.Error("deleting onshape session", "error", err)
			datatypes.AbortServerError(c, "failed to disconnect")
			return
		}
		c.JSON(http.StatusOK, datatypes.DisconnectResponse{
			Message: "onshape disconnected",
			Success: true,
		})
	}
}

// ImportDrawing handles POST /api/parts/:id/drawing/import: export the
// referenced Onshape drawing to PDF and attach it to the part. The
// caller's OAuth session is preferred; configured developer API keys
// are the fallback.
func ImportDrawing(s *store.Store, mgr *onshape.Manager, oauth *onshape.OAuthClient,
	cfg *config.Config, log *logging.Logger) gin.HandlerFunc {

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
			log.Error("fetching part for import", "id", id, "error", err)
			datatypes.AbortServerError(c, "failed to fetch part")
			return
		}

		var req datatypes.ImportDrawingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			datatypes.AbortValidationError(c, err)
			return
		}
		ref, err := onshape.ParseDrawingURL(req.DrawingURL)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: "not an onshape drawing url",
				Field: "drawing_url",
			})
			return
		}

		client, err := drawingClient(c, mgr, oauth, cfg)
		if err != nil {
			datatypes.AbortForbidden(c, "no onshape credentials; connect onshape first")
			return
		}

		ctx := c.Request.Context()
		name := drawingFilename(part.PartNumber, "pdf")
		pdf, err := client.ExportPDF(ctx, ref, name)
		if err != nil {
			log.Error("onshape drawing export", "id", id, "error", err)
			c.AbortWithStatusJSON(http.StatusBadGateway, datatypes.ErrorResponse{
				Error:   "onshape export failed",
				Details: err.Error(),
			})
			return
		}

		if err := writeDrawing(cfg.UploadFolder, name, pdf); err != nil {
			log.Error("writing imported drawing", "id", id, "error", err)
			datatypes.AbortServerError(c, "failed to store drawing")
			return
		}

		updated, err := setDrawingFile(c, s, part, name, cfg, log)
		if err != nil {
			return
		}

		log.Info("drawing imported from onshape", "id", id, "file", name)
		c.JSON(http.StatusOK, datatypes.ImportDrawingResponse{
			Message:     "drawing imported",
			DrawingFile: name,
			Part:        datatypes.NewPartResponse(updated),
		})
	}
}

// drawingClient picks credentials for an Onshape export: the caller's
// OAuth session when one exists, otherwise the developer API keys.
func drawingClient(c *gin.Context, mgr *onshape.Manager, oauth *onshape.OAuthClient,
	cfg *config.Config) (*onshape.DrawingClient, error) {

	key := middleware.GetAPIKey(c)
	if mgr.HasSession(c.Request.Context(), key) {
		return mgr.DrawingClientFor(key, oauth)
	}
	if cfg.OnshapeAccessKey != "" && cfg.OnshapeSecretKey != "" {
		return onshape.NewDrawingClient(cfg.OnshapeAPIBaseURL, nil,
			onshape.WithAPIKeys(cfg.OnshapeAccessKey, cfg.OnshapeSecretKey))
	}
	return nil, onshape.ErrSessionNotFound
}
