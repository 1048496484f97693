// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

// Package onshape integrates the part management backend with the
// Onshape CAD platform: the OAuth 2.0 authorization-code flow, a
// session manager that ties Onshape grants to app API keys, and a
// drawing export client built on Onshape's translations API.
package onshape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultScopes are requested on every authorization. OAuth2Read is
// needed for document access, OAuth2ReadPII for the user's profile.
var DefaultScopes = []string{"OAuth2Read", "OAuth2ReadPII"}

// ErrOAuthNotConfigured is returned when the OAuth application
// settings are incomplete.
var ErrOAuthNotConfigured = errors.New("onshape oauth is not configured")

// UserInfo is the subset of Onshape's sessioninfo payload we keep.
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// OAuthConfig carries the Onshape OAuth application settings.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// BaseURL is the OAuth host (default https://oauth.onshape.com).
	BaseURL string
	// APIBaseURL is the API host (default https://cad.onshape.com).
	APIBaseURL string
}

// OAuthClient runs the authorization-code flow against Onshape.
type OAuthClient struct {
	conf       *oauth2.Config
	apiBaseURL string
	httpClient *http.Client
}

// NewOAuthClient validates the settings and builds a client.
func NewOAuthClient(cfg OAuthConfig) (*OAuthClient, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURI == "" {
		return nil, ErrOAuthNotConfigured
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://oauth.onshape.com"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://cad.onshape.com"
	}
	return &OAuthClient{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       DefaultScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.BaseURL + "/oauth/authorize",
				TokenURL:  cfg.BaseURL + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBaseURL: cfg.APIBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// AuthorizationURL builds the URL the user is redirected to, carrying
// the CSRF state token.
func (c *OAuthClient) AuthorizationURL(state string) string {
	return c.conf.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens. Onshape always
// issues a refresh token and an expiry on this grant; their absence
// means the response is unusable and is reported as an error.
func (c *OAuthClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := c.conf.Exchange(c.httpContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}
	if token.RefreshToken == "" {
		return nil, errors.New("token response missing refresh_token")
	}
	if token.Expiry.IsZero() {
		return nil, errors.New("token response missing expires_in")
	}
	return token, nil
}

// Refresh obtains a fresh access token. When Onshape omits a new
// refresh token, the old one stays valid and is carried forward.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := c.conf.TokenSource(c.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing access token: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("refresh response missing access_token")
	}
	if token.Expiry.IsZero() {
		return nil, errors.New("refresh response missing expires_in")
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}

// FetchUserInfo loads the authenticated user's profile.
func (c *OAuthClient) FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.apiBaseURL+"/api/users/sessioninfo", nil)
	if err != nil {
		return nil, fmt.Errorf("building sessioninfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("sessioninfo returned %d: %s", resp.StatusCode, body)
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding user info: %w", err)
	}
	return &info, nil
}

// httpContext makes the oauth2 package use our HTTP client.
func (c *OAuthClient) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}
