// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package onshape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOAuthServer stands in for oauth.onshape.com and cad.onshape.com.
type fakeOAuthServer struct {
	*httptest.Server
	tokenResponses []string
	tokenCalls     int
}

func newFakeOAuthServer(t *testing.T, tokenResponses ...string) *fakeOAuthServer {
	t.Helper()
	f := &fakeOAuthServer{tokenResponses: tokenResponses}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		body := f.tokenResponses[f.tokenCalls%len(f.tokenResponses)]
		f.tokenCalls++
		w.Write([]byte(body))
	})
	mux.HandleFunc("/api/users/sessioninfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"u1","email":"cad@frc3322.org","name":"CAD Lead"}`))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newTestOAuthClient(t *testing.T, srv *fakeOAuthServer) *OAuthClient {
	t.Helper()
	client, err := NewOAuthClient(OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://localhost:5000/api/onshape/callback",
		BaseURL:      srv.URL,
		APIBaseURL:   srv.URL,
	})
	require.NoError(t, err)
	return client
}

func TestNewOAuthClientRequiresCredentials(t *testing.T) {
	_, err := NewOAuthClient(OAuthConfig{ClientID: "only-id"})
	assert.ErrorIs(t, err, ErrOAuthNotConfigured)
}

func TestAuthorizationURL(t *testing.T) {
	client, err := NewOAuthClient(OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://localhost:5000/api/onshape/callback",
	})
	require.NoError(t, err)

	url := client.AuthorizationURL("the-state")
	assert.Contains(t, url, "https://oauth.onshape.com/oauth/authorize")
	assert.Contains(t, url, "client_id=client-id")
	assert.Contains(t, url, "state=the-state")
	assert.Contains(t, url, "OAuth2Read+OAuth2ReadPII")
}

func TestExchange(t *testing.T) {
	srv := newFakeOAuthServer(t,
		`{"access_token":"access-1","refresh_token":"refresh-1","token_type":"Bearer","expires_in":3600}`)
	client := newTestOAuthClient(t, srv)

	token, err := client.Exchange(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "access-1", token.AccessToken)
	assert.Equal(t, "refresh-1", token.RefreshToken)
	assert.False(t, token.Expiry.IsZero())
}

func TestExchangeRejectsMissingRefreshToken(t *testing.T) {
	srv := newFakeOAuthServer(t,
		`{"access_token":"access-1","token_type":"Bearer","expires_in":3600}`)
	client := newTestOAuthClient(t, srv)

	_, err := client.Exchange(context.Background(), "the-code")
	assert.ErrorContains(t, err, "refresh_token")
}

func TestRefreshCarriesOldRefreshTokenForward(t *testing.T) {
	srv := newFakeOAuthServer(t,
		`{"access_token":"access-2","token_type":"Bearer","expires_in":3600}`)
	client := newTestOAuthClient(t, srv)

	token, err := client.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", token.AccessToken)
	// Onshape omitted a new refresh token; the old one stays in use.
	assert.Equal(t, "refresh-1", token.RefreshToken)
}

func TestFetchUserInfo(t *testing.T) {
	srv := newFakeOAuthServer(t, `{}`)
	client := newTestOAuthClient(t, srv)

	info, err := client.FetchUserInfo(context.Background(), "access-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", info.ID)
	assert.Equal(t, "cad@frc3322.org", info.Email)

	_, err = client.FetchUserInfo(context.Background(), "wrong-token")
	assert.ErrorContains(t, err, "401")
}
