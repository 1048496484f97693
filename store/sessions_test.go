// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndGetOnshapeSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	session := &OnshapeSession{
		AppAPIKey:    "app-key-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenExpiry:  time.Now().Add(time.Hour),
		UserInfo:     `{"id":"u1","email":"cad@frc3322.org","name":"CAD Lead"}`,
	}
	require.NoError(t, s.SaveOnshapeSession(ctx, session))

	got, err := s.GetOnshapeSession(ctx, "app-key-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.Contains(t, got.UserInfo, "cad@frc3322.org")
	assert.False(t, got.AuthenticatedAt.IsZero())
}

func TestSaveOnshapeSessionUpsertsTokens(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveOnshapeSession(ctx, &OnshapeSession{
		AppAPIKey:   "app-key-1",
		AccessToken: "old",
		TokenExpiry: time.Now().Add(time.Hour),
	}))

	first, err := s.GetOnshapeSession(ctx, "app-key-1")
	require.NoError(t, err)

	require.NoError(t, s.SaveOnshapeSession(ctx, &OnshapeSession{
		AppAPIKey:       "app-key-1",
		AccessToken:     "new",
		RefreshToken:    "refresh-2",
		TokenExpiry:     time.Now().Add(2 * time.Hour),
		AuthenticatedAt: first.AuthenticatedAt,
	}))

	got, err := s.GetOnshapeSession(ctx, "app-key-1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.Equal(t, "refresh-2", got.RefreshToken)
	// Re-auth keeps the original authenticated_at we passed through.
	assert.Equal(t, first.AuthenticatedAt.Unix(), got.AuthenticatedAt.Unix())
}

func TestGetOnshapeSessionNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetOnshapeSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteOnshapeSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveOnshapeSession(ctx, &OnshapeSession{
		AppAPIKey:   "app-key-1",
		AccessToken: "a",
		TokenExpiry: time.Now().Add(time.Hour),
	}))

	require.NoError(t, s.DeleteOnshapeSession(ctx, "app-key-1"))
	assert.ErrorIs(t, s.DeleteOnshapeSession(ctx, "app-key-1"), ErrNotFound)
}

func TestDeleteExpiredOnshapeSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveOnshapeSession(ctx, &OnshapeSession{
		AppAPIKey:   "expired",
		AccessToken: "a",
		TokenExpiry: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, s.SaveOnshapeSession(ctx, &OnshapeSession{
		AppAPIKey:   "live",
		AccessToken: "b",
		TokenExpiry: time.Now().Add(time.Hour),
	}))

	removed, err := s.DeleteExpiredOnshapeSessions(ctx, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	_, err = s.GetOnshapeSession(ctx, "expired")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetOnshapeSession(ctx, "live")
	assert.NoError(t, err)
}
