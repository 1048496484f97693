// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package onshape

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/frc3322/Aerie-Part-Management/pkg/logging"
	"github.com/frc3322/Aerie-Part-Management/store"
)

func openSessionStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "parts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func grantToken(expiry time.Time) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       expiry,
	}
}

func TestCreateAndGetSession(t *testing.T) {
	m := NewManager("", nil, logging.Default())
	ctx := context.Background()

	err := m.CreateSession(ctx, "key-1", grantToken(time.Now().Add(time.Hour)),
		UserInfo{ID: "u1", Email: "cad@frc3322.org", Name: "CAD Lead"})
	require.NoError(t, err)

	session, err := m.GetSession(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", session.AccessToken)
	assert.Equal(t, "cad@frc3322.org", session.User.Email)
	assert.Equal(t, 1, m.SessionCount())

	_, err = m.GetSession(ctx, "other")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionSurvivesRestartThroughStore(t *testing.T) {
	s := openSessionStore(t)
	ctx := context.Background()

	first := NewManager("", s, logging.Default())
	require.NoError(t, first.CreateSession(ctx, "key-1",
		grantToken(time.Now().Add(time.Hour)), UserInfo{ID: "u1", Name: "CAD Lead"}))

	// A fresh manager over the same store sees the session.
	second := NewManager("", s, logging.Default())
	session, err := second.GetSession(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", session.AccessToken)
	assert.Equal(t, "CAD Lead", session.User.Name)
}

func TestDeleteSession(t *testing.T) {
	s := openSessionStore(t)
	ctx := context.Background()

	m := NewManager("", s, logging.Default())
	require.NoError(t, m.CreateSession(ctx, "key-1",
		grantToken(time.Now().Add(time.Hour)), UserInfo{}))

	require.NoError(t, m.DeleteSession(ctx, "key-1"))
	assert.False(t, m.HasSession(ctx, "key-1"))

	// Deleting again is a no-op.
	require.NoError(t, m.DeleteSession(ctx, "key-1"))
}

func TestIsTokenExpiredUsesSkew(t *testing.T) {
	m := NewManager("", nil, logging.Default())
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, "fresh",
		grantToken(time.Now().Add(time.Hour)), UserInfo{}))
	require.NoError(t, m.CreateSession(ctx, "closing",
		grantToken(time.Now().Add(2*time.Minute)), UserInfo{}))

	assert.False(t, m.IsTokenExpired(ctx, "fresh"))
	// Under five minutes left counts as expired.
	assert.True(t, m.IsTokenExpired(ctx, "closing"))
	assert.True(t, m.IsTokenExpired(ctx, "missing"))
}

func TestUpdateTokensKeepsRefreshTokenWhenOmitted(t *testing.T) {
	m := NewManager("", nil, logging.Default())
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, "key-1",
		grantToken(time.Now().Add(time.Minute)), UserInfo{}))

	require.NoError(t, m.UpdateTokens(ctx, "key-1", &oauth2.Token{
		AccessToken: "access-2",
		Expiry:      time.Now().Add(time.Hour),
	}))

	session, err := m.GetSession(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", session.AccessToken)
	assert.Equal(t, "refresh-1", session.RefreshToken)
	assert.False(t, m.IsTokenExpired(ctx, "key-1"))
}

func TestGetSessionReturnsSnapshot(t *testing.T) {
	m := NewManager("", nil, logging.Default())
	ctx := context.Background()
	require.NoError(t, m.CreateSession(ctx, "key-1",
		grantToken(time.Now().Add(time.Hour)), UserInfo{}))

	first, err := m.GetSession(ctx, "key-1")
	require.NoError(t, err)
	first.AccessToken = "scribbled-over"

	// Mutating a returned session never reaches the manager's copy.
	second, err := m.GetSession(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", second.AccessToken)
}

func TestConcurrentStatusReadsDuringRefresh(t *testing.T) {
	m := NewManager("", nil, logging.Default())
	ctx := context.Background()
	require.NoError(t, m.CreateSession(ctx, "key-1",
		grantToken(time.Now().Add(time.Hour)), UserInfo{}))

	// Status reads race against token refreshes; the race detector
	// flags any unsynchronized access to the shared session.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			session, err := m.GetSession(ctx, "key-1")
			if err == nil {
				_ = session.AccessToken
				_ = session.RefreshToken
			}
		}
	}()
	for i := 0; i < 200; i++ {
		require.NoError(t, m.UpdateTokens(ctx, "key-1", &oauth2.Token{
			AccessToken: fmt.Sprintf("access-%d", i),
			Expiry:      time.Now().Add(time.Hour),
		}))
	}
	<-done

	session, err := m.GetSession(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "access-199", session.AccessToken)
	assert.Equal(t, "refresh-1", session.RefreshToken)
}

func TestCleanupExpiredSessions(t *testing.T) {
	m := NewManager("", nil, logging.Default())
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, "dead",
		grantToken(time.Now().Add(-time.Hour)), UserInfo{}))
	require.NoError(t, m.CreateSession(ctx, "live",
		grantToken(time.Now().Add(time.Hour)), UserInfo{}))

	assert.Equal(t, 1, m.CleanupExpiredSessions(ctx))
	assert.Equal(t, 1, m.SessionCount())
}

func TestSignedStateRoundTrip(t *testing.T) {
	m := NewManager("team-secret", nil, logging.Default())

	state, err := m.GenerateState("key-1")
	require.NoError(t, err)
	assert.Contains(t, state, ".")
	// Signed states are stateless; nothing tracked in memory.
	assert.Zero(t, m.StateCount())

	key, err := m.ValidateState(state)
	require.NoError(t, err)
	assert.Equal(t, "key-1", key)

	// Signed states stay valid until their embedded expiry.
	key, err = m.ValidateState(state)
	require.NoError(t, err)
	assert.Equal(t, "key-1", key)
}

func TestSignedStateRejectsTampering(t *testing.T) {
	m := NewManager("team-secret", nil, logging.Default())

	state, err := m.GenerateState("key-1")
	require.NoError(t, err)

	encoded, _, ok := strings.Cut(state, ".")
	require.True(t, ok)

	_, err = m.ValidateState(encoded + ".forged-signature")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = m.ValidateState("not-even-a-state")
	assert.ErrorIs(t, err, ErrInvalidState)

	// A state signed under a different secret is rejected.
	other := NewManager("other-secret", nil, logging.Default())
	foreign, err := other.GenerateState("key-1")
	require.NoError(t, err)
	_, err = m.ValidateState(foreign)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSignedStateExpires(t *testing.T) {
	m := NewManager("team-secret", nil, logging.Default())

	state, err := m.GenerateState("key-1")
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(stateTTL + time.Minute) }
	_, err = m.ValidateState(state)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRandomStateIsSingleUse(t *testing.T) {
	m := NewManager("", nil, logging.Default())

	state, err := m.GenerateState("key-1")
	require.NoError(t, err)
	assert.NotContains(t, state, ".")
	assert.Equal(t, 1, m.StateCount())

	key, err := m.ValidateState(state)
	require.NoError(t, err)
	assert.Equal(t, "key-1", key)

	_, err = m.ValidateState(state)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCleanupExpiredStates(t *testing.T) {
	m := NewManager("", nil, logging.Default())

	_, err := m.GenerateState("key-1")
	require.NoError(t, err)
	_, err = m.GenerateState("key-2")
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(stateTTL + time.Minute) }
	assert.Equal(t, 2, m.CleanupExpiredStates())
	assert.Zero(t, m.StateCount())
}

func TestRunCleanupSweepsInBackground(t *testing.T) {
	m := NewManager("", nil, logging.Default())
	ctx := context.Background()

	_, err := m.GenerateState("key-1")
	require.NoError(t, err)
	require.NoError(t, m.CreateSession(ctx, "dead",
		grantToken(time.Now().Add(-time.Hour)), UserInfo{}))
	m.now = func() time.Time { return time.Now().Add(stateTTL + time.Minute) }

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = m.RunCleanup(runCtx, time.Millisecond) }()

	require.Eventually(t, func() bool {
		return m.StateCount() == 0 && m.SessionCount() == 0
	}, time.Second, 5*time.Millisecond)
}
