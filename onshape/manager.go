// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package onshape

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/frc3322/Aerie-Part-Management/pkg/logging"
	"github.com/frc3322/Aerie-Part-Management/store"
)

// tokenExpirySkew treats tokens with less than this much life left as
// expired so a refresh happens before Onshape rejects the token.
const tokenExpirySkew = 5 * time.Minute

// stateTTL bounds how long an OAuth state token stays redeemable.
const stateTTL = 5 * time.Minute

// ErrSessionNotFound is returned when no Onshape session exists for an
// app API key.
var ErrSessionNotFound = errors.New("no onshape session for this api key")

// ErrInvalidState is returned when a callback carries a state token we
// did not issue, or one that already expired or was redeemed.
var ErrInvalidState = errors.New("invalid or expired oauth state")

// SessionStore persists sessions across restarts. *store.Store
// satisfies it.
type SessionStore interface {
	SaveOnshapeSession(ctx context.Context, session *store.OnshapeSession) error
	GetOnshapeSession(ctx context.Context, appAPIKey string) (*store.OnshapeSession, error)
	DeleteOnshapeSession(ctx context.Context, appAPIKey string) error
	DeleteExpiredOnshapeSessions(ctx context.Context, now time.Time) (int64, error)
}

// Session is an authenticated Onshape grant held in memory.
type Session struct {
	AccessToken     string
	RefreshToken    string
	TokenExpiry     time.Time
	User            UserInfo
	AuthenticatedAt time.Time
}

// Manager owns Onshape sessions keyed by app API key and the OAuth
// state tokens in flight. All methods are safe for concurrent use.
//
// With a signing secret, state tokens are stateless HMAC-SHA256
// signatures that survive a server restart mid-flow. Without one the
// manager falls back to random single-use tokens tracked in memory.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	states   map[string]stateEntry

	secret  []byte
	persist SessionStore
	log     *logging.Logger
	now     func() time.Time
}

type stateEntry struct {
	appAPIKey string
	expiresAt time.Time
}

// statePayload is the signed content of a stateless state token.
type statePayload struct {
	AppAPIKey string `json:"app_api_key"`
	Exp       int64  `json:"exp"`
	Nonce     string `json:"nonce"`
}

// NewManager builds a session manager. persist may be nil for a
// memory-only manager; secret may be empty to disable signed states.
func NewManager(secret string, persist SessionStore, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		states:   make(map[string]stateEntry),
		secret:   []byte(secret),
		persist:  persist,
		log:      log,
		now:      time.Now,
	}
}

// CreateSession records a completed OAuth grant for an app API key and
// persists it when a store is attached.
func (m *Manager) CreateSession(ctx context.Context, appAPIKey string, token *oauth2.Token, user UserInfo) error {
	session := &Session{
		AccessToken:     token.AccessToken,
		RefreshToken:    token.RefreshToken,
		TokenExpiry:     token.Expiry,
		User:            user,
		AuthenticatedAt: m.now().UTC(),
	}

	m.mu.Lock()
	m.sessions[appAPIKey] = session
	m.mu.Unlock()

	if m.persist == nil {
		return nil
	}
	userJSON, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return m.persist.SaveOnshapeSession(ctx, &store.OnshapeSession{
		AppAPIKey:       appAPIKey,
		AccessToken:     session.AccessToken,
		RefreshToken:    session.RefreshToken,
		TokenExpiry:     session.TokenExpiry,
		UserInfo:        string(userJSON),
		AuthenticatedAt: session.AuthenticatedAt,
	})
}

// GetSession returns a copy of the session for an app API key, loading
// it from the store on a cache miss. Callers get a snapshot: only
// UpdateTokens mutates the session the manager holds.
func (m *Manager) GetSession(ctx context.Context, appAPIKey string) (*Session, error) {
	m.mu.Lock()
	if session, ok := m.sessions[appAPIKey]; ok {
		snapshot := *session
		m.mu.Unlock()
		return &snapshot, nil
	}
	m.mu.Unlock()

	if m.persist == nil {
		return nil, ErrSessionNotFound
	}

	row, err := m.persist.GetOnshapeSession(ctx, appAPIKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	session := &Session{
		AccessToken:     row.AccessToken,
		RefreshToken:    row.RefreshToken,
		TokenExpiry:     row.TokenExpiry,
		AuthenticatedAt: row.AuthenticatedAt,
	}
	if row.UserInfo != "" {
		if err := json.Unmarshal([]byte(row.UserInfo), &session.User); err != nil {
			m.log.Warn("discarding unparseable stored user info", "error", err)
		}
	}

	m.mu.Lock()
	m.sessions[appAPIKey] = session
	snapshot := *session
	m.mu.Unlock()
	return &snapshot, nil
}

// HasSession reports whether a session exists for an app API key.
func (m *Manager) HasSession(ctx context.Context, appAPIKey string) bool {
	_, err := m.GetSession(ctx, appAPIKey)
	return err == nil
}

// DeleteSession drops the session for an app API key from memory and
// from the store. Deleting a missing session is not an error.
func (m *Manager) DeleteSession(ctx context.Context, appAPIKey string) error {
	m.mu.Lock()
	delete(m.sessions, appAPIKey)
	m.mu.Unlock()

	if m.persist == nil {
		return nil
	}
	err := m.persist.DeleteOnshapeSession(ctx, appAPIKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// IsTokenExpired reports whether the session's access token has less
// than tokenExpirySkew of life remaining. A missing session counts as
// expired.
func (m *Manager) IsTokenExpired(ctx context.Context, appAPIKey string) bool {
	session, err := m.GetSession(ctx, appAPIKey)
	if err != nil {
		return true
	}
	return m.now().After(session.TokenExpiry.Add(-tokenExpirySkew))
}

// UpdateTokens stores refreshed tokens on an existing session.
func (m *Manager) UpdateTokens(ctx context.Context, appAPIKey string, token *oauth2.Token) error {
	// GetSession pulls a store-backed session into the map on a miss.
	if _, err := m.GetSession(ctx, appAPIKey); err != nil {
		return err
	}

	m.mu.Lock()
	session, ok := m.sessions[appAPIKey]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	session.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		session.RefreshToken = token.RefreshToken
	}
	session.TokenExpiry = token.Expiry
	snapshot := *session
	m.mu.Unlock()

	if m.persist == nil {
		return nil
	}
	userJSON, err := json.Marshal(snapshot.User)
	if err != nil {
		return err
	}
	return m.persist.SaveOnshapeSession(ctx, &store.OnshapeSession{
		AppAPIKey:       appAPIKey,
		AccessToken:     snapshot.AccessToken,
		RefreshToken:    snapshot.RefreshToken,
		TokenExpiry:     snapshot.TokenExpiry,
		UserInfo:        string(userJSON),
		AuthenticatedAt: snapshot.AuthenticatedAt,
	})
}

// CleanupExpiredSessions removes sessions whose tokens are past their
// hard expiry (no skew) and returns how many were dropped.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	removed := 0
	for key, session := range m.sessions {
		if now.After(session.TokenExpiry) {
			delete(m.sessions, key)
			removed++
		}
	}
	m.mu.Unlock()

	if m.persist != nil {
		if n, err := m.persist.DeleteExpiredOnshapeSessions(ctx, now); err != nil {
			m.log.Warn("cleaning expired stored sessions", "error", err)
		} else if int(n) > removed {
			removed = int(n)
		}
	}
	return removed
}

// SessionCount returns the number of sessions held in memory.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// GenerateState issues the state token for an authorization redirect.
func (m *Manager) GenerateState(appAPIKey string) (string, error) {
	if len(m.secret) > 0 {
		return m.signState(appAPIKey)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	state := base64.RawURLEncoding.EncodeToString(raw)

	m.mu.Lock()
	m.states[state] = stateEntry{
		appAPIKey: appAPIKey,
		expiresAt: m.now().Add(stateTTL),
	}
	m.mu.Unlock()
	return state, nil
}

// ValidateState checks a callback's state token and returns the app
// API key that initiated the flow. Random tokens are single-use.
func (m *Manager) ValidateState(state string) (string, error) {
	if len(m.secret) > 0 {
		return m.verifyState(state)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.states[state]
	if !ok {
		return "", ErrInvalidState
	}
	delete(m.states, state)
	if m.now().After(entry.expiresAt) {
		return "", ErrInvalidState
	}
	return entry.appAPIKey, nil
}

// CleanupExpiredStates drops stale random state tokens and returns how
// many were removed. Signed states carry their own expiry and need no
// sweeping.
func (m *Manager) CleanupExpiredStates() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for state, entry := range m.states {
		if now.After(entry.expiresAt) {
			delete(m.states, state)
			removed++
		}
	}
	return removed
}

// RunCleanup sweeps expired sessions and state tokens every interval
// until ctx is cancelled. Run it alongside the server so abandoned
// OAuth flows and dead sessions do not accumulate.
func (m *Manager) RunCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.CleanupExpiredStates(); n > 0 {
				m.log.Debug("dropped expired oauth states", "count", n)
			}
			if n := m.CleanupExpiredSessions(ctx); n > 0 {
				m.log.Info("dropped expired onshape sessions", "count", n)
			}
		}
	}
}

// StateCount returns the number of pending random state tokens.
func (m *Manager) StateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// signState builds b64url(payload) + "." + b64url(hmac-sha256).
func (m *Manager) signState(appAPIKey string) (string, error) {
	payload, err := json.Marshal(statePayload{
		AppAPIKey: appAPIKey,
		Exp:       m.now().Add(stateTTL).Unix(),
		Nonce:     uuid.NewString(),
	})
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + m.stateSignature(encoded), nil
}

func (m *Manager) verifyState(state string) (string, error) {
	encoded, signature, ok := strings.Cut(state, ".")
	if !ok {
		return "", ErrInvalidState
	}
	if !hmac.Equal([]byte(signature), []byte(m.stateSignature(encoded))) {
		return "", ErrInvalidState
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidState
	}
	var payload statePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", ErrInvalidState
	}
	if m.now().Unix() > payload.Exp {
		return "", ErrInvalidState
	}
	return payload.AppAPIKey, nil
}

func (m *Manager) stateSignature(encodedPayload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(encodedPayload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
