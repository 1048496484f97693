// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// OnshapeSession is one row of the onshape_sessions table. Sessions
// are keyed by the app API key so an Onshape OAuth grant survives a
// server restart.
type OnshapeSession struct {
	AppAPIKey       string
	AccessToken     string
	RefreshToken    string
	TokenExpiry     time.Time
	UserInfo        string // JSON blob: {id, email, name}
	AuthenticatedAt time.Time
	UpdatedAt       time.Time
}

// SaveOnshapeSession inserts or replaces the session for its API key.
func (s *Store) SaveOnshapeSession(ctx context.Context, session *OnshapeSession) error {
	now := time.Now().UTC()
	if session.AuthenticatedAt.IsZero() {
		session.AuthenticatedAt = now
	}
	session.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO onshape_sessions
			(app_api_key, access_token, refresh_token, token_expiry, user_info, authenticated_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_api_key) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expiry = excluded.token_expiry,
			user_info = excluded.user_info,
			updated_at = excluded.updated_at`,
		session.AppAPIKey, session.AccessToken, session.RefreshToken,
		session.TokenExpiry.UTC(), session.UserInfo, session.AuthenticatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving onshape session: %w", err)
	}
	return nil
}

// GetOnshapeSession fetches the session for an app API key.
func (s *Store) GetOnshapeSession(ctx context.Context, appAPIKey string) (*OnshapeSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT app_api_key, access_token, refresh_token, token_expiry, user_info, authenticated_at, updated_at
		FROM onshape_sessions WHERE app_api_key = ?`, appAPIKey)

	var session OnshapeSession
	var refreshToken, userInfo sql.NullString
	err := row.Scan(
		&session.AppAPIKey, &session.AccessToken, &refreshToken,
		&session.TokenExpiry, &userInfo, &session.AuthenticatedAt, &session.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying onshape session: %w", err)
	}
	session.RefreshToken = refreshToken.String
	session.UserInfo = userInfo.String
	return &session, nil
}

// DeleteOnshapeSession removes the session for an app API key. Returns
// ErrNotFound when no session existed.
func (s *Store) DeleteOnshapeSession(ctx context.Context, appAPIKey string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM onshape_sessions WHERE app_api_key = ?`, appAPIKey)
	if err != nil {
		return fmt.Errorf("deleting onshape session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpiredOnshapeSessions removes sessions whose tokens expired
// before now. Returns the number removed.
func (s *Store) DeleteExpiredOnshapeSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM onshape_sessions WHERE token_expiry < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired onshape sessions: %w", err)
	}
	return res.RowsAffected()
}
