// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/taskd/internal/auth"
	"github.com/holomush/taskd/internal/store"
)

const sessionColumns = `id, user_id, access_token_hash, refresh_token_hash,
	expires_at, created_at, last_used_at, user_agent, ip_address`

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	pool store.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool store.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		session.ID.String(),
		session.UserID.String(),
		session.AccessTokenHash,
		session.RefreshTokenHash,
		session.ExpiresAt,
		session.CreatedAt,
		session.LastUsedAt,
		session.UserAgent,
		session.IPAddress,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("SESSION_HASH_TAKEN").Wrap(auth.ErrDuplicate)
		}
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByRefreshTokenHash retrieves the session holding a refresh token hash.
func (r *SessionRepository) GetByRefreshTokenHash(ctx context.Context, refreshTokenHash string) (*auth.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = $1
	`, refreshTokenHash)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").
			With("operation", "get session by refresh token hash").
			Wrap(err)
	}
	return session, nil
}

// Rotate locks the row with SELECT ... FOR UPDATE for the length of one
// transaction. A concurrent rotation blocks on the lock, then re-reads the
// row by the old hash, finds nothing and reports auth.ErrNotFound.
func (r *SessionRepository) Rotate(ctx context.Context, refreshTokenHash string, fn auth.RotateFunc) (*auth.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "begin transaction").
			Wrap(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx) //nolint:errcheck // the original error wins
		}
	}()

	row := tx.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = $1 FOR UPDATE
	`, refreshTokenHash)
	current, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "lock session").
			Wrap(err)
	}

	next, fnErr := fn(current)
	if errors.Is(fnErr, auth.ErrSessionExpired) {
		if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, current.ID.String()); err != nil {
			return nil, oops.Code("SESSION_ROTATE_FAILED").
				With("operation", "delete expired session").
				With("id", current.ID.String()).
				Wrap(err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, oops.Code("SESSION_ROTATE_FAILED").
				With("operation", "commit expired delete").
				Wrap(err)
		}
		committed = true
		return nil, fnErr
	}
	if fnErr != nil {
		return nil, fnErr
	}

	_, err = tx.Exec(ctx, `
		UPDATE sessions
		SET access_token_hash = $2, refresh_token_hash = $3, expires_at = $4, last_used_at = $5
		WHERE id = $1
	`,
		current.ID.String(),
		next.AccessTokenHash,
		next.RefreshTokenHash,
		next.ExpiresAt,
		next.LastUsedAt,
	)
	if err != nil {
		return nil, oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "update session").
			With("id", current.ID.String()).
			Wrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "commit rotation").
			Wrap(err)
	}
	committed = true
	return next, nil
}

// DeleteByAccessTokenHash removes the sessions holding an access token hash.
func (r *SessionRepository) DeleteByAccessTokenHash(ctx context.Context, accessTokenHash string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE access_token_hash = $1`, accessTokenHash); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session by access token hash").
			Wrap(err)
	}
	return nil
}

// DeleteByUser removes all sessions for a user.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID.String()); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete sessions by user").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes sessions that expired before the given time.
func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanSession scans one row. pgx.ErrNoRows is returned unwrapped.
func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		idStr, userIDStr string
		session          auth.Session
	)
	err := row.Scan(
		&idStr,
		&userIDStr,
		&session.AccessTokenHash,
		&session.RefreshTokenHash,
		&session.ExpiresAt,
		&session.CreatedAt,
		&session.LastUsedAt,
		&session.UserAgent,
		&session.IPAddress,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers add context
		}
		return nil, oops.Code("SESSION_SCAN_FAILED").Wrap(err)
	}

	if session.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if session.UserID, err = ulid.Parse(userIDStr); err != nil {
		return nil, oops.Code("SESSION_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}
	return &session, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
