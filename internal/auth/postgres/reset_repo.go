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

// ResetRepository implements auth.ResetRepository using PostgreSQL.
type ResetRepository struct {
	pool store.Pool
}

// NewResetRepository creates a new ResetRepository.
func NewResetRepository(pool store.Pool) *ResetRepository {
	return &ResetRepository{pool: pool}
}

// Replace deletes the user's earlier reset tokens and inserts reset in one
// transaction.
func (r *ResetRepository) Replace(ctx context.Context, reset *auth.PasswordReset) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("RESET_REPLACE_FAILED").
			With("operation", "begin transaction").
			Wrap(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx) //nolint:errcheck // the original error wins
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM password_reset_tokens WHERE user_id = $1`, reset.UserID.String()); err != nil {
		return oops.Code("RESET_REPLACE_FAILED").
			With("operation", "delete previous reset tokens").
			With("user_id", reset.UserID.String()).
			Wrap(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, created_at, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, reset.ID.String(), reset.UserID.String(), reset.TokenHash, reset.ExpiresAt, reset.CreatedAt, reset.UsedAt)
	if err != nil {
		return oops.Code("RESET_REPLACE_FAILED").
			With("operation", "insert reset token").
			With("user_id", reset.UserID.String()).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("RESET_REPLACE_FAILED").
			With("operation", "commit").
			Wrap(err)
	}
	committed = true
	return nil
}

// GetByTokenHash retrieves a reset request by its token hash.
func (r *ResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, created_at, used_at
		FROM password_reset_tokens
		WHERE token_hash = $1
	`, tokenHash)

	var (
		idStr, userIDStr string
		reset            auth.PasswordReset
	)
	err := row.Scan(&idStr, &userIDStr, &reset.TokenHash, &reset.ExpiresAt, &reset.CreatedAt, &reset.UsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_FAILED").
			With("operation", "get reset by token hash").
			Wrap(err)
	}

	if reset.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("RESET_INVALID_ID").With("id", idStr).Wrap(err)
	}
	if reset.UserID, err = ulid.Parse(userIDStr); err != nil {
		return nil, oops.Code("RESET_INVALID_USER_ID").With("user_id", userIDStr).Wrap(err)
	}
	return &reset, nil
}

// Redeem marks the reset request used and replaces the user's password hash
// in one transaction. A second call reports auth.ErrNotFound.
func (r *ResetRepository) Redeem(ctx context.Context, reset *auth.PasswordReset, passwordHash string, at time.Time) error {
	id, userID := reset.ID.String(), reset.UserID.String()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("RESET_REDEEM_FAILED").
			With("operation", "begin transaction").
			Wrap(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx) //nolint:errcheck // the original error wins
		}
	}()

	result, err := tx.Exec(ctx, `
		UPDATE password_reset_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL
	`, id, at)
	if err != nil {
		return oops.Code("RESET_REDEEM_FAILED").
			With("operation", "mark reset used").
			With("id", id).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("RESET_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}

	result, err = tx.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1
	`, userID, passwordHash, at)
	if err != nil {
		return oops.Code("RESET_REDEEM_FAILED").
			With("operation", "update password").
			With("user_id", userID).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(auth.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("RESET_REDEEM_FAILED").
			With("operation", "commit").
			Wrap(err)
	}
	committed = true
	return nil
}

// DeleteByUser removes all reset requests for a user.
func (r *ResetRepository) DeleteByUser(ctx context.Context, userID ulid.ULID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE user_id = $1`, userID.String()); err != nil {
		return oops.Code("RESET_DELETE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes requests that expired before the given time.
func (r *ResetRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.ResetRepository = (*ResetRepository)(nil)
