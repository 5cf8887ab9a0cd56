// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes = 32        // 64 hex chars
	ResetTokenTTL   = time.Hour // 1 hour expiry
)

// PasswordReset represents a password reset request.
type PasswordReset struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	UsedAt    *time.Time
}

// NewPasswordReset creates a validated PasswordReset.
func NewPasswordReset(userID ulid.ULID, tokenHash string, now, expiresAt time.Time) (*PasswordReset, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("RESET_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(now) {
		return nil, oops.Code("RESET_INVALID_EXPIRY").Errorf("expiry must be in the future")
	}
	return &PasswordReset{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// IsExpiredAt reports whether the reset is expired at t.
func (r *PasswordReset) IsExpiredAt(t time.Time) bool {
	return r.ExpiresAt.Before(t)
}

// IsUsed reports whether the reset has been consumed.
func (r *PasswordReset) IsUsed() bool {
	return r.UsedAt != nil
}

// GenerateResetToken creates a random reset token and its hash.
// The plaintext goes to the user; only the hash is stored.
func GenerateResetToken() (token, hash string, err error) {
	b := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	token = hex.EncodeToString(b)
	return token, HashToken(token), nil
}

// ResetRepository manages password reset persistence.
type ResetRepository interface {
	// Replace deletes every reset request of reset.UserID and stores reset,
	// leaving exactly one live request for the user.
	Replace(ctx context.Context, reset *PasswordReset) error

	// GetByTokenHash retrieves a reset request by its token hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*PasswordReset, error)

	// Redeem consumes an unused reset request and sets the password hash of
	// reset.UserID as one atomic step. Returns ErrNotFound, and changes
	// nothing, when the request is missing or used or the user is gone.
	Redeem(ctx context.Context, reset *PasswordReset, passwordHash string, at time.Time) error

	// DeleteByUser removes all reset requests for a user.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteExpired removes requests that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
