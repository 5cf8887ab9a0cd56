// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RefreshTokenBytes is the entropy of an opaque refresh token (64 hex chars).
const RefreshTokenBytes = 32

// Session binds the hashes of a live access/refresh token pair to a user.
type Session struct {
	ID               ulid.ULID
	UserID           ulid.ULID
	AccessTokenHash  string
	RefreshTokenHash string
	ExpiresAt        time.Time
	CreatedAt        time.Time
	LastUsedAt       time.Time
	UserAgent        string
	IPAddress        string
}

// SessionMeta is optional client metadata recorded at login.
type SessionMeta struct {
	UserAgent string
	IPAddress string
}

// TokenPair is an access token and its companion refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// NewSession creates a validated Session.
// UserAgent and IPAddress are optional and may be empty.
func NewSession(userID ulid.ULID, accessTokenHash, refreshTokenHash string, meta SessionMeta, now, expiresAt time.Time) (*Session, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if accessTokenHash == "" || refreshTokenHash == "" {
		return nil, oops.Code("SESSION_INVALID_HASH").Errorf("token hashes cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	return &Session{
		ID:               ulid.Make(),
		UserID:           userID,
		AccessTokenHash:  accessTokenHash,
		RefreshTokenHash: refreshTokenHash,
		ExpiresAt:        expiresAt,
		CreatedAt:        now,
		LastUsedAt:       now,
		UserAgent:        meta.UserAgent,
		IPAddress:        meta.IPAddress,
	}, nil
}

// IsExpiredAt reports whether the session is expired at t (expires_at < t).
func (s *Session) IsExpiredAt(t time.Time) bool {
	return s.ExpiresAt.Before(t)
}

// GenerateRefreshToken returns a new opaque refresh token.
func GenerateRefreshToken() (string, error) {
	b := make([]byte, RefreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("REFRESH_TOKEN_GENERATE_FAILED").
			With("requested_bytes", RefreshTokenBytes).
			Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken computes the SHA-256 hex digest under which a token is stored.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// RotateFunc receives the locked session and returns its replacement.
// Returning ErrSessionExpired asks the repository to delete the session.
type RotateFunc func(current *Session) (*Session, error)

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByRefreshTokenHash retrieves the session holding a refresh token hash.
	GetByRefreshTokenHash(ctx context.Context, refreshTokenHash string) (*Session, error)

	// Rotate locks the session holding refreshTokenHash, calls fn, and
	// persists its result. Concurrent rotations of one session are serialized;
	// the loser sees ErrNotFound because the hash it presented is gone.
	Rotate(ctx context.Context, refreshTokenHash string, fn RotateFunc) (*Session, error)

	// DeleteByAccessTokenHash removes the session holding an access token hash.
	// Deleting nothing is not an error.
	DeleteByAccessTokenHash(ctx context.Context, accessTokenHash string) error

	// DeleteByUser removes all sessions of a user.
	DeleteByUser(ctx context.Context, userID ulid.ULID) error

	// DeleteExpired removes sessions that expired before the given time and
	// returns the count of deleted records.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TokenMinter produces the next token pair for a session owner.
type TokenMinter func(ctx context.Context, userID ulid.ULID) (TokenPair, error)

// SessionStore implements the session lifecycle on top of a SessionRepository.
type SessionStore struct {
	repo SessionRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewSessionStore creates a SessionStore whose sessions live for ttl.
func NewSessionStore(repo SessionRepository, ttl time.Duration) (*SessionStore, error) {
	if repo == nil {
		return nil, oops.Code("SESSION_STORE_INVALID").Errorf("session repository is required")
	}
	if ttl <= 0 {
		return nil, oops.Code("SESSION_STORE_INVALID").With("ttl", ttl).Errorf("session ttl must be positive")
	}
	return &SessionStore{repo: repo, ttl: ttl, now: time.Now}, nil
}

// SetClock overrides the store's clock.
func (s *SessionStore) SetClock(now func() time.Time) {
	s.now = now
}

// Create persists a session for the given plaintext tokens.
func (s *SessionStore) Create(ctx context.Context, userID ulid.ULID, accessToken, refreshToken string, meta SessionMeta) (*Session, error) {
	now := s.now()
	session, err := NewSession(userID, HashToken(accessToken), HashToken(refreshToken), meta, now, now.Add(s.ttl))
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, oops.Code("SESSION_CREATE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return session, nil
}

// Rotate exchanges a refresh token for a new pair from mint.
//
// Returns an error matching ErrNotFound when no session holds the token and
// ErrSessionExpired when it expired; the expired session is deleted. Errors
// from mint are returned unchanged.
func (s *SessionStore) Rotate(ctx context.Context, oldRefreshToken string, mint TokenMinter) (TokenPair, *Session, error) {
	now := s.now()
	var pair TokenPair

	next, err := s.repo.Rotate(ctx, HashToken(oldRefreshToken), func(current *Session) (*Session, error) {
		if current.IsExpiredAt(now) {
			return nil, ErrSessionExpired
		}
		minted, err := mint(ctx, current.UserID)
		if err != nil {
			return nil, err
		}
		pair = minted

		rotated := *current
		rotated.AccessTokenHash = HashToken(minted.AccessToken)
		rotated.RefreshTokenHash = HashToken(minted.RefreshToken)
		rotated.ExpiresAt = now.Add(s.ttl)
		rotated.LastUsedAt = now
		return &rotated, nil
	})
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, next, nil
}

// Invalidate deletes the session holding accessToken. A missing session is
// not an error.
func (s *SessionStore) Invalidate(ctx context.Context, accessToken string) error {
	if err := s.repo.DeleteByAccessTokenHash(ctx, HashToken(accessToken)); err != nil {
		return oops.Code("SESSION_INVALIDATE_FAILED").Wrap(err)
	}
	return nil
}

// InvalidateUser deletes every session of a user.
func (s *SessionStore) InvalidateUser(ctx context.Context, userID ulid.ULID) error {
	if err := s.repo.DeleteByUser(ctx, userID); err != nil {
		return oops.Code("SESSION_INVALIDATE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return nil
}

// FindByRefreshToken returns the session holding refreshToken.
func (s *SessionStore) FindByRefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	return s.repo.GetByRefreshTokenHash(ctx, HashToken(refreshToken))
}

// PurgeExpired deletes every session expired as of now.
func (s *SessionStore) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").Wrap(err)
	}
	return n, nil
}
