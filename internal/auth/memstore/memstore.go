// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memstore provides in-memory auth repositories for development
// and tests. Each repository guards its own map with its own mutex.
package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/taskd/internal/auth"
)

// Store groups the three repositories so user deletion can cascade.
type Store struct {
	Users    *UserRepository
	Sessions *SessionRepository
	Resets   *ResetRepository
}

// New creates an empty Store.
func New() *Store {
	sessions := &SessionRepository{byID: make(map[ulid.ULID]*auth.Session)}
	resets := &ResetRepository{byID: make(map[ulid.ULID]*auth.PasswordReset)}
	users := &UserRepository{
		byID:     make(map[ulid.ULID]*auth.User),
		sessions: sessions,
		resets:   resets,
	}
	resets.users = users
	return &Store{Users: users, Sessions: sessions, Resets: resets}
}

// UserRepository is an in-memory auth.UserRepository.
type UserRepository struct {
	mu       sync.RWMutex
	byID     map[ulid.ULID]*auth.User
	sessions *SessionRepository
	resets   *ResetRepository
}

func (r *UserRepository) Create(_ context.Context, user *auth.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.byID {
		if u.Email == user.Email {
			return oops.Code("USER_EMAIL_TAKEN").With("email", user.Email).Wrap(auth.ErrDuplicate)
		}
	}
	r.byID[user.ID] = copyUser(user)
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return copyUser(u), nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.byID {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func (r *UserRepository) UpdateLastLogin(_ context.Context, id ulid.ULID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	u.LastLoginAt = &at
	u.UpdatedAt = at
	return nil
}

func (r *UserRepository) setPassword(id ulid.ULID, passwordHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = at
	return nil
}

// Delete removes the user, then its sessions and reset requests.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	r.mu.Lock()
	_, ok := r.byID[id]
	delete(r.byID, id)
	r.mu.Unlock()

	if !ok {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	// Locks are taken one at a time; Rotate holds the session lock while
	// reading users.
	if err := r.sessions.DeleteByUser(ctx, id); err != nil {
		return err
	}
	return r.resets.DeleteByUser(ctx, id)
}

// SessionRepository is an in-memory auth.SessionRepository.
type SessionRepository struct {
	mu   sync.Mutex
	byID map[ulid.ULID]*auth.Session
}

func (r *SessionRepository) Create(_ context.Context, session *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.findByRefresh(session.RefreshTokenHash) != nil || r.findByAccess(session.AccessTokenHash) != nil {
		return oops.Code("SESSION_HASH_TAKEN").Wrap(auth.ErrDuplicate)
	}
	cp := *session
	r.byID[session.ID] = &cp
	return nil
}

func (r *SessionRepository) GetByRefreshTokenHash(_ context.Context, refreshTokenHash string) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.findByRefresh(refreshTokenHash); s != nil {
		cp := *s
		return &cp, nil
	}
	return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// Rotate holds the repository lock for the whole exchange, so rotations
// are serialized across all sessions.
func (r *SessionRepository) Rotate(_ context.Context, refreshTokenHash string, fn auth.RotateFunc) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.findByRefresh(refreshTokenHash)
	if current == nil {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}

	cp := *current
	next, err := fn(&cp)
	if err != nil {
		if errors.Is(err, auth.ErrSessionExpired) {
			delete(r.byID, current.ID)
		}
		return nil, err
	}

	stored := *next
	r.byID[current.ID] = &stored
	return next, nil
}

func (r *SessionRepository) DeleteByAccessTokenHash(_ context.Context, accessTokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.byID {
		if s.AccessTokenHash == accessTokenHash {
			delete(r.byID, id)
		}
	}
	return nil
}

func (r *SessionRepository) DeleteByUser(_ context.Context, userID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.byID {
		if s.UserID == userID {
			delete(r.byID, id)
		}
	}
	return nil
}

func (r *SessionRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.byID {
		if s.ExpiresAt.Before(before) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (r *SessionRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *SessionRepository) findByRefresh(refreshTokenHash string) *auth.Session {
	for _, s := range r.byID {
		if s.RefreshTokenHash == refreshTokenHash {
			return s
		}
	}
	return nil
}

func (r *SessionRepository) findByAccess(accessTokenHash string) *auth.Session {
	for _, s := range r.byID {
		if s.AccessTokenHash == accessTokenHash {
			return s
		}
	}
	return nil
}

// ResetRepository is an in-memory auth.ResetRepository.
type ResetRepository struct {
	mu    sync.Mutex
	byID  map[ulid.ULID]*auth.PasswordReset
	users *UserRepository
}

func (r *ResetRepository) Replace(_ context.Context, reset *auth.PasswordReset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, existing := range r.byID {
		if existing.UserID == reset.UserID {
			delete(r.byID, id)
		}
	}
	cp := *reset
	r.byID[reset.ID] = &cp
	return nil
}

func (r *ResetRepository) GetByTokenHash(_ context.Context, tokenHash string) (*auth.PasswordReset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reset := range r.byID {
		if reset.TokenHash == tokenHash {
			cp := *reset
			return &cp, nil
		}
	}
	return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// Redeem holds the reset lock while it updates the user, so the token is
// marked used only once the password change has landed.
func (r *ResetRepository) Redeem(_ context.Context, reset *auth.PasswordReset, passwordHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[reset.ID]
	if !ok || stored.UsedAt != nil {
		return oops.Code("RESET_NOT_FOUND").With("id", reset.ID.String()).Wrap(auth.ErrNotFound)
	}
	if err := r.users.setPassword(stored.UserID, passwordHash, at); err != nil {
		return err
	}
	stored.UsedAt = &at
	return nil
}

func (r *ResetRepository) DeleteByUser(_ context.Context, userID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, reset := range r.byID {
		if reset.UserID == userID {
			delete(r.byID, id)
		}
	}
	return nil
}

func (r *ResetRepository) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, reset := range r.byID {
		if reset.ExpiresAt.Before(before) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

// LiveForUser returns the unused, unexpired reset requests of a user.
func (r *ResetRepository) LiveForUser(userID ulid.ULID, now time.Time) []*auth.PasswordReset {
	r.mu.Lock()
	defer r.mu.Unlock()

	var live []*auth.PasswordReset
	for _, reset := range r.byID {
		if reset.UserID == userID && !reset.IsUsed() && !reset.IsExpiredAt(now) {
			cp := *reset
			live = append(live, &cp)
		}
	}
	return live
}

func copyUser(u *auth.User) *auth.User {
	cp := *u
	return &cp
}

// Compile-time interface checks.
var (
	_ auth.UserRepository    = (*UserRepository)(nil)
	_ auth.SessionRepository = (*SessionRepository)(nil)
	_ auth.ResetRepository   = (*ResetRepository)(nil)
)
