// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/taskd/internal/auth"
	"github.com/holomush/taskd/internal/auth/memstore"
)

func seedReset(t *testing.T, store *memstore.Store, email string, now time.Time) (*auth.User, *auth.PasswordReset) {
	t.Helper()
	ctx := context.Background()

	user, err := auth.NewUser(email, "old-hash", "Test", "User", nil, now)
	require.NoError(t, err)
	require.NoError(t, store.Users.Create(ctx, user))

	reset, err := auth.NewPasswordReset(user.ID, "token-hash-"+email, now, now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, store.Resets.Replace(ctx, reset))
	return user, reset
}

func TestResetRepository_Redeem(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	t.Run("sets password and consumes token", func(t *testing.T) {
		store := memstore.New()
		user, reset := seedReset(t, store, "a@example.com", now)

		require.NoError(t, store.Resets.Redeem(ctx, reset, "new-hash", now))

		stored, err := store.Users.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", stored.PasswordHash)
		assert.Empty(t, store.Resets.LiveForUser(user.ID, now))

		err = store.Resets.Redeem(ctx, reset, "newer-hash", now)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("missing user leaves token unused", func(t *testing.T) {
		store := memstore.New()
		orphan, err := auth.NewPasswordReset(ulid.Make(), "orphan-hash", now, now.Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, store.Resets.Replace(ctx, orphan))

		err = store.Resets.Redeem(ctx, orphan, "new-hash", now)
		assert.ErrorIs(t, err, auth.ErrNotFound)

		got, err := store.Resets.GetByTokenHash(ctx, orphan.TokenHash)
		require.NoError(t, err)
		assert.False(t, got.IsUsed())
	})
}

func TestSessionRepository_UniqueTokenHashes(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := memstore.New()
	userID := ulid.Make()

	first, err := auth.NewSession(userID, "access-a", "refresh-a", auth.SessionMeta{}, now, now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, store.Sessions.Create(ctx, first))

	sameAccess, err := auth.NewSession(userID, "access-a", "refresh-b", auth.SessionMeta{}, now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.ErrorIs(t, store.Sessions.Create(ctx, sameAccess), auth.ErrDuplicate)

	other, err := auth.NewSession(userID, "access-b", "refresh-b", auth.SessionMeta{}, now, now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, store.Sessions.Create(ctx, other))

	require.NoError(t, store.Sessions.DeleteByAccessTokenHash(ctx, "access-a"))
	assert.Equal(t, 1, store.Sessions.Len())
	_, err = store.Sessions.GetByRefreshTokenHash(ctx, "refresh-b")
	assert.NoError(t, err)
}
