// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/taskd/internal/auth"
	"github.com/holomush/taskd/internal/auth/mocks"
	"github.com/holomush/taskd/pkg/errutil"
)

type serviceFixture struct {
	users    *mocks.MockUserRepository
	sessions *mocks.MockSessionRepository
	resets   *mocks.MockResetRepository
	hasher   *mocks.MockPasswordHasher
	notifier *mocks.MockResetNotifier
	tokens   *auth.TokenCodec
	svc      *auth.CredentialService
	now      time.Time
	logs     *bytes.Buffer
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	f := &serviceFixture{
		users:    mocks.NewMockUserRepository(t),
		sessions: mocks.NewMockSessionRepository(t),
		resets:   mocks.NewMockResetRepository(t),
		hasher:   mocks.NewMockPasswordHasher(t),
		notifier: mocks.NewMockResetNotifier(t),
		now:      now,
		logs:     &bytes.Buffer{},
	}

	var err error
	f.tokens, err = auth.NewTokenCodec(testSecret, auth.WithTokenClock(fixedClock(now)))
	require.NoError(t, err)

	store, err := auth.NewSessionStore(f.sessions, auth.SessionTTL)
	require.NoError(t, err)
	store.SetClock(fixedClock(now))

	f.svc, err = auth.NewCredentialService(auth.Deps{
		Users:    f.users,
		Sessions: store,
		Resets:   f.resets,
		Hasher:   f.hasher,
		Tokens:   f.tokens,
		Notifier: f.notifier,
	},
		auth.WithClock(fixedClock(now)),
		auth.WithLogger(slog.New(slog.NewJSONHandler(f.logs, nil))),
	)
	require.NoError(t, err)
	return f
}

func testUser(t *testing.T, now time.Time) *auth.User {
	t.Helper()
	u, err := auth.NewUser("alice@example.com", "salt:digest", "Alice", "Liddell", nil, now)
	require.NoError(t, err)
	return u
}

func TestNewCredentialService_Validation(t *testing.T) {
	codec, err := auth.NewTokenCodec(testSecret)
	require.NoError(t, err)
	store, err := auth.NewSessionStore(mocks.NewMockSessionRepository(t), time.Hour)
	require.NoError(t, err)

	full := auth.Deps{
		Users:    mocks.NewMockUserRepository(t),
		Sessions: store,
		Resets:   mocks.NewMockResetRepository(t),
		Hasher:   mocks.NewMockPasswordHasher(t),
		Tokens:   codec,
	}

	tests := []struct {
		name    string
		mutate  func(d *auth.Deps)
		opts    []auth.Option
		wantMsg string
	}{
		{"missing users", func(d *auth.Deps) { d.Users = nil }, nil, "users repository is required"},
		{"missing sessions", func(d *auth.Deps) { d.Sessions = nil }, nil, "session store is required"},
		{"missing resets", func(d *auth.Deps) { d.Resets = nil }, nil, "resets repository is required"},
		{"missing hasher", func(d *auth.Deps) { d.Hasher = nil }, nil, "password hasher is required"},
		{"missing tokens", func(d *auth.Deps) { d.Tokens = nil }, nil, "token codec is required"},
		{"nil logger", func(*auth.Deps) {}, []auth.Option{auth.WithLogger(nil)}, "logger cannot be nil"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mutate(&deps)
			_, err := auth.NewCredentialService(deps, tt.opts...)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "SERVICE_INVALID")
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}

	t.Run("defaults notifier", func(t *testing.T) {
		svc, err := auth.NewCredentialService(full)
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})
}

func TestCredentialService_Register(t *testing.T) {
	ctx := context.Background()
	in := auth.RegisterInput{
		Email:     "alice@example.com",
		Password:  "Secret123!",
		FirstName: "Alice",
		LastName:  "Liddell",
	}

	t.Run("creates user", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, in.Email).Return(nil, auth.ErrNotFound)
		f.hasher.On("Hash", in.Password).Return("salt:digest", nil)
		f.users.On("Create", ctx, mock.MatchedBy(func(u *auth.User) bool {
			return u.Email == in.Email && u.PasswordHash == "salt:digest" && u.CreatedAt.Equal(f.now)
		})).Return(nil)

		view, err := f.svc.Register(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, in.Email, view.Email)
		assert.False(t, view.EmailVerified)
		assert.Nil(t, view.LastLoginAt)
	})

	t.Run("taken email", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, in.Email).Return(testUser(t, f.now), nil)

		_, err := f.svc.Register(ctx, in)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeAlreadyExists)
	})

	t.Run("lost insert race", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, in.Email).Return(nil, auth.ErrNotFound)
		f.hasher.On("Hash", in.Password).Return("salt:digest", nil)
		f.users.On("Create", ctx, mock.Anything).Return(oops.Wrap(auth.ErrDuplicate))

		_, err := f.svc.Register(ctx, in)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeAlreadyExists)
	})

	t.Run("lookup failure", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, in.Email).Return(nil, errors.New("db down"))

		_, err := f.svc.Register(ctx, in)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_REGISTER_FAILED")
	})
}

func TestCredentialService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("opens a session", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(t, f.now)
		f.users.On("GetByEmail", ctx, user.Email).Return(user, nil)
		f.hasher.On("Verify", "Secret123!", user.PasswordHash).Return(true)
		f.users.On("UpdateLastLogin", ctx, user.ID, f.now).Return(nil)
		f.sessions.On("Create", ctx, mock.MatchedBy(func(s *auth.Session) bool {
			return s.UserID == user.ID &&
				s.ExpiresAt.Equal(f.now.Add(auth.SessionTTL)) &&
				s.UserAgent == "curl/8" && s.IPAddress == "203.0.113.9"
		})).Return(nil)

		res, err := f.svc.Login(ctx, user.Email, "Secret123!", "curl/8", "203.0.113.9")
		require.NoError(t, err)
		assert.Equal(t, user.ID.String(), res.User.ID)
		require.NotNil(t, res.User.LastLoginAt)
		assert.Equal(t, f.now, *res.User.LastLoginAt)
		assert.NotEmpty(t, res.RefreshToken)

		claims, ok := f.tokens.Verify(res.AccessToken)
		require.True(t, ok)
		assert.Equal(t, user.ID.String(), claims.UserID)
		assert.Equal(t, user.Email, claims.Email)
	})

	t.Run("unknown email and wrong password are indistinguishable", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(t, f.now)

		f.users.On("GetByEmail", ctx, "ghost@example.com").Return(nil, auth.ErrNotFound)
		f.hasher.On("Verify", "whatever", mock.AnythingOfType("string")).Return(false).Once()
		_, unknownErr := f.svc.Login(ctx, "ghost@example.com", "whatever", "", "")

		f.users.On("GetByEmail", ctx, user.Email).Return(user, nil)
		f.hasher.On("Verify", "wrong", user.PasswordHash).Return(false).Once()
		_, wrongErr := f.svc.Login(ctx, user.Email, "wrong", "", "")

		require.Error(t, unknownErr)
		require.Error(t, wrongErr)
		errutil.AssertErrorCode(t, unknownErr, auth.CodeInvalidCredentials)
		errutil.AssertErrorCode(t, wrongErr, auth.CodeInvalidCredentials)
		assert.Equal(t, unknownErr.Error(), wrongErr.Error())
	})

	t.Run("unknown email still verifies a hash", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, "ghost@example.com").Return(nil, auth.ErrNotFound)
		f.hasher.On("Verify", "pw", mock.AnythingOfType("string")).Return(true)

		_, err := f.svc.Login(ctx, "ghost@example.com", "pw", "", "")
		errutil.AssertErrorCode(t, err, auth.CodeInvalidCredentials)
		f.hasher.AssertNumberOfCalls(t, "Verify", 1)
	})

	t.Run("repository failure is not masked as bad credentials", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, "a@b.c").Return(nil, errors.New("db down"))

		_, err := f.svc.Login(ctx, "a@b.c", "pw", "", "")
		errutil.AssertErrorCode(t, err, "AUTH_LOGIN_FAILED")
	})
}

func TestCredentialService_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("empty token is a no-op", func(t *testing.T) {
		f := newServiceFixture(t)
		assert.NoError(t, f.svc.Logout(ctx, ""))
	})

	t.Run("deletes by access token hash", func(t *testing.T) {
		f := newServiceFixture(t)
		f.sessions.On("DeleteByAccessTokenHash", ctx, auth.HashToken("tok")).Return(nil)
		assert.NoError(t, f.svc.Logout(ctx, "tok"))
	})

	t.Run("store failure is swallowed and logged", func(t *testing.T) {
		f := newServiceFixture(t)
		f.sessions.On("DeleteByAccessTokenHash", ctx, auth.HashToken("tok")).Return(errors.New("db down"))
		assert.NoError(t, f.svc.Logout(ctx, "tok"))
		assert.Contains(t, f.logs.String(), "logout could not delete session")
	})
}

func TestCredentialService_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("rotates and mints for the owner", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(t, f.now)
		current := &auth.Session{ID: ulid.Make(), UserID: user.ID, ExpiresAt: f.now.Add(time.Hour)}

		f.sessions.On("Rotate", ctx, auth.HashToken("old"), mock.Anything).Return(current, nil)
		f.users.On("GetByID", ctx, user.ID).Return(user, nil)

		pair, err := f.svc.Refresh(ctx, "old")
		require.NoError(t, err)
		assert.NotEqual(t, "old", pair.RefreshToken)
		_, ok := f.tokens.Verify(pair.AccessToken)
		assert.True(t, ok)
	})

	tests := []struct {
		name     string
		current  *auth.Session
		rotErr   error
		userErr  error
		wantCode string
	}{
		{name: "unknown token", wantCode: auth.CodeInvalidRefreshToken},
		{name: "expired session", current: &auth.Session{ExpiresAt: time.Unix(0, 0)}, wantCode: auth.CodeRefreshTokenExpired},
		{name: "owner vanished", current: &auth.Session{ExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}, userErr: auth.ErrNotFound, wantCode: auth.CodeUserNotFound},
		{name: "store failure", rotErr: errors.New("db down"), wantCode: "AUTH_REFRESH_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			if tt.current != nil {
				tt.current.ID = ulid.Make()
				tt.current.UserID = ulid.Make()
				if tt.current.ExpiresAt.After(f.now) {
					f.users.On("GetByID", ctx, tt.current.UserID).Return(nil, tt.userErr)
				}
			}
			f.sessions.On("Rotate", ctx, auth.HashToken("old"), mock.Anything).Return(tt.current, tt.rotErr)

			_, err := f.svc.Refresh(ctx, "old")
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestCredentialService_ValidateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("valid token resolves the user", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(t, f.now)
		token, err := f.tokens.Issue(auth.Claims{UserID: user.ID.String(), Email: user.Email}, time.Minute)
		require.NoError(t, err)
		f.users.On("GetByID", ctx, user.ID).Return(user, nil)

		view, err := f.svc.ValidateSession(ctx, token)
		require.NoError(t, err)
		require.NotNil(t, view)
		assert.Equal(t, user.Email, view.Email)
	})

	t.Run("garbage token is absent, not an error", func(t *testing.T) {
		f := newServiceFixture(t)
		view, err := f.svc.ValidateSession(ctx, "garbage")
		assert.NoError(t, err)
		assert.Nil(t, view)
	})

	t.Run("non-ulid subject is absent", func(t *testing.T) {
		f := newServiceFixture(t)
		token, err := f.tokens.Issue(auth.Claims{UserID: "not-a-ulid"}, time.Minute)
		require.NoError(t, err)

		view, err := f.svc.ValidateSession(ctx, token)
		assert.NoError(t, err)
		assert.Nil(t, view)
	})

	t.Run("deleted user is absent", func(t *testing.T) {
		f := newServiceFixture(t)
		id := ulid.Make()
		token, err := f.tokens.Issue(auth.Claims{UserID: id.String()}, time.Minute)
		require.NoError(t, err)
		f.users.On("GetByID", ctx, id).Return(nil, auth.ErrNotFound)

		view, err := f.svc.ValidateSession(ctx, token)
		assert.NoError(t, err)
		assert.Nil(t, view)
	})
}

func TestCredentialService_RequestPasswordReset(t *testing.T) {
	ctx := context.Background()

	t.Run("issues and notifies", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(t, f.now)
		var stored *auth.PasswordReset
		f.users.On("GetByEmail", ctx, user.Email).Return(user, nil)
		f.resets.On("Replace", ctx, mock.MatchedBy(func(r *auth.PasswordReset) bool {
			stored = r
			return r.UserID == user.ID && r.ExpiresAt.Equal(f.now.Add(auth.ResetTokenTTL))
		})).Return(nil)
		f.notifier.On("NotifyPasswordReset", ctx, user, mock.MatchedBy(func(token string) bool {
			return len(token) == auth.ResetTokenBytes*2 && auth.HashToken(token) == stored.TokenHash
		}), f.now.Add(auth.ResetTokenTTL)).Return(nil)

		assert.NoError(t, f.svc.RequestPasswordReset(ctx, user.Email))
	})

	t.Run("unknown email reports success", func(t *testing.T) {
		f := newServiceFixture(t)
		f.users.On("GetByEmail", ctx, "ghost@example.com").Return(nil, auth.ErrNotFound)
		assert.NoError(t, f.svc.RequestPasswordReset(ctx, "ghost@example.com"))
	})

	t.Run("notifier failure reports success", func(t *testing.T) {
		f := newServiceFixture(t)
		user := testUser(t, f.now)
		f.users.On("GetByEmail", ctx, user.Email).Return(user, nil)
		f.resets.On("Replace", ctx, mock.Anything).Return(nil)
		f.notifier.On("NotifyPasswordReset", ctx, user, mock.Anything, mock.Anything).Return(errors.New("smtp down"))

		assert.NoError(t, f.svc.RequestPasswordReset(ctx, user.Email))
		assert.Contains(t, f.logs.String(), "password reset request failed")
	})
}

func TestCredentialService_ResetPassword(t *testing.T) {
	ctx := context.Background()

	live := func(f *serviceFixture, userID ulid.ULID) *auth.PasswordReset {
		return &auth.PasswordReset{
			ID:        ulid.Make(),
			UserID:    userID,
			TokenHash: auth.HashToken("tok"),
			ExpiresAt: f.now.Add(time.Minute),
			CreatedAt: f.now.Add(-time.Minute),
		}
	}

	t.Run("sets password and revokes sessions", func(t *testing.T) {
		f := newServiceFixture(t)
		userID := ulid.Make()
		reset := live(f, userID)

		f.resets.On("GetByTokenHash", ctx, auth.HashToken("tok")).Return(reset, nil)
		f.hasher.On("Hash", "NewSecret1!").Return("new:hash", nil)
		f.resets.On("Redeem", ctx, reset, "new:hash", f.now).Return(nil)
		f.sessions.On("DeleteByUser", ctx, userID).Return(nil)

		require.NoError(t, f.svc.ResetPassword(ctx, "tok", "NewSecret1!"))
	})

	t.Run("empty token", func(t *testing.T) {
		f := newServiceFixture(t)
		errutil.AssertErrorCode(t, f.svc.ResetPassword(ctx, "", "pw"), auth.CodeInvalidResetToken)
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newServiceFixture(t)
		f.resets.On("GetByTokenHash", ctx, auth.HashToken("tok")).Return(nil, auth.ErrNotFound)
		errutil.AssertErrorCode(t, f.svc.ResetPassword(ctx, "tok", "pw"), auth.CodeInvalidResetToken)
	})

	t.Run("used token", func(t *testing.T) {
		f := newServiceFixture(t)
		reset := live(f, ulid.Make())
		used := f.now.Add(-time.Second)
		reset.UsedAt = &used
		f.resets.On("GetByTokenHash", ctx, auth.HashToken("tok")).Return(reset, nil)
		errutil.AssertErrorCode(t, f.svc.ResetPassword(ctx, "tok", "pw"), auth.CodeInvalidResetToken)
	})

	t.Run("expired token", func(t *testing.T) {
		f := newServiceFixture(t)
		reset := live(f, ulid.Make())
		reset.ExpiresAt = f.now.Add(-time.Second)
		f.resets.On("GetByTokenHash", ctx, auth.HashToken("tok")).Return(reset, nil)
		errutil.AssertErrorCode(t, f.svc.ResetPassword(ctx, "tok", "pw"), auth.CodeInvalidResetToken)
	})

	t.Run("lost the consume race", func(t *testing.T) {
		f := newServiceFixture(t)
		reset := live(f, ulid.Make())
		f.resets.On("GetByTokenHash", ctx, auth.HashToken("tok")).Return(reset, nil)
		f.hasher.On("Hash", "pw").Return("new:hash", nil)
		f.resets.On("Redeem", ctx, reset, "new:hash", f.now).Return(auth.ErrNotFound)

		errutil.AssertErrorCode(t, f.svc.ResetPassword(ctx, "tok", "pw"), auth.CodeInvalidResetToken)
		f.sessions.AssertNotCalled(t, "DeleteByUser", mock.Anything, mock.Anything)
	})

	t.Run("redeem failure leaves sessions alone", func(t *testing.T) {
		f := newServiceFixture(t)
		reset := live(f, ulid.Make())
		f.resets.On("GetByTokenHash", ctx, auth.HashToken("tok")).Return(reset, nil)
		f.hasher.On("Hash", "pw").Return("new:hash", nil)
		f.resets.On("Redeem", ctx, reset, "new:hash", f.now).Return(errors.New("db down"))

		err := f.svc.ResetPassword(ctx, "tok", "pw")
		errutil.AssertErrorCode(t, err, "RESET_PASSWORD_FAILED")
		f.sessions.AssertNotCalled(t, "DeleteByUser", mock.Anything, mock.Anything)
	})
}

func TestCredentialService_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	f.sessions.On("DeleteExpired", ctx, f.now).Return(int64(3), nil)
	f.resets.On("DeleteExpired", ctx, f.now).Return(int64(2), nil)

	sessions, resets, err := f.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sessions)
	assert.Equal(t, int64(2), resets)
}
