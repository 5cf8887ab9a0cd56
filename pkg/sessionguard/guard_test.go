// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sessionguard_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/taskd/pkg/errutil"
	"github.com/holomush/taskd/pkg/sessionguard"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func tokenExpiringAt(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": "01HZY",
		"email":  "alice@example.com",
		"iat":    exp.Add(-15 * time.Minute).Unix(),
		"exp":    exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("client-never-verifies-this-key"))
	require.NoError(t, err)
	return signed
}

type fakeRefresher struct {
	mu     sync.Mutex
	calls  []string
	next   sessionguard.Credentials
	err    error
	called chan struct{}
}

func newFakeRefresher(next sessionguard.Credentials, err error) *fakeRefresher {
	return &fakeRefresher{next: next, err: err, called: make(chan struct{}, 16)}
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (sessionguard.Credentials, error) {
	f.mu.Lock()
	f.calls = append(f.calls, refreshToken)
	next, err := f.next, f.err
	f.mu.Unlock()

	select {
	case f.called <- struct{}{}:
	default:
	}
	return next, err
}

func (f *fakeRefresher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newGuard(t *testing.T, r sessionguard.Refresher, store sessionguard.CredentialStore, opts ...sessionguard.Option) *sessionguard.Guard {
	t.Helper()
	opts = append([]sessionguard.Option{sessionguard.WithClock(func() time.Time { return baseTime })}, opts...)
	g, err := sessionguard.New(r, store, opts...)
	require.NoError(t, err)
	return g
}

func TestNew_Validation(t *testing.T) {
	store := sessionguard.NewMemoryStore()
	r := newFakeRefresher(sessionguard.Credentials{}, nil)

	tests := []struct {
		name      string
		refresher sessionguard.Refresher
		store     sessionguard.CredentialStore
		opts      []sessionguard.Option
	}{
		{"nil refresher", nil, store, nil},
		{"nil store", r, nil, nil},
		{"zero interval", r, store, []sessionguard.Option{sessionguard.WithInterval(0)}},
		{"negative threshold", r, store, []sessionguard.Option{sessionguard.WithThreshold(-time.Second)}},
		{"nil clock", r, store, []sessionguard.Option{sessionguard.WithClock(nil)}},
		{"nil logger", r, store, []sessionguard.Option{sessionguard.WithLogger(nil)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sessionguard.New(tt.refresher, tt.store, tt.opts...)
			errutil.AssertErrorCode(t, err, "SESSIONGUARD_INVALID")
		})
	}
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	fresh := tokenExpiringAt(t, baseTime.Add(10*time.Minute))
	closeToExpiry := tokenExpiringAt(t, baseTime.Add(5*time.Minute))
	rotated := sessionguard.Credentials{AccessToken: tokenExpiringAt(t, baseTime.Add(15*time.Minute)), RefreshToken: "r2"}

	tests := []struct {
		name        string
		stored      *sessionguard.Credentials
		refreshErr  error
		wantCalls   []string
		wantStored  *sessionguard.Credentials
		wantErrCode string
	}{
		{
			name:       "nothing stored",
			wantStored: nil,
		},
		{
			name:       "token outside threshold",
			stored:     &sessionguard.Credentials{AccessToken: fresh, RefreshToken: "r1"},
			wantStored: &sessionguard.Credentials{AccessToken: fresh, RefreshToken: "r1"},
		},
		{
			name:       "token exactly at threshold refreshes",
			stored:     &sessionguard.Credentials{AccessToken: closeToExpiry, RefreshToken: "r1"},
			wantCalls:  []string{"r1"},
			wantStored: &rotated,
		},
		{
			name:       "undecodable token refreshes",
			stored:     &sessionguard.Credentials{AccessToken: "not-a-jwt", RefreshToken: "r1"},
			wantCalls:  []string{"r1"},
			wantStored: &rotated,
		},
		{
			name:       "no refresh token",
			stored:     &sessionguard.Credentials{AccessToken: closeToExpiry},
			wantStored: &sessionguard.Credentials{AccessToken: closeToExpiry},
		},
		{
			name:        "refresh failure clears credentials",
			stored:      &sessionguard.Credentials{AccessToken: closeToExpiry, RefreshToken: "r1"},
			refreshErr:  errors.New("401"),
			wantCalls:   []string{"r1"},
			wantErrCode: "SESSIONGUARD_REFRESH_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := sessionguard.NewMemoryStore()
			if tt.stored != nil {
				require.NoError(t, store.Save(ctx, *tt.stored))
			}
			r := newFakeRefresher(rotated, tt.refreshErr)
			g := newGuard(t, r, store)

			err := g.Check(ctx)
			if tt.wantErrCode != "" {
				errutil.AssertErrorCode(t, err, tt.wantErrCode)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, r.Calls())

			got, err := store.Load(ctx)
			if tt.wantStored == nil {
				assert.ErrorIs(t, err, sessionguard.ErrNoCredentials)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, *tt.wantStored, got)
		})
	}
}

func TestCheck_OnClearedCallback(t *testing.T) {
	ctx := context.Background()
	store := sessionguard.NewMemoryStore()
	require.NoError(t, store.Save(ctx, sessionguard.Credentials{
		AccessToken:  tokenExpiringAt(t, baseTime.Add(time.Minute)),
		RefreshToken: "r1",
	}))

	var cleared atomic.Bool
	g := newGuard(t, newFakeRefresher(sessionguard.Credentials{}, errors.New("revoked")), store,
		sessionguard.WithOnCleared(func() { cleared.Store(true) }))

	require.Error(t, g.Check(ctx))
	assert.True(t, cleared.Load())
	assert.False(t, g.IsValidSession())
}

type failingStore struct {
	sessionguard.CredentialStore
}

func (failingStore) Load(context.Context) (sessionguard.Credentials, error) {
	return sessionguard.Credentials{}, errors.New("disk gone")
}

func TestCheck_StoreFailure(t *testing.T) {
	g := newGuard(t, newFakeRefresher(sessionguard.Credentials{}, nil), failingStore{})
	errutil.AssertErrorCode(t, g.Check(context.Background()), "SESSIONGUARD_LOAD_FAILED")
	assert.False(t, g.IsValidSession())
	assert.False(t, g.Validate(context.Background()))
}

func TestIsValidSession(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		stored *sessionguard.Credentials
		want   bool
	}{
		{"nothing stored", nil, false},
		{"empty access token", &sessionguard.Credentials{RefreshToken: "r1"}, false},
		{"malformed token", &sessionguard.Credentials{AccessToken: "a.b"}, false},
		{"unexpired", &sessionguard.Credentials{AccessToken: tokenExpiringAt(t, baseTime.Add(time.Second))}, true},
		{"expires now", &sessionguard.Credentials{AccessToken: tokenExpiringAt(t, baseTime)}, false},
		{"expired", &sessionguard.Credentials{AccessToken: tokenExpiringAt(t, baseTime.Add(-time.Minute))}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := sessionguard.NewMemoryStore()
			if tt.stored != nil {
				require.NoError(t, store.Save(ctx, *tt.stored))
			}
			g := newGuard(t, newFakeRefresher(sessionguard.Credentials{}, nil), store)
			assert.Equal(t, tt.want, g.IsValidSession())

			header, ok := g.AuthHeader()
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, "Bearer "+tt.stored.AccessToken, header)
			} else {
				assert.Empty(t, header)
			}
		})
	}
}

func TestTimeUntilExpiration(t *testing.T) {
	ctx := context.Background()
	store := sessionguard.NewMemoryStore()
	g := newGuard(t, newFakeRefresher(sessionguard.Credentials{}, nil), store)

	_, ok := g.TimeUntilExpiration()
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, sessionguard.Credentials{AccessToken: tokenExpiringAt(t, baseTime.Add(90*time.Second))}))
	left, ok := g.TimeUntilExpiration()
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, left)

	require.NoError(t, store.Save(ctx, sessionguard.Credentials{AccessToken: tokenExpiringAt(t, baseTime.Add(-time.Hour))}))
	left, ok = g.TimeUntilExpiration()
	require.True(t, ok)
	assert.Zero(t, left)

	require.NoError(t, store.Save(ctx, sessionguard.Credentials{AccessToken: "garbage"}))
	_, ok = g.TimeUntilExpiration()
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	rotated := sessionguard.Credentials{AccessToken: tokenExpiringAt(t, baseTime.Add(15*time.Minute)), RefreshToken: "r2"}

	t.Run("refreshes an expiring token", func(t *testing.T) {
		store := sessionguard.NewMemoryStore()
		require.NoError(t, store.Save(ctx, sessionguard.Credentials{
			AccessToken: tokenExpiringAt(t, baseTime.Add(time.Minute)), RefreshToken: "r1",
		}))
		r := newFakeRefresher(rotated, nil)
		g := newGuard(t, r, store)

		assert.True(t, g.Validate(ctx))
		assert.Equal(t, []string{"r1"}, r.Calls())
		got, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, rotated, got)
	})

	t.Run("failed refresh invalidates", func(t *testing.T) {
		store := sessionguard.NewMemoryStore()
		require.NoError(t, store.Save(ctx, sessionguard.Credentials{
			AccessToken: tokenExpiringAt(t, baseTime.Add(time.Minute)), RefreshToken: "r1",
		}))
		g := newGuard(t, newFakeRefresher(sessionguard.Credentials{}, errors.New("nope")), store)

		assert.False(t, g.Validate(ctx))
		_, err := store.Load(ctx)
		assert.ErrorIs(t, err, sessionguard.ErrNoCredentials)
	})

	t.Run("fresh token is checked without refresh", func(t *testing.T) {
		store := sessionguard.NewMemoryStore()
		require.NoError(t, store.Save(ctx, sessionguard.Credentials{
			AccessToken: tokenExpiringAt(t, baseTime.Add(time.Hour)), RefreshToken: "r1",
		}))
		r := newFakeRefresher(rotated, nil)
		g := newGuard(t, r, store)

		assert.True(t, g.Validate(ctx))
		assert.Empty(t, r.Calls())
	})

	t.Run("expiring token without refresh token", func(t *testing.T) {
		store := sessionguard.NewMemoryStore()
		require.NoError(t, store.Save(ctx, sessionguard.Credentials{
			AccessToken: tokenExpiringAt(t, baseTime.Add(time.Minute)),
		}))
		g := newGuard(t, newFakeRefresher(rotated, nil), store)
		assert.True(t, g.Validate(ctx), "still unexpired")
	})

	t.Run("no credentials", func(t *testing.T) {
		g := newGuard(t, newFakeRefresher(rotated, nil), sessionguard.NewMemoryStore())
		assert.False(t, g.Validate(ctx))
	})
}

func TestStart_ChecksImmediatelyAndPeriodically(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	store := sessionguard.NewMemoryStore()
	expiring := sessionguard.Credentials{AccessToken: tokenExpiringAt(t, baseTime.Add(time.Minute)), RefreshToken: "r1"}
	require.NoError(t, store.Save(ctx, expiring))

	// The refresher hands back another near-expiry pair, so every tick refreshes.
	r := newFakeRefresher(expiring, nil)
	g := newGuard(t, r, store, sessionguard.WithInterval(10*time.Millisecond))

	require.NoError(t, g.Start(ctx))
	for range 3 {
		select {
		case <-r.called:
		case <-time.After(2 * time.Second):
			t.Fatal("guard did not refresh")
		}
	}
	g.Stop()

	assert.GreaterOrEqual(t, len(r.Calls()), 3)
}

func TestStart_FirstCheckIsImmediate(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	store := sessionguard.NewMemoryStore()
	require.NoError(t, store.Save(ctx, sessionguard.Credentials{
		AccessToken: tokenExpiringAt(t, baseTime.Add(time.Minute)), RefreshToken: "r1",
	}))
	r := newFakeRefresher(sessionguard.Credentials{AccessToken: tokenExpiringAt(t, baseTime.Add(time.Hour)), RefreshToken: "r2"}, nil)
	g := newGuard(t, r, store, sessionguard.WithInterval(time.Hour))

	require.NoError(t, g.Start(ctx))
	defer g.Stop()

	select {
	case <-r.called:
	case <-time.After(2 * time.Second):
		t.Fatal("first check did not run on start")
	}
}

func TestStart_Twice(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := newGuard(t, newFakeRefresher(sessionguard.Credentials{}, nil), sessionguard.NewMemoryStore())
	require.NoError(t, g.Start(context.Background()))
	errutil.AssertErrorCode(t, g.Start(context.Background()), "SESSIONGUARD_RUNNING")
	g.Stop()

	require.NoError(t, g.Start(context.Background()), "a stopped guard can restart")
	g.Stop()
}

func TestStart_ContextCancelStopsLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	g := newGuard(t, newFakeRefresher(sessionguard.Credentials{}, nil), sessionguard.NewMemoryStore(),
		sessionguard.WithInterval(5*time.Millisecond))
	require.NoError(t, g.Start(ctx))

	cancel()
	g.Stop()
	require.NoError(t, g.Start(context.Background()))
	g.Stop()
}

func TestStop_WithoutStart(t *testing.T) {
	g := newGuard(t, newFakeRefresher(sessionguard.Credentials{}, nil), sessionguard.NewMemoryStore())
	assert.NotPanics(t, g.Stop)
}

type blockingRefresher struct {
	entered chan struct{}
}

func (b *blockingRefresher) Refresh(ctx context.Context, _ string) (sessionguard.Credentials, error) {
	close(b.entered)
	<-ctx.Done()
	return sessionguard.Credentials{}, ctx.Err()
}

func TestStop_DuringRefreshKeepsCredentials(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	store := sessionguard.NewMemoryStore()
	creds := sessionguard.Credentials{AccessToken: tokenExpiringAt(t, baseTime.Add(time.Minute)), RefreshToken: "r1"}
	require.NoError(t, store.Save(ctx, creds))

	r := &blockingRefresher{entered: make(chan struct{})}
	g := newGuard(t, r, store)
	require.NoError(t, g.Start(ctx))

	<-r.entered
	g.Stop()

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestConcurrentChecksRefreshOnce(t *testing.T) {
	ctx := context.Background()
	store := sessionguard.NewMemoryStore()
	require.NoError(t, store.Save(ctx, sessionguard.Credentials{
		AccessToken: tokenExpiringAt(t, baseTime.Add(time.Minute)), RefreshToken: "r1",
	}))
	r := newFakeRefresher(sessionguard.Credentials{AccessToken: tokenExpiringAt(t, baseTime.Add(time.Hour)), RefreshToken: "r2"}, nil)
	g := newGuard(t, r, store)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, g.Validate(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"r1"}, r.Calls())
}
