// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package sessionguard keeps a client's bearer session fresh. A Guard checks
// the stored access token on a fixed interval and exchanges the refresh
// token shortly before the access token expires. Any refresh failure clears
// the stored credentials; the client must log in again.
package sessionguard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// Defaults for a Guard.
const (
	DefaultInterval  = time.Minute
	DefaultThreshold = 5 * time.Minute
)

// Refresher exchanges a refresh token for a new credential pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Credentials, error)
}

// Guard refreshes stored credentials before they expire.
type Guard struct {
	refresher Refresher
	store     CredentialStore
	interval  time.Duration
	threshold time.Duration
	now       func() time.Time
	logger    *slog.Logger
	onCleared func()

	// refreshMu serializes refreshes so a rotated refresh token is never
	// presented twice.
	refreshMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Guard.
type Option func(*Guard)

// WithInterval sets how often the loop checks the access token.
func WithInterval(d time.Duration) Option {
	return func(g *Guard) {
		g.interval = d
	}
}

// WithThreshold sets how close to expiry a token is refreshed.
func WithThreshold(d time.Duration) Option {
	return func(g *Guard) {
		g.threshold = d
	}
}

// WithClock overrides the guard's clock.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// WithLogger sets the logger for background refresh failures.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// WithOnCleared registers a callback run after a failed refresh clears the
// credentials.
func WithOnCleared(fn func()) Option {
	return func(g *Guard) {
		g.onCleared = fn
	}
}

// New creates a Guard.
func New(refresher Refresher, store CredentialStore, opts ...Option) (*Guard, error) {
	if refresher == nil {
		return nil, oops.Code("SESSIONGUARD_INVALID").Errorf("refresher cannot be nil")
	}
	if store == nil {
		return nil, oops.Code("SESSIONGUARD_INVALID").Errorf("credential store cannot be nil")
	}

	g := &Guard{
		refresher: refresher,
		store:     store,
		interval:  DefaultInterval,
		threshold: DefaultThreshold,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.interval <= 0 {
		return nil, oops.Code("SESSIONGUARD_INVALID").With("interval", g.interval).Errorf("interval must be positive")
	}
	if g.threshold < 0 {
		return nil, oops.Code("SESSIONGUARD_INVALID").With("threshold", g.threshold).Errorf("threshold cannot be negative")
	}
	if g.now == nil || g.logger == nil {
		return nil, oops.Code("SESSIONGUARD_INVALID").Errorf("clock and logger cannot be nil")
	}
	return g, nil
}

// Start runs a check immediately and then every interval until ctx is
// canceled or Stop is called.
func (g *Guard) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done != nil {
		select {
		case <-g.done:
		default:
			return oops.Code("SESSIONGUARD_RUNNING").Errorf("guard already started")
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	g.cancel = cancel
	g.done = done

	go g.loop(loopCtx, done)
	return nil
}

// Stop ends the loop and waits for it to exit. Stopping a guard that was
// never started is a no-op.
func (g *Guard) Stop() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (g *Guard) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		if err := g.Check(ctx); err != nil && ctx.Err() == nil {
			g.logger.WarnContext(ctx, "session check failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Check refreshes the credentials when the access token is within the
// threshold of expiry. Without both tokens stored it does nothing.
func (g *Guard) Check(ctx context.Context) error {
	g.refreshMu.Lock()
	defer g.refreshMu.Unlock()

	creds, ok, err := g.load(ctx)
	if err != nil || !ok {
		return err
	}
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		return nil
	}
	if !g.expiringSoon(creds.AccessToken) {
		return nil
	}
	return g.refresh(ctx, creds)
}

// Validate reports whether the session is usable, refreshing first when
// the access token is close to expiry.
func (g *Guard) Validate(ctx context.Context) bool {
	g.refreshMu.Lock()
	creds, ok, err := g.load(ctx)
	if err != nil || !ok || creds.AccessToken == "" {
		g.refreshMu.Unlock()
		return false
	}
	if creds.RefreshToken != "" && g.expiringSoon(creds.AccessToken) {
		err := g.refresh(ctx, creds)
		g.refreshMu.Unlock()
		return err == nil
	}
	g.refreshMu.Unlock()
	return g.IsValidSession()
}

// IsValidSession reports whether an access token is stored and unexpired.
func (g *Guard) IsValidSession() bool {
	creds, ok, err := g.load(context.Background())
	if err != nil || !ok || creds.AccessToken == "" {
		return false
	}
	exp, ok := expiry(creds.AccessToken)
	if !ok {
		return false
	}
	return g.now().Before(exp)
}

// TimeUntilExpiration returns the time left on the stored access token,
// floored at zero. ok is false without a decodable token.
func (g *Guard) TimeUntilExpiration() (time.Duration, bool) {
	creds, ok, err := g.load(context.Background())
	if err != nil || !ok || creds.AccessToken == "" {
		return 0, false
	}
	exp, ok := expiry(creds.AccessToken)
	if !ok {
		return 0, false
	}
	return max(0, exp.Sub(g.now())), true
}

// AuthHeader returns "Bearer <token>" for a valid session.
func (g *Guard) AuthHeader() (string, bool) {
	creds, ok, err := g.load(context.Background())
	if err != nil || !ok || creds.AccessToken == "" || !g.IsValidSession() {
		return "", false
	}
	return "Bearer " + creds.AccessToken, true
}

func (g *Guard) load(ctx context.Context) (Credentials, bool, error) {
	creds, err := g.store.Load(ctx)
	if errors.Is(err, ErrNoCredentials) {
		return Credentials{}, false, nil
	}
	if err != nil {
		return Credentials{}, false, oops.Code("SESSIONGUARD_LOAD_FAILED").Wrap(err)
	}
	return creds, true, nil
}

// refresh must be called with refreshMu held.
func (g *Guard) refresh(ctx context.Context, creds Credentials) error {
	next, err := g.refresher.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		if ctx.Err() != nil {
			return oops.Code("SESSIONGUARD_CANCELED").Wrap(ctx.Err())
		}
		if clearErr := g.store.Clear(ctx); clearErr != nil {
			g.logger.WarnContext(ctx, "failed to clear credentials", slog.String("error", clearErr.Error()))
		}
		if g.onCleared != nil {
			g.onCleared()
		}
		return oops.Code("SESSIONGUARD_REFRESH_FAILED").Wrap(err)
	}

	if err := g.store.Save(ctx, next); err != nil {
		return oops.Code("SESSIONGUARD_SAVE_FAILED").Wrap(err)
	}
	return nil
}

func (g *Guard) expiringSoon(accessToken string) bool {
	exp, ok := expiry(accessToken)
	if !ok {
		return true
	}
	return exp.Sub(g.now()) <= g.threshold
}

// expiry reads the exp claim without verifying the signature.
func expiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
