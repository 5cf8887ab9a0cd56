// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Outcome labels passed to EventRecorder.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// dummyPasswordHash is verified when the email is unknown so that both login
// failure paths do the same work. It is well-formed but matches no password.
//
//nolint:gosec // G101: fixed non-credential value
const dummyPasswordHash = "00000000000000000000000000000000:" +
	"0000000000000000000000000000000000000000000000000000000000000000"

// errSessionOwnerMissing marks a refresh whose session outlived its user.
var errSessionOwnerMissing = errors.New("session owner no longer exists")

// RegisterInput holds the fields for a new account.
type RegisterInput struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber *string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	User         *UserView
	AccessToken  string
	RefreshToken string
}

// Deps are the collaborators of a CredentialService.
type Deps struct {
	Users    UserRepository
	Sessions *SessionStore
	Resets   ResetRepository
	Hasher   PasswordHasher
	Tokens   *TokenCodec
	Notifier ResetNotifier
}

// Option configures a CredentialService.
type Option func(*CredentialService)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *CredentialService) {
		s.logger = logger
	}
}

// WithRecorder sets the operation counter.
func WithRecorder(r EventRecorder) Option {
	return func(s *CredentialService) {
		s.recorder = r
	}
}

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *CredentialService) {
		s.now = now
	}
}

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *CredentialService) {
		s.accessTTL = ttl
	}
}

// WithResetTTL overrides the reset token lifetime.
func WithResetTTL(ttl time.Duration) Option {
	return func(s *CredentialService) {
		s.resetTTL = ttl
	}
}

// CredentialService provides registration, login and session operations.
type CredentialService struct {
	users     UserRepository
	sessions  *SessionStore
	resets    ResetRepository
	hasher    PasswordHasher
	tokens    *TokenCodec
	notifier  ResetNotifier
	logger    *slog.Logger
	recorder  EventRecorder
	now       func() time.Time
	accessTTL time.Duration
	resetTTL  time.Duration
}

// NewCredentialService creates a CredentialService.
// Returns an error if any dependency is missing.
func NewCredentialService(deps Deps, opts ...Option) (*CredentialService, error) {
	if deps.Users == nil {
		return nil, oops.Code("SERVICE_INVALID").Errorf("users repository is required")
	}
	if deps.Sessions == nil {
		return nil, oops.Code("SERVICE_INVALID").Errorf("session store is required")
	}
	if deps.Resets == nil {
		return nil, oops.Code("SERVICE_INVALID").Errorf("resets repository is required")
	}
	if deps.Hasher == nil {
		return nil, oops.Code("SERVICE_INVALID").Errorf("password hasher is required")
	}
	if deps.Tokens == nil {
		return nil, oops.Code("SERVICE_INVALID").Errorf("token codec is required")
	}

	s := &CredentialService{
		users:     deps.Users,
		sessions:  deps.Sessions,
		resets:    deps.Resets,
		hasher:    deps.Hasher,
		tokens:    deps.Tokens,
		notifier:  deps.Notifier,
		logger:    slog.Default(),
		recorder:  nopRecorder{},
		now:       time.Now,
		accessTTL: AccessTokenTTL,
		resetTTL:  ResetTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		return nil, oops.Code("SERVICE_INVALID").Errorf("logger cannot be nil")
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.logger)
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	return s, nil
}

// Register creates an account. Returns USER_ALREADY_EXISTS when the email
// is taken.
func (s *CredentialService) Register(ctx context.Context, in RegisterInput) (*UserView, error) {
	_, err := s.users.GetByEmail(ctx, in.Email)
	switch {
	case err == nil:
		s.recorder.RecordAuthEvent("register", OutcomeRejected)
		return nil, errAlreadyExists(in.Email)
	case !errors.Is(err, ErrNotFound):
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(in.Email, hash, in.FirstName, in.LastName, in.PhoneNumber, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		// Lost a race with a concurrent registration of the same email.
		if errors.Is(err, ErrDuplicate) {
			s.recorder.RecordAuthEvent("register", OutcomeRejected)
			return nil, errAlreadyExists(in.Email)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "persist user").
			Wrap(err)
	}

	s.recorder.RecordAuthEvent("register", OutcomeSuccess)
	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", user.ID.String()))
	return user.View(), nil
}

// IssueAccessToken signs an access token for user without creating a session.
// Used to sign a user in right after registration.
func (s *CredentialService) IssueAccessToken(user *UserView) (string, error) {
	return s.tokens.Issue(Claims{UserID: user.ID, Email: user.Email}, s.accessTTL)
}

// Login authenticates by email and password and opens a session.
// Unknown emails and wrong passwords fail identically.
func (s *CredentialService) Login(ctx context.Context, email, password, userAgent, ipAddress string) (*LoginResult, error) {
	user, lookupErr := s.users.GetByEmail(ctx, email)

	targetHash := dummyPasswordHash
	userExists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	// Always verify so unknown emails cost the same as wrong passwords.
	valid := s.hasher.Verify(password, targetHash)
	if !userExists || !valid {
		s.recorder.RecordAuthEvent("login", OutcomeRejected)
		return nil, errInvalidCredentials()
	}

	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "update last login").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	user.LastLoginAt = &now
	user.UpdatedAt = now

	pair, err := s.mintFor(user)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "mint tokens").
			Wrap(err)
	}

	meta := SessionMeta{UserAgent: userAgent, IPAddress: ipAddress}
	if _, err := s.sessions.Create(ctx, user.ID, pair.AccessToken, pair.RefreshToken, meta); err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	s.recorder.RecordAuthEvent("login", OutcomeSuccess)
	return &LoginResult{
		User:         user.View(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// Logout deletes the session holding accessToken. It never fails: expired,
// malformed and unknown tokens are a no-op.
func (s *CredentialService) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	if err := s.sessions.Invalidate(ctx, accessToken); err != nil {
		s.logger.WarnContext(ctx, "logout could not delete session", slog.String("error", err.Error()))
		s.recorder.RecordAuthEvent("logout", OutcomeFailure)
		return nil
	}
	s.recorder.RecordAuthEvent("logout", OutcomeSuccess)
	return nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// single-use. The password is not re-verified.
func (s *CredentialService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	pair, _, err := s.sessions.Rotate(ctx, refreshToken, s.mintForID)
	if err != nil {
		switch {
		case errors.Is(err, errSessionOwnerMissing):
			s.recorder.RecordAuthEvent("refresh", OutcomeRejected)
			return nil, oops.Code(CodeUserNotFound).Errorf("user not found")
		case errors.Is(err, ErrSessionExpired):
			s.recorder.RecordAuthEvent("refresh", OutcomeRejected)
			return nil, oops.Code(CodeRefreshTokenExpired).Errorf("refresh token has expired")
		case errors.Is(err, ErrNotFound):
			s.recorder.RecordAuthEvent("refresh", OutcomeRejected)
			return nil, oops.Code(CodeInvalidRefreshToken).Errorf("invalid refresh token")
		default:
			s.recorder.RecordAuthEvent("refresh", OutcomeFailure)
			return nil, oops.Code("AUTH_REFRESH_FAILED").
				With("operation", "rotate session").
				Wrap(err)
		}
	}

	s.recorder.RecordAuthEvent("refresh", OutcomeSuccess)
	return &pair, nil
}

// ValidateSession returns the user an access token belongs to, or nil when
// the token is invalid or expired. The session store is not consulted.
func (s *CredentialService) ValidateSession(ctx context.Context, accessToken string) (*UserView, error) {
	claims, ok := s.tokens.Verify(accessToken)
	if !ok {
		return nil, nil
	}
	id, err := ulid.Parse(claims.UserID)
	if err != nil {
		return nil, nil
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, oops.Code("AUTH_VALIDATE_FAILED").
			With("operation", "get user by id").
			With("user_id", claims.UserID).
			Wrap(err)
	}
	return user.View(), nil
}

// RequestPasswordReset issues a reset token when email belongs to a user.
// It reports success either way.
func (s *CredentialService) RequestPasswordReset(ctx context.Context, email string) error {
	if err := s.issueReset(ctx, email); err != nil {
		s.logger.WarnContext(ctx, "password reset request failed", slog.String("error", err.Error()))
		s.recorder.RecordAuthEvent("reset_request", OutcomeFailure)
		return nil
	}
	s.recorder.RecordAuthEvent("reset_request", OutcomeSuccess)
	return nil
}

func (s *CredentialService) issueReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return err
	}

	now := s.now()
	reset, err := NewPasswordReset(user.ID, hash, now, now.Add(s.resetTTL))
	if err != nil {
		return err
	}
	if err := s.resets.Replace(ctx, reset); err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "replace reset tokens").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	if err := s.notifier.NotifyPasswordReset(ctx, user, token, reset.ExpiresAt); err != nil {
		return oops.Code("RESET_NOTIFY_FAILED").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// ResetPassword sets a new password using a reset token. The token is
// consumed and every session of the user is revoked.
func (s *CredentialService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return errInvalidResetToken()
	}

	reset, err := s.resets.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errInvalidResetToken()
		}
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "get reset by token hash").
			Wrap(err)
	}

	now := s.now()
	if reset.IsUsed() || reset.IsExpiredAt(now) {
		return errInvalidResetToken()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	// Two concurrent resets cannot both apply: only one redeems the token.
	if err := s.resets.Redeem(ctx, reset, hash, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			return errInvalidResetToken()
		}
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "redeem reset").
			With("user_id", reset.UserID.String()).
			Wrap(err)
	}

	if err := s.sessions.InvalidateUser(ctx, reset.UserID); err != nil {
		s.logger.WarnContext(ctx, "failed to revoke sessions after password reset",
			slog.String("user_id", reset.UserID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.recorder.RecordAuthEvent("reset_password", OutcomeSuccess)
	return nil
}

// PurgeExpired deletes expired sessions and reset requests.
func (s *CredentialService) PurgeExpired(ctx context.Context) (sessions, resets int64, err error) {
	sessions, err = s.sessions.PurgeExpired(ctx)
	if err != nil {
		return 0, 0, err
	}
	resets, err = s.resets.DeleteExpired(ctx, s.now())
	if err != nil {
		return sessions, 0, oops.Code("RESET_PURGE_FAILED").Wrap(err)
	}
	return sessions, resets, nil
}

func (s *CredentialService) mintForID(ctx context.Context, userID ulid.ULID) (TokenPair, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, errSessionOwnerMissing
		}
		return TokenPair{}, oops.Code("AUTH_REFRESH_FAILED").
			With("operation", "get user by id").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return s.mintFor(user)
}

func (s *CredentialService) mintFor(user *User) (TokenPair, error) {
	access, err := s.tokens.Issue(Claims{UserID: user.ID.String(), Email: user.Email}, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := GenerateRefreshToken()
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func errAlreadyExists(email string) error {
	return oops.Code(CodeAlreadyExists).
		With("email", email).
		Errorf("a user with this email already exists")
}

func errInvalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}

func errInvalidResetToken() error {
	return oops.Code(CodeInvalidResetToken).Errorf("invalid or expired reset token")
}
