// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"context"
	"net/http"

	"github.com/samber/oops"

	"github.com/holomush/taskd/internal/auth"
)

// Credentials is the part of auth.CredentialService the handlers call.
type Credentials interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.UserView, error)
	IssueAccessToken(user *auth.UserView) (string, error)
	Login(ctx context.Context, email, password, userAgent, ipAddress string) (*auth.LoginResult, error)
	Logout(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	ValidateSession(ctx context.Context, accessToken string) (*auth.UserView, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

var _ Credentials = (*auth.CredentialService)(nil)

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Email           string  `json:"email" validate:"required,email"`
	Password        string  `json:"password" validate:"required,min=8"`
	ConfirmPassword string  `json:"confirmPassword" validate:"required,eqfield=Password"`
	FirstName       string  `json:"firstName" validate:"required,max=100"`
	LastName        string  `json:"lastName" validate:"required,max=100"`
	PhoneNumber     *string `json:"phoneNumber" validate:"omitempty,max=32"`
}

// LoginRequest carries the email in "username", as the login form posts it.
type LoginRequest struct {
	Username string `json:"username" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest is the body of POST /api/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// ForgotPasswordRequest is the body of POST /api/auth/forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest is the body of POST /api/auth/reset-password.
type ResetPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

// AuthData is returned by register and login.
type AuthData struct {
	User         *auth.UserView `json:"user"`
	Token        string         `json:"token"`
	RefreshToken string         `json:"refreshToken,omitempty"`
}

// SessionData is returned by GET /api/auth/session.
type SessionData struct {
	User *auth.UserView `json:"user"`
}

// AuthHandler serves the /api/auth routes.
type AuthHandler struct {
	creds Credentials
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(creds Credentials) *AuthHandler {
	return &AuthHandler{creds: creds}
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.creds.Register(r.Context(), auth.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := h.creds.IssueAccessToken(user)
	if err != nil {
		writeError(w, r, oops.Code("AUTH_REGISTER_FAILED").With("operation", "issue access token").Wrap(err))
		return
	}
	writeData(w, http.StatusCreated, AuthData{User: user, Token: token})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.creds.Login(r.Context(), req.Username, req.Password, r.UserAgent(), ClientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, AuthData{
		User:         result.User,
		Token:        result.AccessToken,
		RefreshToken: result.RefreshToken,
	})
}

// Logout handles POST /api/auth/logout. It succeeds for any bearer token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.creds.Logout(r.Context(), BearerToken(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, MessageData{Message: "logged out"})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	pair, err := h.creds.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, pair)
}

// ForgotPassword handles POST /api/auth/forgot-password. The response does
// not reveal whether the email is registered.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.creds.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, MessageData{Message: "if the address is registered, a reset link has been sent"})
}

// ResetPassword handles POST /api/auth/reset-password.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.creds.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, MessageData{Message: "password has been reset"})
}

// Session handles GET /api/auth/session.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	user, err := h.creds.ValidateSession(r.Context(), BearerToken(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if user == nil {
		writeFailure(w, r, http.StatusUnauthorized, ErrorBody{
			Code:    auth.CodeInvalidToken,
			Message: "invalid or expired token",
		})
		return
	}
	writeData(w, http.StatusOK, SessionData{User: user})
}
