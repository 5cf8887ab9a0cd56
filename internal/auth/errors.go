// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "errors"

// Repository sentinels.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a write collides with a unique constraint.
	ErrDuplicate = errors.New("duplicate")

	// ErrSessionExpired is returned when a session is found but has expired.
	ErrSessionExpired = errors.New("session expired")
)

// Error codes surfaced to API callers. They are stable and machine-readable.
const (
	CodeAlreadyExists       = "USER_ALREADY_EXISTS"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodeRefreshTokenExpired = "REFRESH_TOKEN_EXPIRED"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeMissingToken        = "MISSING_TOKEN"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeValidation          = "VALIDATION_ERROR"
	CodeInvalidResetToken   = "INVALID_RESET_TOKEN"
)
