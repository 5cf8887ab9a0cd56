// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides the credential and session core for taskd.
//
// # Domain Types
//
// Domain types (User, Session, PasswordReset) should be created using their
// respective constructors:
//   - NewUser - creates a User with validated identity fields and password hash
//   - NewSession - creates a Session bound to a user with hashed tokens
//   - NewPasswordReset - creates a PasswordReset with validated user and expiry
//
// Plaintext tokens never reach a repository. Sessions and reset requests
// carry only the SHA-256 hex digest produced by HashToken.
//
// # Primitives
//
//   - PasswordHasher - salted one-way password hashing (SaltedSHA256Hasher)
//   - TokenCodec - HS256 bearer tokens carrying userId, email, iat and exp
//   - SessionStore - session lifecycle on top of a SessionRepository,
//     including single-use refresh token rotation
//
// # Services
//
// CredentialService coordinates registration, login, logout, refresh,
// session validation and the password reset flow. It is created with
// NewCredentialService, which validates its dependencies.
//
// Access tokens are validated without consulting the session store, so a
// logged-out access token stays usable until it expires. Logout revokes
// the refresh capability immediately.
package auth
