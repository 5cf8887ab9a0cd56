// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// User represents a registered account.
type User struct {
	ID            ulid.ULID
	Email         string
	PasswordHash  string
	FirstName     string
	LastName      string
	PhoneNumber   *string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastLoginAt   *time.Time
}

// UserView is the public projection of a User. It has no password field.
type UserView struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	PhoneNumber   *string    `json:"phoneNumber,omitempty"`
	EmailVerified bool       `json:"emailVerified"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastLoginAt   *time.Time `json:"lastLoginAt,omitempty"`
}

// NewUser creates a validated User. Email is stored exactly as given.
func NewUser(email, passwordHash, firstName, lastName string, phoneNumber *string, now time.Time) (*User, error) {
	if strings.TrimSpace(email) == "" {
		return nil, oops.Code(CodeValidation).With("field", "email").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if strings.TrimSpace(firstName) == "" {
		return nil, oops.Code(CodeValidation).With("field", "firstName").Errorf("first name cannot be empty")
	}
	if strings.TrimSpace(lastName) == "" {
		return nil, oops.Code(CodeValidation).With("field", "lastName").Errorf("last name cannot be empty")
	}
	if phoneNumber != nil && *phoneNumber == "" {
		phoneNumber = nil
	}

	return &User{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    firstName,
		LastName:     lastName,
		PhoneNumber:  phoneNumber,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// View returns the public projection of u.
func (u *User) View() *UserView {
	return &UserView{
		ID:            u.ID.String(),
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		PhoneNumber:   u.PhoneNumber,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
		LastLoginAt:   u.LastLoginAt,
	}
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns ErrDuplicate when the email is taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by exact email match.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// UpdateLastLogin sets last_login_at and updated_at.
	UpdateLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error

	// Delete removes a user. Sessions and reset requests go with it.
	Delete(ctx context.Context, id ulid.ULID) error
}
