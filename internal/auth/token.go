// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token lifetimes.
const (
	AccessTokenTTL = 15 * time.Minute
	SessionTTL     = 7 * 24 * time.Hour
)

// Claims is the access token payload: {"userId","email","iat","exp","jti"}.
// jti is random, so every issued token is distinct.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies HS256 bearer tokens.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

// TokenCodecOption configures a TokenCodec.
type TokenCodecOption func(*TokenCodec)

// WithTokenClock overrides the codec's clock.
func WithTokenClock(now func() time.Time) TokenCodecOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// NewTokenCodec creates a codec signing with secret.
func NewTokenCodec(secret []byte, opts ...TokenCodecOption) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, oops.Code("TOKEN_SECRET_EMPTY").Errorf("token signing secret is required")
	}

	c := &TokenCodec{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
		// Expiry is checked by Verify in whole seconds against the codec clock.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
			jwt.WithStrictDecoding(),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs claims with iat = now, exp = now + ttl and a fresh jti.
// Registered claims already present on claims are replaced.
func (c *TokenCodec) Issue(claims Claims, ttl time.Duration) (string, error) {
	now := c.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        ulid.Make().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").
			With("user_id", claims.UserID).
			Wrap(err)
	}
	return signed, nil
}

// Verify returns the token's claims when the signature matches and exp has
// not passed. Every other outcome reports false.
func (c *TokenCodec) Verify(token string) (*Claims, bool) {
	if strings.Count(token, ".") != 2 {
		return nil, false
	}

	claims := &Claims{}
	parsed, err := c.parser.ParseWithClaims(token, claims, c.key)
	if err != nil || !parsed.Valid {
		return nil, false
	}

	if claims.ExpiresAt == nil || claims.ExpiresAt.Unix() < c.now().Unix() {
		return nil, false
	}
	return claims, true
}

func (c *TokenCodec) key(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, oops.Code("TOKEN_UNEXPECTED_METHOD").Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return c.secret, nil
}
