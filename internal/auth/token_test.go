// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/taskd/internal/auth"
	"github.com/holomush/taskd/pkg/errutil"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewTokenCodec_RejectsEmptySecret(t *testing.T) {
	_, err := auth.NewTokenCodec(nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "TOKEN_SECRET_EMPTY")
}

func TestTokenCodec_IssueVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	codec, err := auth.NewTokenCodec(testSecret, auth.WithTokenClock(fixedClock(now)))
	require.NoError(t, err)

	token, err := codec.Issue(auth.Claims{UserID: "01HV0000000000000000000000", Email: "alice@example.com"}, time.Hour)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	claims, ok := codec.Verify(token)
	require.True(t, ok)
	assert.Equal(t, "01HV0000000000000000000000", claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, now.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, now.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
}

func TestTokenCodec_Header(t *testing.T) {
	codec, err := auth.NewTokenCodec(testSecret)
	require.NoError(t, err)

	token, err := codec.Issue(auth.Claims{UserID: "u", Email: "e"}, time.Minute)
	require.NoError(t, err)

	header, err := base64.RawURLEncoding.DecodeString(strings.Split(token, ".")[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"alg":"HS256","typ":"JWT"}`, string(header))
}

func TestTokenCodec_PayloadFields(t *testing.T) {
	codec, err := auth.NewTokenCodec(testSecret)
	require.NoError(t, err)

	token, err := codec.Issue(auth.Claims{UserID: "u1", Email: "a@b.c"}, time.Minute)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(strings.Split(token, ".")[1])
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.ElementsMatch(t, []string{"userId", "email", "iat", "exp", "jti"}, keys(payload))
}

func TestTokenCodec_SameInstantTokensDiffer(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	codec, err := auth.NewTokenCodec(testSecret, auth.WithTokenClock(fixedClock(now)))
	require.NoError(t, err)

	claims := auth.Claims{UserID: "u1", Email: "a@b.c"}
	first, err := codec.Issue(claims, time.Minute)
	require.NoError(t, err)
	second, err := codec.Issue(claims, time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	a, ok := codec.Verify(first)
	require.True(t, ok)
	b, ok := codec.Verify(second)
	require.True(t, ok)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestTokenCodec_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	codec, err := auth.NewTokenCodec(testSecret, auth.WithTokenClock(fixedClock(now)))
	require.NoError(t, err)

	t.Run("negative ttl is immediately invalid", func(t *testing.T) {
		token, err := codec.Issue(auth.Claims{UserID: "u"}, -time.Second)
		require.NoError(t, err)
		_, ok := codec.Verify(token)
		assert.False(t, ok)
	})

	t.Run("exp equal to now is still valid", func(t *testing.T) {
		token, err := codec.Issue(auth.Claims{UserID: "u"}, 0)
		require.NoError(t, err)
		_, ok := codec.Verify(token)
		assert.True(t, ok)
	})

	t.Run("expires once the clock passes exp", func(t *testing.T) {
		token, err := codec.Issue(auth.Claims{UserID: "u"}, time.Minute)
		require.NoError(t, err)

		later, err := auth.NewTokenCodec(testSecret, auth.WithTokenClock(fixedClock(now.Add(2*time.Minute))))
		require.NoError(t, err)
		_, ok := later.Verify(token)
		assert.False(t, ok)
	})
}

func TestTokenCodec_RejectsTampering(t *testing.T) {
	codec, err := auth.NewTokenCodec(testSecret)
	require.NoError(t, err)

	token, err := codec.Issue(auth.Claims{UserID: "u", Email: "e"}, time.Hour)
	require.NoError(t, err)

	sigStart := strings.LastIndex(token, ".") + 1
	for i := sigStart; i < len(token); i++ {
		replacement := byte('A')
		if token[i] == 'A' {
			replacement = 'E'
		}
		tampered := token[:i] + string(replacement) + token[i+1:]
		_, ok := codec.Verify(tampered)
		assert.False(t, ok, "signature position %d", i-sigStart)
	}
}

func TestTokenCodec_RejectsMalformed(t *testing.T) {
	codec, err := auth.NewTokenCodec(testSecret)
	require.NoError(t, err)

	other, err := auth.NewTokenCodec([]byte("another-secret-another-secret-xx"))
	require.NoError(t, err)
	foreign, err := other.Issue(auth.Claims{UserID: "u"}, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"userId": "u",
		"exp":    time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"empty":          "",
		"one segment":    "abc",
		"two segments":   "abc.def",
		"four segments":  "a.b.c.d",
		"garbage":        "not.a.token",
		"foreign secret": foreign,
		"alg none":       none,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, ok := codec.Verify(token)
			assert.False(t, ok)
		})
	}
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
