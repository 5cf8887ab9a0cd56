// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"strings"

	"github.com/samber/oops"
)

// Salt parameters for SaltedSHA256Hasher.
const (
	PasswordSaltBytes = 16
	hashSeparator     = ":"
)

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces an encoded, salted digest of the password.
	// Two calls with the same password produce different outputs.
	Hash(password string) (string, error)

	// Verify reports whether password matches the encoded hash.
	// Malformed encodings are a mismatch, never an error.
	Verify(password, encoded string) bool
}

// SaltedSHA256Hasher implements PasswordHasher as SHA-256(password || salt)
// encoded as hex(salt) ":" hex(digest).
type SaltedSHA256Hasher struct {
	random io.Reader
}

// NewSaltedSHA256Hasher creates a hasher that draws salts from crypto/rand.
func NewSaltedSHA256Hasher() *SaltedSHA256Hasher {
	return &SaltedSHA256Hasher{random: rand.Reader}
}

// Hash produces hex(salt):hex(sha256(password || salt)) with a fresh salt.
func (h *SaltedSHA256Hasher) Hash(password string) (string, error) {
	salt := make([]byte, PasswordSaltBytes)
	if _, err := io.ReadFull(h.random, salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").
			With("requested_bytes", PasswordSaltBytes).
			Wrap(err)
	}

	digest := saltedDigest(password, salt)
	return hex.EncodeToString(salt) + hashSeparator + hex.EncodeToString(digest[:]), nil
}

// Verify recomputes the digest with the stored salt and compares in constant time.
func (h *SaltedSHA256Hasher) Verify(password, encoded string) bool {
	saltHex, digestHex, ok := strings.Cut(encoded, hashSeparator)
	if !ok || saltHex == "" || digestHex == "" {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(digestHex)
	if err != nil || len(want) != sha256.Size {
		return false
	}

	got := saltedDigest(password, salt)
	return subtle.ConstantTimeCompare(got[:], want) == 1
}

func saltedDigest(password string, salt []byte) [sha256.Size]byte {
	buf := make([]byte, 0, len(password)+len(salt))
	buf = append(buf, password...)
	buf = append(buf, salt...)
	return sha256.Sum256(buf)
}

// Compile-time interface check.
var _ PasswordHasher = (*SaltedSHA256Hasher)(nil)
