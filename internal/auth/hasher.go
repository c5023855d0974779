// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/scrypt"
)

// Scrypt parameters. N/r/p follow the interactive-login recommendation;
// changing them invalidates no stored hash because Verify re-derives with
// the same fixed parameters the hash was created with.
const (
	scryptN       = 32768
	scryptR       = 8
	scryptP       = 1
	scryptSaltLen = 16 // salt length in bytes
	scryptKeyLen  = 64 // derived key length in bytes
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted scrypt hash of the password. Two calls on
	// the same input produce different encodings (random salt).
	Hash(password string) (string, error)

	// Verify reports whether the password matches the encoded hash.
	// Malformed encodings fail closed and return false.
	Verify(password, encoded string) bool
}

// ScryptHasher implements PasswordHasher using scrypt with the fixed
// parameters above. Encoded form is "salt_hex:derivedKey_hex".
type ScryptHasher struct{}

// NewScryptHasher creates a new ScryptHasher.
func NewScryptHasher() *ScryptHasher {
	return &ScryptHasher{}
}

// Hash produces a salted scrypt hash of the password.
func (h *ScryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, scryptSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		// Only reachable on invalid cost parameters or allocation
		// failure. Propagated, never swallowed.
		return "", oops.Code("AUTH_KDF_FAILED").Wrap(err)
	}

	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
}

// Verify reports whether the password matches the encoded hash. The
// comparison between the recomputed and stored keys is constant-time.
func (h *ScryptHasher) Verify(password, encoded string) bool {
	salt, stored, ok := decodeHash(encoded)
	if !ok {
		return false
	}

	// Derive with the stored key length so legacy 32-byte hashes still
	// verify.
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, len(stored))
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(key, stored) == 1
}

// decodeHash splits a "salt_hex:key_hex" encoding. Any structural defect
// yields ok=false so callers fail closed.
func decodeHash(encoded string) (salt, key []byte, ok bool) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 2 {
		return nil, nil, false
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) == 0 {
		return nil, nil, false
	}

	key, err = hex.DecodeString(parts[1])
	if err != nil || len(key) == 0 {
		return nil, nil, false
	}

	return salt, key, true
}
