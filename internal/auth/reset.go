// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes  = 32        // 32 bytes = 64 hex chars
	ResetTokenExpiry = time.Hour // default expiry, overridable via config
)

// PasswordReset represents a single-use password reset token. Only the
// SHA-256 digest of the token is stored; UsedAt is set exactly once,
// under a row lock, when the token is redeemed.
type PasswordReset struct {
	ID        ulid.ULID
	AccountID ulid.ULID
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// NewPasswordReset creates a validated PasswordReset instance.
func NewPasswordReset(accountID ulid.ULID, tokenHash string, expiresAt time.Time) (*PasswordReset, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("RESET_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("RESET_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	return &PasswordReset{
		ID:        ulid.Make(),
		AccountID: accountID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}, nil
}

// IsExpired returns true if the reset token has expired.
func (r *PasswordReset) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}

// IsRedeemable reports the sole validity condition for redemption:
// not yet used and not yet expired.
func (r *PasswordReset) IsRedeemable(now time.Time) bool {
	return r.UsedAt == nil && now.Before(r.ExpiresAt)
}

// GenerateResetToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error). The plaintext token goes
// into the reset email; the hash is what the database stores.
func GenerateResetToken() (token, hash string, err error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	hash = HashBearerToken(token)

	return token, hash, nil
}

// PasswordResetRepository manages reset-token persistence.
type PasswordResetRepository interface {
	// Create stores a new password reset token.
	Create(ctx context.Context, reset *PasswordReset) error

	// GetByTokenHash retrieves a reset token by its hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*PasswordReset, error)

	// Redeem atomically consumes the token and rotates the credential:
	// inside one transaction it locks the token row (SELECT ... FOR
	// UPDATE), checks used_at IS NULL AND expires_at > now, sets
	// used_at, replaces the account's password hash, and deletes all of
	// the account's sessions. Returns the account ID and true when the
	// caller won the redemption; (zero, false, nil) when the token is
	// missing, expired, or already used; a non-nil error only for
	// transient storage failures, after rollback.
	Redeem(ctx context.Context, tokenHash, newPasswordHash string) (ulid.ULID, bool, error)

	// DeleteExpired removes expired reset tokens and returns the count.
	DeleteExpired(ctx context.Context) (int64, error)
}
