// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Account lockout configuration.
const (
	// LockoutThreshold is the number of consecutive login failures that
	// triggers a temporary lockout.
	LockoutThreshold = 7

	// LockoutDuration is how long an account stays locked after too many
	// failures.
	LockoutDuration = 15 * time.Minute
)

// Account represents an investor account. PasswordHash is an opaque
// salt:key encoding produced by PasswordHasher and must never be logged
// or serialized outward.
type Account struct {
	ID             ulid.ULID
	Email          string
	PasswordHash   string
	FailedAttempts int
	LockedUntil    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NormalizeEmail canonicalizes an email address for lookup: trimmed and
// lower-cased. Lookups and storage always use the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks that the address parses as a bare RFC 5322 address.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return oops.Code("AUTH_INVALID_EMAIL").Wrap(err)
	}
	if addr.Address != email {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email must be a bare address")
	}
	return nil
}

// NewAccount creates a validated Account with a normalized email.
func NewAccount(email, passwordHash string) (*Account, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &Account{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsLocked returns true if the account is currently locked out.
func (a *Account) IsLocked() bool {
	return a.LockedUntil != nil && a.LockedUntil.After(time.Now())
}

// RecordFailure increments the failure counter and sets the lockout
// timestamp once the threshold is reached.
func (a *Account) RecordFailure() {
	a.FailedAttempts++
	if a.FailedAttempts >= LockoutThreshold {
		until := time.Now().Add(LockoutDuration)
		a.LockedUntil = &until
	}
	a.UpdatedAt = time.Now()
}

// RecordSuccess resets the failure counter and lockout.
func (a *Account) RecordSuccess() {
	a.FailedAttempts = 0
	a.LockedUntil = nil
	a.UpdatedAt = time.Now()
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account. Returns an error wrapping ErrConflict
	// if the email is already registered.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by normalized email.
	// Returns an error wrapping ErrNotFound if no account matches.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// Update updates lockout bookkeeping and the password hash.
	Update(ctx context.Context, account *Account) error

	// RotateCredential replaces the password hash and deletes every
	// session for the account inside a single transaction, so a
	// concurrent request cannot keep using a session issued against the
	// old credential.
	RotateCredential(ctx context.Context, id ulid.ULID, passwordHash string) error
}
