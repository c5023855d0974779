// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenSigner mints signed bearer tokens for sessions. Implemented by
// token.Codec.
type TokenSigner interface {
	Sign(subject, sessionID string, ttl time.Duration) (string, error)
}

// Service provides signup, login, logout, and password-change operations.
type Service struct {
	accounts   AccountRepository
	sessions   SessionRepository
	hasher     PasswordHasher
	signer     TokenSigner
	sessionTTL time.Duration
}

// NewService creates a new Service. sessionTTL falls back to
// DefaultSessionTTL when zero.
func NewService(accounts AccountRepository, sessions SessionRepository, hasher PasswordHasher, signer TokenSigner, sessionTTL time.Duration) (*Service, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("account repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("session repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("password hasher is required")
	}
	if signer == nil {
		return nil, oops.Code("AUTH_NIL_DEPENDENCY").Errorf("token signer is required")
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &Service{
		accounts:   accounts,
		sessions:   sessions,
		hasher:     hasher,
		signer:     signer,
		sessionTTL: sessionTTL,
	}, nil
}

// dummyPasswordHash is verified when no account matches the email, so the
// response time does not reveal whether the address is registered. It is
// a structurally valid scrypt encoding that matches no password.
//
//nolint:gosec // G101: intentionally fake hash for timing uniformity, not a credential.
const dummyPasswordHash = "00000000000000000000000000000000:" +
	"0000000000000000000000000000000000000000000000000000000000000000" +
	"0000000000000000000000000000000000000000000000000000000000000000"

// Register creates a new account. Returns an error wrapping ErrConflict
// when the email is already registered.
func (s *Service) Register(ctx context.Context, email, password string) (*Account, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	account, err := NewAccount(email, hash)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, oops.Code("AUTH_EMAIL_TAKEN").Wrap(err)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create account").
			Wrap(err)
	}

	return account, nil
}

// Login authenticates an account and creates a session. Returns the
// session and the signed bearer token. The password is always verified,
// against a dummy hash when the account does not exist, so lookup misses
// and credential mismatches are indistinguishable by timing and by
// response.
func (s *Service) Login(ctx context.Context, email, password, userAgent, ipAddress string) (*Session, string, error) {
	account, lookupErr := s.accounts.GetByEmail(ctx, NormalizeEmail(email))

	targetHash := dummyPasswordHash
	accountExists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, "", oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get account by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = account.PasswordHash
		accountExists = true
	}

	valid := s.hasher.Verify(password, targetHash)

	if !accountExists || !valid {
		if accountExists {
			account.RecordFailure()
			_ = s.accounts.Update(ctx, account) //nolint:errcheck // Best effort
		}
		return nil, "", oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid email or password")
	}

	// Lockout is checked after verification to keep the timing profile
	// uniform across outcomes.
	if account.IsLocked() {
		return nil, "", oops.Code("AUTH_ACCOUNT_LOCKED").
			With("locked_until", account.LockedUntil).
			Errorf("account is temporarily locked")
	}

	account.RecordSuccess()
	// Login succeeds even if the bookkeeping update fails.
	_ = s.accounts.Update(ctx, account) //nolint:errcheck // Best effort

	sessionID := ulid.Make()
	expiresAt := time.Now().Add(s.sessionTTL)

	signed, err := s.signer.Sign(account.ID.String(), sessionID.String(), s.sessionTTL)
	if err != nil {
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "sign bearer token").
			Wrap(err)
	}

	session, err := NewSessionWithID(sessionID, account.ID, HashBearerToken(signed), userAgent, ipAddress, expiresAt)
	if err != nil {
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "build session").
			Wrap(err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	return session, signed, nil
}

// Logout invalidates a session. Idempotent: logging out a session that no
// longer exists succeeds.
func (s *Service) Logout(ctx context.Context, sessionID ulid.ULID) error {
	err := s.sessions.Delete(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("session_id", sessionID.String()).
			Wrap(err)
	}
	return nil
}

// ChangePassword verifies the current password and rotates the credential.
// The hash replacement and the removal of every session share one
// transaction, so no concurrent request can ride a session issued against
// the old password.
func (s *Service) ChangePassword(ctx context.Context, accountID ulid.ULID, current, newPassword string) error {
	if newPassword == "" {
		return ErrEmptyPassword
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "get account").
			Wrap(err)
	}

	if !s.hasher.Verify(current, account.PasswordHash) {
		return oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("current password does not match")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.accounts.RotateCredential(ctx, accountID, hash); err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "rotate credential").
			Wrap(err)
	}

	return nil
}
