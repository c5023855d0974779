// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/RevoraOrg/revora/pkg/errutil"
)

// Mailer dispatches a single message. Delivery failures are non-fatal to
// the reset-request flow; the token still exists and the flow does not
// retry delivery itself.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// PasswordResetService orchestrates reset-token issuance and redemption.
type PasswordResetService struct {
	accounts AccountRepository
	resets   PasswordResetRepository
	hasher   PasswordHasher
	mailer   Mailer
	linkBase string
	tokenTTL time.Duration
}

// NewPasswordResetService creates a new PasswordResetService. linkBase is
// the URL prefix the raw token is appended to in the reset email.
// tokenTTL falls back to ResetTokenExpiry when zero.
func NewPasswordResetService(
	accounts AccountRepository,
	resets PasswordResetRepository,
	hasher PasswordHasher,
	mailer Mailer,
	linkBase string,
	tokenTTL time.Duration,
) (*PasswordResetService, error) {
	if accounts == nil {
		return nil, oops.Code("RESET_NIL_DEPENDENCY").Errorf("account repository is required")
	}
	if resets == nil {
		return nil, oops.Code("RESET_NIL_DEPENDENCY").Errorf("reset repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("RESET_NIL_DEPENDENCY").Errorf("password hasher is required")
	}
	if mailer == nil {
		return nil, oops.Code("RESET_NIL_DEPENDENCY").Errorf("mailer is required")
	}
	if tokenTTL <= 0 {
		tokenTTL = ResetTokenExpiry
	}
	return &PasswordResetService{
		accounts: accounts,
		resets:   resets,
		hasher:   hasher,
		mailer:   mailer,
		linkBase: linkBase,
		tokenTTL: tokenTTL,
	}, nil
}

// RequestReset issues a reset token for the account matching the email.
// The outward result is identical whether or not the account exists: nil
// on the anti-enumeration path, so callers always render the same generic
// "if the account exists, mail was sent" response. No token row is
// created for unknown addresses.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) error {
	account, err := s.accounts.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	token, err := s.createResetToken(ctx, account.ID)
	if err != nil {
		return err
	}

	// Dispatch failure does not fail the request; the token exists and
	// the user can retry from the same generic response.
	if err := s.mailer.Send(ctx, account.Email, "Reset your Revora password", s.resetBody(token)); err != nil {
		errutil.LogError(slog.Default(), "reset email dispatch failed", err)
	}

	return nil
}

// createResetToken generates a token and stores its digest, returning the
// raw token for the email link. A token-hash collision on insert gets one
// regeneration; a second collision means the randomness source is broken
// and the error surfaces.
func (s *PasswordResetService) createResetToken(ctx context.Context, accountID ulid.ULID) (string, error) {
	var createErr error
	for range 2 {
		token, hash, err := GenerateResetToken()
		if err != nil {
			return "", oops.Code("RESET_REQUEST_FAILED").
				With("operation", "generate reset token").
				Wrap(err)
		}

		reset, err := NewPasswordReset(accountID, hash, time.Now().Add(s.tokenTTL))
		if err != nil {
			return "", oops.Code("RESET_REQUEST_FAILED").
				With("operation", "build reset record").
				Wrap(err)
		}

		createErr = s.resets.Create(ctx, reset)
		if createErr == nil {
			return token, nil
		}
		if !errors.Is(createErr, ErrConflict) {
			break
		}
	}
	return "", oops.Code("RESET_REQUEST_FAILED").
		With("operation", "store reset record").
		Wrap(createErr)
}

// Redeem consumes a reset token and sets a new password. Returns
// (true, nil) when this caller won the redemption, (false, nil) when the
// token is invalid, expired, or already used (outwardly generic), and
// (false, err) for transient storage failures the caller may retry.
func (s *PasswordResetService) Redeem(ctx context.Context, rawToken, newPassword string) (bool, error) {
	if rawToken == "" {
		return false, nil
	}
	if newPassword == "" {
		return false, oops.Code("RESET_PASSWORD_EMPTY").Errorf("new password cannot be empty")
	}

	// Hash outside the transaction: the KDF is deliberately slow and
	// must not extend the row lock's hold time.
	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return false, oops.Code("RESET_REDEEM_FAILED").
			With("operation", "hash new password").
			Wrap(err)
	}

	accountID, redeemed, err := s.resets.Redeem(ctx, HashBearerToken(rawToken), passwordHash)
	if err != nil {
		return false, oops.Code("RESET_REDEEM_FAILED").
			With("operation", "redeem token").
			Wrap(err)
	}
	if !redeemed {
		return false, nil
	}

	slog.InfoContext(ctx, "password reset redeemed", "account_id", accountID.String())
	return true, nil
}

// PruneExpired removes expired reset tokens and returns the count.
func (s *PasswordResetService) PruneExpired(ctx context.Context) (int64, error) {
	n, err := s.resets.DeleteExpired(ctx)
	if err != nil {
		return 0, oops.Code("RESET_PRUNE_FAILED").Wrap(err)
	}
	return n, nil
}

func (s *PasswordResetService) resetBody(token string) string {
	return fmt.Sprintf(
		"A password reset was requested for your Revora account.\n\n"+
			"Follow this link within the next hour to choose a new password:\n\n"+
			"%s%s\n\n"+
			"If you did not request a reset, you can ignore this message.\n",
		s.linkBase, token,
	)
}
