// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/RevoraOrg/revora/internal/auth"
)

// PasswordResetRepository implements auth.PasswordResetRepository using
// PostgreSQL.
type PasswordResetRepository struct {
	pool poolIface
}

// NewPasswordResetRepository creates a new PasswordResetRepository.
func NewPasswordResetRepository(pool poolIface) *PasswordResetRepository {
	return &PasswordResetRepository{pool: pool}
}

// Create stores a new password reset token.
func (r *PasswordResetRepository) Create(ctx context.Context, reset *auth.PasswordReset) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO password_resets (id, account_id, token_hash, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, reset.ID.String(), reset.AccountID.String(), reset.TokenHash, reset.ExpiresAt, reset.UsedAt, reset.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Token hash collision; astronomically rare, surfaced so
			// the service can regenerate.
			return oops.Code("RESET_HASH_COLLISION").Wrap(auth.ErrConflict)
		}
		return oops.Code("RESET_CREATE_FAILED").
			With("account_id", reset.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a reset token by its hash.
func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, account_id, token_hash, expires_at, used_at, created_at
		FROM password_resets
		WHERE token_hash = $1
	`, tokenHash)

	reset, err := scanReset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_BY_TOKEN_FAILED").Wrap(err)
	}
	return reset, nil
}

// Redeem atomically consumes the token and rotates the credential. The
// token row is locked with SELECT ... FOR UPDATE, so of two concurrent
// redemptions exactly one commits; the loser blocks on the lock, then
// observes used_at already set and fails closed. Every non-commit path
// rolls the transaction back before returning.
func (r *PasswordResetRepository) Redeem(ctx context.Context, tokenHash, newPasswordHash string) (ulid.ULID, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ulid.ULID{}, false, oops.Code("RESET_REDEEM_TX_FAILED").
			With("operation", "begin transaction").
			Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var (
		idStr        string
		accountIDStr string
		expiresAt    time.Time
		usedAt       *time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT id, account_id, expires_at, used_at
		FROM password_resets
		WHERE token_hash = $1
		FOR UPDATE
	`, tokenHash).Scan(&idStr, &accountIDStr, &expiresAt, &usedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ulid.ULID{}, false, nil
	}
	if err != nil {
		return ulid.ULID{}, false, oops.Code("RESET_REDEEM_TX_FAILED").
			With("operation", "lock token row").
			Wrap(err)
	}

	// Sole validity condition: unused and unexpired.
	now := time.Now()
	if usedAt != nil || !now.Before(expiresAt) {
		return ulid.ULID{}, false, nil
	}

	accountID, err := ulid.Parse(accountIDStr)
	if err != nil {
		return ulid.ULID{}, false, oops.Code("RESET_CORRUPT_ACCOUNT_ID").
			With("account_id", accountIDStr).
			Wrap(err)
	}

	result, err := tx.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, accountIDStr, newPasswordHash, now)
	if err != nil {
		return ulid.ULID{}, false, oops.Code("RESET_REDEEM_TX_FAILED").
			With("operation", "update password hash").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		// Account deleted since the token was issued; token is dead.
		return ulid.ULID{}, false, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE password_resets SET used_at = $2
		WHERE id = $1
	`, idStr, now); err != nil {
		return ulid.ULID{}, false, oops.Code("RESET_REDEEM_TX_FAILED").
			With("operation", "mark token used").
			Wrap(err)
	}

	// Forced logout shares the credential update's transaction.
	if _, err := tx.Exec(ctx, `
		DELETE FROM sessions WHERE account_id = $1
	`, accountIDStr); err != nil {
		return ulid.ULID{}, false, oops.Code("RESET_REDEEM_TX_FAILED").
			With("operation", "delete sessions").
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ulid.ULID{}, false, oops.Code("RESET_REDEEM_TX_FAILED").
			With("operation", "commit").
			Wrap(err)
	}

	return accountID, true, nil
}

// DeleteExpired removes expired reset tokens and returns the count.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM password_resets WHERE expires_at < $1
	`, time.Now())
	if err != nil {
		return 0, oops.Code("RESET_DELETE_EXPIRED_FAILED").Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanReset scans a single row into a PasswordReset.
// Callers are responsible for handling pgx.ErrNoRows.
func scanReset(row pgx.Row) (*auth.PasswordReset, error) {
	var (
		idStr        string
		accountIDStr string
		tokenHash    string
		expiresAt    time.Time
		usedAt       *time.Time
		createdAt    time.Time
	)

	if err := row.Scan(&idStr, &accountIDStr, &tokenHash, &expiresAt, &usedAt, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("RESET_SCAN_FAILED").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("RESET_CORRUPT_ID").With("id", idStr).Wrap(err)
	}
	accountID, err := ulid.Parse(accountIDStr)
	if err != nil {
		return nil, oops.Code("RESET_CORRUPT_ACCOUNT_ID").With("account_id", accountIDStr).Wrap(err)
	}

	return &auth.PasswordReset{
		ID:        id,
		AccountID: accountID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		UsedAt:    usedAt,
		CreatedAt: createdAt,
	}, nil
}
