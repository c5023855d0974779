// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevoraOrg/revora/internal/auth"
	"github.com/RevoraOrg/revora/internal/auth/postgres"
	"github.com/RevoraOrg/revora/pkg/errutil"
)

func newPoolMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock
}

func testAccount() *auth.Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &auth.Account{
		ID:           ulid.Make(),
		Email:        "investor@example.com",
		PasswordHash: "73616c74:6b6579",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestAccountRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts account", func(t *testing.T) {
		mock := newPoolMock(t)
		account := testAccount()

		mock.ExpectExec(`INSERT INTO accounts`).
			WithArgs(account.ID.String(), account.Email, account.PasswordHash,
				account.FailedAttempts, account.LockedUntil, account.CreatedAt, account.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		repo := postgres.NewAccountRepository(mock)
		require.NoError(t, repo.Create(ctx, account))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation wraps ErrConflict", func(t *testing.T) {
		mock := newPoolMock(t)
		account := testAccount()

		mock.ExpectExec(`INSERT INTO accounts`).
			WithArgs(account.ID.String(), account.Email, account.PasswordHash,
				account.FailedAttempts, account.LockedUntil, account.CreatedAt, account.UpdatedAt).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		repo := postgres.NewAccountRepository(mock)
		err := repo.Create(ctx, account)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrConflict)
		errutil.AssertErrorCode(t, err, "ACCOUNT_EMAIL_TAKEN")
	})
}

func TestAccountRepository_GetByEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("returns account", func(t *testing.T) {
		mock := newPoolMock(t)
		account := testAccount()

		rows := pgxmock.NewRows([]string{"id", "email", "password_hash", "failed_attempts", "locked_until", "created_at", "updated_at"}).
			AddRow(account.ID.String(), account.Email, account.PasswordHash, 0, nil, account.CreatedAt, account.UpdatedAt)
		mock.ExpectQuery(`SELECT id, email, password_hash, failed_attempts, locked_until, created_at, updated_at`).
			WithArgs(account.Email).
			WillReturnRows(rows)

		repo := postgres.NewAccountRepository(mock)
		got, err := repo.GetByEmail(ctx, account.Email)
		require.NoError(t, err)
		assert.Equal(t, account.ID, got.ID)
		assert.Equal(t, account.Email, got.Email)
		assert.Nil(t, got.LockedUntil)
	})

	t.Run("no row wraps ErrNotFound", func(t *testing.T) {
		mock := newPoolMock(t)

		mock.ExpectQuery(`SELECT id, email, password_hash, failed_attempts, locked_until, created_at, updated_at`).
			WithArgs("unknown@example.com").
			WillReturnRows(pgxmock.NewRows([]string{"id", "email", "password_hash", "failed_attempts", "locked_until", "created_at", "updated_at"}))

		repo := postgres.NewAccountRepository(mock)
		_, err := repo.GetByEmail(ctx, "unknown@example.com")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "ACCOUNT_NOT_FOUND")
	})

	t.Run("corrupt stored ID surfaces", func(t *testing.T) {
		mock := newPoolMock(t)
		now := time.Now()

		rows := pgxmock.NewRows([]string{"id", "email", "password_hash", "failed_attempts", "locked_until", "created_at", "updated_at"}).
			AddRow("not-a-ulid", "investor@example.com", "hash", 0, nil, now, now)
		mock.ExpectQuery(`SELECT id, email, password_hash, failed_attempts, locked_until, created_at, updated_at`).
			WithArgs("investor@example.com").
			WillReturnRows(rows)

		repo := postgres.NewAccountRepository(mock)
		_, err := repo.GetByEmail(ctx, "investor@example.com")
		require.Error(t, err)
	})
}

func TestAccountRepository_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("updates bookkeeping", func(t *testing.T) {
		mock := newPoolMock(t)
		account := testAccount()
		account.FailedAttempts = 3

		mock.ExpectExec(`UPDATE accounts`).
			WithArgs(account.ID.String(), account.PasswordHash, 3, account.LockedUntil, account.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := postgres.NewAccountRepository(mock)
		require.NoError(t, repo.Update(ctx, account))
	})

	t.Run("zero rows wraps ErrNotFound", func(t *testing.T) {
		mock := newPoolMock(t)
		account := testAccount()

		mock.ExpectExec(`UPDATE accounts`).
			WithArgs(account.ID.String(), account.PasswordHash, 0, account.LockedUntil, account.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := postgres.NewAccountRepository(mock)
		err := repo.Update(ctx, account)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestAccountRepository_RotateCredential(t *testing.T) {
	ctx := context.Background()
	accountID := ulid.Make()

	t.Run("hash replacement and session purge share one transaction", func(t *testing.T) {
		mock := newPoolMock(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE accounts SET password_hash`).
			WithArgs(accountID.String(), "newhash:newkey", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`DELETE FROM sessions WHERE account_id`).
			WithArgs(accountID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 2))
		mock.ExpectCommit()

		repo := postgres.NewAccountRepository(mock)
		require.NoError(t, repo.RotateCredential(ctx, accountID, "newhash:newkey"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing account rolls back", func(t *testing.T) {
		mock := newPoolMock(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE accounts SET password_hash`).
			WithArgs(accountID.String(), "newhash:newkey", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		repo := postgres.NewAccountRepository(mock)
		err := repo.RotateCredential(ctx, accountID, "newhash:newkey")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("session purge failure rolls back", func(t *testing.T) {
		mock := newPoolMock(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE accounts SET password_hash`).
			WithArgs(accountID.String(), "newhash:newkey", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`DELETE FROM sessions WHERE account_id`).
			WithArgs(accountID.String()).
			WillReturnError(assert.AnError)
		mock.ExpectRollback()

		repo := postgres.NewAccountRepository(mock)
		err := repo.RotateCredential(ctx, accountID, "newhash:newkey")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "ACCOUNT_ROTATE_FAILED")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
