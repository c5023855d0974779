// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevoraOrg/revora/internal/auth"
	"github.com/RevoraOrg/revora/internal/auth/postgres"
	"github.com/RevoraOrg/revora/pkg/errutil"
)

func testSession() *auth.Session {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &auth.Session{
		ID:         ulid.Make(),
		AccountID:  ulid.Make(),
		TokenHash:  auth.HashBearerToken("bearer-token"),
		UserAgent:  "revora-test/1.0",
		IPAddress:  "203.0.113.9",
		ExpiresAt:  now.Add(time.Hour),
		CreatedAt:  now,
		LastSeenAt: now,
	}
}

func sessionRows(s *auth.Session) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "account_id", "token_hash", "user_agent", "ip_address",
		"expires_at", "created_at", "last_seen_at",
	}).AddRow(
		s.ID.String(), s.AccountID.String(), s.TokenHash, s.UserAgent,
		s.IPAddress, s.ExpiresAt, s.CreatedAt, s.LastSeenAt,
	)
}

func TestSessionRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts session", func(t *testing.T) {
		mock := newPoolMock(t)
		session := testSession()

		mock.ExpectExec(`INSERT INTO sessions`).
			WithArgs(session.ID.String(), session.AccountID.String(), session.TokenHash,
				session.UserAgent, session.IPAddress, session.ExpiresAt,
				session.CreatedAt, session.LastSeenAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		repo := postgres.NewSessionRepository(mock)
		require.NoError(t, repo.Create(ctx, session))
	})

	t.Run("storage failure", func(t *testing.T) {
		mock := newPoolMock(t)
		session := testSession()

		mock.ExpectExec(`INSERT INTO sessions`).
			WithArgs(session.ID.String(), session.AccountID.String(), session.TokenHash,
				session.UserAgent, session.IPAddress, session.ExpiresAt,
				session.CreatedAt, session.LastSeenAt).
			WillReturnError(assert.AnError)

		repo := postgres.NewSessionRepository(mock)
		err := repo.Create(ctx, session)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SESSION_CREATE_FAILED")
	})
}

func TestSessionRepository_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		mock := newPoolMock(t)
		session := testSession()

		mock.ExpectQuery(`FROM sessions`).
			WithArgs(session.ID.String()).
			WillReturnRows(sessionRows(session))

		repo := postgres.NewSessionRepository(mock)
		got, err := repo.GetByID(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, session.ID, got.ID)
		assert.Equal(t, session.AccountID, got.AccountID)
		assert.Equal(t, session.TokenHash, got.TokenHash)
	})

	t.Run("not found wraps ErrNotFound", func(t *testing.T) {
		mock := newPoolMock(t)
		id := ulid.Make()

		mock.ExpectQuery(`FROM sessions`).
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "account_id", "token_hash", "user_agent", "ip_address",
				"expires_at", "created_at", "last_seen_at",
			}))

		repo := postgres.NewSessionRepository(mock)
		_, err := repo.GetByID(ctx, id)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "SESSION_NOT_FOUND")
	})
}

func TestSessionRepository_GetByTokenHash(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		mock := newPoolMock(t)
		session := testSession()

		mock.ExpectQuery(`WHERE token_hash`).
			WithArgs(session.TokenHash).
			WillReturnRows(sessionRows(session))

		repo := postgres.NewSessionRepository(mock)
		got, err := repo.GetByTokenHash(ctx, session.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, session.ID, got.ID)
	})

	t.Run("not found wraps ErrNotFound", func(t *testing.T) {
		mock := newPoolMock(t)

		mock.ExpectQuery(`WHERE token_hash`).
			WithArgs("missing-hash").
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "account_id", "token_hash", "user_agent", "ip_address",
				"expires_at", "created_at", "last_seen_at",
			}))

		repo := postgres.NewSessionRepository(mock)
		_, err := repo.GetByTokenHash(ctx, "missing-hash")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestSessionRepository_GetByAccount(t *testing.T) {
	ctx := context.Background()
	accountID := ulid.Make()

	t.Run("returns all sessions for the account", func(t *testing.T) {
		mock := newPoolMock(t)
		s1 := testSession()
		s1.AccountID = accountID
		s2 := testSession()
		s2.AccountID = accountID

		rows := sessionRows(s1).AddRow(
			s2.ID.String(), s2.AccountID.String(), s2.TokenHash, s2.UserAgent,
			s2.IPAddress, s2.ExpiresAt, s2.CreatedAt, s2.LastSeenAt,
		)
		mock.ExpectQuery(`ORDER BY created_at DESC`).
			WithArgs(accountID.String()).
			WillReturnRows(rows)

		repo := postgres.NewSessionRepository(mock)
		got, err := repo.GetByAccount(ctx, accountID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, s1.ID, got[0].ID)
		assert.Equal(t, s2.ID, got[1].ID)
	})

	t.Run("no sessions is not an error", func(t *testing.T) {
		mock := newPoolMock(t)

		mock.ExpectQuery(`ORDER BY created_at DESC`).
			WithArgs(accountID.String()).
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "account_id", "token_hash", "user_agent", "ip_address",
				"expires_at", "created_at", "last_seen_at",
			}))

		repo := postgres.NewSessionRepository(mock)
		got, err := repo.GetByAccount(ctx, accountID)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestSessionRepository_UpdateLastSeen(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()
	seen := time.Now().UTC()

	t.Run("updates timestamp", func(t *testing.T) {
		mock := newPoolMock(t)
		mock.ExpectExec(`UPDATE sessions SET last_seen_at`).
			WithArgs(id.String(), seen).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := postgres.NewSessionRepository(mock)
		require.NoError(t, repo.UpdateLastSeen(ctx, id, seen))
	})

	t.Run("missing session wraps ErrNotFound", func(t *testing.T) {
		mock := newPoolMock(t)
		mock.ExpectExec(`UPDATE sessions SET last_seen_at`).
			WithArgs(id.String(), seen).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := postgres.NewSessionRepository(mock)
		err := repo.UpdateLastSeen(ctx, id, seen)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestSessionRepository_Delete(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()

	t.Run("deletes session", func(t *testing.T) {
		mock := newPoolMock(t)
		mock.ExpectExec(`DELETE FROM sessions WHERE id`).
			WithArgs(id.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		repo := postgres.NewSessionRepository(mock)
		require.NoError(t, repo.Delete(ctx, id))
	})

	t.Run("missing session wraps ErrNotFound", func(t *testing.T) {
		mock := newPoolMock(t)
		mock.ExpectExec(`DELETE FROM sessions WHERE id`).
			WithArgs(id.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		repo := postgres.NewSessionRepository(mock)
		err := repo.Delete(ctx, id)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestSessionRepository_DeleteByAccount(t *testing.T) {
	ctx := context.Background()
	accountID := ulid.Make()

	t.Run("zero rows is a valid outcome", func(t *testing.T) {
		mock := newPoolMock(t)
		mock.ExpectExec(`DELETE FROM sessions WHERE account_id`).
			WithArgs(accountID.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		repo := postgres.NewSessionRepository(mock)
		require.NoError(t, repo.DeleteByAccount(ctx, accountID))
	})
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()

	mock := newPoolMock(t)
	mock.ExpectExec(`DELETE FROM sessions WHERE expires_at`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	repo := postgres.NewSessionRepository(mock)
	n, err := repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
