//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/RevoraOrg/revora/internal/auth"
	authpg "github.com/RevoraOrg/revora/internal/auth/postgres"
	"github.com/RevoraOrg/revora/internal/store"
)

// startPostgres brings up a disposable database with the schema applied
// and returns a connected pool.
func startPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrator, err := store.NewMigrator(connStr)
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

// TestPasswordResetRepository_ConcurrentRedeem races many redemptions of
// one token against a real database. The row lock taken during
// redemption must let exactly one caller through; every other caller
// observes the consumed token and fails closed.
func TestPasswordResetRepository_ConcurrentRedeem(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t, ctx)

	accounts := authpg.NewAccountRepository(pool)
	sessions := authpg.NewSessionRepository(pool)
	resets := authpg.NewPasswordResetRepository(pool)

	account, err := auth.NewAccount("investor@example.com", "6f6c6473616c74:6f6c646b6579")
	require.NoError(t, err)
	require.NoError(t, accounts.Create(ctx, account))

	// Two live sessions that the winning redemption must purge.
	for range 2 {
		session, err := auth.NewSession(account.ID, auth.HashBearerToken(ulid.Make().String()),
			"", "", time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.NoError(t, sessions.Create(ctx, session))
	}

	_, tokenHash, err := auth.GenerateResetToken()
	require.NoError(t, err)
	reset, err := auth.NewPasswordReset(account.ID, tokenHash, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, resets.Create(ctx, reset))

	const newHash = "6e657773616c74:6e65776b6579"
	const racers = 8

	var (
		start = make(chan struct{})
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		errs  []error
	)
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, redeemed, err := resets.Redeem(ctx, tokenHash, newHash)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if redeemed {
				wins++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, wins, "exactly one racer may redeem the token")

	// The winner's effects are visible: credential rotated, sessions gone,
	// token spent.
	updated, err := accounts.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, newHash, updated.PasswordHash)

	remaining, err := sessions.GetByAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	_, redeemed, err := resets.Redeem(ctx, tokenHash, newHash)
	require.NoError(t, err)
	assert.False(t, redeemed)
}
