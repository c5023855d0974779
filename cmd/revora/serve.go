// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/RevoraOrg/revora/internal/auth"
	authpg "github.com/RevoraOrg/revora/internal/auth/postgres"
	"github.com/RevoraOrg/revora/internal/config"
	"github.com/RevoraOrg/revora/internal/gateway"
	"github.com/RevoraOrg/revora/internal/logging"
	"github.com/RevoraOrg/revora/internal/mail"
	"github.com/RevoraOrg/revora/internal/observability"
	"github.com/RevoraOrg/revora/internal/ratelimit"
	"github.com/RevoraOrg/revora/internal/store"
	"github.com/RevoraOrg/revora/internal/token"
	"github.com/RevoraOrg/revora/pkg/errutil"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = 10 * time.Minute
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication service",
		Long: `Start the HTTP authentication service: signup, login, sessions,
password reset, and rate limiting, backed by PostgreSQL.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	// Flag names match config keys so they overlay the YAML file.
	cmd.Flags().String("http_addr", "", "API listen address")
	cmd.Flags().String("metrics_addr", "", "metrics/health listen address")
	cmd.Flags().String("log_format", "", "log format (json or text)")
	cmd.Flags().String("database.url", "", "PostgreSQL connection URL")
	cmd.Flags().String("token.secret", "", "bearer-token signing secret")
	cmd.Flags().String("reset.link_base", "", "URL prefix for password reset links")
	cmd.Flags().Bool("trust_proxy_header", false, "trust X-Forwarded-For from the edge proxy")

	return cmd
}

// runServeWithDeps starts the service with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.PoolFactory == nil {
		deps.PoolFactory = store.Connect
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(url string) (Migrator, error) {
			return store.NewMigrator(url)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}

	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("revora", version, cfg.LogFormat)

	slog.Info("starting auth service",
		"http_addr", cfg.HTTPAddr,
		"metrics_addr", cfg.MetricsAddr,
		"log_format", cfg.LogFormat,
	)

	pool, err := deps.PoolFactory(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	slog.Info("connected to database")

	migrator, err := deps.MigratorFactory(cfg.Database.URL)
	if err != nil {
		return err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close() //nolint:errcheck // migration error takes precedence
		return err
	}
	if err := migrator.Close(); err != nil {
		return err
	}

	slog.Info("schema migrations applied")

	codec, err := token.New([]byte(cfg.Token.Secret))
	if err != nil {
		return err
	}

	accounts := authpg.NewAccountRepository(pool)
	sessions := authpg.NewSessionRepository(pool)
	resets := authpg.NewPasswordResetRepository(pool)
	hasher := auth.NewScryptHasher()

	authSvc, err := auth.NewService(accounts, sessions, hasher, codec, cfg.Session.TTL)
	if err != nil {
		return err
	}
	sessionSvc, err := auth.NewSessionService(sessions)
	if err != nil {
		return err
	}

	var mailer auth.Mailer
	if cfg.SMTP.Addr != "" {
		mailer, err = mail.NewSMTPMailer(mail.SMTPConfig{
			Addr:     cfg.SMTP.Addr,
			From:     cfg.SMTP.From,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		})
		if err != nil {
			return err
		}
	} else {
		slog.Warn("no SMTP address configured, reset emails are logged instead of sent")
		mailer = mail.LogMailer{}
	}

	resetSvc, err := auth.NewPasswordResetService(accounts, resets, hasher, mailer, cfg.Reset.LinkBase, cfg.Reset.TTL)
	if err != nil {
		return err
	}

	obsServer := deps.ObservabilityServerFactory(cfg.MetricsAddr, func() bool {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx) == nil
	})

	publicLimiter, err := ratelimit.NewWithRegistry(cfg.Limits.PublicLimit, cfg.Limits.PublicWindow, obsServer.Registry())
	if err != nil {
		return err
	}
	accountLimiter, err := ratelimit.New(cfg.Limits.AccountLimit, cfg.Limits.AccountWindow)
	if err != nil {
		return err
	}

	api, err := gateway.NewAPI(authSvc, sessionSvc, resetSvc, codec, publicLimiter, accountLimiter, cfg.TrustProxyHeader, obsServer.Metrics())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obsErrChan, err := obsServer.Start()
	if err != nil {
		return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, obsErrChan, "observability")

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			errChan <- serveErr
		}
	}()

	go runPruneLoop(ctx, pruneInterval, sessionSvc, resetSvc)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Auth service started")
	slog.Info("auth service ready", "http_addr", cfg.HTTPAddr)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case err := <-errChan:
		cancel()
		shutdownObservability(obsServer)
		return oops.Code("HTTP_SERVER_FAILED").Wrap(err)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown failed", "error", err)
	}
	shutdownObservability(obsServer)

	slog.Info("auth service stopped")
	return nil
}

func shutdownObservability(obsServer ObservabilityServer) {
	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := obsServer.Stop(stopCtx); err != nil {
		slog.Warn("observability server shutdown failed", "error", err)
	}
}

// runPruneLoop periodically removes expired sessions and reset tokens.
// Expiry is already enforced on read; the sweep only keeps the tables
// from growing without bound.
func runPruneLoop(ctx context.Context, interval time.Duration, sessions *auth.SessionService, resets *auth.PasswordResetService) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := sessions.PruneExpired(ctx); err != nil {
				errutil.LogWarn(slog.Default(), "session prune failed", err)
			} else if n > 0 {
				slog.Info("pruned expired sessions", "count", n)
			}
			if n, err := resets.PruneExpired(ctx); err != nil {
				errutil.LogWarn(slog.Default(), "reset token prune failed", err)
			} else if n > 0 {
				slog.Info("pruned expired reset tokens", "count", n)
			}
		}
	}
}

// monitorServerErrors cancels the process context when a background
// server reports a fatal error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
