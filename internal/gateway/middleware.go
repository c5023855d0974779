// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

// Package gateway composes the request-level auth middleware and the thin
// HTTP handlers that translate auth-core results into status codes.
package gateway

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/RevoraOrg/revora/internal/auth"
	"github.com/RevoraOrg/revora/internal/observability"
	"github.com/RevoraOrg/revora/internal/ratelimit"
	"github.com/RevoraOrg/revora/internal/token"
)

// TokenVerifier validates a bearer token and returns its claims.
// Implemented by token.Codec.
type TokenVerifier interface {
	Verify(raw string) (*token.Claims, error)
}

// Authenticate verifies the Authorization bearer token and attaches the
// resulting AuthContext to the request. Verification is purely
// cryptographic: no session-store round-trip happens here, so a revoked
// session's token stays accepted until its natural expiry. That trade-off
// is deliberate; revocation takes effect in the flows that do consult the
// store.
func Authenticate(verifier TokenVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
			return
		}

		claims, err := verifier.Verify(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := WithAuthContext(r.Context(), AuthContext{
			Subject:   claims.Subject,
			SessionID: claims.SessionID,
			TokenHash: auth.HashBearerToken(raw),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the credential from "Authorization: Bearer <token>".
// This is the only header identity is read from.
func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	raw := strings.TrimSpace(parts[1])
	return raw, raw != ""
}

// RateLimitByIP applies the limiter keyed by client network address.
// Used on public endpoints (login, signup, reset request). trustProxy
// selects whether X-Forwarded-For is consulted; see clientIP.
func RateLimitByIP(limiter *ratelimit.Limiter, metrics *observability.Metrics, trustProxy bool, next http.Handler) http.Handler {
	return rateLimit(limiter, metrics, "ip", func(r *http.Request) string {
		return "ip:" + clientIP(r, trustProxy)
	}, next)
}

// RateLimitBySubject applies the limiter keyed by the authenticated
// subject. Keying by subject rather than by token keeps the key space
// bounded under token rotation. When no identity is present the request
// passes through unlimited: rejecting unauthenticated access is the
// authentication layer's job, not the limiter's.
func RateLimitBySubject(limiter *ratelimit.Limiter, metrics *observability.Metrics, next http.Handler) http.Handler {
	return rateLimit(limiter, metrics, "account", func(r *http.Request) string {
		ac, ok := FromContext(r.Context())
		if !ok || ac.Subject == "" {
			return ""
		}
		return "account:" + ac.Subject
	}, next)
}

func rateLimit(limiter *ratelimit.Limiter, metrics *observability.Metrics, scope string, keyFn func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := keyFn(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		res := limiter.Admit(key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining()))

		if !res.Allowed {
			retryAfter := res.RetryAfter(time.Now())
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))

			span := trace.SpanFromContext(r.Context())
			span.SetAttributes(
				attribute.Bool("ratelimit.rejected", true),
				attribute.String("ratelimit.scope", scope),
			)
			if metrics != nil {
				metrics.RateLimitedTotal.WithLabelValues(scope).Inc()
			}

			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the originating address. The first X-Forwarded-For
// entry is used only when trustProxy is set, meaning a header-rewriting
// edge proxy fronts every request. Without that guarantee the header is
// attacker-controlled: a direct client could mint a fresh address per
// request and walk around the per-address limiter.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
