// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

package gateway

import "context"

// AuthContext is the verified identity the gateway attaches to a request.
// It is the only way identity travels down the call chain; handlers never
// re-derive it from headers.
type AuthContext struct {
	// Subject is the authenticated account ID.
	Subject string

	// SessionID is the session the bearer token was minted for.
	SessionID string

	// TokenHash is the SHA-256 digest of the presented bearer token,
	// matching what session rows store. Handlers that consult the
	// session store key on it; the raw token is not retained.
	TokenHash string
}

type authContextKey struct{}

// WithAuthContext returns a context carrying the verified identity.
func WithAuthContext(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// FromContext extracts the verified identity, if any.
func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(AuthContext)
	return ac, ok
}
