// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/RevoraOrg/revora/internal/auth"
	"github.com/RevoraOrg/revora/internal/observability"
	"github.com/RevoraOrg/revora/internal/ratelimit"
	"github.com/RevoraOrg/revora/pkg/errutil"
)

// maxBodyBytes caps request bodies. Auth payloads are tiny; anything
// larger is abuse.
const maxBodyBytes = 16 * 1024

// API exposes the authentication endpoints over HTTP. Handlers stay
// thin: decode, call the auth core, map the result to a status code.
type API struct {
	auth     *auth.Service
	sessions *auth.SessionService
	resets   *auth.PasswordResetService
	verifier TokenVerifier

	publicLimiter  *ratelimit.Limiter
	accountLimiter *ratelimit.Limiter
	trustProxy     bool
	metrics        *observability.Metrics
}

// NewAPI creates the HTTP API. All dependencies are required except
// metrics, which may be nil in tests. trustProxy enables reading client
// addresses from X-Forwarded-For and must only be set behind a
// header-rewriting edge proxy.
func NewAPI(
	authSvc *auth.Service,
	sessions *auth.SessionService,
	resets *auth.PasswordResetService,
	verifier TokenVerifier,
	publicLimiter, accountLimiter *ratelimit.Limiter,
	trustProxy bool,
	metrics *observability.Metrics,
) (*API, error) {
	if authSvc == nil {
		return nil, oops.Code("GATEWAY_NIL_DEPENDENCY").Errorf("auth service is required")
	}
	if sessions == nil {
		return nil, oops.Code("GATEWAY_NIL_DEPENDENCY").Errorf("session service is required")
	}
	if resets == nil {
		return nil, oops.Code("GATEWAY_NIL_DEPENDENCY").Errorf("password reset service is required")
	}
	if verifier == nil {
		return nil, oops.Code("GATEWAY_NIL_DEPENDENCY").Errorf("token verifier is required")
	}
	if publicLimiter == nil || accountLimiter == nil {
		return nil, oops.Code("GATEWAY_NIL_DEPENDENCY").Errorf("rate limiters are required")
	}
	return &API{
		auth:           authSvc,
		sessions:       sessions,
		resets:         resets,
		verifier:       verifier,
		publicLimiter:  publicLimiter,
		accountLimiter: accountLimiter,
		trustProxy:     trustProxy,
		metrics:        metrics,
	}, nil
}

// Routes builds the HTTP mux. Public endpoints are limited by client
// address; authenticated endpoints are limited by subject after token
// verification.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	public := func(h http.Handler) http.Handler {
		return RateLimitByIP(a.publicLimiter, a.metrics, a.trustProxy, h)
	}
	authed := func(h http.Handler) http.Handler {
		return Authenticate(a.verifier, RateLimitBySubject(a.accountLimiter, a.metrics, h))
	}

	mux.Handle("POST /v1/auth/signup", public(http.HandlerFunc(a.handleSignup)))
	mux.Handle("POST /v1/auth/login", public(http.HandlerFunc(a.handleLogin)))
	mux.Handle("POST /v1/auth/password-reset/request", public(http.HandlerFunc(a.handleResetRequest)))
	mux.Handle("POST /v1/auth/password-reset/redeem", public(http.HandlerFunc(a.handleResetRedeem)))

	mux.Handle("POST /v1/auth/logout", authed(http.HandlerFunc(a.handleLogout)))
	mux.Handle("POST /v1/auth/logout-all", authed(http.HandlerFunc(a.handleLogoutAll)))
	mux.Handle("POST /v1/auth/password", authed(http.HandlerFunc(a.handleChangePassword)))
	mux.Handle("GET /v1/auth/session", authed(http.HandlerFunc(a.handleWhoAmI)))
	mux.Handle("GET /v1/auth/sessions", authed(http.HandlerFunc(a.handleListSessions)))
	mux.Handle("DELETE /v1/auth/sessions/{id}", authed(http.HandlerFunc(a.handleRevokeSession)))

	return mux
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !a.decode(w, r, &req) {
		return
	}

	account, err := a.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrConflict):
			writeError(w, http.StatusConflict, "email is already registered")
		case errors.Is(err, auth.ErrEmptyPassword), errutil.Code(err) == "AUTH_INVALID_EMAIL":
			writeError(w, http.StatusBadRequest, "invalid email or password")
		default:
			errutil.LogError(slog.Default(), "signup failed", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, accountResponse{
		ID:        account.ID.String(),
		Email:     account.Email,
		CreatedAt: account.CreatedAt,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}

	session, signed, err := a.auth.Login(r.Context(), req.Email, req.Password, r.UserAgent(), clientIP(r, a.trustProxy))
	if err != nil {
		code := errutil.Code(err)
		switch code {
		case "AUTH_INVALID_CREDENTIALS":
			if a.metrics != nil {
				a.metrics.LoginsTotal.WithLabelValues("denied").Inc()
			}
			writeError(w, http.StatusUnauthorized, "invalid email or password")
		case "AUTH_ACCOUNT_LOCKED":
			if a.metrics != nil {
				a.metrics.LoginsTotal.WithLabelValues("locked").Inc()
			}
			writeError(w, http.StatusUnauthorized, "account is temporarily locked")
		default:
			if a.metrics != nil {
				a.metrics.LoginsTotal.WithLabelValues("error").Inc()
			}
			errutil.LogError(slog.Default(), "login failed", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if a.metrics != nil {
		a.metrics.LoginsTotal.WithLabelValues("granted").Inc()
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     signed,
		SessionID: session.ID.String(),
		ExpiresAt: session.ExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	ac, ok := FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	sessionID, err := ulid.Parse(ac.SessionID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	if err := a.auth.Logout(r.Context(), sessionID); err != nil {
		errutil.LogError(slog.Default(), "logout failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleLogoutAll removes every session for the account, ending all
// devices at once. Tokens signed for those sessions still verify until
// they expire; store-backed flows reject them immediately.
func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ac, ok := FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	accountID, err := ulid.Parse(ac.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	if err := a.sessions.InvalidateAll(r.Context(), accountID); err != nil {
		errutil.LogError(slog.Default(), "logout-all failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type whoAmIResponse struct {
	Subject    string    `json:"subject"`
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// handleWhoAmI resolves the presented token against the session store and
// returns the identity plus session detail. Unlike the middleware, this
// endpoint does hit the store: a token whose session was revoked is
// rejected here, and successful calls record activity on the session.
func (a *API) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	ac, ok := FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	session, err := a.sessions.GetByToken(r.Context(), ac.TokenHash)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		errutil.LogError(slog.Default(), "session lookup failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := a.sessions.Touch(r.Context(), session.ID); err != nil {
		errutil.LogError(slog.Default(), "session touch failed", err)
	}

	writeJSON(w, http.StatusOK, whoAmIResponse{
		Subject:    ac.Subject,
		SessionID:  session.ID.String(),
		CreatedAt:  session.CreatedAt,
		LastSeenAt: session.LastSeenAt,
		ExpiresAt:  session.ExpiresAt,
	})
}

type sessionResponse struct {
	ID         string    `json:"id"`
	UserAgent  string    `json:"user_agent,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Current    bool      `json:"current"`
}

// handleListSessions returns the account's live sessions so a user can
// review where they are signed in. The session matching the presented
// token is flagged as current.
func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ac, ok := FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	accountID, err := ulid.Parse(ac.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	sessions, err := a.sessions.List(r.Context(), accountID)
	if err != nil {
		errutil.LogError(slog.Default(), "session listing failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			ID:         s.ID.String(),
			UserAgent:  s.UserAgent,
			IPAddress:  s.IPAddress,
			CreatedAt:  s.CreatedAt,
			LastSeenAt: s.LastSeenAt,
			ExpiresAt:  s.ExpiresAt,
			Current:    s.TokenHash == ac.TokenHash,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]sessionResponse{"sessions": out})
}

// handleRevokeSession ends one specific session, e.g. a forgotten login
// on another device. Ownership is checked before deletion; a session
// belonging to someone else reads as absent.
func (a *API) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	ac, ok := FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	sessionID, err := ulid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	session, err := a.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		errutil.LogError(slog.Default(), "session lookup failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if session.AccountID.String() != ac.Subject {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	if err := a.sessions.Invalidate(r.Context(), sessionID); err != nil {
		errutil.LogError(slog.Default(), "session revocation failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type resetRequestRequest struct {
	Email string `json:"email"`
}

func (a *API) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestRequest
	if !a.decode(w, r, &req) {
		return
	}

	if err := a.resets.RequestReset(r.Context(), req.Email); err != nil {
		errutil.LogError(slog.Default(), "reset request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if a.metrics != nil {
		a.metrics.ResetRequestsTotal.Inc()
	}
	// The response is identical whether or not the email is registered.
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "if the address is registered, a reset link has been sent",
	})
}

type resetRedeemRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (a *API) handleResetRedeem(w http.ResponseWriter, r *http.Request) {
	var req resetRedeemRequest
	if !a.decode(w, r, &req) {
		return
	}

	redeemed, err := a.resets.Redeem(r.Context(), req.Token, req.Password)
	if err != nil {
		if errutil.Code(err) == "RESET_PASSWORD_EMPTY" {
			writeError(w, http.StatusBadRequest, "password must not be empty")
			return
		}
		if a.metrics != nil {
			a.metrics.ResetRedemptionsTotal.WithLabelValues("error").Inc()
		}
		errutil.LogError(slog.Default(), "reset redemption failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if !redeemed {
		// Unknown, expired, and already-used tokens all land here.
		if a.metrics != nil {
			a.metrics.ResetRedemptionsTotal.WithLabelValues("rejected").Inc()
		}
		writeError(w, http.StatusUnprocessableEntity, "reset token is invalid or has expired")
		return
	}

	if a.metrics != nil {
		a.metrics.ResetRedemptionsTotal.WithLabelValues("redeemed").Inc()
	}
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	ac, ok := FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	accountID, err := ulid.Parse(ac.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	var req changePasswordRequest
	if !a.decode(w, r, &req) {
		return
	}

	if err := a.auth.ChangePassword(r.Context(), accountID, req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case errutil.Code(err) == "AUTH_INVALID_CREDENTIALS":
			writeError(w, http.StatusForbidden, "current password does not match")
		case errors.Is(err, auth.ErrEmptyPassword):
			writeError(w, http.StatusBadRequest, "password must not be empty")
		default:
			errutil.LogError(slog.Default(), "password change failed", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
