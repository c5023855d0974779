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

// SessionService manages the session lifecycle on top of a SessionRepository.
type SessionService struct {
	sessions SessionRepository
}

// NewSessionService creates a new SessionService.
func NewSessionService(sessions SessionRepository) (*SessionService, error) {
	if sessions == nil {
		return nil, oops.Code("SESSION_NIL_DEPENDENCY").Errorf("session repository is required")
	}
	return &SessionService{sessions: sessions}, nil
}

// Create persists a new session for the account.
func (s *SessionService) Create(ctx context.Context, accountID ulid.ULID, tokenHash, userAgent, ipAddress string, expiresAt time.Time) (*Session, error) {
	session, err := NewSession(accountID, tokenHash, userAgent, ipAddress, expiresAt)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, oops.Code("SESSION_CREATE_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return session, nil
}

// Get returns the session with the given ID. Expired sessions resolve as
// absent even when the row still exists (lazy expiry).
func (s *SessionService) Get(ctx context.Context, id ulid.ULID) (*Session, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.IsExpired() {
		return nil, oops.Code("SESSION_EXPIRED").Wrap(ErrNotFound)
	}
	return session, nil
}

// GetByToken resolves the session a bearer token's digest belongs to.
// Lazy expiry applies the same way as Get.
func (s *SessionService) GetByToken(ctx context.Context, tokenHash string) (*Session, error) {
	session, err := s.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if session.IsExpired() {
		return nil, oops.Code("SESSION_EXPIRED").Wrap(ErrNotFound)
	}
	return session, nil
}

// List returns the account's live sessions, oldest first. Expired rows
// the sweeper has not collected yet are filtered out.
func (s *SessionService) List(ctx context.Context, accountID ulid.ULID) ([]*Session, error) {
	all, err := s.sessions.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	live := make([]*Session, 0, len(all))
	for _, session := range all {
		if !session.IsExpired() {
			live = append(live, session)
		}
	}
	return live, nil
}

// Touch records activity on a session. A session that vanished between
// lookup and touch is not an error; it was invalidated concurrently.
func (s *SessionService) Touch(ctx context.Context, id ulid.ULID) error {
	err := s.sessions.UpdateLastSeen(ctx, id, time.Now())
	if err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("SESSION_TOUCH_FAILED").
			With("session_id", id.String()).
			Wrap(err)
	}
	return nil
}

// Invalidate deletes a single session. Idempotent: invalidating a session
// that does not exist is not an error.
func (s *SessionService) Invalidate(ctx context.Context, id ulid.ULID) error {
	err := s.sessions.Delete(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("SESSION_INVALIDATE_FAILED").
			With("session_id", id.String()).
			Wrap(err)
	}
	return nil
}

// InvalidateAll deletes every session for an account, forcing
// re-authentication everywhere. The password-change flow does not call
// this directly; it relies on AccountRepository.RotateCredential so the
// deletion shares the credential update's transaction.
func (s *SessionService) InvalidateAll(ctx context.Context, accountID ulid.ULID) error {
	if err := s.sessions.DeleteByAccount(ctx, accountID); err != nil {
		return oops.Code("SESSION_INVALIDATE_ALL_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return nil
}

// PruneExpired removes expired session rows and returns the count.
// Callers schedule this; the service runs no background goroutine.
func (s *SessionService) PruneExpired(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx)
	if err != nil {
		return 0, oops.Code("SESSION_PRUNE_FAILED").Wrap(err)
	}
	return n, nil
}
