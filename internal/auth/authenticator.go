// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/cmdgate/internal/logging"
	"github.com/tomtom215/cmdgate/internal/metrics"
	"github.com/tomtom215/cmdgate/internal/store"
)

// Authentication errors.
var (
	// ErrInvalidCredentials covers unknown usernames and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrPrincipalNotFound is returned by name-only user login for an unknown
	// username. It matches ErrInvalidCredentials.
	ErrPrincipalNotFound = fmt.Errorf("%w: principal not found", ErrInvalidCredentials)

	// ErrInvalidSession means the token is missing, unknown, expired, or names
	// a principal that no longer exists.
	ErrInvalidSession = errors.New("invalid or expired session")
)

// Config configures an Authenticator.
type Config struct {
	// SessionTTL is the session lifetime, and the extension applied on each
	// Resolve when SlidingSession is set.
	SessionTTL     time.Duration
	SlidingSession bool

	// UserNameOnlyLogin lets standard users log in without a password.
	UserNameOnlyLogin bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SessionTTL:     24 * time.Hour,
		SlidingSession: true,
	}
}

// Authenticator creates and resolves sessions.
//
// Login flow for both AuthenticateAdmin and AuthenticateUser:
//
//  1. The lockout manager is consulted under "admin:<name>" or "user:<name>",
//     so the two roles never share a failure counter
//  2. The account is looked up; with a password in play an unknown name
//     still pays for a bcrypt comparison so timing does not reveal it
//  3. The password is checked, unless name-only login applies to a user
//  4. A fresh random session token is stored and the failure count cleared
//
// Resolve re-reads the principal on every call, so a changed AllowedRoot
// takes effect without a new login and a deleted principal invalidates its
// sessions.
//
// Example usage:
//
//	a := auth.NewAuthenticator(creds, auth.NewMemorySessionStore(), lockout, auth.DefaultConfig())
//	session, err := a.AuthenticateUser(ctx, "bob", "hunter2")
//	if err != nil {
//	    return err
//	}
//	principal, err := a.Resolve(ctx, session.ID)
type Authenticator struct {
	creds    store.CredentialStore
	sessions SessionStore
	lockout  *LockoutManager
	cfg      Config
	now      func() time.Time
}

// NewAuthenticator creates an Authenticator. lockout may be nil.
func NewAuthenticator(creds store.CredentialStore, sessions SessionStore, lockout *LockoutManager, cfg Config) *Authenticator {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultConfig().SessionTTL
	}
	if cfg.UserNameOnlyLogin {
		logging.Warn().Msg("Name-only user login is enabled; any caller who knows a username can act as that user")
	}
	return &Authenticator{
		creds:    creds,
		sessions: sessions,
		lockout:  lockout,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Sessions returns the session store.
func (a *Authenticator) Sessions() SessionStore {
	return a.sessions
}

// AuthenticateAdmin verifies an administrator's password and opens a session.
func (a *Authenticator) AuthenticateAdmin(ctx context.Context, username, password string) (*Session, error) {
	subject := "admin:" + username
	if err := a.checkLockout(subject); err != nil {
		metrics.RecordLogin("admin", "locked")
		return nil, err
	}

	admin, err := a.creds.GetAdminByUsername(ctx, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		checkPassword("", password)
		return nil, a.loginFailed("admin", subject, ErrInvalidCredentials)
	case err != nil:
		metrics.RecordLogin("admin", "error")
		return nil, err
	}

	if !checkPassword(admin.PasswordHash, password) {
		return nil, a.loginFailed("admin", subject, ErrInvalidCredentials)
	}
	return a.loginSucceeded(ctx, "admin", subject, admin.Principal())
}

// AuthenticateUser opens a session for a standard user. With name-only login
// enabled the password is ignored; otherwise it must match the stored hash.
func (a *Authenticator) AuthenticateUser(ctx context.Context, username, password string) (*Session, error) {
	subject := "user:" + username
	if err := a.checkLockout(subject); err != nil {
		metrics.RecordLogin("user", "locked")
		return nil, err
	}

	user, err := a.creds.GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if a.cfg.UserNameOnlyLogin {
			return nil, a.loginFailed("user", subject, ErrPrincipalNotFound)
		}
		checkPassword("", password)
		return nil, a.loginFailed("user", subject, ErrInvalidCredentials)
	case err != nil:
		metrics.RecordLogin("user", "error")
		return nil, err
	}

	if !a.cfg.UserNameOnlyLogin && !checkPassword(user.PasswordHash, password) {
		return nil, a.loginFailed("user", subject, ErrInvalidCredentials)
	}
	return a.loginSucceeded(ctx, "user", subject, user.Principal())
}

func (a *Authenticator) checkLockout(subject string) error {
	if remaining := a.lockout.CheckLocked(subject); remaining > 0 {
		return &LockedError{Remaining: remaining}
	}
	return nil
}

func (a *Authenticator) loginFailed(role, subject string, err error) error {
	metrics.RecordLogin(role, "failure")
	if d := a.lockout.RecordFailedAttempt(subject); d > 0 {
		return &LockedError{Remaining: d}
	}
	return err
}

func (a *Authenticator) loginSucceeded(ctx context.Context, role, subject string, p *store.Principal) (*Session, error) {
	session, err := a.newSession(ctx, p)
	if err != nil {
		metrics.RecordLogin(role, "error")
		return nil, err
	}
	a.lockout.RecordSuccessfulLogin(subject)
	metrics.RecordLogin(role, "success")
	logging.Ctx(ctx).Info().
		Str("principal_id", p.ID).
		Str("role", string(p.Role)).
		Msg("Login succeeded")
	return session, nil
}

// newSession is the only place sessions are created.
func (a *Authenticator) newSession(ctx context.Context, p *store.Principal) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}
	now := a.now()
	session := &Session{
		ID:             id,
		PrincipalID:    p.ID,
		Role:           p.Role,
		Username:       p.Name,
		CreatedAt:      now,
		ExpiresAt:      now.Add(a.cfg.SessionTTL),
		LastAccessedAt: now,
	}
	if err := a.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: create session: %v", store.ErrStoreUnavailable, err)
	}
	return session, nil
}

// Resolve returns the principal behind token with its current attributes.
// Resolving the same valid token twice yields the same principal.
func (a *Authenticator) Resolve(ctx context.Context, token string) (*store.Principal, error) {
	if token == "" {
		metrics.RecordSessionResolve("invalid")
		return nil, ErrInvalidSession
	}

	session, err := a.sessions.Get(ctx, token)
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionExpired):
		metrics.RecordSessionResolve("invalid")
		return nil, ErrInvalidSession
	case err != nil:
		metrics.RecordSessionResolve("error")
		return nil, fmt.Errorf("%w: get session: %v", store.ErrStoreUnavailable, err)
	}

	p, err := a.creds.GetPrincipal(ctx, session.PrincipalID, session.Role)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// the principal was deleted after login
		_ = a.sessions.Delete(ctx, token)
		metrics.RecordSessionResolve("invalid")
		return nil, ErrInvalidSession
	case err != nil:
		metrics.RecordSessionResolve("error")
		return nil, err
	}

	if a.cfg.SlidingSession {
		if err := a.sessions.Touch(ctx, token, a.now().Add(a.cfg.SessionTTL)); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to extend session")
		}
	}
	metrics.RecordSessionResolve("valid")
	return p, nil
}

// Logout destroys the session. Unknown tokens are ignored.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := a.sessions.Delete(ctx, token); err != nil {
		return fmt.Errorf("%w: delete session: %v", store.ErrStoreUnavailable, err)
	}
	return nil
}

// RevokePrincipal deletes every session of a principal.
func (a *Authenticator) RevokePrincipal(ctx context.Context, principalID string) (int, error) {
	n, err := a.sessions.DeleteByPrincipal(ctx, principalID)
	if err != nil {
		return 0, fmt.Errorf("%w: revoke sessions: %v", store.ErrStoreUnavailable, err)
	}
	if n > 0 {
		logging.Ctx(ctx).Info().Str("principal_id", principalID).Int("count", n).Msg("Revoked sessions")
	}
	return n, nil
}
