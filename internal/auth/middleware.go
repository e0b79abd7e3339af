// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tomtom215/cmdgate/internal/logging"
	"github.com/tomtom215/cmdgate/internal/store"
)

// SessionTokenHeader is the header alternative to the cookie and bearer token.
const SessionTokenHeader = "X-Session-Token"

// ErrorWriter writes an authentication failure response.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, err error)

// MiddlewareConfig configures session extraction and cookies.
type MiddlewareConfig struct {
	CookieName     string
	CookiePath     string
	CookieSecure   bool
	CookieSameSite http.SameSite

	// OnError renders 401/403/500 responses. Defaults to http.Error.
	OnError ErrorWriter
}

// DefaultMiddlewareConfig returns production defaults.
func DefaultMiddlewareConfig() MiddlewareConfig {
	return MiddlewareConfig{
		CookieName:     "cmdgate_session",
		CookiePath:     "/",
		CookieSecure:   true,
		CookieSameSite: http.SameSiteStrictMode,
	}
}

// Middleware resolves session tokens on HTTP requests.
//
// The token is taken from the X-Session-Token header, an Authorization
// bearer token or the session cookie, in that order. RequireAuth stores the
// resolved principal and token in the request context, where handlers read
// them with PrincipalFromContext. RequireRole narrows a route to one role
// and must be chained after RequireAuth.
//
// Example usage:
//
//	mw := auth.NewMiddleware(authenticator, auth.DefaultMiddlewareConfig())
//	r.With(mw.RequireAuth, mw.RequireRole(store.RoleStandardUser)).Post("/api/v1/commands", h.SubmitCommand)
type Middleware struct {
	auth *Authenticator
	cfg  MiddlewareConfig
}

// NewMiddleware creates session middleware.
func NewMiddleware(a *Authenticator, cfg MiddlewareConfig) *Middleware {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultMiddlewareConfig().CookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}
	if cfg.CookieSameSite == 0 {
		cfg.CookieSameSite = http.SameSiteStrictMode
	}
	if cfg.OnError == nil {
		cfg.OnError = func(w http.ResponseWriter, _ *http.Request, status int, _ error) {
			http.Error(w, http.StatusText(status), status)
		}
	}
	return &Middleware{auth: a, cfg: cfg}
}

// TokenFromRequest extracts the session token from, in order, the
// X-Session-Token header, an Authorization bearer token, or the session cookie.
func (m *Middleware) TokenFromRequest(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get(SessionTokenHeader)); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(m.cfg.CookieName); err == nil {
		return c.Value
	}
	return ""
}

// RequireAuth resolves the request's session and stores the principal in the
// request context. Invalid sessions get 401; store failures get 500.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.TokenFromRequest(r)
		p, err := m.auth.Resolve(r.Context(), token)
		if err != nil {
			if errors.Is(err, ErrInvalidSession) {
				m.cfg.OnError(w, r, http.StatusUnauthorized, err)
				return
			}
			logging.Ctx(r.Context()).Error().Err(err).Msg("Session resolution failed")
			m.cfg.OnError(w, r, http.StatusInternalServerError, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p, token)))
	})
}

// RequireRole rejects principals whose role differs with 403.
// It must run after RequireAuth.
func (m *Middleware) RequireRole(role store.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				m.cfg.OnError(w, r, http.StatusUnauthorized, ErrInvalidSession)
				return
			}
			if p.Role != role {
				m.cfg.OnError(w, r, http.StatusForbidden, errors.New("insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetSessionCookie writes the session cookie.
func (m *Middleware) SetSessionCookie(w http.ResponseWriter, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    session.ID,
		Path:     m.cfg.CookiePath,
		Expires:  session.ExpiresAt,
		MaxAge:   int(time.Until(session.ExpiresAt).Seconds()),
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: m.cfg.CookieSameSite,
	})
}

// ClearSessionCookie expires the session cookie.
func (m *Middleware) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     m.cfg.CookiePath,
		MaxAge:   -1,
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: m.cfg.CookieSameSite,
	})
}
