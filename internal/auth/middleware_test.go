// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tomtom215/cmdgate/internal/store"
)

func TestTokenFromRequest(t *testing.T) {
	m := NewMiddleware(nil, DefaultMiddlewareConfig())

	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"none", func(*http.Request) {}, ""},
		{"header", func(r *http.Request) { r.Header.Set(SessionTokenHeader, "hdr") }, "hdr"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok") }, "tok"},
		{"bearer lowercase", func(r *http.Request) { r.Header.Set("Authorization", "bearer tok") }, "tok"},
		{"basic ignored", func(r *http.Request) { r.Header.Set("Authorization", "Basic Zm9vOmJhcg==") }, ""},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "cmdgate_session", Value: "ck"}) }, "ck"},
		{"header wins", func(r *http.Request) {
			r.Header.Set(SessionTokenHeader, "hdr")
			r.Header.Set("Authorization", "Bearer tok")
			r.AddCookie(&http.Cookie{Name: "cmdgate_session", Value: "ck"})
		}, "hdr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(r)
			if got := m.TokenFromRequest(r); got != tt.want {
				t.Errorf("TokenFromRequest = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	m := NewMiddleware(f.auth, DefaultMiddlewareConfig())
	session, err := f.auth.AuthenticateUser(context.Background(), "bob", "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	var seen *store.Principal
	var seenToken string
	h := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PrincipalFromContext(r.Context())
		seenToken = TokenFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+session.ID)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("valid token status = %d, want 204", w.Code)
	}
	if seen == nil || seen.ID != f.bob.ID || seenToken != session.ID {
		t.Errorf("context principal = %+v token = %q", seen, seenToken)
	}

	_ = f.creds.Close()
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("store down status = %d, want 500", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	m := NewMiddleware(nil, DefaultMiddlewareConfig())
	h := m.RequireRole(store.RoleAdministrator)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name      string
		principal *store.Principal
		want      int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"user", &store.Principal{ID: "u", Role: store.RoleStandardUser}, http.StatusForbidden},
		{"admin", &store.Principal{ID: "a", Role: store.RoleAdministrator}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.principal != nil {
				r = r.WithContext(ContextWithPrincipal(r.Context(), tt.principal, "tok"))
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestSessionCookies(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	m := NewMiddleware(f.auth, DefaultMiddlewareConfig())
	session, _ := f.auth.AuthenticateAdmin(context.Background(), "root", "s3cret")

	w := httptest.NewRecorder()
	m.SetSessionCookie(w, session)
	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies", len(cookies))
	}
	c := cookies[0]
	if c.Name != "cmdgate_session" || c.Value != session.ID || !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteStrictMode {
		t.Errorf("cookie = %+v", c)
	}

	w = httptest.NewRecorder()
	m.ClearSessionCookie(w)
	c = w.Result().Cookies()[0]
	if c.MaxAge >= 0 || c.Value != "" {
		t.Errorf("cleared cookie = %+v", c)
	}
}
