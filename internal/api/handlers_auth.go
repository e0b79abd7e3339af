// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/cmdgate/internal/auth"
	"github.com/tomtom215/cmdgate/internal/models"
	"github.com/tomtom215/cmdgate/internal/store"
)

// Login handles POST /auth/login.
//
// Administrators always need a password. Standard users need one unless
// name-only login is enabled. A successful login returns the session token
// and also sets it as an HttpOnly cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	role := store.RoleStandardUser
	if req.Role == models.LoginRoleAdmin {
		role = store.RoleAdministrator
	}
	if req.Password == "" && (role == store.RoleAdministrator || !h.cfg.Security.UserNameOnlyLogin) {
		respondError(w, r, http.StatusBadRequest, models.ErrCodeMissingField, "password is required", nil)
		return
	}

	var (
		session *auth.Session
		err     error
	)
	if role == store.RoleAdministrator {
		session, err = h.auth.AuthenticateAdmin(r.Context(), req.Username, req.Password)
	} else {
		session, err = h.auth.AuthenticateUser(r.Context(), req.Username, req.Password)
	}
	if err != nil {
		var locked *auth.LockedError
		switch {
		case errors.As(err, &locked):
			h.audit.LogLockout(r.Context(), role, req.Username, locked.Remaining)
		case errors.Is(err, auth.ErrInvalidCredentials):
			h.audit.LogLoginFailure(r.Context(), role, req.Username, "invalid_credentials")
		}
		respondServiceError(w, r, err)
		return
	}

	p := &store.Principal{ID: session.PrincipalID, Name: session.Username, Role: session.Role}
	if resolved, err := h.store.GetPrincipal(r.Context(), session.PrincipalID, session.Role); err == nil {
		p = resolved
	}
	h.audit.LogLoginSuccess(r.Context(), p)

	h.sessions.SetSessionCookie(w, session)
	respondSuccess(w, r, http.StatusOK, models.LoginResponse{
		SessionToken: session.ID,
		ExpiresAt:    session.ExpiresAt,
		Principal:    p,
	})
}

// Logout handles POST /auth/logout. It runs behind RequireAuth.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if err := h.auth.Logout(r.Context(), auth.TokenFromContext(r.Context())); err != nil {
		respondServiceError(w, r, err)
		return
	}
	h.audit.LogLogout(r.Context(), p)
	h.sessions.ClearSessionCookie(w)
	respondSuccess(w, r, http.StatusOK, map[string]string{"message": "Logged out"})
}

// Me handles GET /auth/me. It runs behind RequireAuth.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	programs := []string{}
	if h.programs != nil && !p.IsAdministrator() {
		if list := h.programs.PermittedPrograms(p); list != nil {
			programs = list
		}
	}
	respondSuccess(w, r, http.StatusOK, models.MeResponse{
		Principal:         p,
		PermittedPrograms: programs,
	})
}
