// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/cmdgate/internal/audit"
	"github.com/tomtom215/cmdgate/internal/auth"
	"github.com/tomtom215/cmdgate/internal/logging"
	"github.com/tomtom215/cmdgate/internal/models"
	"github.com/tomtom215/cmdgate/internal/store"
)

// Administrator routes. All of them run behind RequireAuth and
// RequireRole(administrator).

// CreateAdmin handles POST /admin/admins.
func (h *Handler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAdminRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	admin := &store.AdminRecord{Username: req.Username, PasswordHash: hash}
	if err := h.store.CreateAdmin(r.Context(), admin); err != nil {
		respondServiceError(w, r, err)
		return
	}

	h.audit.LogAdminAction(r.Context(), auth.PrincipalFromContext(r.Context()), audit.EventTypeAdminCreated,
		audit.Target{ID: admin.ID, Type: "admin", Name: admin.Username}, "Administrator created")
	respondSuccess(w, r, http.StatusCreated, models.NewAdminView(admin))
}

// CreateUser handles POST /admin/users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user := &store.UserRecord{
		Username:        req.Username,
		AllowedRoot:     req.AllowedRoot,
		AllowedResource: req.AllowedResource,
	}
	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		user.PasswordHash = hash
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		respondServiceError(w, r, err)
		return
	}

	h.audit.LogAdminAction(r.Context(), auth.PrincipalFromContext(r.Context()), audit.EventTypeUserCreated,
		audit.Target{ID: user.ID, Type: "user", Name: user.Username}, "User created")
	respondSuccess(w, r, http.StatusCreated, models.NewUserView(user))
}

// ListUsers handles GET /admin/users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	views := make([]models.UserView, len(users))
	for i, u := range users {
		views[i] = models.NewUserView(u)
	}
	respondSuccess(w, r, http.StatusOK, models.NewListResponse(views))
}

// UpdateUser handles PATCH /admin/users/{id}. Attribute changes apply to the
// user's next request without re-login. A password change also revokes the
// user's sessions.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req models.UpdateUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	update := store.UserUpdate{
		AllowedRoot:     req.AllowedRoot,
		AllowedResource: req.AllowedResource,
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		update.PasswordHash = &hash
	}

	user, err := h.store.UpdateUser(r.Context(), id, update)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	actor := auth.PrincipalFromContext(r.Context())
	h.audit.LogAdminAction(r.Context(), actor, audit.EventTypeUserModified,
		audit.Target{ID: user.ID, Type: "user", Name: user.Username}, "User modified")

	if update.PasswordHash != nil {
		h.revokeSessions(r, actor, user)
	}
	respondSuccess(w, r, http.StatusOK, models.NewUserView(user))
}

// DeleteUser handles DELETE /admin/users/{id}. The user's instances and
// sessions go with it.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		respondServiceError(w, r, err)
		return
	}

	actor := auth.PrincipalFromContext(r.Context())
	h.audit.LogAdminAction(r.Context(), actor, audit.EventTypeUserDeleted,
		audit.Target{ID: user.ID, Type: "user", Name: user.Username}, "User deleted")
	h.revokeSessions(r, actor, user)

	w.WriteHeader(http.StatusNoContent)
}

// revokeSessions ends every session of user. Resolve already rejects sessions
// of deleted users, so a failure here is logged but not returned.
func (h *Handler) revokeSessions(r *http.Request, actor *store.Principal, user *store.UserRecord) {
	n, err := h.auth.RevokePrincipal(r.Context(), user.ID)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("user_id", user.ID).Msg("Failed to revoke sessions")
		return
	}
	if n > 0 {
		h.audit.LogAdminAction(r.Context(), actor, audit.EventTypeSessionRevoke,
			audit.Target{ID: user.ID, Type: "user", Name: user.Username}, "Sessions revoked")
	}
}

// CreateInstance handles POST /admin/instances. The owner must be an existing
// standard user.
func (h *Handler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req models.CreateInstanceRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if _, err := h.store.GetUser(r.Context(), req.OwnerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, models.ErrCodeNotFound, "Owner not found", nil)
			return
		}
		respondServiceError(w, r, err)
		return
	}

	inst := &store.Instance{OwnerID: req.OwnerID, Name: req.Name, Resources: req.Resources}
	if err := h.store.CreateInstance(r.Context(), inst); err != nil {
		respondServiceError(w, r, err)
		return
	}

	h.audit.LogAdminAction(r.Context(), auth.PrincipalFromContext(r.Context()), audit.EventTypeInstanceCreated,
		audit.Target{ID: inst.ID, Type: "instance", Name: inst.Name}, "Instance created")
	respondSuccess(w, r, http.StatusCreated, inst)
}

// ListInstances handles GET /admin/instances. owner_id narrows the list to one user.
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	var (
		instances []*store.Instance
		err       error
	)
	if owner := r.URL.Query().Get("owner_id"); owner != "" {
		instances, err = h.store.ListInstancesByOwner(r.Context(), owner)
	} else {
		instances, err = h.store.ListInstances(r.Context())
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, models.NewListResponse(instances))
}

// DeleteInstance handles DELETE /admin/instances/{id}.
func (h *Handler) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := h.store.GetInstance(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if err := h.store.DeleteInstance(r.Context(), id); err != nil {
		respondServiceError(w, r, err)
		return
	}

	h.audit.LogAdminAction(r.Context(), auth.PrincipalFromContext(r.Context()), audit.EventTypeInstanceDeleted,
		audit.Target{ID: inst.ID, Type: "instance", Name: inst.Name}, "Instance deleted")
	w.WriteHeader(http.StatusNoContent)
}
