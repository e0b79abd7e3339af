// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package models

import (
	"time"

	"github.com/tomtom215/cmdgate/internal/store"
)

// Login roles accepted by POST /auth/login.
const (
	LoginRoleAdmin = "admin"
	LoginRoleUser  = "user"
)

// LoginRequest is the body of POST /auth/login. Password may be empty only
// for standard users when name-only login is enabled.
type LoginRequest struct {
	Role     string `json:"role" validate:"required,oneof=admin user"`
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"max=72"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	SessionToken string           `json:"session_token"`
	ExpiresAt    time.Time        `json:"expires_at"`
	Principal    *store.Principal `json:"principal"`
}

// MeResponse is returned by GET /auth/me.
type MeResponse struct {
	Principal *store.Principal `json:"principal"`
	// PermittedPrograms lists the programs the capability policy grants.
	// Empty when capability checks are disabled.
	PermittedPrograms []string `json:"permitted_programs"`
}

// CommandRequest is the body of POST /commands. Field presence is checked by
// the dispatcher so the error order matches the submission pipeline.
type CommandRequest struct {
	InstanceID  string `json:"instance_id"`
	Command     string `json:"command"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// CommandResponse is the outcome of an executed command. A non-zero exit,
// timeout or cancellation is reported here with HTTP 200.
type CommandResponse struct {
	ExecutionID     string `json:"execution_id"`
	Success         bool   `json:"success"`
	ExitCode        int    `json:"exit_code"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	StdoutTruncated bool   `json:"stdout_truncated"`
	StderrTruncated bool   `json:"stderr_truncated"`
	TimedOut        bool   `json:"timed_out"`
	Canceled        bool   `json:"canceled"`
	Error           string `json:"error,omitempty"`
	DurationMS      int64  `json:"duration_ms"`
}

// CreateAdminRequest is the body of POST /admin/admins.
type CreateAdminRequest struct {
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// AdminView is an administrator without its password hash.
type AdminView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// NewAdminView converts a stored admin.
func NewAdminView(a *store.AdminRecord) AdminView {
	return AdminView{ID: a.ID, Username: a.Username, CreatedAt: a.CreatedAt}
}

// CreateUserRequest is the body of POST /admin/users.
type CreateUserRequest struct {
	Username        string `json:"username" validate:"required,username"`
	Password        string `json:"password" validate:"omitempty,min=8,max=72"`
	AllowedRoot     bool   `json:"allowed_root"`
	AllowedResource string `json:"allowed_resource" validate:"max=64"`
}

// UpdateUserRequest is the body of PATCH /admin/users/{id}. Omitted fields
// are left unchanged.
type UpdateUserRequest struct {
	AllowedRoot     *bool   `json:"allowed_root"`
	AllowedResource *string `json:"allowed_resource" validate:"omitempty,max=64"`
	Password        *string `json:"password" validate:"omitempty,min=8,max=72"`
}

// UserView is a standard user without its password hash.
type UserView struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	AllowedRoot     bool      `json:"allowed_root"`
	AllowedResource string    `json:"allowed_resource"`
	HasPassword     bool      `json:"has_password"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewUserView converts a stored user.
func NewUserView(u *store.UserRecord) UserView {
	return UserView{
		ID:              u.ID,
		Username:        u.Username,
		AllowedRoot:     u.AllowedRoot,
		AllowedResource: u.AllowedResource,
		HasPassword:     u.PasswordHash != "",
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

// CreateInstanceRequest is the body of POST /admin/instances.
type CreateInstanceRequest struct {
	OwnerID   string `json:"owner_id" validate:"required"`
	Name      string `json:"name" validate:"required,max=128"`
	Resources string `json:"resources" validate:"max=64"`
}

// ListResponse wraps a collection.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// NewListResponse builds a ListResponse. A nil slice is returned as an empty list.
func NewListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Total: len(items)}
}
