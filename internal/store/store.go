// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

// Package store is the credential store: administrators, standard users and
// the instances bound to them.
//
// Two implementations exist. BadgerStore is durable and used in production;
// MemoryStore backs tests and ephemeral deployments. Both are safe for
// concurrent use. Reads that feed authentication and authorization should go
// through a BreakerStore so an unhealthy backend surfaces as
// ErrStoreUnavailable instead of hanging requests.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists means a record with the same unique key exists.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrStoreUnavailable means the backing store cannot serve the request.
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// ErrInvalidRecord means a record failed validation before being written.
	ErrInvalidRecord = errors.New("invalid record")
)

// Role identifies the kind of principal.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleStandardUser  Role = "standard_user"
)

// Principal is the authorization view of an authenticated identity.
// It is rebuilt from the store on every resolve and never cached in a session.
type Principal struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Role            Role   `json:"role"`
	AllowedRoot     bool   `json:"allowed_root"`
	AllowedResource string `json:"allowed_resource,omitempty"`
}

// IsAdministrator reports whether the principal is an administrator.
func (p *Principal) IsAdministrator() bool {
	return p.Role == RoleAdministrator
}

// AdminRecord is a stored administrator account.
type AdminRecord struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Principal returns the authorization view of the admin.
func (a *AdminRecord) Principal() *Principal {
	return &Principal{ID: a.ID, Name: a.Username, Role: RoleAdministrator}
}

// UserRecord is a stored standard user account.
type UserRecord struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	AllowedRoot     bool      `json:"allowed_root"`
	AllowedResource string    `json:"allowed_resource"`
	PasswordHash    string    `json:"password_hash,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Principal returns the authorization view of the user.
func (u *UserRecord) Principal() *Principal {
	return &Principal{
		ID:              u.ID,
		Name:            u.Username,
		Role:            RoleStandardUser,
		AllowedRoot:     u.AllowedRoot,
		AllowedResource: u.AllowedResource,
	}
}

// Instance is an execution target owned by exactly one standard user.
type Instance struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Resources string    `json:"resources"`
	CreatedAt time.Time `json:"created_at"`
}

// UserUpdate carries optional changes to a user. Nil fields are left unchanged.
type UserUpdate struct {
	AllowedRoot     *bool
	AllowedResource *string
	PasswordHash    *string
}

// CredentialStore persists principals and instances.
type CredentialStore interface {
	CreateAdmin(ctx context.Context, admin *AdminRecord) error
	GetAdminByUsername(ctx context.Context, username string) (*AdminRecord, error)
	GetAdmin(ctx context.Context, id string) (*AdminRecord, error)
	ListAdmins(ctx context.Context) ([]*AdminRecord, error)

	CreateUser(ctx context.Context, user *UserRecord) error
	GetUserByUsername(ctx context.Context, username string) (*UserRecord, error)
	GetUser(ctx context.Context, id string) (*UserRecord, error)
	ListUsers(ctx context.Context) ([]*UserRecord, error)
	UpdateUser(ctx context.Context, id string, update UserUpdate) (*UserRecord, error)
	// DeleteUser removes the user and every instance it owns.
	DeleteUser(ctx context.Context, id string) error

	CreateInstance(ctx context.Context, inst *Instance) error
	GetInstance(ctx context.Context, id string) (*Instance, error)
	ListInstancesByOwner(ctx context.Context, ownerID string) ([]*Instance, error)
	ListInstances(ctx context.Context) ([]*Instance, error)
	DeleteInstance(ctx context.Context, id string) error

	// GetPrincipal looks up an admin or user by ID and returns its current attributes.
	GetPrincipal(ctx context.Context, id string, role Role) (*Principal, error)

	Ping(ctx context.Context) error
	Close() error
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,64}$`)

// ValidUsername reports whether name is 1-64 ASCII letters or digits.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

func validateUser(u *UserRecord) error {
	if !ValidUsername(u.Username) {
		return errorf(ErrInvalidRecord, "username must be 1-64 alphanumeric characters")
	}
	return nil
}

func validateAdmin(a *AdminRecord) error {
	if !ValidUsername(a.Username) {
		return errorf(ErrInvalidRecord, "username must be 1-64 alphanumeric characters")
	}
	if a.PasswordHash == "" {
		return errorf(ErrInvalidRecord, "administrator requires a password hash")
	}
	return nil
}

func validateInstance(i *Instance) error {
	if i.OwnerID == "" {
		return errorf(ErrInvalidRecord, "instance requires an owner")
	}
	if i.Name == "" || len(i.Name) > 128 {
		return errorf(ErrInvalidRecord, "instance name must be 1-128 characters")
	}
	return nil
}

func errorf(sentinel error, msg string) error {
	return fmt.Errorf("%w: %s", sentinel, msg)
}

// newID returns id or a fresh UUID when id is empty.
func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}
