// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process CredentialStore. Returned records are copies.
type MemoryStore struct {
	mu        sync.RWMutex
	admins    map[string]*AdminRecord
	users     map[string]*UserRecord
	instances map[string]*Instance
	closed    bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		admins:    make(map[string]*AdminRecord),
		users:     make(map[string]*UserRecord),
		instances: make(map[string]*Instance),
	}
}

func (s *MemoryStore) check() error {
	if s.closed {
		return ErrStoreUnavailable
	}
	return nil
}

// CreateAdmin stores a new administrator. ID and CreatedAt are filled when empty.
func (s *MemoryStore) CreateAdmin(_ context.Context, admin *AdminRecord) error {
	if err := validateAdmin(admin); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	for _, a := range s.admins {
		if a.Username == admin.Username {
			return ErrAlreadyExists
		}
	}
	admin.ID = newID(admin.ID)
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = time.Now().UTC()
	}
	c := *admin
	s.admins[c.ID] = &c
	return nil
}

// GetAdminByUsername returns the administrator with the given username.
func (s *MemoryStore) GetAdminByUsername(_ context.Context, username string) (*AdminRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	for _, a := range s.admins {
		if a.Username == username {
			c := *a
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// GetAdmin returns the administrator with the given ID.
func (s *MemoryStore) GetAdmin(_ context.Context, id string) (*AdminRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	a, ok := s.admins[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

// ListAdmins returns all administrators ordered by username.
func (s *MemoryStore) ListAdmins(_ context.Context) ([]*AdminRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]*AdminRecord, 0, len(s.admins))
	for _, a := range s.admins {
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// CreateUser stores a new standard user.
func (s *MemoryStore) CreateUser(_ context.Context, user *UserRecord) error {
	if err := validateUser(user); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	for _, u := range s.users {
		if u.Username == user.Username {
			return ErrAlreadyExists
		}
	}
	user.ID = newID(user.ID)
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	c := *user
	s.users[c.ID] = &c
	return nil
}

// GetUserByUsername returns the user with the given username.
func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	for _, u := range s.users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// GetUser returns the user with the given ID.
func (s *MemoryStore) GetUser(_ context.Context, id string) (*UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

// ListUsers returns all users ordered by username.
func (s *MemoryStore) ListUsers(_ context.Context) ([]*UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]*UserRecord, 0, len(s.users))
	for _, u := range s.users {
		c := *u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// UpdateUser applies update to the user and returns the new record.
func (s *MemoryStore) UpdateUser(_ context.Context, id string, update UserUpdate) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	applyUserUpdate(u, update)
	c := *u
	return &c, nil
}

func applyUserUpdate(u *UserRecord, update UserUpdate) {
	if update.AllowedRoot != nil {
		u.AllowedRoot = *update.AllowedRoot
	}
	if update.AllowedResource != nil {
		u.AllowedResource = *update.AllowedResource
	}
	if update.PasswordHash != nil {
		u.PasswordHash = *update.PasswordHash
	}
	u.UpdatedAt = time.Now().UTC()
}

// DeleteUser removes the user and the instances it owns.
func (s *MemoryStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	for iid, inst := range s.instances {
		if inst.OwnerID == id {
			delete(s.instances, iid)
		}
	}
	return nil
}

// CreateInstance stores a new instance. The owner must be an existing user.
func (s *MemoryStore) CreateInstance(_ context.Context, inst *Instance) error {
	if err := validateInstance(inst); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.users[inst.OwnerID]; !ok {
		return errorf(ErrNotFound, "owner "+inst.OwnerID)
	}
	if inst.ID != "" {
		if _, exists := s.instances[inst.ID]; exists {
			return ErrAlreadyExists
		}
	}
	inst.ID = newID(inst.ID)
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	c := *inst
	s.instances[c.ID] = &c
	return nil
}

// GetInstance returns the instance with the given ID.
func (s *MemoryStore) GetInstance(_ context.Context, id string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *inst
	return &c, nil
}

// ListInstancesByOwner returns the instances owned by ownerID ordered by name.
func (s *MemoryStore) ListInstancesByOwner(_ context.Context, ownerID string) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]*Instance, 0)
	for _, inst := range s.instances {
		if inst.OwnerID == ownerID {
			c := *inst
			out = append(out, &c)
		}
	}
	sortInstances(out)
	return out, nil
}

// ListInstances returns every instance ordered by name.
func (s *MemoryStore) ListInstances(_ context.Context) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		c := *inst
		out = append(out, &c)
	}
	sortInstances(out)
	return out, nil
}

func sortInstances(list []*Instance) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name == list[j].Name {
			return list[i].ID < list[j].ID
		}
		return list[i].Name < list[j].Name
	})
}

// DeleteInstance removes an instance.
func (s *MemoryStore) DeleteInstance(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.instances[id]; !ok {
		return ErrNotFound
	}
	delete(s.instances, id)
	return nil
}

// GetPrincipal returns the current attributes of an admin or user.
func (s *MemoryStore) GetPrincipal(ctx context.Context, id string, role Role) (*Principal, error) {
	switch role {
	case RoleAdministrator:
		a, err := s.GetAdmin(ctx, id)
		if err != nil {
			return nil, err
		}
		return a.Principal(), nil
	case RoleStandardUser:
		u, err := s.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		return u.Principal(), nil
	default:
		return nil, ErrNotFound
	}
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check()
}

// Close marks the store closed. Further calls return ErrStoreUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
