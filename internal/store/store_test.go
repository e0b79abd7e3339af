// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// storeFactories lets every contract test run against each implementation.
var storeFactories = map[string]func(t *testing.T) CredentialStore{
	"memory": func(*testing.T) CredentialStore { return NewMemoryStore() },
	"badger": func(t *testing.T) CredentialStore {
		s, err := OpenBadgerStore("", true)
		if err != nil {
			t.Fatalf("OpenBadgerStore: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	},
	"badger-disk": func(t *testing.T) CredentialStore {
		s, err := OpenBadgerStore(t.TempDir(), false)
		if err != nil {
			t.Fatalf("OpenBadgerStore: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	},
}

func forEachStore(t *testing.T, fn func(t *testing.T, s CredentialStore)) {
	t.Helper()
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestStore_AdminLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s CredentialStore) {
		ctx := context.Background()

		admin := &AdminRecord{Username: "admin", PasswordHash: "$2a$12$hash"}
		if err := s.CreateAdmin(ctx, admin); err != nil {
			t.Fatalf("CreateAdmin: %v", err)
		}
		if admin.ID == "" || admin.CreatedAt.IsZero() {
			t.Fatal("CreateAdmin should fill ID and CreatedAt")
		}

		dup := &AdminRecord{Username: "admin", PasswordHash: "x"}
		if err := s.CreateAdmin(ctx, dup); !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("duplicate admin error = %v, want ErrAlreadyExists", err)
		}

		got, err := s.GetAdminByUsername(ctx, "admin")
		if err != nil {
			t.Fatalf("GetAdminByUsername: %v", err)
		}
		if got.ID != admin.ID || got.PasswordHash != admin.PasswordHash {
			t.Errorf("GetAdminByUsername = %+v", got)
		}

		if _, err := s.GetAdminByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing admin error = %v, want ErrNotFound", err)
		}

		p, err := s.GetPrincipal(ctx, admin.ID, RoleAdministrator)
		if err != nil {
			t.Fatalf("GetPrincipal: %v", err)
		}
		if !p.IsAdministrator() || p.Name != "admin" {
			t.Errorf("principal = %+v", p)
		}

		list, err := s.ListAdmins(ctx)
		if err != nil || len(list) != 1 {
			t.Errorf("ListAdmins = %v, %v", list, err)
		}
	})
}

func TestStore_RejectsInvalidRecords(t *testing.T) {
	forEachStore(t, func(t *testing.T, s CredentialStore) {
		ctx := context.Background()

		tests := []struct {
			name string
			err  error
		}{
			{"admin without hash", s.CreateAdmin(ctx, &AdminRecord{Username: "admin"})},
			{"admin bad username", s.CreateAdmin(ctx, &AdminRecord{Username: "bad name", PasswordHash: "x"})},
			{"user bad username", s.CreateUser(ctx, &UserRecord{Username: "bob;rm"})},
			{"user empty username", s.CreateUser(ctx, &UserRecord{Username: ""})},
			{"instance without owner", s.CreateInstance(ctx, &Instance{Name: "db1"})},
		}
		for _, tt := range tests {
			if !errors.Is(tt.err, ErrInvalidRecord) {
				t.Errorf("%s: error = %v, want ErrInvalidRecord", tt.name, tt.err)
			}
		}
	})
}

func TestStore_UserAndInstanceLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s CredentialStore) {
		ctx := context.Background()

		bob := &UserRecord{Username: "bob", AllowedResource: "small"}
		if err := s.CreateUser(ctx, bob); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		alice := &UserRecord{Username: "alice"}
		if err := s.CreateUser(ctx, alice); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if err := s.CreateUser(ctx, &UserRecord{Username: "bob"}); !errors.Is(err, ErrAlreadyExists) {
			t.Errorf("duplicate user error = %v, want ErrAlreadyExists", err)
		}

		db1 := &Instance{OwnerID: bob.ID, Name: "db1", Resources: "2cpu"}
		if err := s.CreateInstance(ctx, db1); err != nil {
			t.Fatalf("CreateInstance: %v", err)
		}
		web := &Instance{OwnerID: alice.ID, Name: "web"}
		if err := s.CreateInstance(ctx, web); err != nil {
			t.Fatalf("CreateInstance: %v", err)
		}
		if err := s.CreateInstance(ctx, &Instance{OwnerID: "ghost", Name: "x"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("instance for unknown owner error = %v, want ErrNotFound", err)
		}

		got, err := s.GetInstance(ctx, db1.ID)
		if err != nil {
			t.Fatalf("GetInstance: %v", err)
		}
		if got.OwnerID != bob.ID || got.Name != "db1" {
			t.Errorf("GetInstance = %+v", got)
		}

		owned, err := s.ListInstancesByOwner(ctx, bob.ID)
		if err != nil {
			t.Fatalf("ListInstancesByOwner: %v", err)
		}
		if len(owned) != 1 || owned[0].ID != db1.ID {
			t.Errorf("bob's instances = %+v", owned)
		}

		all, err := s.ListInstances(ctx)
		if err != nil || len(all) != 2 {
			t.Fatalf("ListInstances = %v, %v", all, err)
		}

		root := true
		updated, err := s.UpdateUser(ctx, bob.ID, UserUpdate{AllowedRoot: &root})
		if err != nil {
			t.Fatalf("UpdateUser: %v", err)
		}
		if !updated.AllowedRoot || updated.AllowedResource != "small" {
			t.Errorf("UpdateUser = %+v", updated)
		}
		p, err := s.GetPrincipal(ctx, bob.ID, RoleStandardUser)
		if err != nil {
			t.Fatalf("GetPrincipal: %v", err)
		}
		if !p.AllowedRoot {
			t.Error("principal should reflect updated AllowedRoot")
		}

		if err := s.DeleteUser(ctx, bob.ID); err != nil {
			t.Fatalf("DeleteUser: %v", err)
		}
		if _, err := s.GetInstance(ctx, db1.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("instance of deleted user error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetPrincipal(ctx, bob.ID, RoleStandardUser); !errors.Is(err, ErrNotFound) {
			t.Errorf("deleted principal error = %v, want ErrNotFound", err)
		}
		// username becomes reusable
		if err := s.CreateUser(ctx, &UserRecord{Username: "bob"}); err != nil {
			t.Errorf("recreate bob: %v", err)
		}

		if err := s.DeleteInstance(ctx, web.ID); err != nil {
			t.Fatalf("DeleteInstance: %v", err)
		}
		if err := s.DeleteInstance(ctx, web.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("second DeleteInstance error = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_PrincipalRoleMismatch(t *testing.T) {
	forEachStore(t, func(t *testing.T, s CredentialStore) {
		ctx := context.Background()
		u := &UserRecord{Username: "carol"}
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatal(err)
		}
		if _, err := s.GetPrincipal(ctx, u.ID, RoleAdministrator); !errors.Is(err, ErrNotFound) {
			t.Errorf("user looked up as admin: err = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_ConcurrentAccess(t *testing.T) {
	forEachStore(t, func(t *testing.T, s CredentialStore) {
		ctx := context.Background()
		u := &UserRecord{Username: "dave"}
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.GetPrincipal(ctx, u.ID, RoleStandardUser); err != nil {
					t.Errorf("GetPrincipal: %v", err)
				}
			}()
		}
		wg.Wait()
	})
}

func TestStore_ClosedIsUnavailable(t *testing.T) {
	ctx := context.Background()

	mem := NewMemoryStore()
	_ = mem.Close()
	if _, err := mem.GetUser(ctx, "x"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("memory closed error = %v, want ErrStoreUnavailable", err)
	}

	bs, err := OpenBadgerStore("", true)
	if err != nil {
		t.Fatal(err)
	}
	_ = bs.Close()
	if err := bs.Ping(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("badger closed ping = %v, want ErrStoreUnavailable", err)
	}
}

func TestValidUsername(t *testing.T) {
	tests := map[string]bool{
		"bob":                   true,
		"Bob42":                 true,
		"":                      false,
		"bob smith":             false,
		"bob;rm":                false,
		"élodie":                false,
		strings.Repeat("a", 65): false,
	}
	for in, want := range tests {
		if got := ValidUsername(in); got != want {
			t.Errorf("ValidUsername(%q) = %v, want %v", in, got, want)
		}
	}
}
