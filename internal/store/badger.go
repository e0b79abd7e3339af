// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key prefixes for BadgerDB storage
const (
	adminKeyPrefix         = "admin:"
	adminNameKeyPrefix     = "admin_name:"
	userKeyPrefix          = "user:"
	userNameKeyPrefix      = "user_name:"
	instanceKeyPrefix      = "instance:"
	instanceOwnerKeyPrefix = "instance_owner:"
)

// BadgerStore implements CredentialStore on BadgerDB.
// Username and owner indexes are maintained in the same transaction as the record.
type BadgerStore struct {
	db     *badger.DB
	ownsDB bool
}

// OpenBadgerStore opens (or creates) a Badger database at path.
// When inMemory is true path is ignored and nothing touches disk.
func OpenBadgerStore(path string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	return &BadgerStore{db: db, ownsDB: true}, nil
}

// NewBadgerStore wraps an already open database. Close does not close db.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// mapErr converts Badger failures into store errors.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrInvalidRecord):
		return err
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

func getIndex(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func exists(txn *badger.Txn, key string) (bool, error) {
	_, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// scanPrefix decodes every value under prefix into a new T.
func scanPrefix[T any](txn *badger.Txn, prefix string) ([]*T, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []*T
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, nil
}

// scanKeys returns the values (IDs) stored under an index prefix.
func scanKeys(txn *badger.Txn, prefix string) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []string
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		out = append(out, string(val))
	}
	return out, nil
}

// CreateAdmin stores a new administrator.
func (s *BadgerStore) CreateAdmin(_ context.Context, admin *AdminRecord) error {
	if err := validateAdmin(admin); err != nil {
		return err
	}
	admin.ID = newID(admin.ID)
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = time.Now().UTC()
	}
	return mapErr(s.db.Update(func(txn *badger.Txn) error {
		taken, err := exists(txn, adminNameKeyPrefix+admin.Username)
		if err != nil {
			return err
		}
		if taken {
			return ErrAlreadyExists
		}
		if err := setJSON(txn, adminKeyPrefix+admin.ID, admin); err != nil {
			return err
		}
		return txn.Set([]byte(adminNameKeyPrefix+admin.Username), []byte(admin.ID))
	}))
}

// GetAdminByUsername returns the administrator with the given username.
func (s *BadgerStore) GetAdminByUsername(_ context.Context, username string) (*AdminRecord, error) {
	var admin AdminRecord
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getIndex(txn, adminNameKeyPrefix+username)
		if err != nil {
			return err
		}
		return getJSON(txn, adminKeyPrefix+id, &admin)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &admin, nil
}

// GetAdmin returns the administrator with the given ID.
func (s *BadgerStore) GetAdmin(_ context.Context, id string) (*AdminRecord, error) {
	var admin AdminRecord
	if err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, adminKeyPrefix+id, &admin)
	}); err != nil {
		return nil, mapErr(err)
	}
	return &admin, nil
}

// ListAdmins returns all administrators ordered by username.
func (s *BadgerStore) ListAdmins(_ context.Context) ([]*AdminRecord, error) {
	var out []*AdminRecord
	if err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = scanPrefix[AdminRecord](txn, adminKeyPrefix)
		return err
	}); err != nil {
		return nil, mapErr(err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// CreateUser stores a new standard user.
func (s *BadgerStore) CreateUser(_ context.Context, user *UserRecord) error {
	if err := validateUser(user); err != nil {
		return err
	}
	user.ID = newID(user.ID)
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	return mapErr(s.db.Update(func(txn *badger.Txn) error {
		taken, err := exists(txn, userNameKeyPrefix+user.Username)
		if err != nil {
			return err
		}
		if taken {
			return ErrAlreadyExists
		}
		if err := setJSON(txn, userKeyPrefix+user.ID, user); err != nil {
			return err
		}
		return txn.Set([]byte(userNameKeyPrefix+user.Username), []byte(user.ID))
	}))
}

// GetUserByUsername returns the user with the given username.
func (s *BadgerStore) GetUserByUsername(_ context.Context, username string) (*UserRecord, error) {
	var user UserRecord
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getIndex(txn, userNameKeyPrefix+username)
		if err != nil {
			return err
		}
		return getJSON(txn, userKeyPrefix+id, &user)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &user, nil
}

// GetUser returns the user with the given ID.
func (s *BadgerStore) GetUser(_ context.Context, id string) (*UserRecord, error) {
	var user UserRecord
	if err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKeyPrefix+id, &user)
	}); err != nil {
		return nil, mapErr(err)
	}
	return &user, nil
}

// ListUsers returns all users ordered by username.
func (s *BadgerStore) ListUsers(_ context.Context) ([]*UserRecord, error) {
	var out []*UserRecord
	if err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = scanPrefix[UserRecord](txn, userKeyPrefix)
		return err
	}); err != nil {
		return nil, mapErr(err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// UpdateUser applies update to the user and returns the new record.
func (s *BadgerStore) UpdateUser(_ context.Context, id string, update UserUpdate) (*UserRecord, error) {
	var user UserRecord
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, userKeyPrefix+id, &user); err != nil {
			return err
		}
		applyUserUpdate(&user, update)
		return setJSON(txn, userKeyPrefix+id, &user)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return &user, nil
}

// DeleteUser removes the user, its username index and every instance it owns.
func (s *BadgerStore) DeleteUser(_ context.Context, id string) error {
	return mapErr(s.db.Update(func(txn *badger.Txn) error {
		var user UserRecord
		if err := getJSON(txn, userKeyPrefix+id, &user); err != nil {
			return err
		}
		ownerPrefix := instanceOwnerKeyPrefix + id + ":"
		instanceIDs, err := scanKeys(txn, ownerPrefix)
		if err != nil {
			return err
		}
		for _, iid := range instanceIDs {
			if err := txn.Delete([]byte(instanceKeyPrefix + iid)); err != nil {
				return err
			}
			if err := txn.Delete([]byte(ownerPrefix + iid)); err != nil {
				return err
			}
		}
		if err := txn.Delete([]byte(userNameKeyPrefix + user.Username)); err != nil {
			return err
		}
		return txn.Delete([]byte(userKeyPrefix + id))
	}))
}

// CreateInstance stores a new instance. The owner must be an existing user.
func (s *BadgerStore) CreateInstance(_ context.Context, inst *Instance) error {
	if err := validateInstance(inst); err != nil {
		return err
	}
	explicitID := inst.ID != ""
	inst.ID = newID(inst.ID)
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	return mapErr(s.db.Update(func(txn *badger.Txn) error {
		ownerExists, err := exists(txn, userKeyPrefix+inst.OwnerID)
		if err != nil {
			return err
		}
		if !ownerExists {
			return errorf(ErrNotFound, "owner "+inst.OwnerID)
		}
		if explicitID {
			taken, err := exists(txn, instanceKeyPrefix+inst.ID)
			if err != nil {
				return err
			}
			if taken {
				return ErrAlreadyExists
			}
		}
		if err := setJSON(txn, instanceKeyPrefix+inst.ID, inst); err != nil {
			return err
		}
		return txn.Set([]byte(instanceOwnerKeyPrefix+inst.OwnerID+":"+inst.ID), []byte(inst.ID))
	}))
}

// GetInstance returns the instance with the given ID.
func (s *BadgerStore) GetInstance(_ context.Context, id string) (*Instance, error) {
	var inst Instance
	if err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, instanceKeyPrefix+id, &inst)
	}); err != nil {
		return nil, mapErr(err)
	}
	return &inst, nil
}

// ListInstancesByOwner returns the instances owned by ownerID ordered by name.
func (s *BadgerStore) ListInstancesByOwner(_ context.Context, ownerID string) ([]*Instance, error) {
	out := make([]*Instance, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := scanKeys(txn, instanceOwnerKeyPrefix+ownerID+":")
		if err != nil {
			return err
		}
		for _, id := range ids {
			var inst Instance
			if err := getJSON(txn, instanceKeyPrefix+id, &inst); err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			out = append(out, &inst)
		}
		return nil
	})
	if err != nil {
		return nil, mapErr(err)
	}
	sortInstances(out)
	return out, nil
}

// ListInstances returns every instance ordered by name.
func (s *BadgerStore) ListInstances(_ context.Context) ([]*Instance, error) {
	var out []*Instance
	if err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = scanPrefix[Instance](txn, instanceKeyPrefix)
		return err
	}); err != nil {
		return nil, mapErr(err)
	}
	sortInstances(out)
	return out, nil
}

// DeleteInstance removes an instance and its owner index entry.
func (s *BadgerStore) DeleteInstance(_ context.Context, id string) error {
	return mapErr(s.db.Update(func(txn *badger.Txn) error {
		var inst Instance
		if err := getJSON(txn, instanceKeyPrefix+id, &inst); err != nil {
			return err
		}
		if err := txn.Delete([]byte(instanceOwnerKeyPrefix + inst.OwnerID + ":" + id)); err != nil {
			return err
		}
		return txn.Delete([]byte(instanceKeyPrefix + id))
	}))
}

// GetPrincipal returns the current attributes of an admin or user.
func (s *BadgerStore) GetPrincipal(ctx context.Context, id string, role Role) (*Principal, error) {
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

// Ping verifies the database accepts reads.
func (s *BadgerStore) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return ErrStoreUnavailable
	}
	return mapErr(s.db.View(func(*badger.Txn) error { return nil }))
}

// DB exposes the underlying database so the session store can share it.
func (s *BadgerStore) DB() *badger.DB {
	return s.db
}

// Close closes the database if this store opened it.
func (s *BadgerStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
