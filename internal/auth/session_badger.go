// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Session storage key prefixes
const (
	badgerSessionKeyPrefix          = "session:"
	badgerSessionPrincipalKeyPrefix = "session_principal:"
)

const badgerTTLSlack = time.Hour

// BadgerSessionStore persists sessions in BadgerDB so they survive restarts.
// Entries carry a Badger TTL slightly past the session expiry, so abandoned
// sessions disappear even if the janitor never runs.
type BadgerSessionStore struct {
	db *badger.DB
}

// NewBadgerSessionStore creates a store on an open database.
func NewBadgerSessionStore(db *badger.DB) *BadgerSessionStore {
	return &BadgerSessionStore{db: db}
}

func sessionKey(id string) []byte {
	return []byte(badgerSessionKeyPrefix + id)
}

func principalKey(principalID, id string) []byte {
	return []byte(badgerSessionPrincipalKeyPrefix + principalID + ":" + id)
}

func writeSession(txn *badger.Txn, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	// the TTL trails the expiry so Get reports ErrSessionExpired and
	// CleanupExpired sees the session before Badger drops it
	ttl := time.Until(session.ExpiresAt)
	if ttl < 0 {
		ttl = 0
	}
	ttl += badgerTTLSlack
	if err := txn.SetEntry(badger.NewEntry(sessionKey(session.ID), data).WithTTL(ttl)); err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	idx := badger.NewEntry(principalKey(session.PrincipalID, session.ID), []byte(session.ID)).WithTTL(ttl)
	if err := txn.SetEntry(idx); err != nil {
		return fmt.Errorf("set principal mapping: %w", err)
	}
	return nil
}

func readSession(txn *badger.Txn, id string) (*Session, error) {
	item, err := txn.Get(sessionKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var session Session
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &session)
	}); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func deleteSession(txn *badger.Txn, session *Session) error {
	if err := txn.Delete(sessionKey(session.ID)); err != nil {
		return err
	}
	return txn.Delete(principalKey(session.PrincipalID, session.ID))
}

// Create stores a new session.
func (s *BadgerSessionStore) Create(_ context.Context, session *Session) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return writeSession(txn, session)
	})
}

// Get returns a session by ID.
func (s *BadgerSessionStore) Get(_ context.Context, id string) (*Session, error) {
	var session *Session
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		session, err = readSession(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if session.IsExpired(time.Now()) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// Delete removes a session. A missing session is not an error.
func (s *BadgerSessionStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		session, err := readSession(txn, id)
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return deleteSession(txn, session)
	})
}

// DeleteByPrincipal removes every session of a principal.
func (s *BadgerSessionStore) DeleteByPrincipal(_ context.Context, principalID string) (int, error) {
	prefix := []byte(badgerSessionPrincipalKeyPrefix + principalID + ":")
	deleted := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			id := strings.TrimPrefix(string(k), string(prefix))
			if err := txn.Delete(sessionKey(id)); err != nil {
				return err
			}
			if err := txn.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete sessions for principal: %w", err)
	}
	return deleted, nil
}

// Touch records access and moves the expiry.
func (s *BadgerSessionStore) Touch(_ context.Context, id string, expiresAt time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		session, err := readSession(txn, id)
		if err != nil {
			return err
		}
		session.LastAccessedAt = time.Now()
		session.ExpiresAt = expiresAt
		return writeSession(txn, session)
	})
}

// CleanupExpired removes expired sessions.
func (s *BadgerSessionStore) CleanupExpired(_ context.Context) (int, error) {
	now := time.Now()
	var expired []*Session
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(badgerSessionKeyPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var session Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &session)
			}); err != nil {
				continue
			}
			if session.IsExpired(now) {
				expired = append(expired, &session)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan sessions: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, session := range expired {
			if err := deleteSession(txn, session); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return len(expired), nil
}

// Count returns the number of stored sessions.
func (s *BadgerSessionStore) Count(_ context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(badgerSessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}
