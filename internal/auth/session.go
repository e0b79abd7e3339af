// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

// Package auth implements the session authenticator: administrator and user
// login, opaque session tokens, and resolution of a token to the current
// principal.
//
// A session stores only the principal's ID and role. Authorization attributes
// (AllowedRoot, AllowedResource) are read from the credential store on every
// Resolve, so an administrator's change takes effect on the next request.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/cmdgate/internal/logging"
	"github.com/tomtom215/cmdgate/internal/metrics"
	"github.com/tomtom215/cmdgate/internal/store"
)

// Session errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// sessionIDBytes is the token entropy: 32 bytes, 256 bits.
const sessionIDBytes = 32

// Session is a server-side login session.
type Session struct {
	ID             string     `json:"id"`
	PrincipalID    string     `json:"principal_id"`
	Role           store.Role `json:"role"`
	Username       string     `json:"username"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
}

// IsExpired reports whether the session has expired at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// generateSessionID returns a hex encoded random token.
func generateSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// SessionStore persists sessions.
//
// Two implementations exist: MemorySessionStore for single-process and test
// use, and BadgerSessionStore, which survives restarts. SessionStoreFactory
// picks one from configuration. Implementations must be safe for concurrent
// use and must return copies, never shared *Session values.
type SessionStore interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// Get returns a session by ID. Expired sessions return ErrSessionExpired.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteByPrincipal removes every session of a principal.
	DeleteByPrincipal(ctx context.Context, principalID string) (int, error)

	// Touch records access and moves the expiry.
	Touch(ctx context.Context, id string, expiresAt time.Time) error

	// CleanupExpired removes expired sessions.
	CleanupExpired(ctx context.Context) (int, error)

	// Count returns the number of stored sessions.
	Count(ctx context.Context) (int, error)
}

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func copySession(s *Session) *Session {
	c := *s
	return &c
}

// Create stores a new session.
func (m *MemorySessionStore) Create(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = copySession(session)
	return nil
}

// Get returns a session by ID.
func (m *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.IsExpired(time.Now()) {
		return nil, ErrSessionExpired
	}
	return copySession(s), nil
}

// Delete removes a session.
func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// DeleteByPrincipal removes every session of a principal.
func (m *MemorySessionStore) DeleteByPrincipal(_ context.Context, principalID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.PrincipalID == principalID {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Touch records access and moves the expiry.
func (m *MemorySessionStore) Touch(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.LastAccessedAt = time.Now()
	s.ExpiresAt = expiresAt
	return nil
}

// CleanupExpired removes expired sessions.
func (m *MemorySessionStore) CleanupExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	n := 0
	for id, s := range m.sessions {
		if s.IsExpired(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored sessions.
func (m *MemorySessionStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

// RunJanitor removes expired sessions every interval until ctx is done.
func RunJanitor(ctx context.Context, sessions SessionStore, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := sessions.CleanupExpired(ctx)
			if err != nil {
				logging.Error().Err(err).Msg("Session cleanup failed")
				continue
			}
			if n > 0 {
				metrics.SessionsCleaned.Add(float64(n))
				logging.Debug().Int("count", n).Msg("Removed expired sessions")
			}
		}
	}
}
