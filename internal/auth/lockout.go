// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/cmdgate/internal/logging"
)

// ErrAccountLocked is returned when login is blocked by too many failed attempts.
var ErrAccountLocked = errors.New("account temporarily locked due to too many failed attempts")

// LockedError carries the remaining lockout time. It matches ErrAccountLocked.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s (retry in %s)", ErrAccountLocked, e.Remaining.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// LockoutConfig holds configuration for account lockout.
type LockoutConfig struct {
	// MaxAttempts is the number of failed attempts before lockout. Zero disables lockout.
	MaxAttempts int

	// LockoutDuration is the base lockout period.
	LockoutDuration time.Duration

	// MaxLockoutDuration caps the doubling on repeat lockouts.
	MaxLockoutDuration time.Duration
}

// DefaultLockoutConfig returns production defaults.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		MaxAttempts:        5,
		LockoutDuration:    15 * time.Minute,
		MaxLockoutDuration: 24 * time.Hour,
	}
}

// lockoutEntry tracks failed attempts for one subject.
type lockoutEntry struct {
	failedAttempts int
	lockoutCount   int
	lastAttempt    time.Time
	lockedUntil    time.Time
}

func (e *lockoutEntry) locked(now time.Time) bool {
	return now.Before(e.lockedUntil)
}

// LockoutManager counts failed logins per subject and locks subjects that
// exceed the limit.
//
// The lockout lifecycle for one subject:
//
//  1. Each failure increments the counter
//  2. Reaching MaxAttempts locks the subject for LockoutDuration, doubled for
//     every earlier lockout up to MaxLockoutDuration
//  3. A successful login clears the history
//  4. CleanupExpired forgets subjects unlocked and idle for a day
//
// A nil manager or MaxAttempts of zero disables lockout. State is kept in
// memory and resets on restart.
type LockoutManager struct {
	cfg     LockoutConfig
	mu      sync.Mutex
	entries map[string]*lockoutEntry
	now     func() time.Time
}

// NewLockoutManager creates a LockoutManager.
func NewLockoutManager(cfg LockoutConfig) *LockoutManager {
	if cfg.MaxLockoutDuration <= 0 {
		cfg.MaxLockoutDuration = 24 * time.Hour
	}
	return &LockoutManager{
		cfg:     cfg,
		entries: make(map[string]*lockoutEntry),
		now:     time.Now,
	}
}

func (m *LockoutManager) enabled() bool {
	return m != nil && m.cfg.MaxAttempts > 0
}

// CheckLocked returns the remaining lockout time, or zero when subject may log in.
func (m *LockoutManager) CheckLocked(subject string) time.Duration {
	if !m.enabled() {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[subject]
	if !ok {
		return 0
	}
	now := m.now()
	if !e.locked(now) {
		return 0
	}
	return e.lockedUntil.Sub(now)
}

// calculateLockoutDuration doubles the base period for each previous lockout.
func calculateLockoutDuration(cfg LockoutConfig, lockoutCount int) time.Duration {
	d := cfg.LockoutDuration
	for i := 0; i < lockoutCount; i++ {
		d *= 2
		if d >= cfg.MaxLockoutDuration {
			return cfg.MaxLockoutDuration
		}
	}
	return d
}

// RecordFailedAttempt counts a failed login and returns the lockout period
// when this attempt triggered one.
func (m *LockoutManager) RecordFailedAttempt(subject string) time.Duration {
	if !m.enabled() {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[subject]
	if !ok {
		e = &lockoutEntry{}
		m.entries[subject] = e
	}
	if e.locked(now) {
		return e.lockedUntil.Sub(now)
	}

	e.failedAttempts++
	e.lastAttempt = now
	if e.failedAttempts < m.cfg.MaxAttempts {
		return 0
	}

	d := calculateLockoutDuration(m.cfg, e.lockoutCount)
	e.lockedUntil = now.Add(d)
	e.lockoutCount++
	e.failedAttempts = 0

	logging.Warn().
		Str("subject", subject).
		Dur("duration", d).
		Int("lockout_count", e.lockoutCount).
		Msg("Account locked")
	return d
}

// RecordSuccessfulLogin clears the subject's failure history.
func (m *LockoutManager) RecordSuccessfulLogin(subject string) {
	if !m.enabled() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, subject)
}

// CleanupExpired forgets subjects that are unlocked and idle for a day.
func (m *LockoutManager) CleanupExpired(_ context.Context) (int, error) {
	if !m.enabled() {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	threshold := now.Add(-24 * time.Hour)
	n := 0
	for subject, e := range m.entries {
		if !e.locked(now) && e.lastAttempt.Before(threshold) {
			delete(m.entries, subject)
			n++
		}
	}
	return n, nil
}
