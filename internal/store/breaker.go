// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/cmdgate/internal/logging"
	"github.com/tomtom215/cmdgate/internal/metrics"
)

// BreakerConfig configures the credential store circuit breaker.
type BreakerConfig struct {
	Name string
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a trial request.
	Timeout time.Duration
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:        "credential-store",
		MaxFailures: 5,
		Timeout:     30 * time.Second,
	}
}

// BreakerStore wraps a CredentialStore with a circuit breaker.
//
// Only backend faults count as failures; ErrNotFound, ErrAlreadyExists and
// ErrInvalidRecord are ordinary answers. While the circuit is open every call
// fails fast with ErrStoreUnavailable.
type BreakerStore struct {
	next CredentialStore
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// NewBreakerStore wraps next.
func NewBreakerStore(next CredentialStore, cfg BreakerConfig) *BreakerStore {
	if cfg.Name == "" {
		cfg.Name = "credential-store"
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrStoreUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
	})

	return &BreakerStore{next: next, cb: cb, name: cfg.Name}
}

// run executes fn through the breaker and maps breaker rejections to ErrStoreUnavailable.
func run[T any](b *BreakerStore, fn func() (T, error)) (T, error) {
	var zero T
	result, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			return zero, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if errors.Is(err, ErrStoreUnavailable) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
		}
		return zero, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	typed, ok := result.(T)
	if !ok && result != nil {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func runErr(b *BreakerStore, fn func() error) error {
	_, err := run(b, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// State returns the current breaker state as a string.
func (b *BreakerStore) State() string {
	return stateToString(b.cb.State())
}

func (b *BreakerStore) CreateAdmin(ctx context.Context, admin *AdminRecord) error {
	return runErr(b, func() error { return b.next.CreateAdmin(ctx, admin) })
}

func (b *BreakerStore) GetAdminByUsername(ctx context.Context, username string) (*AdminRecord, error) {
	return run(b, func() (*AdminRecord, error) { return b.next.GetAdminByUsername(ctx, username) })
}

func (b *BreakerStore) GetAdmin(ctx context.Context, id string) (*AdminRecord, error) {
	return run(b, func() (*AdminRecord, error) { return b.next.GetAdmin(ctx, id) })
}

func (b *BreakerStore) ListAdmins(ctx context.Context) ([]*AdminRecord, error) {
	return run(b, func() ([]*AdminRecord, error) { return b.next.ListAdmins(ctx) })
}

func (b *BreakerStore) CreateUser(ctx context.Context, user *UserRecord) error {
	return runErr(b, func() error { return b.next.CreateUser(ctx, user) })
}

func (b *BreakerStore) GetUserByUsername(ctx context.Context, username string) (*UserRecord, error) {
	return run(b, func() (*UserRecord, error) { return b.next.GetUserByUsername(ctx, username) })
}

func (b *BreakerStore) GetUser(ctx context.Context, id string) (*UserRecord, error) {
	return run(b, func() (*UserRecord, error) { return b.next.GetUser(ctx, id) })
}

func (b *BreakerStore) ListUsers(ctx context.Context) ([]*UserRecord, error) {
	return run(b, func() ([]*UserRecord, error) { return b.next.ListUsers(ctx) })
}

func (b *BreakerStore) UpdateUser(ctx context.Context, id string, update UserUpdate) (*UserRecord, error) {
	return run(b, func() (*UserRecord, error) { return b.next.UpdateUser(ctx, id, update) })
}

func (b *BreakerStore) DeleteUser(ctx context.Context, id string) error {
	return runErr(b, func() error { return b.next.DeleteUser(ctx, id) })
}

func (b *BreakerStore) CreateInstance(ctx context.Context, inst *Instance) error {
	return runErr(b, func() error { return b.next.CreateInstance(ctx, inst) })
}

func (b *BreakerStore) GetInstance(ctx context.Context, id string) (*Instance, error) {
	return run(b, func() (*Instance, error) { return b.next.GetInstance(ctx, id) })
}

func (b *BreakerStore) ListInstancesByOwner(ctx context.Context, ownerID string) ([]*Instance, error) {
	return run(b, func() ([]*Instance, error) { return b.next.ListInstancesByOwner(ctx, ownerID) })
}

func (b *BreakerStore) ListInstances(ctx context.Context) ([]*Instance, error) {
	return run(b, func() ([]*Instance, error) { return b.next.ListInstances(ctx) })
}

func (b *BreakerStore) DeleteInstance(ctx context.Context, id string) error {
	return runErr(b, func() error { return b.next.DeleteInstance(ctx, id) })
}

func (b *BreakerStore) GetPrincipal(ctx context.Context, id string, role Role) (*Principal, error) {
	return run(b, func() (*Principal, error) { return b.next.GetPrincipal(ctx, id, role) })
}

// Ping bypasses the breaker so readiness reflects the backend itself.
func (b *BreakerStore) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

func (b *BreakerStore) Close() error {
	return b.next.Close()
}
