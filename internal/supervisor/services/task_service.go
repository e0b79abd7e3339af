// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package services

import (
	"context"
	"time"

	"github.com/tomtom215/cmdgate/internal/logging"
)

// FuncService adapts a blocking run function to suture.Service.
//
// fn must block until its context is canceled and then return. Any earlier
// return, nil included, is seen by the supervisor as a termination and the
// service is restarted subject to the failure backoff.
//
// Example usage:
//
//	svc := services.NewFuncService("session-janitor", func(ctx context.Context) error {
//	    return auth.RunJanitor(ctx, sessions, time.Minute)
//	})
//	tree.AddMaintenanceService(svc)
type FuncService struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncService wraps fn, e.g. auth.RunJanitor or audit.Logger.RunPruner.
func NewFuncService(name string, fn func(ctx context.Context) error) *FuncService {
	return &FuncService{name: name, fn: fn}
}

// Serve implements suture.Service.
func (s *FuncService) Serve(ctx context.Context) error {
	return s.fn(ctx)
}

// String names the service in supervisor logs.
func (s *FuncService) String() string {
	return s.name
}

// PeriodicTask is one run of a periodic cleanup. It returns how many items it removed.
type PeriodicTask func(ctx context.Context) (int, error)

// PeriodicService runs a task on a fixed interval.
//
// The service lifecycle:
//
//  1. Waits one interval, then runs the task
//  2. Logs the number of removed items at debug level when it is non-zero
//  3. Logs a failed run and retries on the next tick rather than returning
//     an error, so a transient store fault does not restart the service
//  4. Returns when its context is canceled
//
// Example usage:
//
//	lockout := auth.NewLockoutManager(auth.DefaultLockoutConfig())
//	tree.AddMaintenanceService(services.NewPeriodicService("lockout-cleanup", 15*time.Minute, lockout.CleanupExpired))
type PeriodicService struct {
	name     string
	interval time.Duration
	task     PeriodicTask
}

// NewPeriodicService creates a PeriodicService. interval defaults to one minute.
func NewPeriodicService(name string, interval time.Duration, task PeriodicTask) *PeriodicService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PeriodicService{name: name, interval: interval, task: task}
}

// Serve implements suture.Service.
func (s *PeriodicService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.task(ctx)
			switch {
			case err != nil:
				logging.Error().Err(err).Str("service", s.name).Msg("Periodic task failed")
			case n > 0:
				logging.Debug().Str("service", s.name).Int("removed", n).Msg("Periodic task completed")
			}
		}
	}
}

// String names the service in supervisor logs.
func (s *PeriodicService) String() string {
	return s.name
}
