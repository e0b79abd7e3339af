// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

// Package dispatch drives a command submission through authentication,
// authorization and execution:
//
//	validate -> Resolve(token) -> GetInstance -> Authorize -> Execute
//
// Each step runs only if the previous one succeeded. In particular nothing is
// spawned unless Authorize returned Allow. Every decision and every
// execution is written to the audit log.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/cmdgate/internal/audit"
	"github.com/tomtom215/cmdgate/internal/executor"
	"github.com/tomtom215/cmdgate/internal/logging"
	"github.com/tomtom215/cmdgate/internal/metrics"
	"github.com/tomtom215/cmdgate/internal/policy"
	"github.com/tomtom215/cmdgate/internal/store"
)

var (
	// ErrMissingField means the token, instance ID or command was empty.
	ErrMissingField = errors.New("missing required field")

	// ErrCommandTooLarge means the command text exceeds MaxCommandBytes.
	ErrCommandTooLarge = errors.New("command too large")

	// ErrInvalidExecutionID means a client supplied execution ID is not a UUID.
	ErrInvalidExecutionID = errors.New("execution id must be a UUID")

	// ErrExecutionConflict means the execution ID is already in use.
	ErrExecutionConflict = errors.New("execution id already in use")

	// ErrExecutionNotFound means no in-flight execution with that ID belongs to the caller.
	ErrExecutionNotFound = errors.New("execution not found")
)

// Resolver turns a session token into a principal.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*store.Principal, error)
}

// Instances looks up execution targets.
type Instances interface {
	GetInstance(ctx context.Context, id string) (*store.Instance, error)
}

// Authorizer decides whether a principal may run a command on an instance.
// inst is nil when the requested instance does not exist.
type Authorizer interface {
	Authorize(p *store.Principal, command string, inst *store.Instance) policy.Decision
}

// Executor runs an authorized command.
type Executor interface {
	Execute(ctx context.Context, command string, limits executor.Limits) (*executor.Result, error)
	Cancel(id string) bool
}

// Request is a command submission.
type Request struct {
	Token      string
	InstanceID string
	Command    string
	// ExecutionID optionally names the run so it can be canceled from
	// another request. Generated when empty.
	ExecutionID string
}

// Config configures a Service.
type Config struct {
	// MaxCommandBytes rejects longer command text. Zero means 64 KiB.
	MaxCommandBytes int
}

const defaultMaxCommandBytes = 64 << 10

// Service is the command submission pipeline. It is safe for concurrent use.
// Submissions for the same instance run in parallel.
type Service struct {
	resolver  Resolver
	instances Instances
	authz     Authorizer
	exec      Executor
	audit     *audit.Logger
	cfg       Config

	mu     sync.Mutex
	owners map[string]string // execution ID -> principal ID
}

// NewService creates a Service. auditLog may be nil.
func NewService(resolver Resolver, instances Instances, authz Authorizer, exec Executor, auditLog *audit.Logger, cfg Config) *Service {
	if cfg.MaxCommandBytes <= 0 {
		cfg.MaxCommandBytes = defaultMaxCommandBytes
	}
	return &Service{
		resolver:  resolver,
		instances: instances,
		authz:     authz,
		exec:      exec,
		audit:     auditLog,
		cfg:       cfg,
		owners:    make(map[string]string),
	}
}

func (s *Service) validate(req *Request) error {
	switch {
	case req.Token == "":
		return fmt.Errorf("%w: session token", ErrMissingField)
	case req.InstanceID == "":
		return fmt.Errorf("%w: instance_id", ErrMissingField)
	case strings.TrimSpace(req.Command) == "":
		return fmt.Errorf("%w: command", ErrMissingField)
	case len(req.Command) > s.cfg.MaxCommandBytes:
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrCommandTooLarge, len(req.Command), s.cfg.MaxCommandBytes)
	}
	if req.ExecutionID != "" {
		if _, err := uuid.Parse(req.ExecutionID); err != nil {
			return ErrInvalidExecutionID
		}
	}
	return nil
}

// Submit authenticates, authorizes and executes req.
//
// Errors: ErrMissingField, ErrCommandTooLarge, ErrInvalidExecutionID,
// auth.ErrInvalidSession, *policy.DenyError, executor.ErrSpawnFailure and
// store.ErrStoreUnavailable. A command that ran, including one that failed,
// timed out or was canceled, is a Result and not an error.
func (s *Service) Submit(ctx context.Context, req Request) (*executor.Result, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	p, err := s.resolver.Resolve(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	log := logging.Ctx(ctx).With().
		Str("principal_id", p.ID).
		Str("instance_id", req.InstanceID).
		Logger()

	inst, err := s.instances.GetInstance(ctx, req.InstanceID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// the engine denies a nil instance as not-owner, so an unknown ID
		// is indistinguishable from another tenant's instance
		inst = nil
	case err != nil:
		log.Error().Err(err).Msg("Failed to load instance")
		return nil, err
	}

	decision := s.authz.Authorize(p, req.Command, inst)
	metrics.RecordAuthzDecision(decision.Allowed, string(decision.Reason))
	s.audit.LogDecision(ctx, p, req.InstanceID, inst, req.Command, decision)
	if !decision.Allowed {
		log.Info().Str("reason", string(decision.Reason)).Str("program", decision.Program).Msg("Command denied")
		return nil, decision.Err()
	}

	id := req.ExecutionID
	if id == "" {
		id = uuid.NewString()
	}
	if !s.track(id, p.ID) {
		return nil, ErrExecutionConflict
	}
	defer s.untrack(id)

	res, err := s.exec.Execute(ctx, req.Command, executor.Limits{
		ExecutionID: id,
		Env: map[string]string{
			"CMDGATE_INSTANCE":      inst.ID,
			"CMDGATE_INSTANCE_NAME": inst.Name,
			"CMDGATE_PRINCIPAL":     p.Name,
		},
	})
	if err != nil {
		s.audit.LogSpawnFailure(ctx, p, inst, req.Command)
		log.Error().Err(err).Str("execution_id", id).Msg("Command could not be started")
		return nil, err
	}

	s.audit.LogExecution(ctx, p, inst, req.Command, res)
	log.Info().
		Str("execution_id", res.ExecutionID).
		Str("program", decision.Program).
		Int("exit_code", res.ExitCode).
		Bool("timed_out", res.TimedOut).
		Dur("duration", res.Duration).
		Msg("Command executed")
	return res, nil
}

// Cancel stops an in-flight execution started by p. Executions belonging to
// other principals are reported as not found.
func (s *Service) Cancel(ctx context.Context, p *store.Principal, executionID string) error {
	s.mu.Lock()
	owner, ok := s.owners[executionID]
	s.mu.Unlock()

	found := ok && p != nil && owner == p.ID && s.exec.Cancel(executionID)
	s.audit.LogCancel(ctx, p, executionID, found)
	if !found {
		return ErrExecutionNotFound
	}
	logging.Ctx(ctx).Info().Str("execution_id", executionID).Msg("Execution canceled")
	return nil
}

func (s *Service) track(id, principalID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.owners[id]; exists {
		return false
	}
	s.owners[id] = principalID
	return true
}

func (s *Service) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, id)
}
