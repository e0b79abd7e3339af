// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package audit

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// ErrEventNotFound is returned by Store.Get for unknown IDs.
var ErrEventNotFound = errors.New("audit event not found")

// EventType categorizes audit events.
type EventType string

const (
	// Authentication events
	EventTypeAuthSuccess   EventType = "auth.success"
	EventTypeAuthFailure   EventType = "auth.failure"
	EventTypeAuthLockout   EventType = "auth.lockout"
	EventTypeLogout        EventType = "auth.logout"
	EventTypeSessionRevoke EventType = "auth.sessions_revoked"

	// Authorization events
	EventTypeAuthzGranted EventType = "authz.granted"
	EventTypeAuthzDenied  EventType = "authz.denied"

	// Execution events
	EventTypeExecCompleted EventType = "exec.completed"
	EventTypeExecFailed    EventType = "exec.spawn_failed"
	EventTypeExecCanceled  EventType = "exec.cancel_requested"

	// Administrative events
	EventTypeAdminCreated    EventType = "admin.created"
	EventTypeUserCreated     EventType = "user.created"
	EventTypeUserModified    EventType = "user.modified"
	EventTypeUserDeleted     EventType = "user.deleted"
	EventTypeInstanceCreated EventType = "instance.created"
	EventTypeInstanceDeleted EventType = "instance.deleted"
)

// Severity indicates the severity level of an audit event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Outcome indicates whether an action succeeded or failed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is a single audit record.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Severity  Severity  `json:"severity"`
	Outcome   Outcome   `json:"outcome"`

	Actor  Actor   `json:"actor"`
	Target *Target `json:"target,omitempty"`
	Source Source  `json:"source"`

	// Action is a short verb: login, authorize, execute, create_user...
	Action      string `json:"action"`
	Description string `json:"description"`

	// Metadata holds event specific fields such as the deny reason or exit code.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
}

// Actor is who performed the action.
type Actor struct {
	ID   string `json:"id"`
	Type string `json:"type"` // administrator, standard_user, anonymous, system
	Name string `json:"name,omitempty"`
}

// Target is the object of the action.
type Target struct {
	ID   string `json:"id"`
	Type string `json:"type"` // instance, user, admin, execution
	Name string `json:"name,omitempty"`
}

// Source is where the request came from.
type Source struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Store persists audit events.
type Store interface {
	Save(ctx context.Context, event *Event) error
	Get(ctx context.Context, id string) (*Event, error)
	// Query returns matching events, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
	Count(ctx context.Context, filter QueryFilter) (int64, error)
	// Delete removes events older than olderThan and returns how many.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// QueryFilter selects audit events. Zero fields match everything.
type QueryFilter struct {
	Types     []EventType `json:"types,omitempty"`
	Outcomes  []Outcome   `json:"outcomes,omitempty"`
	ActorID   string      `json:"actor_id,omitempty"`
	TargetID  string      `json:"target_id,omitempty"`
	StartTime *time.Time  `json:"start_time,omitempty"`
	EndTime   *time.Time  `json:"end_time,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Limit     int         `json:"limit,omitempty"`
	Offset    int         `json:"offset,omitempty"`
}

// DefaultQueryFilter returns the filter used when none is given.
func DefaultQueryFilter() QueryFilter {
	return QueryFilter{Limit: 100}
}
