// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package audit

import (
	"context"
	"time"

	"github.com/tomtom215/cmdgate/internal/executor"
	"github.com/tomtom215/cmdgate/internal/logging"
	"github.com/tomtom215/cmdgate/internal/policy"
	"github.com/tomtom215/cmdgate/internal/store"
)

// ActorFromPrincipal returns the Actor for an authenticated principal.
func ActorFromPrincipal(p *store.Principal) Actor {
	if p == nil {
		return AnonymousActor("")
	}
	return Actor{ID: p.ID, Type: string(p.Role), Name: p.Name}
}

// AnonymousActor is a caller that has not authenticated. name is the
// username it claimed, if any.
func AnonymousActor(name string) Actor {
	return Actor{ID: "anonymous", Type: "anonymous", Name: name}
}

// SystemActor is the server itself.
func SystemActor() Actor {
	return Actor{ID: "system", Type: "system", Name: "cmdgate"}
}

func instanceTarget(inst *store.Instance, id string) *Target {
	if inst == nil {
		return &Target{ID: id, Type: "instance"}
	}
	return &Target{ID: inst.ID, Type: "instance", Name: inst.Name}
}

// LogLoginSuccess records a successful login.
func (l *Logger) LogLoginSuccess(ctx context.Context, p *store.Principal) {
	l.Log(ctx, &Event{
		Type:        EventTypeAuthSuccess,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		Actor:       ActorFromPrincipal(p),
		Action:      "login",
		Description: "Login succeeded",
	})
}

// LogLoginFailure records a failed login for the claimed username.
func (l *Logger) LogLoginFailure(ctx context.Context, role store.Role, username, reason string) {
	l.Log(ctx, &Event{
		Type:        EventTypeAuthFailure,
		Severity:    SeverityWarning,
		Outcome:     OutcomeFailure,
		Actor:       AnonymousActor(username),
		Action:      "login",
		Description: "Login failed: " + reason,
		Metadata:    mustJSON(map[string]string{"role": string(role), "reason": reason}),
	})
}

// LogLockout records a login rejected because the account is locked.
func (l *Logger) LogLockout(ctx context.Context, role store.Role, username string, retryAfter time.Duration) {
	l.Log(ctx, &Event{
		Type:        EventTypeAuthLockout,
		Severity:    SeverityCritical,
		Outcome:     OutcomeFailure,
		Actor:       AnonymousActor(username),
		Action:      "login",
		Description: "Login rejected, account locked",
		Metadata: mustJSON(map[string]any{
			"role":                string(role),
			"retry_after_seconds": int(retryAfter.Seconds()),
		}),
	})
}

// LogLogout records a logout.
func (l *Logger) LogLogout(ctx context.Context, p *store.Principal) {
	l.Log(ctx, &Event{
		Type:        EventTypeLogout,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		Actor:       ActorFromPrincipal(p),
		Action:      "logout",
		Description: "Session destroyed",
	})
}

// LogDecision records an authorization decision for a command.
func (l *Logger) LogDecision(ctx context.Context, p *store.Principal, instanceID string, inst *store.Instance, command string, d policy.Decision) {
	event := &Event{
		Type:        EventTypeAuthzGranted,
		Severity:    SeverityInfo,
		Outcome:     OutcomeSuccess,
		Actor:       ActorFromPrincipal(p),
		Target:      instanceTarget(inst, instanceID),
		Action:      "authorize",
		Description: "Command allowed",
		Metadata: mustJSON(map[string]string{
			"command": logging.TruncateCommand(command),
			"program": d.Program,
		}),
	}
	if !d.Allowed {
		event.Type = EventTypeAuthzDenied
		event.Severity = SeverityWarning
		event.Outcome = OutcomeFailure
		event.Description = "Command denied: " + string(d.Reason)
		event.Metadata = mustJSON(map[string]string{
			"command": logging.TruncateCommand(command),
			"program": d.Program,
			"reason":  string(d.Reason),
		})
	}
	l.Log(ctx, event)
}

// LogExecution records a finished command. Output is not recorded.
func (l *Logger) LogExecution(ctx context.Context, p *store.Principal, inst *store.Instance, command string, res *executor.Result) {
	outcome := OutcomeSuccess
	if !res.Success {
		outcome = OutcomeFailure
	}
	l.Log(ctx, &Event{
		Type:        EventTypeExecCompleted,
		Severity:    SeverityInfo,
		Outcome:     outcome,
		Actor:       ActorFromPrincipal(p),
		Target:      instanceTarget(inst, ""),
		Action:      "execute",
		Description: "Command finished",
		Metadata: mustJSON(map[string]any{
			"execution_id":     res.ExecutionID,
			"command":          logging.TruncateCommand(command),
			"exit_code":        res.ExitCode,
			"timed_out":        res.TimedOut,
			"canceled":         res.Canceled,
			"output_truncated": res.StdoutTruncated || res.StderrTruncated,
			"duration_ms":      res.Duration.Milliseconds(),
		}),
	})
}

// LogSpawnFailure records a command that could not be started.
func (l *Logger) LogSpawnFailure(ctx context.Context, p *store.Principal, inst *store.Instance, command string) {
	l.Log(ctx, &Event{
		Type:        EventTypeExecFailed,
		Severity:    SeverityError,
		Outcome:     OutcomeFailure,
		Actor:       ActorFromPrincipal(p),
		Target:      instanceTarget(inst, ""),
		Action:      "execute",
		Description: "Command could not be started",
		Metadata:    mustJSON(map[string]string{"command": logging.TruncateCommand(command)}),
	})
}

// LogCancel records a cancellation request for an execution.
func (l *Logger) LogCancel(ctx context.Context, p *store.Principal, executionID string, found bool) {
	outcome := OutcomeSuccess
	if !found {
		outcome = OutcomeFailure
	}
	l.Log(ctx, &Event{
		Type:        EventTypeExecCanceled,
		Severity:    SeverityInfo,
		Outcome:     outcome,
		Actor:       ActorFromPrincipal(p),
		Target:      &Target{ID: executionID, Type: "execution"},
		Action:      "cancel",
		Description: "Execution cancel requested",
	})
}

// LogAdminAction records a change made by an administrator.
func (l *Logger) LogAdminAction(ctx context.Context, actor *store.Principal, eventType EventType, target Target, description string) {
	l.Log(ctx, &Event{
		Type:        eventType,
		Severity:    SeverityWarning,
		Outcome:     OutcomeSuccess,
		Actor:       ActorFromPrincipal(actor),
		Target:      &target,
		Action:      string(eventType),
		Description: description,
	})
}
