// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package policy

import (
	"errors"
	"strings"

	"github.com/tomtom215/cmdgate/internal/store"
)

// Reason explains a denial.
type Reason string

// Denial reasons. The string values are part of the HTTP API.
const (
	ReasonNone            Reason = ""
	ReasonWrongInterface  Reason = "wrong-interface"
	ReasonNotOwner        Reason = "not-owner"
	ReasonForbiddenAction Reason = "forbidden-action"
	ReasonRootNotAllowed  Reason = "root-not-allowed"
	ReasonNotPermitted    Reason = "not-permitted"
)

// ErrDenied matches every DenyError.
var ErrDenied = errors.New("command denied")

// DenyError is the error form of a denied Decision.
type DenyError struct {
	Reason Reason
}

func (e *DenyError) Error() string {
	return "command denied: " + string(e.Reason)
}

func (e *DenyError) Is(target error) bool {
	return target == ErrDenied
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Program is the first program the command would run, when known.
	Program string
}

// Err returns nil for an allowed decision and a *DenyError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DenyError{Reason: d.Reason}
}

func deny(reason Reason, program string) Decision {
	return Decision{Reason: reason, Program: program}
}

// Config configures an Engine.
type Config struct {
	// ForbiddenTokens deny a command when any of its words matches.
	ForbiddenTokens []string
	// RootTokens mark a command as requesting root.
	RootTokens []string
	// ForbiddenOptions deny a command when any of its words is one of these
	// options, with or without an "=value" suffix.
	ForbiddenOptions []string
	// Capabilities is the program allowlist. Nil disables the check.
	Capabilities *Capabilities
}

// Engine evaluates authorization rules. It is safe for concurrent use.
//
// Rules are evaluated in order and the first match wins:
//
//  1. an administrator is denied with wrong-interface
//  2. a missing instance or one owned by someone else is denied with not-owner
//  3. a forbidden token or option anywhere in the command is denied with forbidden-action
//  4. a root-escalation token without AllowedRoot is denied with root-not-allowed
//  5. with Capabilities set, every program the command runs must be on the
//     principal's allowlist and be named bare or from a system bin directory,
//     otherwise not-permitted
//
// Commands are read both with every shell metacharacter as a separator and
// as the shlex argument vector the argv executor runs, and a rule matches if
// it matches either reading.
type Engine struct {
	forbidden map[string]struct{}
	root      map[string]struct{}
	options   map[string]struct{}
	caps      *Capabilities
}

// NewEngine builds an Engine. Tokens are matched case-insensitively.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		forbidden: tokenSet(cfg.ForbiddenTokens),
		root:      tokenSet(cfg.RootTokens),
		options:   tokenSet(cfg.ForbiddenOptions),
		caps:      cfg.Capabilities,
	}
}

func tokenSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, t := range list {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// Authorize decides whether p may run command on inst. inst is nil when the
// instance does not exist.
func (e *Engine) Authorize(p *store.Principal, command string, inst *store.Instance) Decision {
	first := ""
	if segs := rawSegments(command); len(segs) > 0 {
		first = program(segs[0], e.root)
	}

	if p == nil {
		return deny(ReasonNotOwner, first)
	}
	if p.IsAdministrator() {
		return deny(ReasonWrongInterface, first)
	}
	if inst == nil || inst.OwnerID != p.ID {
		return deny(ReasonNotOwner, first)
	}

	if e.hasForbiddenOption(command) {
		return deny(ReasonForbiddenAction, first)
	}
	wantsRoot := false
	for _, w := range tokens(command) {
		if _, ok := e.forbidden[w]; ok {
			return deny(ReasonForbiddenAction, first)
		}
		if _, ok := e.root[w]; ok {
			wantsRoot = true
		}
	}
	if wantsRoot && !p.AllowedRoot {
		return deny(ReasonRootNotAllowed, first)
	}

	if e.caps != nil {
		role := CapabilityRole(p)
		progs := programs(command, e.root)
		if len(progs) == 0 {
			return deny(ReasonNotPermitted, first)
		}
		for _, w := range progs {
			if !trustedLocation(w) || !e.caps.Permitted(role, normalize(w)) {
				return deny(ReasonNotPermitted, first)
			}
		}
	}

	return Decision{Allowed: true, Program: first}
}

func (e *Engine) hasForbiddenOption(command string) bool {
	if len(e.options) == 0 {
		return false
	}
	split, argv := parseViews(command)
	for _, v := range []view{split, argv} {
		for _, seg := range v {
			for _, w := range seg {
				if _, ok := e.options[optionName(w)]; ok {
					return true
				}
			}
		}
	}
	return false
}

// CapabilityRole returns the casbin subject for a principal.
func CapabilityRole(p *store.Principal) string {
	if p.AllowedRoot {
		return CapabilityRootUser
	}
	return CapabilityStandardUser
}

// PermittedPrograms lists the programs p may run, or nil when the
// capability allowlist is disabled.
func (e *Engine) PermittedPrograms(p *store.Principal) []string {
	if e.caps == nil || p == nil || p.IsAdministrator() {
		return nil
	}
	return e.caps.Programs(CapabilityRole(p))
}
