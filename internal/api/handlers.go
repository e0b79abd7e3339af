// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package api

import (
	"context"
	"time"

	"github.com/tomtom215/cmdgate/internal/audit"
	"github.com/tomtom215/cmdgate/internal/auth"
	"github.com/tomtom215/cmdgate/internal/config"
	"github.com/tomtom215/cmdgate/internal/dispatch"
	"github.com/tomtom215/cmdgate/internal/executor"
	"github.com/tomtom215/cmdgate/internal/store"
)

// Submitter runs and cancels commands.
type Submitter interface {
	Submit(ctx context.Context, req dispatch.Request) (*executor.Result, error)
	Cancel(ctx context.Context, p *store.Principal, executionID string) error
}

// ProgramLister reports the programs a principal may run.
type ProgramLister interface {
	PermittedPrograms(p *store.Principal) []string
}

// Deps are the services the handlers call.
type Deps struct {
	Config        *config.Config
	Store         store.CredentialStore
	Authenticator *auth.Authenticator
	Sessions      *auth.Middleware
	Dispatcher    Submitter
	Programs      ProgramLister
	// Audit may be nil.
	Audit *audit.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	cfg       *config.Config
	store     store.CredentialStore
	auth      *auth.Authenticator
	sessions  *auth.Middleware
	dispatch  Submitter
	programs  ProgramLister
	audit     *audit.Logger
	startTime time.Time
}

// NewHandler creates a Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		cfg:       deps.Config,
		store:     deps.Store,
		auth:      deps.Authenticator,
		sessions:  deps.Sessions,
		dispatch:  deps.Dispatcher,
		programs:  deps.Programs,
		audit:     deps.Audit,
		startTime: time.Now(),
	}
}
