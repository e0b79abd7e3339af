// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

/*
Package supervisor runs the long-lived parts of cmdgate under a suture v4
supervisor tree.

	cmdgate
	├── maintenance-layer
	│   ├── session-janitor     deletes expired sessions
	│   ├── lockout-cleanup     forgets idle lockout entries
	│   └── audit-pruner        enforces audit retention (when enabled)
	└── api-layer
	    └── http-server

Crashed services are restarted with suture's backoff. Canceling the context
passed to Serve stops every service; the HTTP server drains in-flight
requests (including running commands) up to its shutdown timeout.

Supervisor events are logged through sutureslog into the zerolog logger:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
	    ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	tree.AddMaintenanceService(services.NewFuncService("session-janitor", janitor))
	err = tree.Serve(ctx)

Services live in the services subpackage.
*/
package supervisor
