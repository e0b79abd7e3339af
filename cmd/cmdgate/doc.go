// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

/*
Command cmdgate runs the multi-tenant remote command gateway.

It loads configuration (defaults, optional YAML file, environment), opens the
Badger credential store, provisions the bootstrap administrator and serves the
HTTP API under a suture supervisor tree together with the session janitor,
lockout cleanup and audit pruner.

Usage:

	CONFIG_PATH=/etc/cmdgate/config.yaml cmdgate

SIGINT and SIGTERM trigger a graceful shutdown.
*/
package main
