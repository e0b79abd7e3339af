// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

/*
Package api exposes the gateway over HTTP/JSON using the chi router.

Routes live under /api/v1:

	POST   /auth/login                 log in as admin or user
	POST   /auth/logout                end the session
	GET    /auth/me                    current principal
	POST   /commands                   submit a command for an instance
	DELETE /commands/{execution_id}    cancel an own in-flight command
	GET    /instances                  instances of the calling user
	/admin/...                         admin, user, instance and audit management
	GET    /health/live, /health/ready checks

GET /metrics serves Prometheus metrics.

Every response uses the models.APIResponse envelope. A command that ran is
always a 200, including a non-zero exit or a timeout. 4xx codes are reserved
for requests that never reached execution: 400 for malformed input, 401 for
bad credentials or sessions, 403 for policy denials (with the denial reason in
error.details.reason), 429 for rate limits and locked accounts. 500 means an
infrastructure fault and carries a fixed message.

The session token is read from the X-Session-Token header, an Authorization
bearer token, or the session cookie set at login.
*/
package api
