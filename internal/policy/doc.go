// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

// Package policy decides whether a principal may run a command on an instance.
//
// Authorize is a pure function of its inputs and the loaded configuration.
// Rules are evaluated in order and the first match wins:
//
//  1. administrators are denied ("wrong-interface"); they manage accounts but
//     do not execute commands
//  2. the instance must be owned by the principal ("not-owner")
//  3. no token may be in the forbidden set ("forbidden-action")
//  4. root escalation requires AllowedRoot ("root-not-allowed")
//  5. every program must be in the casbin capability allowlist for the
//     principal's capability role ("not-permitted")
//  6. otherwise the command is allowed
//
// # Denylist limits
//
// The forbidden-token check splits the command on whitespace and shell
// metacharacters, lowercases each token and reduces paths to their basename.
// It is a heuristic and does not stop obfuscated invocations such as
// r''m, variable expansion, or encoded payloads piped into an interpreter.
// The capability allowlist is the primary control; the denylist is an
// additional layer.
//
// # Capability model
//
// The embedded casbin model grants (role, program, "exec") tuples:
//
//	[request_definition]
//	r = sub, obj, act
//
//	[policy_definition]
//	p = sub, obj, act
//
//	[role_definition]
//	g = _, _
//
//	[policy_effect]
//	e = some(where (p.eft == allow))
//
//	[matchers]
//	m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
//
// root_user inherits standard_user. A deployment may replace the model and
// policy with files (CASBIN_MODEL_PATH, CASBIN_POLICY_PATH).
package policy
