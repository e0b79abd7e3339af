// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

// Package models defines the JSON request and response types of the HTTP API.
//
// Request types carry validate tags checked by internal/validation before a
// handler acts on them. Response types never expose password hashes or
// session internals.
package models
