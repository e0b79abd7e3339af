// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

// Package audit records security-relevant events: logins, lockouts,
// authorization decisions, command executions and administrative changes.
//
// # Architecture
//
// Logger.Log is non-blocking. Events go into a buffered channel and a
// background goroutine writes them to a Store:
//
//	Logger.Log() -> Event Buffer (chan) -> Async Writer -> Store
//
// When the buffer is full the event is dropped and counted in the
// audit_events_dropped_total metric. Request handling never waits on the
// audit backend.
//
// # Stores
//
//   - MemoryStore: bounded in-process ring, for tests and ephemeral runs
//   - DuckDBStore: durable audit_events table in a DuckDB file
//
// # Retention
//
// Logger.RunPruner deletes events older than Config.RetentionDays on a fixed
// interval. It is run as a supervised service.
//
// # What is recorded
//
// Command text is truncated with logging.TruncateCommand before it is stored
// and session tokens never appear in events. Command output is not recorded.
//
// # Thread Safety
//
// Logger and both stores are safe for concurrent use. A nil *Logger is valid
// and discards every event.
package audit
