// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package logging

// maxLoggedCommand bounds command text written to logs and audit entries.
const maxLoggedCommand = 256

// RedactToken masks a session token, keeping the first and last 4 characters.
// Tokens of 12 characters or fewer are fully masked.
func RedactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// TruncateCommand shortens command text for logging.
func TruncateCommand(command string) string {
	if len(command) <= maxLoggedCommand {
		return command
	}
	return command[:maxLoggedCommand] + "...(truncated)"
}
