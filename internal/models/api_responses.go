// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package models

import (
	"time"
)

// APIResponse is the envelope of every JSON response.
//
// Status is "success" with Data set, or "error" with Error set.
//
//	{
//	  "status": "success",
//	  "data": {"execution_id": "...", "exit_code": 0, "stdout": "..."},
//	  "metadata": {"timestamp": "2026-01-10T12:00:00Z", "request_id": "..."}
//	}
//
//	{
//	  "status": "error",
//	  "error": {"code": "FORBIDDEN", "message": "Command denied", "details": {"reason": "forbidden-action"}},
//	  "metadata": {"timestamp": "2026-01-10T12:00:00Z"}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata accompanies every response.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id,omitempty"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError describes a failed request. Code is stable and machine readable;
// Message is for humans and never contains internal error text.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error codes.
const (
	ErrCodeMissingField      = "MISSING_FIELD"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeCommandTooLarge   = "COMMAND_TOO_LARGE"
	ErrCodeInvalidJSON       = "INVALID_JSON"
	ErrCodeInvalidCredential = "INVALID_CREDENTIALS"
	ErrCodeInvalidSession    = "INVALID_SESSION"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeAccountLocked     = "ACCOUNT_LOCKED"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeUnavailable       = "SERVICE_UNAVAILABLE"
)
