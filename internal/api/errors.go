// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/cmdgate/internal/auth"
	"github.com/tomtom215/cmdgate/internal/dispatch"
	"github.com/tomtom215/cmdgate/internal/models"
	"github.com/tomtom215/cmdgate/internal/policy"
	"github.com/tomtom215/cmdgate/internal/store"
)

// internalErrorMessage is the only text a client sees for infrastructure faults.
const internalErrorMessage = "Internal server error"

// respondServiceError maps an error from the auth, policy, dispatch or store
// layers onto a status code and error envelope. Unrecognized errors, store
// outages and spawn failures become a generic 500.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		deny   *policy.DenyError
		locked *auth.LockedError
	)

	switch {
	case errors.As(err, &deny):
		respondAPIError(w, r, http.StatusForbidden, &models.APIError{
			Code:    models.ErrCodeForbidden,
			Message: "Command denied",
			Details: map[string]interface{}{"reason": string(deny.Reason)},
		}, nil)

	case errors.As(err, &locked):
		setRetryAfter(w, locked.Remaining)
		respondError(w, r, http.StatusTooManyRequests, models.ErrCodeAccountLocked,
			"Too many failed login attempts, try again later", nil)

	case errors.Is(err, dispatch.ErrMissingField):
		respondError(w, r, http.StatusBadRequest, models.ErrCodeMissingField, err.Error(), nil)
	case errors.Is(err, dispatch.ErrCommandTooLarge):
		respondError(w, r, http.StatusBadRequest, models.ErrCodeCommandTooLarge, err.Error(), nil)
	case errors.Is(err, dispatch.ErrInvalidExecutionID),
		errors.Is(err, store.ErrInvalidRecord),
		errors.Is(err, auth.ErrPasswordTooLong):
		respondError(w, r, http.StatusBadRequest, models.ErrCodeValidation, err.Error(), nil)

	case errors.Is(err, auth.ErrInvalidCredentials):
		// covers ErrPrincipalNotFound; unknown user and wrong password look alike
		respondError(w, r, http.StatusUnauthorized, models.ErrCodeInvalidCredential, "Invalid credentials", nil)
	case errors.Is(err, auth.ErrInvalidSession):
		respondError(w, r, http.StatusUnauthorized, models.ErrCodeInvalidSession, "Invalid or expired session", nil)

	case errors.Is(err, dispatch.ErrExecutionNotFound), errors.Is(err, store.ErrNotFound):
		respondError(w, r, http.StatusNotFound, models.ErrCodeNotFound, "Not found", nil)
	case errors.Is(err, dispatch.ErrExecutionConflict), errors.Is(err, store.ErrAlreadyExists):
		respondError(w, r, http.StatusConflict, models.ErrCodeConflict, err.Error(), nil)

	default:
		respondError(w, r, http.StatusInternalServerError, models.ErrCodeInternal, internalErrorMessage, err)
	}
}

// sessionErrorWriter renders failures from the session middleware.
func sessionErrorWriter(w http.ResponseWriter, r *http.Request, status int, err error) {
	switch status {
	case http.StatusUnauthorized:
		respondError(w, r, status, models.ErrCodeInvalidSession, "Invalid or expired session", nil)
	case http.StatusForbidden:
		respondError(w, r, status, models.ErrCodeForbidden, "Insufficient role", nil)
	default:
		respondError(w, r, http.StatusInternalServerError, models.ErrCodeInternal, internalErrorMessage, err)
	}
}

// SessionErrorWriter returns the writer the session middleware should use so
// its failures share the API envelope.
func SessionErrorWriter() auth.ErrorWriter {
	return sessionErrorWriter
}
