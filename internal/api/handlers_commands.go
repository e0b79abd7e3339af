// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/cmdgate/internal/auth"
	"github.com/tomtom215/cmdgate/internal/dispatch"
	"github.com/tomtom215/cmdgate/internal/executor"
	"github.com/tomtom215/cmdgate/internal/models"
)

// commandBodyOverhead covers JSON escaping and the other fields of a command body.
const commandBodyOverhead = 8 << 10

// SubmitCommand handles POST /commands.
//
// The session is resolved by the dispatcher rather than by middleware so a
// submission goes through exactly one Resolve. Any command that ran is a 200,
// whatever its exit code.
func (h *Handler) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req models.CommandRequest
	maxCommand := h.cfg.Exec.MaxCommandBytes
	if maxCommand <= 0 {
		maxCommand = defaultBodyLimit
	}
	// JSON escaping can double the size of the command text
	limit := int64(2*maxCommand + commandBodyOverhead)
	if err := decodeJSON(w, r, &req, limit); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			respondError(w, r, http.StatusBadRequest, models.ErrCodeCommandTooLarge, "command too large", err)
			return
		}
		respondDecodeError(w, r, err)
		return
	}

	res, err := h.dispatch.Submit(r.Context(), dispatch.Request{
		Token:       h.sessions.TokenFromRequest(r),
		InstanceID:  req.InstanceID,
		Command:     req.Command,
		ExecutionID: req.ExecutionID,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, newCommandResponse(res))
}

func newCommandResponse(res *executor.Result) models.CommandResponse {
	return models.CommandResponse{
		ExecutionID:     res.ExecutionID,
		Success:         res.Success,
		ExitCode:        res.ExitCode,
		Stdout:          res.Stdout,
		Stderr:          res.Stderr,
		StdoutTruncated: res.StdoutTruncated,
		StderrTruncated: res.StderrTruncated,
		TimedOut:        res.TimedOut,
		Canceled:        res.Canceled,
		Error:           res.Error,
		DurationMS:      res.Duration.Milliseconds(),
	}
}

// CancelCommand handles DELETE /commands/{execution_id}. Only the principal
// that started an execution can cancel it; anyone else gets 404.
func (h *Handler) CancelCommand(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	id := chi.URLParam(r, "execution_id")
	if err := h.dispatch.Cancel(r.Context(), p, id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusAccepted, map[string]string{
		"execution_id": id,
		"message":      "Cancellation requested",
	})
}

// ListMyInstances handles GET /instances: the instances the calling
// standard user owns.
func (h *Handler) ListMyInstances(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	instances, err := h.store.ListInstancesByOwner(r.Context(), p.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, models.NewListResponse(instances))
}
