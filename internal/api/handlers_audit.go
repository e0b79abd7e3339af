// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/tomtom215/cmdgate/internal/audit"
	"github.com/tomtom215/cmdgate/internal/models"
)

const maxAuditQueryLimit = 1000

// ListAuditEvents handles GET /admin/audit.
//
// Query parameters: type and outcome (comma separated), actor_id, target_id,
// request_id, start and end (RFC 3339), limit (default 100, max 1000), offset.
func (h *Handler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		respondError(w, r, http.StatusServiceUnavailable, models.ErrCodeUnavailable, "Audit logging is disabled", nil)
		return
	}

	filter, apiErr := parseAuditFilter(r)
	if apiErr != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiErr, nil)
		return
	}

	start := time.Now()
	events, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"events": events,
			"limit":  filter.Limit,
			"offset": filter.Offset,
		},
		Metadata: models.Metadata{
			Timestamp:   time.Now().UTC(),
			RequestID:   metadataFor(r).RequestID,
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

func parseAuditFilter(r *http.Request) (audit.QueryFilter, *models.APIError) {
	q := r.URL.Query()
	filter := audit.DefaultQueryFilter()

	for _, t := range splitList(q.Get("type")) {
		filter.Types = append(filter.Types, audit.EventType(t))
	}
	for _, o := range splitList(q.Get("outcome")) {
		filter.Outcomes = append(filter.Outcomes, audit.Outcome(o))
	}
	filter.ActorID = q.Get("actor_id")
	filter.TargetID = q.Get("target_id")
	filter.RequestID = q.Get("request_id")

	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"start", &filter.StartTime}, {"end", &filter.EndTime}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, &models.APIError{
				Code:    models.ErrCodeValidation,
				Message: p.key + " must be an RFC 3339 timestamp",
			}
		}
		*p.dst = &t
	}

	filter.Limit = getIntParam(r, "limit", filter.Limit)
	if filter.Limit < 1 || filter.Limit > maxAuditQueryLimit {
		return filter, &models.APIError{Code: models.ErrCodeValidation, Message: "limit must be between 1 and 1000"}
	}
	filter.Offset = getIntParam(r, "offset", 0)
	if filter.Offset < 0 {
		return filter, &models.APIError{Code: models.ErrCodeValidation, Message: "offset must not be negative"}
	}
	return filter, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
