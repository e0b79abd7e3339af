// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/cmdgate/internal/logging"
	"github.com/tomtom215/cmdgate/internal/models"
)

// readinessTimeout bounds the store ping of a readiness check.
const readinessTimeout = 2 * time.Second

// breakerStater is implemented by store.BreakerStore.
type breakerStater interface {
	State() string
}

// HealthLive handles GET /health/live. It only reports that the process serves HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles GET /health/ready: 200 when the credential store
// answers, 503 otherwise.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	storeErr := h.store.Ping(ctx)
	ready := storeErr == nil

	data := map[string]interface{}{
		"store_connected": ready,
		"ready_to_serve":  ready,
		"uptime":          time.Since(h.startTime).Seconds(),
	}
	if b, ok := h.store.(breakerStater); ok {
		data["circuit_breaker"] = b.State()
	}

	statusCode := http.StatusOK
	status := "ready"
	if !ready {
		logging.Ctx(r.Context()).Warn().Err(storeErr).Msg("Readiness check failed")
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	respondJSON(w, statusCode, &models.APIResponse{
		Status:   status,
		Data:     data,
		Metadata: metadataFor(r),
	})
}
