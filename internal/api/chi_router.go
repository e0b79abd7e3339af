// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/cmdgate/internal/audit"
	"github.com/tomtom215/cmdgate/internal/auth"
	"github.com/tomtom215/cmdgate/internal/middleware"
	"github.com/tomtom215/cmdgate/internal/models"
	"github.com/tomtom215/cmdgate/internal/store"
)

// Router wires handlers and middleware into a chi mux.
type Router struct {
	handler       *Handler
	sessions      *auth.Middleware
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a Router. chiMW may be nil for defaults.
func NewRouter(handler *Handler, sessions *auth.Middleware, chiMW *ChiMiddleware) *Router {
	if chiMW == nil {
		chiMW = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, sessions: sessions, chiMiddleware: chiMW}
}

// auditSource records the client address and user agent for audit events.
func auditSource(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.ContextWithSource(r.Context(), audit.SourceFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()
	h := router.handler

	// Global middleware, applied in order
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(auditSource)
	r.Use(router.chiMiddleware.CORS()) // global so OPTIONS preflight is answered

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, models.ErrCodeNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.PrometheusMetrics)

		// Probes are not rate limited
		r.Route("/health", func(r chi.Router) {
			r.Get("/live", h.HealthLive)
			r.Get("/ready", h.HealthReady)
		})

		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimit())

			r.Route("/auth", func(r chi.Router) {
				r.With(router.chiMiddleware.LoginRateLimit()).Post("/login", h.Login)
				r.With(router.sessions.RequireAuth).Post("/logout", h.Logout)
				r.With(router.sessions.RequireAuth).Get("/me", h.Me)
			})

			// Submission resolves the session inside the dispatcher
			r.Post("/commands", h.SubmitCommand)
			r.With(router.sessions.RequireAuth).Delete("/commands/{execution_id}", h.CancelCommand)

			r.With(
				router.sessions.RequireAuth,
				router.sessions.RequireRole(store.RoleStandardUser),
			).Get("/instances", h.ListMyInstances)

			r.Route("/admin", func(r chi.Router) {
				r.Use(router.sessions.RequireAuth)
				r.Use(router.sessions.RequireRole(store.RoleAdministrator))

				r.Post("/admins", h.CreateAdmin)

				r.Post("/users", h.CreateUser)
				r.Get("/users", h.ListUsers)
				r.Patch("/users/{id}", h.UpdateUser)
				r.Delete("/users/{id}", h.DeleteUser)

				r.Post("/instances", h.CreateInstance)
				r.Get("/instances", h.ListInstances)
				r.Delete("/instances/{id}", h.DeleteInstance)

				r.Get("/audit", h.ListAuditEvents)
			})
		})
	})

	return r
}
