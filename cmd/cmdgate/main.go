// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/cmdgate/internal/api"
	"github.com/tomtom215/cmdgate/internal/audit"
	"github.com/tomtom215/cmdgate/internal/auth"
	"github.com/tomtom215/cmdgate/internal/config"
	"github.com/tomtom215/cmdgate/internal/dispatch"
	"github.com/tomtom215/cmdgate/internal/executor"
	"github.com/tomtom215/cmdgate/internal/logging"
	"github.com/tomtom215/cmdgate/internal/policy"
	"github.com/tomtom215/cmdgate/internal/store"
	"github.com/tomtom215/cmdgate/internal/supervisor"
	"github.com/tomtom215/cmdgate/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// default logger until Init
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("addr", cfg.Server.Addr()).
		Str("exec_mode", cfg.Exec.Mode).
		Msg("Starting cmdgate")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	creds, closeCreds := initCredentialStore(cfg)
	defer closeCreds()

	sessionFactory, err := auth.NewSessionStoreFactory(auth.SessionStoreType(cfg.Security.SessionStore), cfg.Security.SessionStorePath)
	if err != nil {
		logging.Fatal().Err(err).Str("type", cfg.Security.SessionStore).Msg("Failed to initialize session store")
	}
	defer func() {
		if err := sessionFactory.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing session store")
		}
	}()
	sessions := sessionFactory.CreateStore()

	lockout := auth.NewLockoutManager(auth.LockoutConfig{
		MaxAttempts:        cfg.Security.LockoutMaxAttempts,
		LockoutDuration:    cfg.Security.LockoutDuration,
		MaxLockoutDuration: 24 * time.Hour,
	})

	authenticator, err := initAuthenticator(ctx, cfg, creds, sessions, lockout)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to provision administrator")
	}

	engine := initPolicy(cfg)

	gateway := executor.NewGateway(executor.Config{
		Mode:             executor.Mode(cfg.Exec.Mode),
		Shell:            cfg.Exec.Shell,
		Timeout:          cfg.Exec.Timeout,
		MaxOutputBytes:   cfg.Exec.MaxOutputBytes,
		MaxConcurrent:    cfg.Exec.MaxConcurrent,
		TerminationGrace: cfg.Exec.TerminationGrace,
		WorkDir:          cfg.Exec.WorkDir,
	})

	auditLog, closeAudit := initAudit(ctx, cfg)
	defer closeAudit()

	dispatcher := dispatch.NewService(authenticator, creds, engine, gateway, auditLog, dispatch.Config{
		MaxCommandBytes: cfg.Exec.MaxCommandBytes,
	})

	sessionMW := auth.NewMiddleware(authenticator, auth.MiddlewareConfig{
		CookieName:     cfg.Security.CookieName,
		CookiePath:     "/",
		CookieSecure:   cfg.Security.CookieSecure,
		CookieSameSite: http.SameSiteStrictMode,
		OnError:        api.SessionErrorWriter(),
	})

	handler := api.NewHandler(api.Deps{
		Config:        cfg,
		Store:         creds,
		Authenticator: authenticator,
		Sessions:      sessionMW,
		Dispatcher:    dispatcher,
		Programs:      engine,
		Audit:         auditLog,
	})
	chiMW := api.NewChiMiddleware(api.ChiMiddlewareConfigFrom(cfg.Security))
	router := api.NewRouter(handler, sessionMW, chiMW)

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		// WriteTimeout is left unset: a command response is written only
		// after the command finishes, bounded by the exec timeout.
	}
	// kill running commands so Shutdown is not held open by their handlers
	server.RegisterOnShutdown(func() {
		if n := gateway.CancelAll(); n > 0 {
			logging.Info().Int("canceled", n).Msg("Canceled running commands for shutdown")
		}
	})

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout + 5*time.Second,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	tree.AddMaintenanceService(services.NewFuncService("session-janitor", func(ctx context.Context) error {
		return auth.RunJanitor(ctx, sessions, cfg.Security.SessionCleanupInterval)
	}))
	tree.AddMaintenanceService(services.NewPeriodicService("lockout-cleanup", cfg.Security.LockoutDuration, lockout.CleanupExpired))
	if auditLog != nil && cfg.Audit.RetentionDays > 0 {
		tree.AddMaintenanceService(services.NewFuncService("audit-pruner", auditLog.RunPruner))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	gateway.CancelAll()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Exec.TerminationGrace+5*time.Second)
	if err := gateway.Drain(drainCtx); err != nil {
		logging.Warn().Int("in_flight", gateway.InFlight()).Msg("Commands still running at shutdown")
	}
	drainCancel()

	logging.Info().Msg("Application stopped gracefully")
}

// initCredentialStore opens the Badger credential store behind a circuit breaker.
func initCredentialStore(cfg *config.Config) (store.CredentialStore, func()) {
	badgerStore, err := store.OpenBadgerStore(cfg.Store.Path, cfg.Store.InMemory)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed to open credential store")
	}

	breakerCfg := store.DefaultBreakerConfig()
	if cfg.Store.BreakerMaxFailures > 0 {
		breakerCfg.MaxFailures = cfg.Store.BreakerMaxFailures
	}
	if cfg.Store.BreakerTimeout > 0 {
		breakerCfg.Timeout = cfg.Store.BreakerTimeout
	}
	creds := store.NewBreakerStore(badgerStore, breakerCfg)

	logging.Info().
		Str("path", cfg.Store.Path).
		Bool("in_memory", cfg.Store.InMemory).
		Msg("Credential store opened")

	return creds, func() {
		if err := creds.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing credential store")
		}
	}
}

// initAuthenticator builds the authenticator and provisions the bootstrap
// administrator. Both log their own outcome.
func initAuthenticator(ctx context.Context, cfg *config.Config, creds store.CredentialStore, sessions auth.SessionStore, lockout *auth.LockoutManager) (*auth.Authenticator, error) {
	authenticator := auth.NewAuthenticator(creds, sessions, lockout, auth.Config{
		SessionTTL:        cfg.Security.SessionTimeout,
		SlidingSession:    cfg.Security.SlidingSession,
		UserNameOnlyLogin: cfg.Security.UserNameOnlyLogin,
	})
	if _, err := auth.ProvisionAdmin(ctx, creds, cfg.Security.AdminUsername, cfg.Security.AdminPassword); err != nil {
		return nil, err
	}
	return authenticator, nil
}

// initPolicy builds the policy engine, with the casbin program allowlist when enabled.
func initPolicy(cfg *config.Config) *policy.Engine {
	var caps *policy.Capabilities
	if cfg.Policy.CapabilitiesEnabled {
		var err error
		caps, err = policy.NewCapabilities(policy.CapabilitiesConfig{
			ModelPath:  cfg.Policy.CasbinModelPath,
			PolicyPath: cfg.Policy.CasbinPolicyPath,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to load capability policy")
		}
		logging.Info().Msg("Program allowlist enabled")
	}

	return policy.NewEngine(policy.Config{
		ForbiddenTokens:  cfg.Policy.ForbiddenTokens,
		RootTokens:       cfg.Policy.RootTokens,
		ForbiddenOptions: cfg.Policy.ForbiddenOptions,
		Capabilities:     caps,
	})
}

// initAudit opens the audit store and starts the async logger.
// Returns a nil logger when auditing is disabled.
func initAudit(ctx context.Context, cfg *config.Config) (*audit.Logger, func()) {
	if !cfg.Audit.Enabled {
		logging.Info().Msg("Audit trail disabled (AUDIT_ENABLED=false)")
		return nil, func() {}
	}

	var auditStore audit.Store
	switch cfg.Audit.Backend {
	case "duckdb":
		duck, err := audit.OpenDuckDBStore(ctx, cfg.Audit.Path)
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.Audit.Path).Msg("Failed to open audit database")
		}
		auditStore = duck
	default:
		auditStore = audit.NewMemoryStore(cfg.Audit.BufferSize * 10)
	}

	auditLog := audit.NewLogger(auditStore, audit.Config{
		Enabled:       true,
		BufferSize:    cfg.Audit.BufferSize,
		RetentionDays: cfg.Audit.RetentionDays,
		PruneInterval: cfg.Audit.PruneInterval,
		LogToStdout:   !cfg.Server.IsProduction(),
	})
	logging.Info().
		Str("backend", cfg.Audit.Backend).
		Int("retention_days", cfg.Audit.RetentionDays).
		Msg("Audit trail enabled")

	return auditLog, func() {
		// drain the write buffer before closing the store
		if err := auditLog.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing audit logger")
		}
		if err := auditStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing audit store")
		}
	}
}
