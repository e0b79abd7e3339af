// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

// Package config loads Cmdgate configuration from defaults, an optional YAML
// file and environment variables using koanf.
//
// Precedence is ENV > file > defaults. See LoadWithKoanf for details and
// envTransformFunc for the supported environment variable names.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Store    StoreConfig    `koanf:"store"`
	Exec     ExecConfig     `koanf:"exec"`
	Policy   PolicyConfig   `koanf:"policy"`
	Audit    AuditConfig    `koanf:"audit"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	Environment     string        `koanf:"environment"` // development, staging, production
}

// SecurityConfig holds authentication, session and HTTP hardening settings.
type SecurityConfig struct {
	// SessionTimeout is the idle lifetime of a session.
	SessionTimeout time.Duration `koanf:"session_timeout"`
	// SlidingSession extends the session on every successful resolve.
	SlidingSession bool `koanf:"sliding_session"`
	// SessionStore is "memory" or "badger".
	SessionStore string `koanf:"session_store"`
	// SessionStorePath is the Badger directory when SessionStore is "badger".
	SessionStorePath string `koanf:"session_store_path"`
	// SessionCleanupInterval controls the expired session janitor.
	SessionCleanupInterval time.Duration `koanf:"session_cleanup_interval"`

	CookieName   string `koanf:"cookie_name"`
	CookieSecure bool   `koanf:"cookie_secure"`

	// UserNameOnlyLogin lets standard users log in by name alone.
	// Off by default; enabling it means anyone who knows a username can act as that user.
	UserNameOnlyLogin bool `koanf:"user_name_only_login"`

	// AdminUsername and AdminPassword provision the bootstrap administrator.
	// Provisioning is skipped when AdminPassword is empty.
	AdminUsername string `koanf:"admin_username"`
	AdminPassword string `koanf:"admin_password"`

	RateLimitReqs        int           `koanf:"rate_limit_reqs"`
	RateLimitWindow      time.Duration `koanf:"rate_limit_window"`
	LoginRateLimitReqs   int           `koanf:"login_rate_limit_reqs"`
	LoginRateLimitWindow time.Duration `koanf:"login_rate_limit_window"`
	RateLimitDisabled    bool          `koanf:"rate_limit_disabled"`
	CORSOrigins          []string      `koanf:"cors_origins"`

	// Account lockout after repeated failed logins. Zero attempts disables it.
	LockoutMaxAttempts int           `koanf:"lockout_max_attempts"`
	LockoutDuration    time.Duration `koanf:"lockout_duration"`
}

// StoreConfig holds credential store settings.
type StoreConfig struct {
	// Path is the Badger directory. Ignored when InMemory is true.
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`

	// Circuit breaker around credential reads.
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`
}

// ExecConfig holds execution gateway limits.
type ExecConfig struct {
	// Timeout is the wall-clock limit for a single command.
	Timeout time.Duration `koanf:"timeout"`
	// MaxOutputBytes is the combined stdout+stderr ceiling.
	MaxOutputBytes int64 `koanf:"max_output_bytes"`
	// MaxCommandBytes rejects oversized command text before authorization.
	MaxCommandBytes int `koanf:"max_command_bytes"`
	// Mode is "argv" (no shell) or "shell".
	Mode string `koanf:"mode"`
	// Shell is used when Mode is "shell".
	Shell string `koanf:"shell"`
	// MaxConcurrent bounds simultaneous child processes.
	MaxConcurrent int64 `koanf:"max_concurrent"`
	// TerminationGrace is the delay between SIGTERM and SIGKILL. Zero sends SIGKILL at once.
	TerminationGrace time.Duration `koanf:"termination_grace"`
	// WorkDir is the child's working directory. Empty inherits the server's.
	WorkDir string `koanf:"work_dir"`
}

// PolicyConfig holds authorization policy settings.
type PolicyConfig struct {
	ForbiddenTokens     []string `koanf:"forbidden_tokens"`
	RootTokens          []string `koanf:"root_tokens"`
	ForbiddenOptions    []string `koanf:"forbidden_options"`
	CapabilitiesEnabled bool     `koanf:"capabilities_enabled"`
	// CasbinModelPath and CasbinPolicyPath override the embedded capability model.
	CasbinModelPath  string `koanf:"casbin_model_path"`
	CasbinPolicyPath string `koanf:"casbin_policy_path"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	Enabled bool `koanf:"enabled"`
	// Backend is "memory" or "duckdb".
	Backend       string        `koanf:"backend"`
	Path          string        `koanf:"path"`
	BufferSize    int           `koanf:"buffer_size"`
	RetentionDays int           `koanf:"retention_days"`
	PruneInterval time.Duration `koanf:"prune_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is json or console.
	Format string `koanf:"format"`
	// Caller adds file:line to log entries.
	Caller bool `koanf:"caller"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// IsProduction reports whether the server runs in production mode.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}
