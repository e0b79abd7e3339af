// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package config

import (
	"fmt"
	"strings"
	"time"
)

var (
	validLogLevels = map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true,
	}
	validLogFormats = map[string]bool{
		"json": true, "console": true,
	}
	validEnvironments = map[string]bool{
		"development": true, "staging": true, "production": true,
	}
)

// Validate checks the configuration for invalid or unsafe values.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateExec(); err != nil {
		return err
	}
	if err := c.validateAudit(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Environment != "" && !validEnvironments[c.Server.Environment] {
		return fmt.Errorf("ENVIRONMENT must be one of: development, staging, production")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	s := &c.Security
	if s.SessionTimeout < time.Minute {
		return fmt.Errorf("SESSION_TIMEOUT must be at least 1m, got %s", s.SessionTimeout)
	}
	switch s.SessionStore {
	case "memory":
	case "badger":
		if s.SessionStorePath == "" {
			return fmt.Errorf("SESSION_STORE_PATH is required when SESSION_STORE=badger")
		}
	default:
		return fmt.Errorf("SESSION_STORE must be one of: memory, badger")
	}
	if s.CookieName == "" {
		return fmt.Errorf("SESSION_COOKIE_NAME must not be empty")
	}
	if s.AdminPassword != "" && s.AdminUsername == "" {
		return fmt.Errorf("ADMIN_USER is required when ADMIN_PASS_PROVISION is set")
	}
	if s.UserNameOnlyLogin && c.Server.IsProduction() {
		return fmt.Errorf("USER_NAME_ONLY_LOGIN cannot be enabled when ENVIRONMENT=production")
	}
	if !s.RateLimitDisabled {
		if s.RateLimitReqs < 1 || s.LoginRateLimitReqs < 1 {
			return fmt.Errorf("rate limit request counts must be positive")
		}
		if s.RateLimitWindow <= 0 || s.LoginRateLimitWindow <= 0 {
			return fmt.Errorf("rate limit windows must be positive")
		}
	}
	if s.LockoutMaxAttempts < 0 {
		return fmt.Errorf("LOCKOUT_MAX_ATTEMPTS must not be negative")
	}
	if s.LockoutMaxAttempts > 0 && s.LockoutDuration <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION must be positive when lockout is enabled")
	}
	for _, origin := range s.CORSOrigins {
		if origin == "*" && c.Server.IsProduction() {
			return fmt.Errorf("CORS_ORIGINS must not contain '*' when ENVIRONMENT=production")
		}
	}
	return nil
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("STORE_PATH is required unless STORE_IN_MEMORY=true")
	}
	if c.Store.BreakerMaxFailures == 0 {
		return fmt.Errorf("STORE_BREAKER_MAX_FAILURES must be positive")
	}
	return nil
}

func (c *Config) validateExec() error {
	e := &c.Exec
	if e.Timeout <= 0 {
		return fmt.Errorf("EXEC_TIMEOUT must be positive")
	}
	if e.MaxOutputBytes <= 0 {
		return fmt.Errorf("EXEC_MAX_OUTPUT_BYTES must be positive")
	}
	if e.MaxCommandBytes <= 0 {
		return fmt.Errorf("EXEC_MAX_COMMAND_BYTES must be positive")
	}
	if e.MaxConcurrent < 1 {
		return fmt.Errorf("EXEC_MAX_CONCURRENT must be at least 1")
	}
	if e.TerminationGrace < 0 {
		return fmt.Errorf("EXEC_TERMINATION_GRACE must not be negative")
	}
	switch e.Mode {
	case "argv":
	case "shell":
		if strings.TrimSpace(e.Shell) == "" {
			return fmt.Errorf("EXEC_SHELL is required when EXEC_MODE=shell")
		}
	default:
		return fmt.Errorf("EXEC_MODE must be one of: argv, shell")
	}
	return nil
}

func (c *Config) validateAudit() error {
	if !c.Audit.Enabled {
		return nil
	}
	switch c.Audit.Backend {
	case "memory":
	case "duckdb":
		if c.Audit.Path == "" {
			return fmt.Errorf("AUDIT_PATH is required when AUDIT_BACKEND=duckdb")
		}
	default:
		return fmt.Errorf("AUDIT_BACKEND must be one of: memory, duckdb")
	}
	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("AUDIT_BUFFER_SIZE must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}
