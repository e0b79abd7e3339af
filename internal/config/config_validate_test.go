// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "HTTP_PORT"},
		{"bad environment", func(c *Config) { c.Server.Environment = "prod" }, "ENVIRONMENT"},
		{"short session", func(c *Config) { c.Security.SessionTimeout = time.Second }, "SESSION_TIMEOUT"},
		{"unknown session store", func(c *Config) { c.Security.SessionStore = "redis" }, "SESSION_STORE"},
		{"badger without path", func(c *Config) { c.Security.SessionStorePath = "" }, "SESSION_STORE_PATH"},
		{"admin password without user", func(c *Config) {
			c.Security.AdminUsername = ""
			c.Security.AdminPassword = "pw"
		}, "ADMIN_USER"},
		{"name-only login in production", func(c *Config) {
			c.Server.Environment = "production"
			c.Security.UserNameOnlyLogin = true
		}, "USER_NAME_ONLY_LOGIN"},
		{"wildcard cors in production", func(c *Config) {
			c.Server.Environment = "production"
			c.Security.CORSOrigins = []string{"*"}
		}, "CORS_ORIGINS"},
		{"rate limit disabled skips bounds", func(c *Config) {
			c.Security.RateLimitDisabled = true
			c.Security.RateLimitReqs = 0
		}, ""},
		{"zero rate limit", func(c *Config) { c.Security.RateLimitReqs = 0 }, "rate limit"},
		{"store path missing", func(c *Config) { c.Store.Path = "" }, "STORE_PATH"},
		{"zero timeout", func(c *Config) { c.Exec.Timeout = 0 }, "EXEC_TIMEOUT"},
		{"zero output ceiling", func(c *Config) { c.Exec.MaxOutputBytes = 0 }, "EXEC_MAX_OUTPUT_BYTES"},
		{"zero concurrency", func(c *Config) { c.Exec.MaxConcurrent = 0 }, "EXEC_MAX_CONCURRENT"},
		{"shell mode without shell", func(c *Config) {
			c.Exec.Mode = "shell"
			c.Exec.Shell = " "
		}, "EXEC_SHELL"},
		{"audit duckdb without path", func(c *Config) { c.Audit.Path = "" }, "AUDIT_PATH"},
		{"audit disabled skips backend", func(c *Config) {
			c.Audit.Enabled = false
			c.Audit.Backend = "nope"
		}, ""},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "LOG_LEVEL"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfigAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 3000}
	if got := s.Addr(); got != "127.0.0.1:3000" {
		t.Errorf("Addr() = %q", got)
	}
}
