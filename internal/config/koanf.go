// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations in priority order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/cmdgate/config.yaml",
	"/etc/cmdgate/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultForbiddenTokens is the denylist applied to command tokens.
// It is incomplete by nature and does not catch obfuscated invocations.
var DefaultForbiddenTokens = []string{
	"rm", "rmdir", "unlink", "shred",
	"shutdown", "reboot", "halt", "poweroff", "init", "telinit",
	"mkfs", "wipefs",
	"kill", "killall", "pkill",
}

// DefaultForbiddenOptions are program options that make an allowed program
// run another program, such as find -exec or tar --checkpoint-action.
var DefaultForbiddenOptions = []string{
	"-exec", "-execdir", "-ok", "-okdir",
	"--checkpoint-action", "--to-command", "--info-script", "--new-volume-script",
	"--use-compress-program", "--compress-program",
}

// DefaultRootTokens mark a command as requesting elevated privileges.
var DefaultRootTokens = []string{"sudo", "su", "doas", "pkexec", "runuser"}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			Host:            "0.0.0.0",
			ReadTimeout:     30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			Environment:     "development",
		},
		Security: SecurityConfig{
			SessionTimeout:         24 * time.Hour,
			SlidingSession:         true,
			SessionStore:           "badger",
			SessionStorePath:       "/data/sessions",
			SessionCleanupInterval: 5 * time.Minute,
			CookieName:             "cmdgate_session",
			CookieSecure:           true,
			UserNameOnlyLogin:      false,
			AdminUsername:          "admin",
			AdminPassword:          "",
			// 200 requests per 15 minutes per client, the panel's historical limit
			RateLimitReqs:        200,
			RateLimitWindow:      15 * time.Minute,
			LoginRateLimitReqs:   10,
			LoginRateLimitWindow: time.Minute,
			RateLimitDisabled:    false,
			CORSOrigins:          []string{},
			LockoutMaxAttempts:   5,
			LockoutDuration:      15 * time.Minute,
		},
		Store: StoreConfig{
			Path:               "/data/credentials",
			InMemory:           false,
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
		Exec: ExecConfig{
			Timeout:          60 * time.Second,
			MaxOutputBytes:   10 << 20, // 10 MiB
			MaxCommandBytes:  64 << 10, // 64 KiB
			Mode:             "argv",
			Shell:            "/bin/sh",
			MaxConcurrent:    64,
			TerminationGrace: 0,
			WorkDir:          "",
		},
		Policy: PolicyConfig{
			ForbiddenTokens:     append([]string(nil), DefaultForbiddenTokens...),
			RootTokens:          append([]string(nil), DefaultRootTokens...),
			ForbiddenOptions:    append([]string(nil), DefaultForbiddenOptions...),
			CapabilitiesEnabled: true,
		},
		Audit: AuditConfig{
			Enabled:       true,
			Backend:       "duckdb",
			Path:          "/data/audit.duckdb",
			BufferSize:    1024,
			RetentionDays: 90,
			PruneInterval: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration from layered sources:
//  1. built-in defaults
//  2. optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. environment variables
//
// The result is validated before it is returned.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Load is an alias for LoadWithKoanf.
func Load() (*Config, error) {
	return LoadWithKoanf()
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env values.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"policy.forbidden_tokens",
	"policy.root_tokens",
	"policy.forbidden_options",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	// Server
	"http_port":        "server.port",
	"http_host":        "server.host",
	"http_timeout":     "server.read_timeout",
	"shutdown_timeout": "server.shutdown_timeout",
	"environment":      "server.environment",

	// Security
	"session_timeout":          "security.session_timeout",
	"session_sliding":          "security.sliding_session",
	"session_store":            "security.session_store",
	"session_store_path":       "security.session_store_path",
	"session_cleanup_interval": "security.session_cleanup_interval",
	"session_cookie_name":      "security.cookie_name",
	"session_cookie_secure":    "security.cookie_secure",
	"user_name_only_login":     "security.user_name_only_login",
	"admin_user":               "security.admin_username",
	"admin_pass_provision":     "security.admin_password",
	"rate_limit_requests":      "security.rate_limit_reqs",
	"rate_limit_window":        "security.rate_limit_window",
	"login_rate_limit":         "security.login_rate_limit_reqs",
	"login_rate_limit_window":  "security.login_rate_limit_window",
	"disable_rate_limit":       "security.rate_limit_disabled",
	"cors_origins":             "security.cors_origins",
	"lockout_max_attempts":     "security.lockout_max_attempts",
	"lockout_duration":         "security.lockout_duration",

	// Credential store
	"store_path":                 "store.path",
	"store_in_memory":            "store.in_memory",
	"store_breaker_max_failures": "store.breaker_max_failures",
	"store_breaker_timeout":      "store.breaker_timeout",

	// Execution
	"exec_timeout":           "exec.timeout",
	"exec_max_output_bytes":  "exec.max_output_bytes",
	"exec_max_command_bytes": "exec.max_command_bytes",
	"exec_mode":              "exec.mode",
	"exec_shell":             "exec.shell",
	"exec_max_concurrent":    "exec.max_concurrent",
	"exec_termination_grace": "exec.termination_grace",
	"exec_work_dir":          "exec.work_dir",

	// Policy
	"policy_forbidden_tokens":     "policy.forbidden_tokens",
	"policy_root_tokens":          "policy.root_tokens",
	"policy_forbidden_options":    "policy.forbidden_options",
	"policy_capabilities_enabled": "policy.capabilities_enabled",
	"casbin_model_path":           "policy.casbin_model_path",
	"casbin_policy_path":          "policy.casbin_policy_path",

	// Audit
	"audit_enabled":        "audit.enabled",
	"audit_backend":        "audit.backend",
	"audit_path":           "audit.path",
	"audit_buffer_size":    "audit.buffer_size",
	"audit_retention_days": "audit.retention_days",
	"audit_prune_interval": "audit.prune_interval",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps environment variable names to koanf paths.
//
//   - HTTP_PORT -> server.port
//   - ADMIN_PASS_PROVISION -> security.admin_password
//   - EXEC_TIMEOUT -> exec.timeout
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
