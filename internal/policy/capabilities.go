// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package policy

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Capability roles used as casbin subjects.
const (
	CapabilityStandardUser = "standard_user"
	CapabilityRootUser     = "root_user"
)

// actionExec is the only casbin action.
const actionExec = "exec"

// CapabilitiesConfig selects the casbin model and policy.
// Empty paths use the embedded defaults.
type CapabilitiesConfig struct {
	ModelPath  string
	PolicyPath string
}

// Capabilities is the program allowlist.
type Capabilities struct {
	enforcer *casbin.SyncedEnforcer
}

// NewCapabilities loads the capability model and policy.
func NewCapabilities(cfg CapabilitiesConfig) (*Capabilities, error) {
	var (
		m   model.Model
		err error
	)
	if cfg.ModelPath != "" {
		m, err = model.NewModelFromFile(cfg.ModelPath)
	} else {
		m, err = model.NewModelFromString(embeddedModel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if cfg.PolicyPath != "" {
		if _, statErr := os.Stat(cfg.PolicyPath); statErr != nil {
			return nil, fmt.Errorf("casbin policy file: %w", statErr)
		}
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.PolicyPath))
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err == nil {
			err = loadEmbeddedPolicy(enforcer, embeddedPolicy)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	return &Capabilities{enforcer: enforcer}, nil
}

// loadEmbeddedPolicy parses policy CSV lines into the enforcer.
func loadEmbeddedPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch {
		case parts[0] == "p" && len(parts) >= 4:
			if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
				return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
			}
		case parts[0] == "g" && len(parts) >= 3:
			if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
				return fmt.Errorf("failed to add grouping policy %v: %w", parts[1:], err)
			}
		}
	}
	return nil
}

// Permitted reports whether role may run program. Enforcement errors deny.
func (c *Capabilities) Permitted(role, program string) bool {
	if program == "" {
		return false
	}
	ok, err := c.enforcer.Enforce(role, program, actionExec)
	return err == nil && ok
}

// Programs returns the programs role may run, sorted.
func (c *Capabilities) Programs(role string) []string {
	perms, err := c.enforcer.GetImplicitPermissionsForUser(role)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if len(p) < 3 || p[2] != actionExec {
			continue
		}
		if _, dup := seen[p[1]]; dup {
			continue
		}
		seen[p[1]] = struct{}{}
		out = append(out, p[1])
	}
	sort.Strings(out)
	return out
}
