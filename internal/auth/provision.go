// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/cmdgate/internal/logging"
	"github.com/tomtom215/cmdgate/internal/store"
)

// ProvisionAdmin creates the bootstrap administrator when no admin with that
// username exists. It returns true when an account was created. An existing
// account is left untouched, including its password.
func ProvisionAdmin(ctx context.Context, creds store.CredentialStore, username, password string) (bool, error) {
	if password == "" {
		return false, nil
	}

	_, err := creds.GetAdminByUsername(ctx, username)
	switch {
	case err == nil:
		logging.Debug().Str("username", username).Msg("Bootstrap administrator already exists")
		return false, nil
	case !errors.Is(err, store.ErrNotFound):
		return false, fmt.Errorf("look up bootstrap administrator: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	admin := &store.AdminRecord{Username: username, PasswordHash: hash}
	if err := creds.CreateAdmin(ctx, admin); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return false, nil
		}
		return false, fmt.Errorf("create bootstrap administrator: %w", err)
	}

	logging.Info().Str("username", username).Str("admin_id", admin.ID).Msg("Provisioned bootstrap administrator")
	return true, nil
}
