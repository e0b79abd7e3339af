// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package auth

import (
	"context"

	"github.com/tomtom215/cmdgate/internal/store"
)

type contextKey int

const (
	principalContextKey contextKey = iota
	tokenContextKey
)

// ContextWithPrincipal returns a context carrying the resolved principal and its token.
func ContextWithPrincipal(ctx context.Context, p *store.Principal, token string) context.Context {
	ctx = context.WithValue(ctx, principalContextKey, p)
	return context.WithValue(ctx, tokenContextKey, token)
}

// PrincipalFromContext returns the principal stored by RequireAuth, or nil.
func PrincipalFromContext(ctx context.Context) *store.Principal {
	p, _ := ctx.Value(principalContextKey).(*store.Principal)
	return p
}

// TokenFromContext returns the session token stored by RequireAuth.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenContextKey).(string)
	return t
}
