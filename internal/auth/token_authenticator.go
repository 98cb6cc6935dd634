// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/tomtom215/realmgate/internal/realm"
	"github.com/tomtom215/realmgate/internal/users"
)

// TokenAuthenticator validates opaque "Authorization: Token <key>" headers.
type TokenAuthenticator struct {
	users    *users.Service
	resolver *realm.Resolver
}

// NewTokenAuthenticator creates a new token authenticator.
func NewTokenAuthenticator(svc *users.Service, resolver *realm.Resolver) *TokenAuthenticator {
	return &TokenAuthenticator{users: svc, resolver: resolver}
}

// Authenticate looks up the token owner and enforces realm membership.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	scheme, key, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Token") {
		return nil, ErrNoCredentials
	}
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, " ") {
		return nil, invalidCredentials(MsgInvalidToken)
	}

	u, err := a.users.GetByToken(ctx, key)
	if err != nil || !u.IsActive {
		return nil, invalidCredentials(MsgInvalidToken)
	}

	current := a.resolver.Current(r)
	if !a.users.InRealm(u, current) {
		return nil, realmMismatch()
	}
	return &Principal{User: u, Realm: current, Method: AuthModeToken}, nil
}

// Name returns the authenticator name.
func (a *TokenAuthenticator) Name() string {
	return string(AuthModeToken)
}

// Priority returns the authenticator priority (lower = higher priority).
func (a *TokenAuthenticator) Priority() int {
	return 20
}
