// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tomtom215/realmgate/internal/realm"
	"github.com/tomtom215/realmgate/internal/users"
)

// BasicAuthenticator implements HTTP Basic Authentication against local users.
// The username is tried as given first and then prefixed with the current
// realm, so both "alice" and "eha__alice" log in the same realm user.
type BasicAuthenticator struct {
	users    *users.Service
	resolver *realm.Resolver
}

// NewBasicAuthenticator creates a new Basic authenticator.
func NewBasicAuthenticator(svc *users.Service, resolver *realm.Resolver) *BasicAuthenticator {
	return &BasicAuthenticator{users: svc, resolver: resolver}
}

// Authenticate extracts and validates Basic auth credentials from the request.
func (a *BasicAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Basic ") {
		return nil, ErrNoCredentials
	}
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, invalidCredentials(MsgInvalidCredentials)
	}

	current := a.resolver.Current(r)
	u, err := a.CheckCredentials(ctx, current, username, password)
	if err != nil {
		return nil, err
	}
	return &Principal{User: u, Realm: current, Method: AuthModeBasic}, nil
}

// CheckCredentials verifies username and password for realmName. It backs
// both Basic authentication and the local login form.
func (a *BasicAuthenticator) CheckCredentials(ctx context.Context, realmName, username, password string) (*users.User, error) {
	u, err := a.users.CheckPassword(ctx, username, password)
	if err != nil {
		parsed := realm.ParseUsername(realmName, username)
		if parsed == username {
			return nil, invalidCredentials(MsgInvalidCredentials)
		}
		if u, err = a.users.CheckPassword(ctx, parsed, password); err != nil {
			return nil, invalidCredentials(MsgInvalidCredentials)
		}
	}

	if !a.users.InRealm(u, realmName) {
		return nil, realmMismatch()
	}
	return u, nil
}

// Name returns the authenticator name.
func (a *BasicAuthenticator) Name() string {
	return string(AuthModeBasic)
}

// Priority returns the authenticator priority (lower = higher priority).
func (a *BasicAuthenticator) Priority() int {
	return 30
}

// WWWAuthenticate returns the WWW-Authenticate challenge naming the current realm.
func (a *BasicAuthenticator) WWWAuthenticate(r *http.Request) string {
	name := a.resolver.Current(r)
	if name == "" {
		name = "api"
	}
	return fmt.Sprintf("Basic realm=%q", name)
}
