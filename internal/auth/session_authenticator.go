// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/realmgate/internal/realm"
	"github.com/tomtom215/realmgate/internal/session"
	"github.com/tomtom215/realmgate/internal/users"
)

// SessionAuthenticator authenticates the user logged in to the browser session.
// Sessions are established by the login flow or the gateway middleware.
type SessionAuthenticator struct {
	users    *users.Service
	resolver *realm.Resolver
}

// NewSessionAuthenticator creates a new session authenticator.
func NewSessionAuthenticator(svc *users.Service, resolver *realm.Resolver) *SessionAuthenticator {
	return &SessionAuthenticator{users: svc, resolver: resolver}
}

// Authenticate returns the session's user when it belongs to the current realm.
func (a *SessionAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	s := session.FromContext(ctx)
	if s == nil || !s.IsAuthenticated() {
		return nil, ErrNoCredentials
	}

	u, err := a.users.Get(ctx, s.UserID)
	if errors.Is(err, users.ErrUserNotFound) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, invalidCredentials("User inactive or deleted.")
	}

	current := a.resolver.Current(r)
	if !a.users.InRealm(u, current) {
		return nil, &Failure{Kind: ErrRealmAccessDenied, Message: MsgPermissionDenied}
	}
	return &Principal{User: u, Realm: current, Method: AuthModeSession}, nil
}

// Name returns the authenticator name.
func (a *SessionAuthenticator) Name() string {
	return string(AuthModeSession)
}

// Priority returns the authenticator priority (lower = higher priority).
func (a *SessionAuthenticator) Priority() int {
	return 10
}
