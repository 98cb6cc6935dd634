// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/realmgate/internal/users"
)

// AuthMode names the strategy that authenticated a request.
type AuthMode string

const (
	// AuthModeSession uses the logged in user of the browser session
	AuthModeSession AuthMode = "session"

	// AuthModeToken uses an opaque "Authorization: Token ..." header
	AuthModeToken AuthMode = "token"

	// AuthModeBasic uses HTTP Basic Authentication
	AuthModeBasic AuthMode = "basic"

	// AuthModeMulti tries every configured strategy in priority order
	AuthModeMulti AuthMode = "multi"
)

// String returns the string representation of AuthMode.
func (m AuthMode) String() string {
	return string(m)
}

// Standard authentication errors
var (
	// ErrNoCredentials indicates no credentials were provided.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrInvalidCredentials indicates credentials were provided but are invalid.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrRealmMismatch indicates valid credentials for a user outside the current realm.
	ErrRealmMismatch = errors.New("user not in realm")

	// ErrRealmAccessDenied indicates a logged in session whose user lost access
	// to the current realm.
	ErrRealmAccessDenied = errors.New("realm access denied")

	// ErrAuthenticatorUnavailable indicates the auth provider is unreachable.
	ErrAuthenticatorUnavailable = errors.New("authenticator unavailable")

	// ErrSessionExpired indicates the session was logged out during this
	// request because the IdP refused to renew it.
	ErrSessionExpired = errors.New("session expired")
)

// Failure is an authentication error carrying a user-facing message.
type Failure struct {
	Kind    error
	Message string
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Kind
}

// Messages returned to callers.
const (
	MsgInvalidCredentials = "Invalid username/password."
	MsgInvalidToken       = "Invalid token."
	MsgInvalidRealmUser   = "Invalid user in this realm."
	MsgAuthRequired       = "Authentication credentials were not provided."
	MsgPermissionDenied   = "You do not have permission to perform this action."
	MsgSessionExpired     = "Your session has expired. Please log in again."
)

func invalidCredentials(msg string) error {
	return &Failure{Kind: ErrInvalidCredentials, Message: msg}
}

func realmMismatch() error {
	return &Failure{Kind: ErrRealmMismatch, Message: MsgInvalidRealmUser}
}

// Principal is an authenticated user bound to the realm it was authenticated in.
type Principal struct {
	User   *users.User
	Realm  string
	Method AuthMode
}

// Authenticator defines the interface for authentication providers.
type Authenticator interface {
	// Authenticate extracts and validates credentials from the request.
	// It returns ErrNoCredentials when the request carries none of its kind.
	Authenticate(ctx context.Context, r *http.Request) (*Principal, error)

	// Name returns the authenticator's name for logging and metrics.
	Name() string

	// Priority orders authenticators in a MultiAuthenticator, lowest first.
	Priority() int
}

type contextKey string

const (
	principalContextKey contextKey = "auth_principal"
	expiredContextKey   contextKey = "auth_session_expired"
)

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// GetPrincipal retrieves the Principal from the request context, or nil.
func GetPrincipal(ctx context.Context) *Principal {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok {
		return nil
	}
	return p
}

// WithSessionExpired marks ctx as belonging to a request whose session was
// just force-logged out.
func WithSessionExpired(ctx context.Context) context.Context {
	return context.WithValue(ctx, expiredContextKey, true)
}

// SessionExpired reports whether ctx was marked by WithSessionExpired.
func SessionExpired(ctx context.Context) bool {
	expired, _ := ctx.Value(expiredContextKey).(bool)
	return expired
}
