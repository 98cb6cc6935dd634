// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/realmgate/internal/logging"
	"github.com/tomtom215/realmgate/internal/metrics"
	"github.com/tomtom215/realmgate/internal/realm"
	"github.com/tomtom215/realmgate/internal/users"
)

// Error codes written in JSON error bodies.
const (
	CodeMissingCredentials = "missing_credentials"
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidRealm       = "invalid_realm"
	CodeRealmAccessDenied  = "realm_access_denied"
	CodeForbidden          = "forbidden"
	CodeSessionExpired     = "session_expired"
	CodeUpstream           = "upstream_unavailable"
)

// ErrorResponse is the JSON body of an authentication failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorCode maps an authentication error to its HTTP status and error code.
func ErrorCode(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNoCredentials):
		return http.StatusUnauthorized, CodeMissingCredentials
	case errors.Is(err, ErrRealmMismatch):
		return http.StatusUnauthorized, CodeInvalidRealm
	case errors.Is(err, ErrRealmAccessDenied):
		return http.StatusForbidden, CodeRealmAccessDenied
	case errors.Is(err, ErrSessionExpired):
		return http.StatusForbidden, CodeSessionExpired
	case errors.Is(err, ErrAuthenticatorUnavailable):
		return http.StatusBadGateway, CodeUpstream
	default:
		return http.StatusUnauthorized, CodeInvalidCredentials
	}
}

// Middleware attaches authenticated principals to requests.
type Middleware struct {
	authenticator *MultiAuthenticator
	users         *users.Service
	resolver      *realm.Resolver
	security      *logging.SecurityLogger
}

// NewMiddleware creates the authentication middleware around chain. Staff
// checks are answered by svc.
func NewMiddleware(chain *MultiAuthenticator, svc *users.Service, resolver *realm.Resolver) *Middleware {
	return &Middleware{
		authenticator: chain,
		users:         svc,
		resolver:      resolver,
		security:      logging.NewSecurityLogger(),
	}
}

// Authenticate attaches the principal of requests carrying valid credentials.
// Anonymous requests pass through; requests with bad credentials are rejected.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.authenticator.Authenticate(r.Context(), r)
		if err != nil {
			if errors.Is(err, ErrNoCredentials) {
				next.ServeHTTP(w, r)
				return
			}
			m.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireAuth rejects requests without an authenticated principal.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetPrincipal(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := m.authenticator.Authenticate(r.Context(), r)
		if errors.Is(err, ErrNoCredentials) && SessionExpired(r.Context()) {
			err = &Failure{Kind: ErrSessionExpired, Message: MsgSessionExpired}
		}
		if err != nil {
			m.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireStaff rejects principals the authorization policy does not grant
// admin operations.
func (m *Middleware) RequireStaff(next http.Handler) http.Handler {
	return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := GetPrincipal(r.Context()); p == nil || !m.users.IsStaff(p.User) {
			WriteError(w, http.StatusForbidden, CodeForbidden, MsgPermissionDenied)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func (m *Middleware) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := ErrorCode(err)
	scheme := schemeOf(r.Header.Get("Authorization"))
	realmName := m.resolver.Deployment().RealmLabel(m.resolver.Current(r))

	var failure *Failure
	message := MsgAuthRequired
	if errors.As(err, &failure) {
		message = failure.Message
	}

	switch {
	case errors.Is(err, ErrNoCredentials), errors.Is(err, ErrSessionExpired):
	case errors.Is(err, ErrRealmMismatch), errors.Is(err, ErrRealmAccessDenied):
		username, _, _ := r.BasicAuth()
		m.security.LogRealmMismatch(username, realmName, scheme, r.RemoteAddr)
		metrics.RecordAuthAttempt(scheme, realmName, "realm_mismatch")
	case errors.Is(err, ErrInvalidCredentials):
		username, _, _ := r.BasicAuth()
		m.security.LogLoginFailure(username, realmName, scheme, r.RemoteAddr, err.Error())
		metrics.RecordAuthAttempt(scheme, realmName, "invalid")
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Authentication failed")
		message = "Authentication service unavailable."
	}

	if status == http.StatusUnauthorized {
		if challenge := m.authenticator.Challenge(r); challenge != "" {
			w.Header().Set("WWW-Authenticate", challenge)
		}
	}
	WriteError(w, status, code, message)
}

func schemeOf(authorization string) string {
	if authorization == "" {
		return string(AuthModeSession)
	}
	scheme, _, _ := strings.Cut(authorization, " ")
	return strings.ToLower(scheme)
}

// WriteError writes a JSON error body with the given status.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: code, Message: message}); err != nil {
		logging.Error().Err(err).Msg("Failed to encode error response")
	}
}
