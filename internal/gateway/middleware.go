// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

// Package gateway trusts bearer tokens forwarded by an edge gateway and turns
// them into local sessions.
package gateway

import (
	"net/http"
	"strings"

	"github.com/tomtom215/realmgate/internal/auth"
	"github.com/tomtom215/realmgate/internal/keycloak"
	"github.com/tomtom215/realmgate/internal/logging"
	"github.com/tomtom215/realmgate/internal/realm"
	"github.com/tomtom215/realmgate/internal/session"
)

// Provider is the login provider name used in logs and metrics.
const Provider = "gateway"

// Middleware authenticates requests carrying the trusted gateway header.
type Middleware struct {
	flow     *keycloak.Flow
	sessions *auth.Sessions
	resolver *realm.Resolver
	header   string
}

// New creates the gateway middleware. It reads the bearer token from the
// deployment's gateway header.
func New(flow *keycloak.Flow, sessions *auth.Sessions, resolver *realm.Resolver) *Middleware {
	return &Middleware{
		flow:     flow,
		sessions: sessions,
		resolver: resolver,
		header:   resolver.Deployment().GatewayHeaderToken,
	}
}

// Token returns the gateway bearer token of r, or "".
func (m *Middleware) Token(r *http.Request) string {
	return BearerToken(r, m.header)
}

// BearerToken reads header from r, dropping an optional "Bearer " prefix.
func BearerToken(r *http.Request, header string) string {
	if header == "" {
		return ""
	}
	v := strings.TrimSpace(r.Header.Get(header))
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		v = strings.TrimSpace(v[7:])
	}
	return v
}

// Handler runs before normal authentication on every request.
//
//   - token and realm present: the token's user info is fetched (cached per
//     realm and token), the local user synced and the session marked as
//     gateway-established. The user is logged in only when it changed.
//   - a previously gateway-established session without token or realm is
//     logged out.
//   - anything else passes through untouched.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := session.FromContext(ctx)
		if sess == nil {
			next.ServeHTTP(w, r)
			return
		}

		token := m.Token(r)
		realmName := m.resolver.CurrentOr(r, "")

		switch {
		case token != "" && realmName != "":
			if err := m.establish(w, r, sess, realmName, token); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("realm", realmName).Msg("Gateway token rejected")
				m.flow.ForceLogout(ctx, w, sess, "gateway_token_rejected")
			}
		case sess.Gateway:
			m.flow.ForceLogout(ctx, w, sess, "gateway_token_missing")
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) establish(w http.ResponseWriter, r *http.Request, sess *session.Session, realmName, token string) error {
	ctx := r.Context()
	info, err := m.flow.Client().UserInfo(ctx, realmName, token)
	if err != nil {
		return err
	}
	u, err := m.flow.SyncUser(ctx, realmName, info)
	if err != nil {
		return err
	}

	changed := !sess.Gateway || sess.Realm != realmName
	sess.Gateway = true
	sess.Realm = realmName

	if sess.UserID != u.ID {
		return m.sessions.Login(ctx, w, r, sess, u, realmName, Provider)
	}
	if changed {
		return m.sessions.Manager().Save(ctx, w, sess)
	}
	return nil
}
