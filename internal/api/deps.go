// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package api

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/realmgate/internal/apptoken"
	"github.com/tomtom215/realmgate/internal/auth"
	"github.com/tomtom215/realmgate/internal/config"
	"github.com/tomtom215/realmgate/internal/gateway"
	"github.com/tomtom215/realmgate/internal/httpclient"
	"github.com/tomtom215/realmgate/internal/keycloak"
	"github.com/tomtom215/realmgate/internal/proxy"
	"github.com/tomtom215/realmgate/internal/realm"
	"github.com/tomtom215/realmgate/internal/session"
	"github.com/tomtom215/realmgate/internal/storage"
	"github.com/tomtom215/realmgate/internal/users"
)

// NewDependencies wires every component from cfg. Users and app tokens
// live in db; sessions live in sessions. opts configure the outbound client.
func NewDependencies(cfg *config.Config, db *badger.DB, sessions session.Store, opts ...httpclient.Option) (Dependencies, error) {
	deploy := cfg.Deployment()
	resolver := realm.NewResolver(deploy)
	svc, err := users.NewService(users.NewBadgerStore(db), deploy)
	if err != nil {
		return Dependencies{}, fmt.Errorf("create user service: %w", err)
	}

	cookie := session.DefaultCookieConfig()
	cookie.Name = cfg.Security.SessionCookieName
	cookie.Secure = cfg.Security.SessionSecure
	manager := session.NewManager(sessions, cookie, cfg.Security.SessionTTL)
	logins := auth.NewSessions(manager, svc, deploy)

	basic := auth.NewBasicAuthenticator(svc, resolver)
	chain := auth.NewMultiAuthenticator(
		auth.NewSessionAuthenticator(svc, resolver),
		auth.NewTokenAuthenticator(svc, resolver),
		basic,
	)

	client := httpclient.New(cfg.HTTPClient, opts...)
	tokens := apptoken.NewManager(
		apptoken.NewRegistry(cfg.Apps, deploy),
		apptoken.NewBadgerStore(db),
		client,
	)

	deps := Dependencies{
		Config:   cfg,
		Resolver: resolver,
		Users:    svc,
		Sessions: logins,
		Auth:     auth.NewMiddleware(chain, svc, resolver),
		Basic:    basic,
		Tokens:   tokens,
		Proxy:    proxy.New(tokens, client, resolver),
		PingDB:   func() error { return storage.Ping(db) },
	}

	if cfg.Keycloak.Enabled() {
		deps.Flow = keycloak.NewFlow(keycloak.NewClient(cfg.Keycloak, client), svc, logins, resolver, keycloak.FlowOptions{
			LoginPath:      LoginPath(cfg.Server),
			LogoutRedirect: cfg.Server.LogoutRedirectURL,
		})
		if deploy.GatewayEnabled() {
			deps.Gateway = gateway.New(deps.Flow, logins, resolver)
		}
	}
	return deps, nil
}
