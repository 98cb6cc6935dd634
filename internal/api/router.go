// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/realmgate/internal/apptoken"
	"github.com/tomtom215/realmgate/internal/auth"
	"github.com/tomtom215/realmgate/internal/config"
	"github.com/tomtom215/realmgate/internal/gateway"
	"github.com/tomtom215/realmgate/internal/keycloak"
	"github.com/tomtom215/realmgate/internal/middleware"
	"github.com/tomtom215/realmgate/internal/proxy"
	"github.com/tomtom215/realmgate/internal/realm"
	"github.com/tomtom215/realmgate/internal/users"
)

// Dependencies are the components the router serves. Flow is nil when no
// IdP is configured and Gateway is nil outside gateway mode.
type Dependencies struct {
	Config   *config.Config
	Resolver *realm.Resolver
	Users    *users.Service
	Sessions *auth.Sessions
	Auth     *auth.Middleware
	Basic    *auth.BasicAuthenticator
	Tokens   *apptoken.Manager
	Proxy    *proxy.Proxy
	Flow     *keycloak.Flow
	Gateway  *gateway.Middleware

	// PingDB reports whether storage is reachable.
	PingDB func() error
}

// Router holds the HTTP handlers of the gateway.
type Router struct {
	cfg      *config.Config
	resolver *realm.Resolver
	users    *users.Service
	sessions *auth.Sessions
	auth     *auth.Middleware
	basic    *auth.BasicAuthenticator
	tokens   *apptoken.Manager
	proxy    *proxy.Proxy
	flow     *keycloak.Flow
	gateway  *gateway.Middleware
	pingDB   func() error

	chiMiddleware *ChiMiddleware
}

// NewRouter creates the router.
func NewRouter(deps Dependencies) *Router {
	return &Router{
		cfg:           deps.Config,
		resolver:      deps.Resolver,
		users:         deps.Users,
		sessions:      deps.Sessions,
		auth:          deps.Auth,
		basic:         deps.Basic,
		tokens:        deps.Tokens,
		proxy:         deps.Proxy,
		flow:          deps.Flow,
		gateway:       deps.Gateway,
		pingDB:        deps.PingDB,
		chiMiddleware: NewChiMiddleware(NewChiMiddlewareConfig(deps.Config.Security, deps.Resolver.Deployment())),
	}
}

// LoginPath returns the path of the login view, honouring AUTH_URL.
func LoginPath(server config.ServerConfig) string {
	if server.AuthURL == "" {
		return "/login"
	}
	return "/" + server.AuthURL + "/login"
}

// SetupChi builds the HTTP handler. Every route is served at the root and,
// in gateway mode, again under /{realm}/{GATEWAY_SERVICE_ID}/.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())
	r.Use(APISecurityHeaders())
	r.Use(middleware.PrometheusMetrics)

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		router.useSession(r)
		router.routes(r)
	})

	deploy := router.resolver.Deployment()
	if deploy.GatewayEnabled() {
		r.Route("/{realm}/"+deploy.GatewayServiceID, func(r chi.Router) {
			router.useSession(r)
			router.routes(r)
		})
	}

	return r
}

// useSession installs the per-request authentication pipeline: session
// load, gateway trust, silent IdP refresh and credential authentication.
func (router *Router) useSession(r chi.Router) {
	r.Use(router.sessions.Manager().Load)
	if router.gateway != nil {
		r.Use(router.gateway.Handler)
	}
	if router.flow != nil {
		r.Use(router.flow.Refresh)
	}
	r.Use(router.auth.Authenticate)
}

func (router *Router) routes(r chi.Router) {
	r.Get("/health", router.Health)
	r.Get("/check-db", router.CheckDB)
	r.Get("/check-app", router.CheckApp)

	hasApps := len(router.tokens.Registry().Names()) > 0
	if hasApps {
		r.Get("/check-app/{name}", router.CheckExternalApp)
		r.With(router.auth.RequireAuth).Get("/check-tokens", router.CheckTokens)
	}

	loginLimit := router.chiMiddleware.RateLimit()
	loginPath := LoginPath(router.cfg.Server)
	r.With(loginLimit).Get(loginPath, router.LoginForm)
	r.With(loginLimit).Post(loginPath, router.Login)
	r.Get(strings.TrimSuffix(loginPath, "login")+"logout", router.Logout)
	r.Post(strings.TrimSuffix(loginPath, "login")+"logout", router.Logout)
	if loginPath != "/login" {
		r.Get("/logout", router.Logout)
		r.Post("/logout", router.Logout)
	}

	r.Group(func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(router.auth.RequireAuth)
		r.Get("/token", router.GetToken)
		r.Post("/token", router.CreateToken)
	})

	if hasApps {
		r.With(router.auth.RequireAuth).Get("/"+router.cfg.Server.CheckTokenURL, router.CheckUserTokens)
		r.With(router.auth.RequireAuth).Get("/app-tokens", router.ListAppTokens)
		r.With(router.auth.RequireAuth).HandleFunc("/proxy/{app}", router.Proxy)
		r.With(router.auth.RequireAuth).HandleFunc("/proxy/{app}/*", router.Proxy)
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(router.auth.RequireStaff)
		r.Post("/purge-cache", router.PurgeCache)
		r.Get("/realms/{realmName}/users", router.ListRealmMembers)
		r.Put("/realms/{realmName}/users/{username}", router.AddRealmMember)
		r.Delete("/realms/{realmName}/users/{username}", router.RemoveRealmMember)
	})
}
