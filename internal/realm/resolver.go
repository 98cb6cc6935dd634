// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package realm

import (
	"net/http"
	"strings"

	"github.com/tomtom215/realmgate/internal/config"
	"github.com/tomtom215/realmgate/internal/session"
)

// Resolver determines the active realm of a request. It has no side effects.
type Resolver struct {
	deploy config.DeploymentConfig
}

// NewResolver creates a resolver for the given deployment.
func NewResolver(deploy config.DeploymentConfig) *Resolver {
	return &Resolver{deploy: deploy}
}

// Deployment returns the deployment settings the resolver was built with.
func (r *Resolver) Deployment() config.DeploymentConfig {
	return r.deploy
}

// Current returns the realm of req, falling back to the default realm.
// It returns "" when multitenancy is disabled. req may be nil.
func (r *Resolver) Current(req *http.Request) string {
	return r.CurrentOr(req, r.deploy.DefaultRealm)
}

// CurrentOr is Current with an explicit fallback value.
func (r *Resolver) CurrentOr(req *http.Request, fallback string) string {
	if !r.deploy.Multitenancy {
		return ""
	}
	if req == nil {
		return fallback
	}

	if p := r.GatewayRealm(req.URL.Path); p != "" {
		return p
	}

	key := r.deploy.RealmKey
	if v := req.Header.Get(key); v != "" {
		return v
	}
	if c, err := req.Cookie(key); err == nil && c.Value != "" {
		return c.Value
	}
	if s := session.FromContext(req.Context()); s != nil && s.Realm != "" {
		return s.Realm
	}
	return fallback
}

// PathRealm returns the realm encoded in a gateway path
// /{realm}/{service-id}/..., or "" when path is not one.
func (r *Resolver) PathRealm(path string) string {
	return PathRealm(path, r.deploy.GatewayServiceID)
}

// PathRealm returns the first segment of path when the second segment
// equals serviceID.
func PathRealm(path, serviceID string) string {
	if serviceID == "" {
		return ""
	}
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] != serviceID {
		return ""
	}
	return parts[0]
}

// InGateway reports whether the request arrived through a gateway path
// naming a non-public realm.
func (r *Resolver) InGateway(req *http.Request) bool {
	return req != nil && r.GatewayRealm(req.URL.Path) != ""
}

// GatewayRealm returns the non-public realm of a gateway path, or "" when
// gateway mode is off or path names no realm.
func (r *Resolver) GatewayRealm(path string) string {
	if !r.deploy.GatewayEnabled() {
		return ""
	}
	if p := r.PathRealm(path); p != r.deploy.PublicRealm {
		return p
	}
	return ""
}
