// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package apptoken

import (
	"errors"
	"slices"
	"strings"

	"github.com/tomtom215/realmgate/internal/config"
)

// ErrAppNotRegistered is returned for an application name missing from EXTERNAL_APPS.
var ErrAppNotRegistered = errors.New("app is not registered as external app")

// App is one registered external application.
type App struct {
	Name string

	// URL is the base URL, possibly containing a {realm} placeholder.
	URL string

	// Token is the service-level shared secret used to obtain user tokens.
	Token string
}

// Registry holds the registered external applications. Immutable after creation.
type Registry struct {
	apps     map[string]App
	names    []string
	tokenURL string
	deploy   config.DeploymentConfig
}

// NewRegistry builds the registry from configuration.
func NewRegistry(cfg config.AppsConfig, deploy config.DeploymentConfig) *Registry {
	r := &Registry{
		apps:     make(map[string]App, len(cfg.Names)),
		tokenURL: strings.Trim(cfg.TokenURL, "/"),
		deploy:   deploy,
	}
	for _, name := range cfg.Names {
		svc, ok := cfg.Services[name]
		if !ok {
			continue
		}
		r.apps[name] = App{Name: name, URL: strings.TrimRight(svc.URL, "/"), Token: svc.Token}
		r.names = append(r.names, name)
	}
	return r
}

// Names returns the registered app names in configuration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Get returns the app registered as name.
func (r *Registry) Get(name string) (App, bool) {
	a, ok := r.apps[name]
	return a, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.apps[name]
	return ok
}

// BaseURL returns the base URL of app for a request whose gateway path names
// pathRealm. In gateway mode the {realm} placeholder is replaced with
// pathRealm, or with the public realm when pathRealm is empty.
func (r *Registry) BaseURL(name, pathRealm string) (string, error) {
	a, ok := r.apps[name]
	if !ok {
		return "", ErrAppNotRegistered
	}
	if !r.deploy.GatewayEnabled() {
		return a.URL, nil
	}
	if pathRealm == "" {
		pathRealm = r.deploy.PublicRealm
	}
	return strings.ReplaceAll(a.URL, "{realm}", pathRealm), nil
}

// TokenURL returns the token endpoint of app outside of any request.
func (r *Registry) TokenURL(name string) (string, error) {
	base, err := r.BaseURL(name, "")
	if err != nil {
		return "", err
	}
	return base + "/" + r.tokenURL, nil
}
