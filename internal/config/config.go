// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package config

import (
	"strings"
	"time"
)

// NoRealm is the realm label used when multitenancy is disabled.
const NoRealm = "~"

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Security     SecurityConfig     `koanf:"security"`
	Storage      StorageConfig      `koanf:"storage"`
	Multitenancy MultitenancyConfig `koanf:"multitenancy"`
	Keycloak     KeycloakConfig     `koanf:"keycloak"`
	Gateway      GatewayConfig      `koanf:"gateway"`
	Apps         AppsConfig         `koanf:"apps"`
	HTTPClient   HTTPClientConfig   `koanf:"http_client"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// ServerConfig holds HTTP server settings and the URL layout of the service.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// AppName, Version and Revision are reported by /check-app.
	AppName  string `koanf:"app_name"`
	Version  string `koanf:"version"`
	Revision string `koanf:"revision"`

	// AuthURL prefixes the login, logout, token and check-user-tokens routes.
	AuthURL string `koanf:"auth_url"`

	// CheckTokenURL is where the app-token guard redirects users lacking a token.
	CheckTokenURL string `koanf:"check_token_url"`

	// LoginRedirectURL is the landing page after a successful login.
	LoginRedirectURL string `koanf:"login_redirect_url"`

	// LogoutRedirectURL is the landing page after logout outside of gateway routing.
	LogoutRedirectURL string `koanf:"logout_redirect_url"`
}

// SecurityConfig holds session cookie, CORS and rate limiting settings.
type SecurityConfig struct {
	SessionCookieName      string        `koanf:"session_cookie_name"`
	SessionTTL             time.Duration `koanf:"session_ttl"`
	SessionSecure          bool          `koanf:"session_secure"`
	SessionCleanupInterval time.Duration `koanf:"session_cleanup_interval"`

	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// StorageConfig selects the persistence backend for sessions, users and app tokens.
// An empty Path keeps everything in memory.
type StorageConfig struct {
	Path       string        `koanf:"path"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// MultitenancyConfig holds realm settings.
type MultitenancyConfig struct {
	Enabled      bool   `koanf:"enabled"`
	DefaultRealm string `koanf:"default_realm"`

	// RealmCookie names the realm header, cookie and session key.
	RealmCookie string `koanf:"realm_cookie"`
}

// KeycloakConfig holds identity provider settings. The IdP is disabled
// when ServerURL is empty.
type KeycloakConfig struct {
	// ServerURL is the realms base, e.g. http://keycloak:8080/auth/realms
	ServerURL    string `koanf:"server_url"`
	ClientID     string `koanf:"client_id"`
	BehindScenes bool   `koanf:"behind_scenes"`

	// TokenValidity is the lifetime of access tokens issued by the IdP.
	TokenValidity time.Duration `koanf:"token_validity"`

	// UserTokenTTL bounds how long refresh and userinfo results are reused.
	UserTokenTTL time.Duration `koanf:"user_token_ttl"`
	CacheSize    int           `koanf:"cache_size"`
}

// Enabled reports whether an IdP is configured.
func (k KeycloakConfig) Enabled() bool {
	return k.ServerURL != ""
}

// GatewayConfig holds trusted gateway settings. Gateway mode is on when
// ServiceID is set.
type GatewayConfig struct {
	ServiceID   string `koanf:"service_id"`
	HeaderToken string `koanf:"header_token"`
	PublicRealm string `koanf:"public_realm"`
}

// Enabled reports whether gateway mode is on.
func (g GatewayConfig) Enabled() bool {
	return g.ServiceID != ""
}

// AppsConfig lists the external applications requests can be proxied to.
type AppsConfig struct {
	Names    []string             `koanf:"names"`
	TokenURL string               `koanf:"token_url"`
	Services map[string]AppConfig `koanf:"services"`
}

// AppConfig holds the base URL and service-level token of one external app.
// URL may contain a {realm} placeholder.
type AppConfig struct {
	URL   string `koanf:"url"`
	Token string `koanf:"token"`
}

// HTTPClientConfig holds the outbound HTTP client policy.
type HTTPClientConfig struct {
	// Retries is the total number of attempts for transport failures, clamped to [3, 10].
	Retries        int           `koanf:"retries"`
	Timeout        time.Duration `koanf:"timeout"`
	BreakerTrip    uint32        `koanf:"breaker_trip"`
	BreakerTimeout time.Duration `koanf:"breaker_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// DeploymentConfig carries the deployment-wide switches every component is
// constructed with. It is derived once from Config and never mutated.
type DeploymentConfig struct {
	Multitenancy bool
	DefaultRealm string
	RealmKey     string

	GatewayServiceID   string
	GatewayHeaderToken string
	PublicRealm        string
}

// GatewayEnabled reports whether requests may arrive through a trusted gateway.
func (d DeploymentConfig) GatewayEnabled() bool {
	return d.GatewayServiceID != ""
}

// RealmLabel returns realm, or NoRealm when multitenancy is disabled or realm is empty.
func (d DeploymentConfig) RealmLabel(realm string) string {
	if !d.Multitenancy || realm == "" {
		return NoRealm
	}
	return realm
}

// Deployment derives the DeploymentConfig.
func (c *Config) Deployment() DeploymentConfig {
	return DeploymentConfig{
		Multitenancy:       c.Multitenancy.Enabled,
		DefaultRealm:       c.Multitenancy.DefaultRealm,
		RealmKey:           c.Multitenancy.RealmCookie,
		GatewayServiceID:   c.Gateway.ServiceID,
		GatewayHeaderToken: c.Gateway.HeaderToken,
		PublicRealm:        c.Gateway.PublicRealm,
	}
}

// AppEnvName returns the environment prefix of an app: upper-cased with
// dashes replaced by underscores ("ui-kernel" -> "UI_KERNEL").
func AppEnvName(app string) string {
	return strings.ToUpper(strings.ReplaceAll(app, "-", "_"))
}

// Load loads configuration from defaults, an optional YAML file and the environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
