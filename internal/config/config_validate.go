// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package config

import (
	"fmt"
	"strings"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateSecurity(); err != nil {
		return err
	}

	if err := c.validateMultitenancy(); err != nil {
		return err
	}

	if err := c.validateKeycloak(); err != nil {
		return err
	}

	if err := c.validateGateway(); err != nil {
		return err
	}

	if err := c.validateApps(); err != nil {
		return err
	}

	if err := c.validateHTTPClient(); err != nil {
		return err
	}

	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if c.Server.CheckTokenURL == "" {
		return fmt.Errorf("CHECK_TOKEN_URL is required")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.SessionCookieName == "" {
		return fmt.Errorf("SESSION_COOKIE_NAME is required")
	}
	if c.Security.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs <= 0 {
			return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive when rate limiting is enabled")
		}
		if c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be positive when rate limiting is enabled")
		}
	}
	return nil
}

func (c *Config) validateMultitenancy() error {
	if c.Multitenancy.RealmCookie == "" {
		return fmt.Errorf("REALM_COOKIE is required")
	}
	if !c.Multitenancy.Enabled {
		return nil
	}
	if c.Multitenancy.DefaultRealm == "" {
		return fmt.Errorf("DEFAULT_REALM is required when MULTITENANCY=true")
	}
	if strings.Contains(c.Multitenancy.DefaultRealm, "/") {
		return fmt.Errorf("DEFAULT_REALM must not contain '/'")
	}
	return nil
}

// validateKeycloak also enforces that cached refresh and userinfo results
// expire before the upstream access token does.
func (c *Config) validateKeycloak() error {
	if !c.Keycloak.Enabled() {
		return nil
	}
	if err := validateHTTPURL(c.Keycloak.ServerURL, "KEYCLOAK_SERVER_URL"); err != nil {
		return err
	}
	if c.Keycloak.ClientID == "" {
		return fmt.Errorf("KEYCLOAK_CLIENT_ID is required when KEYCLOAK_SERVER_URL is set")
	}
	if c.Keycloak.UserTokenTTL <= 0 {
		return fmt.Errorf("USER_TOKEN_TTL must be positive")
	}
	if c.Keycloak.TokenValidity <= 0 {
		return fmt.Errorf("KEYCLOAK_TOKEN_VALIDITY must be positive")
	}
	if c.Keycloak.UserTokenTTL >= c.Keycloak.TokenValidity {
		return fmt.Errorf("USER_TOKEN_TTL (%s) must be shorter than KEYCLOAK_TOKEN_VALIDITY (%s)",
			c.Keycloak.UserTokenTTL, c.Keycloak.TokenValidity)
	}
	if c.Keycloak.CacheSize <= 0 {
		return fmt.Errorf("USER_TOKEN_CACHE_SIZE must be positive")
	}
	return nil
}

func (c *Config) validateGateway() error {
	if !c.Gateway.Enabled() {
		return nil
	}
	if !c.Multitenancy.Enabled {
		return fmt.Errorf("GATEWAY_SERVICE_ID requires MULTITENANCY=true")
	}
	if !c.Keycloak.Enabled() {
		return fmt.Errorf("GATEWAY_SERVICE_ID requires KEYCLOAK_SERVER_URL")
	}
	if c.Gateway.HeaderToken == "" {
		return fmt.Errorf("GATEWAY_HEADER_TOKEN is required when GATEWAY_SERVICE_ID is set")
	}
	if c.Gateway.PublicRealm == "" {
		return fmt.Errorf("GATEWAY_PUBLIC_REALM is required when GATEWAY_SERVICE_ID is set")
	}
	if c.Gateway.PublicRealm == c.Multitenancy.DefaultRealm {
		return fmt.Errorf("GATEWAY_PUBLIC_REALM must differ from DEFAULT_REALM")
	}
	return nil
}

func (c *Config) validateApps() error {
	seen := make(map[string]bool, len(c.Apps.Names))
	for _, name := range c.Apps.Names {
		if seen[name] {
			return fmt.Errorf("EXTERNAL_APPS lists %q twice", name)
		}
		seen[name] = true

		env := AppEnvName(name)
		app, ok := c.Apps.Services[name]
		if !ok || app.URL == "" {
			return fmt.Errorf("%s_URL is required for external app %q", env, name)
		}
		if app.Token == "" {
			return fmt.Errorf("%s_TOKEN is required for external app %q", env, name)
		}
		if err := validateAppURL(app.URL, env+"_URL"); err != nil {
			return err
		}
	}
	if len(c.Apps.Names) > 0 && c.Apps.TokenURL == "" {
		return fmt.Errorf("TOKEN_URL is required when EXTERNAL_APPS is set")
	}
	return nil
}

func (c *Config) validateHTTPClient() error {
	if c.HTTPClient.Retries < MinRequestRetries || c.HTTPClient.Retries > MaxRequestRetries {
		return fmt.Errorf("REQUEST_ERROR_RETRIES must be between %d and %d", MinRequestRetries, MaxRequestRetries)
	}
	if c.HTTPClient.Timeout <= 0 {
		return fmt.Errorf("HTTP_CLIENT_TIMEOUT must be positive")
	}
	if c.HTTPClient.BreakerTrip == 0 {
		return fmt.Errorf("CIRCUIT_BREAKER_TRIP must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
