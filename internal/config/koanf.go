// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/realmgate/config.yaml",
	"/etc/realmgate/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Retry bounds for outbound requests.
const (
	MinRequestRetries = 3
	MaxRequestRetries = 10
)

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8000,
			Timeout:           30 * time.Second,
			AppName:           "realmgate",
			Version:           "dev",
			Revision:          "",
			AuthURL:           "",
			CheckTokenURL:     "check-user-tokens",
			LoginRedirectURL:  "/",
			LogoutRedirectURL: "/",
		},
		Security: SecurityConfig{
			SessionCookieName:      "realmgate_session",
			SessionTTL:             24 * time.Hour,
			SessionSecure:          false,
			SessionCleanupInterval: 10 * time.Minute,
			CORSOrigins:            []string{"*"},
			RateLimitReqs:          100,
			RateLimitWindow:        time.Minute,
		},
		Storage: StorageConfig{
			Path:       "",
			GCInterval: 10 * time.Minute,
		},
		Multitenancy: MultitenancyConfig{
			Enabled:      false,
			DefaultRealm: "eha",
			RealmCookie:  "eha-realm",
		},
		Keycloak: KeycloakConfig{
			ServerURL:     "",
			ClientID:      "eha",
			BehindScenes:  false,
			TokenValidity: 5 * time.Minute,
			UserTokenTTL:  60 * time.Second,
			CacheSize:     10000,
		},
		Gateway: GatewayConfig{
			ServiceID:   "",
			HeaderToken: "X-Oauth-Token",
			PublicRealm: "-",
		},
		Apps: AppsConfig{
			TokenURL: "token",
		},
		HTTPClient: HTTPClientConfig{
			Retries:        MinRequestRetries,
			Timeout:        30 * time.Second,
			BreakerTrip:    5,
			BreakerTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults
//  2. Optional YAML config file
//  3. Environment variables
//
// Multitenancy defaults to enabled whenever an IdP is configured and neither
// the file nor the environment sets it explicitly.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	overrides := koanf.New(".")
	if configPath := findConfigFile(); configPath != "" {
		if err := overrides.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}
	if err := overrides.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if !overrides.Exists("multitenancy.enabled") {
		if err := overrides.Set("multitenancy.enabled", overrides.String("keycloak.server_url") != ""); err != nil {
			return nil, fmt.Errorf("failed to derive multitenancy: %w", err)
		}
	}
	if err := k.Merge(overrides); err != nil {
		return nil, fmt.Errorf("failed to merge overrides: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}
	if err := processSecondsFields(k); err != nil {
		return nil, fmt.Errorf("failed to process duration fields: %w", err)
	}
	if err := loadExternalApps(k, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to load external apps: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// normalize applies derived values that are not validation failures.
func (c *Config) normalize() {
	if c.HTTPClient.Retries < MinRequestRetries {
		c.HTTPClient.Retries = MinRequestRetries
	}
	if c.HTTPClient.Retries > MaxRequestRetries {
		c.HTTPClient.Retries = MaxRequestRetries
	}
	c.Keycloak.ServerURL = strings.TrimRight(c.Keycloak.ServerURL, "/")
	c.Server.AuthURL = strings.Trim(c.Server.AuthURL, "/")
	c.Server.CheckTokenURL = strings.Trim(c.Server.CheckTokenURL, "/")
	c.Apps.TokenURL = strings.Trim(c.Apps.TokenURL, "/")
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"security.cors_origins",
	"apps.names",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		trimmed := splitList(strVal)
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// secondsConfigPaths accept a bare number of seconds in addition to a Go duration.
var secondsConfigPaths = []string{
	"keycloak.user_token_ttl",
	"keycloak.token_validity",
	"http_client.timeout",
}

func processSecondsFields(k *koanf.Koanf) error {
	for _, path := range secondsConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(strVal))
		if err != nil {
			continue
		}
		if err := k.Set(path, time.Duration(n)*time.Second); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// loadExternalApps fills apps.services from {APP}_URL and {APP}_TOKEN for every
// name in apps.names. Values already present (from the config file) are kept
// unless the environment overrides them.
func loadExternalApps(k *koanf.Koanf, lookup func(string) (string, bool)) error {
	for _, name := range k.Strings("apps.names") {
		prefix := AppEnvName(name)
		if v, ok := lookup(prefix + "_URL"); ok {
			if err := k.Set("apps.services."+name+".url", v); err != nil {
				return err
			}
		}
		if v, ok := lookup(prefix + "_TOKEN"); ok {
			if err := k.Set("apps.services."+name+".token", v); err != nil {
				return err
			}
		}
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are dropped.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		// Server
		"http_host":           "server.host",
		"http_port":           "server.port",
		"http_timeout":        "server.timeout",
		"app_name":            "server.app_name",
		"app_version":         "server.version",
		"app_revision":        "server.revision",
		"auth_url":            "server.auth_url",
		"check_token_url":     "server.check_token_url",
		"login_redirect_url":  "server.login_redirect_url",
		"logout_redirect_url": "server.logout_redirect_url",

		// Security
		"session_cookie_name":      "security.session_cookie_name",
		"session_ttl":              "security.session_ttl",
		"session_secure":           "security.session_secure",
		"session_cleanup_interval": "security.session_cleanup_interval",
		"cors_allowed_origins":     "security.cors_origins",
		"rate_limit_requests":      "security.rate_limit_requests",
		"rate_limit_window":        "security.rate_limit_window",
		"disable_rate_limit":       "security.rate_limit_disabled",

		// Storage
		"storage_path":        "storage.path",
		"storage_gc_interval": "storage.gc_interval",

		// Multitenancy
		"multitenancy":  "multitenancy.enabled",
		"default_realm": "multitenancy.default_realm",
		"realm_cookie":  "multitenancy.realm_cookie",

		// Keycloak
		"keycloak_server_url":     "keycloak.server_url",
		"keycloak_client_id":      "keycloak.client_id",
		"keycloak_behind_scenes":  "keycloak.behind_scenes",
		"keycloak_token_validity": "keycloak.token_validity",
		"user_token_ttl":          "keycloak.user_token_ttl",
		"user_token_cache_size":   "keycloak.cache_size",

		// Gateway
		"gateway_service_id":   "gateway.service_id",
		"gateway_header_token": "gateway.header_token",
		"gateway_public_realm": "gateway.public_realm",

		// External apps
		"external_apps": "apps.names",
		"token_url":     "apps.token_url",

		// Outbound HTTP client
		"request_error_retries": "http_client.retries",
		"http_client_timeout":   "http_client.timeout",
		"circuit_breaker_trip":  "http_client.breaker_trip",
		"circuit_breaker_reset": "http_client.breaker_timeout",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
