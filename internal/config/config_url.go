// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validateHTTPURL validates that a URL has an http(s) scheme and a host.
// Paths are allowed; query strings are not.
func validateHTTPURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}

	if parsedURL.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters, remove: ?%s", fieldName, parsedURL.RawQuery)
	}

	return nil
}

// validateAppURL validates an external app base URL, which may contain a
// {realm} placeholder anywhere after the scheme.
func validateAppURL(rawURL, fieldName string) error {
	return validateHTTPURL(strings.ReplaceAll(rawURL, "{realm}", "realm"), fieldName)
}
