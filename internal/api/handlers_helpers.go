// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package api

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/realmgate/internal/auth"
	"github.com/tomtom215/realmgate/internal/logging"
)

// Error codes written by the HTTP layer in addition to the auth codes.
const (
	CodeConfigError = "config_error"
	CodeNoToken     = "no_token"
	CodeInternal    = "internal_error"
	CodeLoginFailed = "login_failed"
	CodeNotFound    = "not_found"
)

// maxFormBody bounds login and token request bodies.
const maxFormBody = 64 << 10

// sanitizeLogValue removes control characters from strings to prevent log injection attacks.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&result, "\\x%02x", r)
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// respondJSON sends a JSON response. Responses carry user data and are never cached.
func respondJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondError sends an error body {"error": code, "message": message}.
// err is logged, never returned to the client.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	if err != nil {
		logging.Ctx(r.Context()).Error().
			Str("code", sanitizeLogValue(code)).
			Str("error", sanitizeLogValue(err.Error())).
			Msg("API error")
	}
	auth.WriteError(w, status, code, message)
}

// decodeForm fills dst from a JSON body or from URL-encoded form values.
// form maps form field names to destinations.
func decodeForm(r *http.Request, dst any, form map[string]*string) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxFormBody)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return fmt.Errorf("decode json body: %w", err)
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("parse form: %w", err)
	}
	for name, target := range form {
		*target = strings.TrimSpace(r.PostForm.Get(name))
	}
	return nil
}

// safeNext returns the "next" query or form value when it is a local path,
// otherwise fallback.
func safeNext(r *http.Request, fallback string) string {
	next := r.URL.Query().Get("next")
	if next == "" && r.PostForm != nil {
		next = r.PostForm.Get("next")
	}
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return next
}

// gatewayPrefix returns "/{realm}/{service}" when r arrived on a gateway
// path, otherwise "".
func (router *Router) gatewayPrefix(r *http.Request) string {
	deploy := router.resolver.Deployment()
	if p := router.resolver.PathRealm(r.URL.Path); p != "" {
		return "/" + p + "/" + deploy.GatewayServiceID
	}
	return ""
}
