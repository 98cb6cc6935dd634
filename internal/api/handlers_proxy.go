// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/realmgate/internal/auth"
	"github.com/tomtom215/realmgate/internal/httpclient"
	"github.com/tomtom215/realmgate/internal/proxy"
)

// Proxy forwards the request to the app named in the path as the caller.
func (router *Router) Proxy(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipal(r.Context())
	app := chi.URLParam(r, "app")
	path := chi.URLParam(r, "*")

	if err := router.proxy.Serve(w, r, app, path, p.User); err != nil {
		status, code, message := proxyErrorCode(err)
		respondError(w, r, status, code, message, err)
	}
}

// proxyErrorCode maps a proxy error to status, code and a safe message.
func proxyErrorCode(err error) (int, string, string) {
	var cfgErr *proxy.ConfigError
	var noToken *proxy.NoTokenError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest, CodeConfigError, cfgErr.Error()
	case errors.As(err, &noToken):
		return http.StatusInternalServerError, CodeNoToken, noToken.Error()
	case httpclient.IsUnavailable(err):
		return http.StatusBadGateway, auth.CodeUpstream, "The application server is not available."
	default:
		return http.StatusInternalServerError, CodeInternal, "Unexpected error while proxying the request."
	}
}
