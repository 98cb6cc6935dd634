// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/realmgate/internal/auth"
	"github.com/tomtom215/realmgate/internal/logging"
)

// StatusResponse is the body of the health checks.
type StatusResponse struct {
	Status string `json:"status"`
}

// AppInfo is the body of /check-app.
type AppInfo struct {
	Name     string `json:"app_name"`
	Version  string `json:"app_version"`
	Revision string `json:"app_revision"`
}

var (
	statusOK   = StatusResponse{Status: "ok"}
	statusDown = StatusResponse{Status: "unavailable"}
)

// Health reports that the process is up.
func (router *Router) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, statusOK)
}

// CheckDB reports whether storage is reachable.
func (router *Router) CheckDB(w http.ResponseWriter, r *http.Request) {
	if router.pingDB != nil {
		if err := router.pingDB(); err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Storage health check failed")
			respondJSON(w, http.StatusInternalServerError, statusDown)
			return
		}
	}
	respondJSON(w, http.StatusOK, statusOK)
}

// CheckApp reports the name, version and revision of this build.
func (router *Router) CheckApp(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, AppInfo{
		Name:     router.cfg.Server.AppName,
		Version:  router.cfg.Server.Version,
		Revision: router.cfg.Server.Revision,
	})
}

// CheckExternalApp reports whether the named app is reachable and accepts
// its service token.
func (router *Router) CheckExternalApp(w http.ResponseWriter, r *http.Request) {
	if !router.tokens.CheckExternalApp(r.Context(), chi.URLParam(r, "name")) {
		respondJSON(w, http.StatusInternalServerError, statusDown)
		return
	}
	respondJSON(w, http.StatusOK, statusOK)
}

// CheckTokens answers 200 when the caller holds a token for every registered
// app and otherwise redirects to the token status page.
func (router *Router) CheckTokens(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipal(r.Context())
	if router.tokens.HasAllTokens(r.Context(), p.User.ID, p.User.Username) {
		respondJSON(w, http.StatusOK, statusOK)
		return
	}
	target := router.gatewayPrefix(r) + "/" + router.cfg.Server.CheckTokenURL +
		"?next=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusFound)
}
