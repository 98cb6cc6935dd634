// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/realmgate/internal/auth"
	"github.com/tomtom215/realmgate/internal/keycloak"
	"github.com/tomtom215/realmgate/internal/logging"
	"github.com/tomtom215/realmgate/internal/metrics"
	"github.com/tomtom215/realmgate/internal/session"
	"github.com/tomtom215/realmgate/internal/validation"
)

// ProviderLocal names logins checked against local passwords.
const ProviderLocal = "local"

// LoginForm describes the login form a client should render.
type LoginForm struct {
	// Provider is "keycloak" or "local".
	Provider string `json:"provider"`

	// Realm is the preselected realm, empty without multitenancy.
	Realm string `json:"realm,omitempty"`

	// RealmRequired is set when the form must ask for a realm.
	RealmRequired bool `json:"realm_required"`

	// Credentials is set when the form must ask for username and password.
	Credentials bool `json:"credentials"`

	// Error is the message of the last failed attempt.
	Error string `json:"error,omitempty"`
}

func (router *Router) loginForm(r *http.Request, errMsg string) LoginForm {
	form := LoginForm{
		Provider:      ProviderLocal,
		Realm:         router.resolver.Current(r),
		RealmRequired: router.resolver.Deployment().Multitenancy,
		Credentials:   true,
		Error:         errMsg,
	}
	if router.flow != nil {
		form.Provider = keycloak.Provider
		form.Credentials = router.flow.BehindScenes()
	}
	return form
}

// LoginForm serves GET on the login path. It completes an IdP callback when
// the request carries one, otherwise it describes the login form.
func (router *Router) LoginForm(w http.ResponseWriter, r *http.Request) {
	if router.flow != nil && keycloak.IsCallback(r) {
		if err := router.flow.Callback(r.Context(), w, r); err != nil {
			respondJSON(w, http.StatusBadRequest, router.loginForm(r, keycloak.UserMessage(err)))
			return
		}
		http.Redirect(w, r, safeNext(r, router.cfg.Server.LoginRedirectURL), http.StatusFound)
		return
	}
	respondJSON(w, http.StatusOK, router.loginForm(r, ""))
}

// Login serves POST on the login path. With an IdP it checks the realm and
// redirects to the IdP, or logs in directly in behind-the-scenes mode.
// Without one it checks the local password.
func (router *Router) Login(w http.ResponseWriter, r *http.Request) {
	var req validation.LoginRequest
	err := decodeForm(r, &req, map[string]*string{
		"realm":    &req.Realm,
		"username": &req.Username,
		"password": &req.Password,
	})
	if err != nil {
		respondError(w, r, http.StatusBadRequest, validation.CodeValidation, "Malformed login request.", err)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}
	if req.Realm == "" {
		req.Realm = router.resolver.Current(r)
	}
	if !router.resolver.Deployment().Multitenancy {
		req.Realm = ""
	}

	next := safeNext(r, router.cfg.Server.LoginRedirectURL)
	if router.flow != nil {
		router.loginKeycloak(w, r, req, next)
		return
	}
	router.loginLocal(w, r, req, next)
}

func (router *Router) loginKeycloak(w http.ResponseWriter, r *http.Request, req validation.LoginRequest, next string) {
	if router.resolver.Deployment().Multitenancy && req.Realm == "" {
		respondJSON(w, http.StatusBadRequest, router.loginForm(r, keycloak.UserMessage(keycloak.ErrInvalidRealm)))
		return
	}
	if router.flow.BehindScenes() && !req.HasCredentials() {
		respondJSON(w, http.StatusBadRequest, router.loginForm(r, keycloak.UserMessage(keycloak.ErrInvalidLogin)))
		return
	}

	redirect, err := router.flow.Start(r.Context(), w, r, keycloak.LoginRequest{
		Realm:    req.Realm,
		Username: req.Username,
		Password: req.Password,
	})
	switch {
	case err == nil && redirect != "":
		http.Redirect(w, r, redirect, http.StatusFound)
	case err == nil:
		http.Redirect(w, r, next, http.StatusFound)
	case errors.Is(err, keycloak.ErrInvalidRealm):
		respondJSON(w, http.StatusBadRequest, router.loginForm(r, keycloak.UserMessage(err)))
	case errors.Is(err, keycloak.ErrInvalidLogin):
		respondJSON(w, http.StatusUnauthorized, router.loginForm(r, keycloak.UserMessage(err)))
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Keycloak login failed")
		respondJSON(w, http.StatusBadGateway, router.loginForm(r, keycloak.UserMessage(err)))
	}
}

func (router *Router) loginLocal(w http.ResponseWriter, r *http.Request, req validation.LoginRequest, next string) {
	ctx := r.Context()
	if !req.HasCredentials() {
		respondJSON(w, http.StatusBadRequest, router.loginForm(r, auth.MsgInvalidCredentials))
		return
	}
	sess := session.FromContext(ctx)
	if sess == nil {
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "Session unavailable.", errors.New("no session in context"))
		return
	}

	u, err := router.basic.CheckCredentials(ctx, req.Realm, req.Username, req.Password)
	if err != nil {
		label := router.resolver.Deployment().RealmLabel(req.Realm)
		metrics.RecordAuthAttempt(ProviderLocal, label, "invalid")
		logging.NewSecurityLogger().LogLoginFailure(req.Username, label, ProviderLocal, r.RemoteAddr, err.Error())
		respondJSON(w, http.StatusUnauthorized, router.loginForm(r, err.Error()))
		return
	}

	if err := router.sessions.Login(ctx, w, r, sess, u, req.Realm, ProviderLocal); err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "Login failed.", err)
		return
	}
	http.Redirect(w, r, next, http.StatusFound)
}

// Logout ends the session, revoking the IdP session when there is one, and
// redirects to the logout landing page.
func (router *Router) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dest := safeNext(r, router.cfg.Server.LogoutRedirectURL)

	sess := session.FromContext(ctx)
	if sess != nil {
		if router.flow != nil {
			router.flow.Logout(ctx, w, sess, "user_logout")
		} else {
			router.sessions.Logout(ctx, w, sess, "user_logout")
		}
	}

	if router.flow != nil && router.resolver.PathRealm(dest) != "" {
		dest = router.flow.LogoutRedirect(dest)
	}
	http.Redirect(w, r, dest, http.StatusFound)
}
