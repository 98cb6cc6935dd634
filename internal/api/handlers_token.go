// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/realmgate/internal/apptoken"
	"github.com/tomtom215/realmgate/internal/auth"
	"github.com/tomtom215/realmgate/internal/validation"
)

// TokenResponse carries a local API token; Token is null when none exists.
type TokenResponse struct {
	Token *string `json:"token"`
}

// UserTokensResponse lists the app token status of the current user.
type UserTokensResponse struct {
	User   string                     `json:"user"`
	Realm  string                     `json:"realm,omitempty"`
	Tokens []apptoken.UserTokenStatus `json:"tokens"`
}

// GetToken returns the caller's API token, or null.
func (router *Router) GetToken(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipal(r.Context())
	resp := TokenResponse{}
	if p.User.Token != "" {
		token := p.User.Token
		resp.Token = &token
	}
	respondJSON(w, http.StatusOK, resp)
}

// CreateToken returns the caller's API token, creating it when missing.
// Staff may name another username of the current realm; that user is
// created with an unusable password when it does not exist.
func (router *Router) CreateToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := auth.GetPrincipal(ctx)

	var req validation.TokenRequest
	if err := decodeForm(r, &req, map[string]*string{"username": &req.Username}); err != nil {
		respondError(w, r, http.StatusBadRequest, validation.CodeValidation, "Malformed token request.", err)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	u := p.User
	if req.Username != "" && req.Username != u.Username && router.users.IsStaff(u) {
		other, err := router.users.GetOrCreate(ctx, p.Realm, req.Username)
		if err != nil {
			respondError(w, r, http.StatusInternalServerError, CodeInternal, "Could not create the user token.", err)
			return
		}
		u = other
	}

	token, err := router.users.GetOrCreateToken(ctx, u)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "Could not create the user token.", err)
		return
	}
	respondJSON(w, http.StatusOK, TokenResponse{Token: &token})
}

// CheckUserTokens reports, per registered app, whether the caller can connect to it.
func (router *Router) CheckUserTokens(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipal(r.Context())
	respondJSON(w, http.StatusOK, UserTokensResponse{
		User:   router.users.DisplayName(p.User, p.Realm),
		Realm:  p.Realm,
		Tokens: router.tokens.CheckUserTokens(r.Context(), p.User.ID, p.User.Username),
	})
}

// AppTokenEntry describes one stored app token without revealing it.
type AppTokenEntry struct {
	App      string    `json:"app"`
	HasToken bool      `json:"has_token"`
	Modified time.Time `json:"modified"`
}

// AppTokensResponse lists the app tokens stored for the current user.
type AppTokensResponse struct {
	User   string          `json:"user"`
	Tokens []AppTokenEntry `json:"tokens"`
}

// ListAppTokens returns the app token records of the caller.
func (router *Router) ListAppTokens(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipal(r.Context())
	records, err := router.tokens.ListUserTokens(r.Context(), p.User.ID)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "Could not list the app tokens.", err)
		return
	}
	resp := AppTokensResponse{
		User:   router.users.DisplayName(p.User, p.Realm),
		Tokens: make([]AppTokenEntry, 0, len(records)),
	}
	for _, rec := range records {
		resp.Tokens = append(resp.Tokens, AppTokenEntry{
			App:      rec.App,
			HasToken: rec.Token != nil,
			Modified: rec.Modified,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}
