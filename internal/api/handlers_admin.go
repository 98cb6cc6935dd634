// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/realmgate/internal/auth"
	"github.com/tomtom215/realmgate/internal/logging"
	"github.com/tomtom215/realmgate/internal/users"
	"github.com/tomtom215/realmgate/internal/validation"
)

// PurgeCacheResponse reports how many cached IdP results were dropped.
type PurgeCacheResponse struct {
	Purged int `json:"purged"`
}

// PurgeCache drops the cached IdP refresh and user-info results.
func (router *Router) PurgeCache(w http.ResponseWriter, r *http.Request) {
	purged := 0
	if router.flow != nil {
		purged = router.flow.Client().PurgeCaches()
	}
	p := auth.GetPrincipal(r.Context())
	logging.Ctx(r.Context()).Info().
		Str("username", logging.SanitizeUsername(p.User.Username)).
		Int("purged", purged).
		Msg("IdP caches purged")
	respondJSON(w, http.StatusOK, PurgeCacheResponse{Purged: purged})
}

// RealmMember is one user in a realm listing.
type RealmMember struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// RealmMembersResponse lists the members of a realm.
type RealmMembersResponse struct {
	Realm   string        `json:"realm"`
	Members []RealmMember `json:"members"`
}

// ListRealmMembers returns the users belonging to {realm}.
func (router *Router) ListRealmMembers(w http.ResponseWriter, r *http.Request) {
	realmName := chi.URLParam(r, "realmName")
	if verr := validation.ValidateStruct(&validation.MembershipRequest{Realm: realmName, Username: "-"}); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	list, err := router.users.ListByRealm(r.Context(), realmName)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "Could not list the realm members.", err)
		return
	}
	resp := RealmMembersResponse{Realm: realmName, Members: make([]RealmMember, 0, len(list))}
	for _, u := range list {
		resp.Members = append(resp.Members, RealmMember{
			ID:          u.ID,
			Username:    u.Username,
			DisplayName: router.users.DisplayName(u, realmName),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// AddRealmMember makes {username} a member of {realm}.
func (router *Router) AddRealmMember(w http.ResponseWriter, r *http.Request) {
	router.changeMembership(w, r, "added", router.users.AddToRealm)
}

// RemoveRealmMember drops the membership of {username} in {realm}.
func (router *Router) RemoveRealmMember(w http.ResponseWriter, r *http.Request) {
	router.changeMembership(w, r, "removed", router.users.RemoveFromRealm)
}

func (router *Router) changeMembership(w http.ResponseWriter, r *http.Request, verb string,
	change func(context.Context, *users.User, string) error) {
	req := validation.MembershipRequest{
		Realm:    chi.URLParam(r, "realmName"),
		Username: chi.URLParam(r, "username"),
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	u, err := router.users.GetByUsername(r.Context(), req.Username)
	if errors.Is(err, users.ErrUserNotFound) {
		respondError(w, r, http.StatusNotFound, CodeNotFound, "No such user.", nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "Could not load the user.", err)
		return
	}
	if err := change(r.Context(), u, req.Realm); err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeInternal, "Could not update the realm membership.", err)
		return
	}

	p := auth.GetPrincipal(r.Context())
	logging.Ctx(r.Context()).Info().
		Str("staff", logging.SanitizeUsername(p.User.Username)).
		Str("username", logging.SanitizeUsername(u.Username)).
		Str("realm", req.Realm).
		Msg("Realm member " + verb)
	w.WriteHeader(http.StatusNoContent)
}
