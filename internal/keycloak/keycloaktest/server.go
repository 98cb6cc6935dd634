// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

// Package keycloaktest provides an in-process Keycloak stand-in for tests.
package keycloaktest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"
)

// User is an account known to the fake server.
type User struct {
	Username   string
	Password   string
	GivenName  string
	FamilyName string
	Email      string
}

type grant struct {
	realm    string
	username string
}

// Server is a minimal Keycloak: realm probe, token endpoint (password,
// authorization_code and refresh_token grants), userinfo and logout.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	realms  map[string]map[string]User
	codes   map[string]grant
	access  map[string]grant
	refresh map[string]grant
	seq     int

	// RejectRefresh makes every refresh_token grant fail with 400.
	RejectRefresh atomic.Bool

	TokenCalls    atomic.Int32
	RefreshCalls  atomic.Int32
	UserInfoCalls atomic.Int32
	LogoutCalls   atomic.Int32
	ProbeCalls    atomic.Int32

	lastForm map[string]string
}

// NewServer starts a fake server knowing the given realms.
func NewServer(realms ...string) *Server {
	s := &Server{
		realms:  make(map[string]map[string]User),
		codes:   make(map[string]grant),
		access:  make(map[string]grant),
		refresh: make(map[string]grant),
	}
	for _, r := range realms {
		s.realms[r] = make(map[string]User)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// AddUser registers u in realm.
func (s *Server) AddUser(realm string, u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.realms[realm] == nil {
		s.realms[realm] = make(map[string]User)
	}
	s.realms[realm][u.Username] = u
}

// IssueTokens returns a fresh token pair for username in realm.
func (s *Server) IssueTokens(realm, username string) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(realm, username)
}

// IssueCode returns an authorization code for username in realm.
func (s *Server) IssueCode(realm, username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	code := fmt.Sprintf("code-%d", s.seq)
	s.codes[code] = grant{realm: realm, username: username}
	return code
}

// LastTokenForm returns a value of the most recent token request form.
func (s *Server) LastTokenForm(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastForm[key]
}

func (s *Server) issueLocked(realm, username string) (string, string) {
	s.seq++
	access := fmt.Sprintf("access-%s-%d", username, s.seq)
	refresh := fmt.Sprintf("refresh-%s-%d", username, s.seq)
	s.access[access] = grant{realm: realm, username: username}
	s.refresh[refresh] = grant{realm: realm, username: username}
	return access, refresh
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}
	realm := parts[0]

	s.mu.Lock()
	_, known := s.realms[realm]
	s.mu.Unlock()
	if !known {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "account":
		s.ProbeCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	case len(parts) == 4 && parts[1] == "protocol" && parts[2] == "openid-connect":
		switch parts[3] {
		case "token":
			s.token(w, r, realm)
		case "userinfo":
			s.userinfo(w, r, realm)
		case "logout":
			s.LogoutCalls.Add(1)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) token(w http.ResponseWriter, r *http.Request, realm string) {
	s.TokenCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastForm = make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		s.lastForm[k] = r.PostForm.Get(k)
	}

	var username string
	switch r.PostForm.Get("grant_type") {
	case "password":
		u, ok := s.realms[realm][r.PostForm.Get("username")]
		if !ok || u.Password != r.PostForm.Get("password") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
			return
		}
		username = u.Username
	case "authorization_code":
		g, ok := s.codes[r.PostForm.Get("code")]
		if !ok || g.realm != realm {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		delete(s.codes, r.PostForm.Get("code"))
		username = g.username
	case "refresh_token":
		s.RefreshCalls.Add(1)
		g, ok := s.refresh[r.PostForm.Get("refresh_token")]
		if !ok || g.realm != realm || s.RejectRefresh.Load() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		username = g.username
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	access, refresh := s.issueLocked(realm, username)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    300,
	})
}

func (s *Server) userinfo(w http.ResponseWriter, r *http.Request, realm string) {
	s.UserInfoCalls.Add(1)
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	s.mu.Lock()
	g, ok := s.access[token]
	u, known := s.realms[realm][g.username]
	s.mu.Unlock()

	if !ok || g.realm != realm {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}
	if !known {
		u = User{Username: g.username}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"sub":                "id-" + u.Username,
		"preferred_username": u.Username,
		"given_name":         u.GivenName,
		"family_name":        u.FamilyName,
		"email":              u.Email,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
