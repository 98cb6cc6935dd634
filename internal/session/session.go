// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

// Package session provides per-browser session state: the logged in user,
// the chosen realm, the IdP token pair and the gateway trust flag.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// Session-related errors
var (
	// ErrSessionNotFound is returned when a session is not found in the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when trying to access an expired session.
	ErrSessionExpired = errors.New("session expired")
)

// Session is the server-side state of one browser session.
type Session struct {
	ID string `json:"id"`

	// UserID and Username identify the logged in user. Empty when anonymous.
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`

	// Realm is the realm chosen at login or set by the gateway.
	Realm string `json:"realm,omitempty"`

	// AccessToken and RefreshToken are the IdP token pair. Both are set
	// together and only alongside Realm.
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`

	// Gateway marks a session established from a trusted gateway header.
	Gateway bool `json:"gateway,omitempty"`

	// OAuthState is the pending authorization-code state parameter.
	OAuthState string `json:"oauth_state,omitempty"`

	// Values holds arbitrary keyed session data.
	Values map[string]string `json:"values,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// New creates an anonymous session valid for ttl.
func New(ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:             generateSessionID(),
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	}
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// IsAuthenticated reports whether a user is logged in.
func (s *Session) IsAuthenticated() bool {
	return s.UserID != ""
}

// HasTokenPair reports whether a complete IdP token pair and its realm are present.
func (s *Session) HasTokenPair() bool {
	return s.AccessToken != "" && s.RefreshToken != "" && s.Realm != ""
}

// SetTokenPair stores the IdP token pair for realm.
func (s *Session) SetTokenPair(realm, access, refresh string) {
	s.Realm = realm
	s.AccessToken = access
	s.RefreshToken = refresh
}

// Get returns a keyed value.
func (s *Session) Get(key string) (string, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Set stores a keyed value.
func (s *Session) Set(key, value string) {
	if s.Values == nil {
		s.Values = make(map[string]string)
	}
	s.Values[key] = value
}

// Clear drops every piece of authentication state, keeping the session id.
func (s *Session) Clear() {
	s.UserID = ""
	s.Username = ""
	s.Realm = ""
	s.AccessToken = ""
	s.RefreshToken = ""
	s.Gateway = false
	s.OAuthState = ""
	s.Values = nil
}

// clone returns a deep copy so stores never share maps with callers.
func (s *Session) clone() *Session {
	c := *s
	if s.Values != nil {
		c.Values = make(map[string]string, len(s.Values))
		for k, v := range s.Values {
			c.Values[k] = v
		}
	}
	return &c
}

func generateSessionID() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("session: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Store defines the interface for session storage backends.
type Store interface {
	// Get retrieves a session by ID.
	// Returns ErrSessionNotFound if not found and ErrSessionExpired if expired.
	Get(ctx context.Context, id string) (*Session, error)

	// Save creates or replaces a session.
	Save(ctx context.Context, s *Session) error

	// Delete removes a session by ID. Missing sessions are not an error.
	Delete(ctx context.Context, id string) error

	// CleanupExpired removes all expired sessions and returns how many were removed.
	CleanupExpired(ctx context.Context) (int, error)
}
