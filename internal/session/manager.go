// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tomtom215/realmgate/internal/logging"
)

type contextKey struct{}

// CookieConfig holds session cookie attributes.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// DefaultCookieConfig returns sensible defaults.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:     "realmgate_session",
		Path:     "/",
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

// Manager binds a Store to the request lifecycle. Load attaches a session to
// every request; handlers mutate it and call Save before writing the response.
type Manager struct {
	store  Store
	cookie CookieConfig
	ttl    time.Duration
}

// NewManager creates a session manager.
func NewManager(store Store, cookie CookieConfig, ttl time.Duration) *Manager {
	if cookie.Name == "" {
		cookie.Name = DefaultCookieConfig().Name
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{store: store, cookie: cookie, ttl: ttl}
}

// Store returns the underlying session store.
func (m *Manager) Store() Store {
	return m.store
}

// Load is a middleware that attaches the request's session to its context.
// Requests without a valid session cookie get a fresh, unsaved session.
func (m *Manager) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.lookup(r)
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
	})
}

func (m *Manager) lookup(r *http.Request) *Session {
	c, err := r.Cookie(m.cookie.Name)
	if err != nil || c.Value == "" {
		return New(m.ttl)
	}

	s, err := m.store.Get(r.Context(), c.Value)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) && !errors.Is(err, ErrSessionExpired) {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Session lookup error")
		}
		return New(m.ttl)
	}
	s.LastAccessedAt = time.Now()
	return s
}

// Save persists s with a renewed expiry and sets the session cookie.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	s.ExpiresAt = time.Now().Add(m.ttl)
	if err := m.store.Save(ctx, s); err != nil {
		return err
	}
	m.setCookie(w, s.ID, s.ExpiresAt)
	return nil
}

// Cycle moves s to a new session id, deleting the old record. Call it when
// the logged in principal changes so a pre-login id cannot be reused.
func (m *Manager) Cycle(ctx context.Context, s *Session) {
	old := s.ID
	s.ID = generateSessionID()
	s.CreatedAt = time.Now()
	if err := m.store.Delete(ctx, old); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to delete rotated session")
	}
}

// Flush clears every value in s, deletes its record and expires the cookie.
// s keeps working as a fresh anonymous session for the rest of the request.
func (m *Manager) Flush(ctx context.Context, w http.ResponseWriter, s *Session) error {
	err := m.store.Delete(ctx, s.ID)
	s.Clear()
	s.ID = generateSessionID()
	m.clearCookie(w)
	return err
}

func (m *Manager) setCookie(w http.ResponseWriter, id string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie.Name,
		Value:    id,
		Path:     m.cookie.Path,
		Domain:   m.cookie.Domain,
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		Secure:   m.cookie.Secure,
		HttpOnly: true,
		SameSite: m.cookie.SameSite,
	})
}

func (m *Manager) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie.Name,
		Value:    "",
		Path:     m.cookie.Path,
		Domain:   m.cookie.Domain,
		MaxAge:   -1,
		Secure:   m.cookie.Secure,
		HttpOnly: true,
		SameSite: m.cookie.SameSite,
	})
}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session attached by Load, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(contextKey{}).(*Session)
	return s
}
