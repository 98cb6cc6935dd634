// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package auth

import (
	"context"
	"errors"
	"net/http"
	"sort"
)

// MultiAuthenticator tries multiple authenticators in priority order.
// It implements a chain of responsibility pattern where each authenticator
// is tried until one succeeds or returns a fatal error.
//
// Error handling:
//   - ErrNoCredentials: try the next authenticator
//   - ErrAuthenticatorUnavailable: try the next authenticator
//   - ErrInvalidCredentials, ErrRealmMismatch and anything else: stop
//
// The chain is fixed at construction.
type MultiAuthenticator struct {
	authenticators []Authenticator
}

// NewMultiAuthenticator creates a new multi-authenticator with the given authenticators.
// Authenticators are sorted by priority (lower priority number = higher priority).
func NewMultiAuthenticator(authenticators ...Authenticator) *MultiAuthenticator {
	m := &MultiAuthenticator{
		authenticators: make([]Authenticator, 0, len(authenticators)),
	}

	m.authenticators = append(m.authenticators, authenticators...)
	m.sortByPriority()

	return m
}

// Authenticators returns the list of authenticators in priority order.
func (m *MultiAuthenticator) Authenticators() []Authenticator {
	result := make([]Authenticator, len(m.authenticators))
	copy(result, m.authenticators)
	return result
}

// Authenticate tries each authenticator in priority order.
func (m *MultiAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	authenticators := m.authenticators
	if len(authenticators) == 0 {
		return nil, ErrNoCredentials
	}

	lastErr := ErrNoCredentials

	for _, auth := range authenticators {
		principal, err := auth.Authenticate(ctx, r)
		if err == nil {
			return principal, nil
		}

		lastErr = err

		// Check if we should continue to next authenticator
		if shouldTryNext(err) {
			continue
		}

		// Fatal error - stop trying
		return nil, err
	}

	return nil, lastErr
}

// Name returns the authenticator name.
func (m *MultiAuthenticator) Name() string {
	return string(AuthModeMulti)
}

// Priority returns the authenticator priority.
func (m *MultiAuthenticator) Priority() int {
	return 0
}

// shouldTryNext returns true if the error indicates we should try the next authenticator.
func shouldTryNext(err error) bool {
	// No credentials provided by this authenticator - try next
	if errors.Is(err, ErrNoCredentials) {
		return true
	}

	// Authenticator unavailable (network error, etc.) - try next
	if errors.Is(err, ErrAuthenticatorUnavailable) {
		return true
	}

	return false
}

// sortByPriority sorts authenticators by priority. Caller holds the write lock.
func (m *MultiAuthenticator) sortByPriority() {
	sort.SliceStable(m.authenticators, func(i, j int) bool {
		return m.authenticators[i].Priority() < m.authenticators[j].Priority()
	})
}

// Challenge returns the WWW-Authenticate value of the first authenticator
// that offers one.
func (m *MultiAuthenticator) Challenge(r *http.Request) string {
	for _, a := range m.Authenticators() {
		if c, ok := a.(challenger); ok {
			return c.WWWAuthenticate(r)
		}
	}
	return ""
}

type challenger interface {
	WWWAuthenticate(r *http.Request) string
}
