// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

// Package apptoken manages the per-(user, app) authorization tokens used to
// call external applications on a user's behalf.
package apptoken

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/realmgate/internal/httpclient"
	"github.com/tomtom215/realmgate/internal/logging"
	"github.com/tomtom215/realmgate/internal/metrics"
)

// ErrTokenUnavailable is returned when no valid token could be established.
var ErrTokenUnavailable = errors.New("app token unavailable")

// maxTokenResponse bounds the body read from a token endpoint.
const maxTokenResponse = 64 << 10

// Manager validates, obtains and persists app tokens.
type Manager struct {
	registry *Registry
	store    Store
	client   *httpclient.Client
	group    singleflight.Group
}

// NewManager creates an app token manager.
func NewManager(registry *Registry, store Store, client *httpclient.Client) *Manager {
	return &Manager{registry: registry, store: store, client: client}
}

// Registry returns the app registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// GetOrCreateToken returns a token of username (identified by userID) that
// app currently accepts. A stored token is validated first; when it is
// missing or rejected a new one is requested with the app's service token.
// The record is saved after every refresh attempt, including failed ones.
//
// Concurrent calls for the same (user, app) share one validation round.
func (m *Manager) GetOrCreateToken(ctx context.Context, userID, username, app string) (string, error) {
	if !m.registry.Has(app) {
		return "", fmt.Errorf("%w: %q", ErrAppNotRegistered, app)
	}

	v, err, _ := m.group.Do(userID+"\x00"+app, func() (any, error) {
		return m.getOrCreate(context.WithoutCancel(ctx), userID, username, app)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) getOrCreate(ctx context.Context, userID, username, app string) (string, error) {
	rec, err := m.store.GetOrCreate(ctx, userID, app)
	if err != nil {
		return "", fmt.Errorf("load app token: %w", err)
	}

	if rec.Token == nil || !m.ValidateToken(ctx, app, *rec.Token) {
		rec.Token = m.ObtainToken(ctx, app, username)
		if err := m.store.Save(ctx, rec); err != nil {
			return "", fmt.Errorf("save app token: %w", err)
		}
	}

	if rec.Token == nil {
		return "", ErrTokenUnavailable
	}
	return *rec.Token, nil
}

// ValidateToken reports whether app accepts token. Any failure counts as invalid.
func (m *Manager) ValidateToken(ctx context.Context, app, token string) bool {
	tokenURL, err := m.registry.TokenURL(app)
	if err != nil {
		return false
	}

	resp, err := m.client.Get(ctx, tokenURL, authHeader(token))
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("app", app).Msg("App token validation failed")
		metrics.RecordAppTokenOperation(app, "validate", false)
		return false
	}
	drain(resp)

	ok := resp.StatusCode == http.StatusOK
	metrics.RecordAppTokenOperation(app, "validate", ok)
	return ok
}

// ObtainToken requests a new token for username from app. It returns nil
// when the app does not answer 200 with a token.
func (m *Manager) ObtainToken(ctx context.Context, app, username string) *string {
	a, ok := m.registry.Get(app)
	if !ok {
		return nil
	}
	tokenURL, err := m.registry.TokenURL(app)
	if err != nil {
		return nil
	}

	resp, err := m.client.PostForm(ctx, tokenURL, url.Values{"username": {username}}, authHeader(a.Token))
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("app", app).Msg("Could not obtain app token")
		metrics.RecordAppTokenOperation(app, "obtain", false)
		return nil
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		logging.Ctx(ctx).Warn().Int("status", resp.StatusCode).Str("app", app).
			Str("username", logging.SanitizeUsername(username)).Msg("App refused to issue token")
		metrics.RecordAppTokenOperation(app, "obtain", false)
		return nil
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponse)).Decode(&body); err != nil || body.Token == "" {
		logging.Ctx(ctx).Warn().Err(err).Str("app", app).Msg("Malformed app token response")
		metrics.RecordAppTokenOperation(app, "obtain", false)
		return nil
	}

	metrics.RecordAppTokenOperation(app, "obtain", true)
	return &body.Token
}

// HasAllTokens reports whether a token can be established for every registered app.
func (m *Manager) HasAllTokens(ctx context.Context, userID, username string) bool {
	for _, app := range m.registry.Names() {
		if _, err := m.GetOrCreateToken(ctx, userID, username, app); err != nil {
			logging.Ctx(ctx).Error().Err(err).
				Msgf("Could not check the authorization token for %q in %q.", logging.SanitizeUsername(username), app)
			return false
		}
	}
	return true
}

// UserTokenStatus reports, per registered app, whether username can connect to it.
type UserTokenStatus struct {
	App   string `json:"app"`
	Valid bool   `json:"valid"`
}

// CheckUserTokens establishes a token for every registered app and reports the outcome.
func (m *Manager) CheckUserTokens(ctx context.Context, userID, username string) []UserTokenStatus {
	names := m.registry.Names()
	out := make([]UserTokenStatus, 0, len(names))
	for _, app := range names {
		_, err := m.GetOrCreateToken(ctx, userID, username, app)
		out = append(out, UserTokenStatus{App: app, Valid: err == nil})
	}
	return out
}

// CheckExternalApp verifies app is reachable and accepts its service token:
// an anonymous HEAD on the token endpoint must answer 403 and an
// authenticated GET must answer 200.
func (m *Manager) CheckExternalApp(ctx context.Context, app string) bool {
	a, ok := m.registry.Get(app)
	if !ok {
		logging.Warn().Msgf("%q app is not registered as external app.", app)
		return false
	}
	tokenURL, _ := m.registry.TokenURL(app)

	resp, err := m.client.Head(ctx, tokenURL, nil)
	if err != nil || resp.StatusCode != http.StatusForbidden {
		if err == nil {
			drain(resp)
		}
		logging.Warn().Msgf("%q app server (%s) is not available.", app, tokenURL)
		return false
	}
	drain(resp)
	logging.Info().Msgf("%q app server (%s) is up and responding!", app, tokenURL)

	resp, err = m.client.Get(ctx, tokenURL, authHeader(a.Token))
	if err != nil || resp.StatusCode != http.StatusOK {
		if err == nil {
			drain(resp)
		}
		logging.Warn().Msgf("%q app token is not valid for app server (%s).", app, tokenURL)
		return false
	}
	drain(resp)
	logging.Info().Msgf("%q app token is valid for app server (%s)!", app, tokenURL)
	return true
}

// ListUserTokens returns the stored token records of userID.
func (m *Manager) ListUserTokens(ctx context.Context, userID string) ([]*Record, error) {
	return m.store.ListByUser(ctx, userID)
}

func authHeader(token string) http.Header {
	return http.Header{"Authorization": {"Token " + token}}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxTokenResponse))
	_ = resp.Body.Close()
}
