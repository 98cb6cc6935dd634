// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package keycloak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"golang.org/x/oauth2"

	"github.com/tomtom215/realmgate/internal/cache"
	"github.com/tomtom215/realmgate/internal/config"
	"github.com/tomtom215/realmgate/internal/httpclient"
)

const oidcPath = "protocol/openid-connect"

var (
	// ErrRealmNotFound is returned when the IdP does not know a realm.
	ErrRealmNotFound = errors.New("keycloak: realm not found")

	// ErrUserInfo is returned when the userinfo endpoint rejects a token.
	ErrUserInfo = errors.New("keycloak: userinfo request failed")
)

// StatusError is a non-success response from the IdP.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("keycloak: %s returned status %d", e.Op, e.Status)
}

// Client talks to the realm endpoints of a Keycloak server. Refresh and
// userinfo results are cached per (realm, token) for UserTokenTTL.
type Client struct {
	cfg  config.KeycloakConfig
	http *httpclient.Client

	refreshed *cache.Memo[*oauth2.Token]
	userinfo  *cache.Memo[*oidc.UserInfo]
}

// NewClient creates a Keycloak client on top of the shared outbound client.
func NewClient(cfg config.KeycloakConfig, hc *httpclient.Client) *Client {
	return &Client{
		cfg:       cfg,
		http:      hc,
		refreshed: cache.NewMemo[*oauth2.Token]("keycloak_refresh", cfg.CacheSize, cfg.UserTokenTTL),
		userinfo:  cache.NewMemo[*oidc.UserInfo]("keycloak_userinfo", cfg.CacheSize, cfg.UserTokenTTL),
	}
}

// Config returns the IdP settings.
func (c *Client) Config() config.KeycloakConfig {
	return c.cfg
}

func (c *Client) realmURL(realm string) string {
	return strings.TrimSuffix(c.cfg.ServerURL, "/") + "/" + url.PathEscape(realm)
}

func (c *Client) endpoint(realm, name string) string {
	return c.realmURL(realm) + "/" + oidcPath + "/" + name
}

func (c *Client) oauthConfig(realm, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: c.cfg.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.endpoint(realm, "auth"),
			TokenURL:  c.endpoint(realm, "token"),
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      []string{oidc.ScopeOpenID},
	}
}

// oauthContext routes oauth2 token calls through the retrying client.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http.StandardClient())
}

// AuthCodeURL returns the authorization endpoint of realm, asking for an
// authorization code delivered to redirectURI.
func (c *Client) AuthCodeURL(realm, redirectURI, state string) string {
	return c.oauthConfig(realm, redirectURI).AuthCodeURL(state)
}

// CheckRealm probes the account page of realm. Any status below 400 means
// the realm exists.
func (c *Client) CheckRealm(ctx context.Context, realm string) error {
	if realm == "" {
		return ErrRealmNotFound
	}
	resp, err := c.http.Head(ctx, c.realmURL(realm)+"/account", nil)
	if err != nil {
		return err
	}
	drain(resp)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %s (status %d)", ErrRealmNotFound, realm, resp.StatusCode)
	}
	return nil
}

// PasswordGrant logs a user in with username and password.
func (c *Client) PasswordGrant(ctx context.Context, realm, username, password string) (*oauth2.Token, error) {
	tok, err := c.oauthConfig(realm, "").PasswordCredentialsToken(c.oauthContext(ctx), username, password)
	if err != nil {
		return nil, fmt.Errorf("password grant: %w", err)
	}
	return tok, nil
}

// ExchangeCode trades an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, realm, code, sessionState, redirectURI string) (*oauth2.Token, error) {
	tok, err := c.oauthConfig(realm, redirectURI).Exchange(
		c.oauthContext(ctx),
		code,
		oauth2.SetAuthURLParam("client_session_state", sessionState),
		oauth2.SetAuthURLParam("client_session_host", redirectURI),
	)
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}
	return tok, nil
}

// Refresh exchanges refreshToken for a new token pair. Concurrent and
// repeated refreshes of the same token within the cache TTL share one call.
func (c *Client) Refresh(ctx context.Context, realm, refreshToken string) (*oauth2.Token, error) {
	key := cache.GenerateKey(realm, refreshToken)
	return c.refreshed.Do(ctx, key, func(ctx context.Context) (*oauth2.Token, error) {
		src := c.oauthConfig(realm, "").TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
		tok, err := src.Token()
		if err != nil {
			return nil, fmt.Errorf("refresh: %w", err)
		}
		return tok, nil
	})
}

// UserInfo fetches the claims of accessToken, cached per (realm, token).
func (c *Client) UserInfo(ctx context.Context, realm, accessToken string) (*oidc.UserInfo, error) {
	key := cache.GenerateKey(realm, accessToken)
	return c.userinfo.Do(ctx, key, func(ctx context.Context) (*oidc.UserInfo, error) {
		header := http.Header{"Authorization": {"Bearer " + accessToken}}
		resp, err := c.http.Get(ctx, c.endpoint(realm, "userinfo"), header)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: %w", ErrUserInfo, &StatusError{Op: "userinfo", Status: resp.StatusCode})
		}
		info := new(oidc.UserInfo)
		if err := json.NewDecoder(resp.Body).Decode(info); err != nil {
			return nil, fmt.Errorf("%w: decode: %w", ErrUserInfo, err)
		}
		return info, nil
	})
}

// Logout ends the IdP session of refreshToken.
func (c *Client) Logout(ctx context.Context, realm, refreshToken string) error {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"refresh_token": {refreshToken},
	}
	resp, err := c.http.PostForm(ctx, c.endpoint(realm, "logout"), form, nil)
	if err != nil {
		return err
	}
	drain(resp)
	if resp.StatusCode >= http.StatusBadRequest {
		return &StatusError{Op: "logout", Status: resp.StatusCode}
	}
	return nil
}

// PurgeCaches drops every cached refresh and userinfo result and returns
// how many entries were removed.
func (c *Client) PurgeCaches() int {
	n := c.refreshed.Len() + c.userinfo.Len()
	c.refreshed.Purge()
	c.userinfo.Purge()
	return n
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
