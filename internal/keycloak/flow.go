// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package keycloak

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/zitadel/oidc/v3/pkg/oidc"
	"golang.org/x/oauth2"

	"github.com/tomtom215/realmgate/internal/auth"
	"github.com/tomtom215/realmgate/internal/logging"
	"github.com/tomtom215/realmgate/internal/metrics"
	"github.com/tomtom215/realmgate/internal/realm"
	"github.com/tomtom215/realmgate/internal/session"
	"github.com/tomtom215/realmgate/internal/users"
)

// Login errors.
var (
	ErrInvalidRealm = errors.New("keycloak: invalid realm")
	ErrInvalidLogin = errors.New("keycloak: invalid login")
	ErrCallback     = errors.New("keycloak: callback failed")
)

// UserMessage returns the text shown on the login form for a login error.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRealm):
		return "Invalid realm"
	case errors.Is(err, ErrInvalidLogin):
		return "Please enter a correct username and password. Note that both fields may be case-sensitive."
	default:
		return "An error ocurred while authenticating against keycloak"
	}
}

// Provider is the login provider name used in logs and metrics.
const Provider = "keycloak"

// FlowOptions configure the paths used by the login flow.
type FlowOptions struct {
	// LoginPath is the path of the login view; the IdP redirects back to it.
	LoginPath string

	// LogoutRedirect is the landing page after logout.
	LogoutRedirect string
}

// Flow drives the IdP login, silent refresh and logout of browser sessions.
type Flow struct {
	client   *Client
	users    *users.Service
	sessions *auth.Sessions
	resolver *realm.Resolver
	opts     FlowOptions
	security *logging.SecurityLogger
}

// NewFlow creates the login flow.
func NewFlow(client *Client, svc *users.Service, sessions *auth.Sessions, resolver *realm.Resolver, opts FlowOptions) *Flow {
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	if opts.LogoutRedirect == "" {
		opts.LogoutRedirect = "/logged-out"
	}
	return &Flow{
		client:   client,
		users:    svc,
		sessions: sessions,
		resolver: resolver,
		opts:     opts,
		security: logging.NewSecurityLogger(),
	}
}

// Client returns the IdP client.
func (f *Flow) Client() *Client {
	return f.client
}

// BehindScenes reports whether the login form collects credentials itself.
func (f *Flow) BehindScenes() bool {
	return f.client.cfg.BehindScenes
}

// LoginRequest is a submitted login form.
type LoginRequest struct {
	Realm    string
	Username string
	Password string
}

// Start handles a submitted login form. In direct-credential mode it logs
// the user in and returns "". Otherwise it stores the chosen realm and
// returns the IdP authorization URL to redirect to.
func (f *Flow) Start(ctx context.Context, w http.ResponseWriter, r *http.Request, req LoginRequest) (string, error) {
	sess := session.FromContext(ctx)
	if sess == nil {
		return "", errors.New("keycloak: no session in context")
	}

	if err := f.client.CheckRealm(ctx, req.Realm); err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("realm", req.Realm).Msg("Realm check failed")
		return "", ErrInvalidRealm
	}

	if f.BehindScenes() {
		tok, err := f.client.PasswordGrant(ctx, req.Realm, req.Username, req.Password)
		if err != nil {
			f.security.LogLoginFailure(req.Username, req.Realm, Provider, r.RemoteAddr, "password grant rejected")
			metrics.RecordAuthAttempt(Provider, req.Realm, "invalid")
			return "", ErrInvalidLogin
		}
		if err := f.complete(ctx, w, r, sess, req.Realm, tok); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Keycloak login failed")
			return "", ErrInvalidLogin
		}
		return "", nil
	}

	sess.Realm = req.Realm
	sess.OAuthState = newState()
	if err := f.sessions.Manager().Save(ctx, w, sess); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return f.client.AuthCodeURL(req.Realm, f.redirectURI(r), sess.OAuthState), nil
}

// IsCallback reports whether r carries an IdP authorization response.
func IsCallback(r *http.Request) bool {
	q := r.URL.Query()
	return q.Get("code") != "" && q.Get("session_state") != ""
}

// Callback completes the authorization-code flow. On any failure the realm
// and pending state are removed from the session and ErrCallback is returned.
func (f *Flow) Callback(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	sess := session.FromContext(ctx)
	if sess == nil {
		return ErrCallback
	}

	err := f.callback(ctx, w, r, sess)
	if err == nil {
		return nil
	}

	logging.Ctx(ctx).Warn().Err(err).Str("realm", sess.Realm).Msg("Keycloak callback failed")
	metrics.RecordAuthAttempt(Provider, f.resolver.Deployment().RealmLabel(sess.Realm), "error")
	sess.Realm = ""
	sess.OAuthState = ""
	if saveErr := f.sessions.Manager().Save(ctx, w, sess); saveErr != nil {
		logging.Ctx(ctx).Error().Err(saveErr).Msg("Failed to save session")
	}
	return ErrCallback
}

func (f *Flow) callback(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *session.Session) error {
	q := r.URL.Query()
	code, sessionState := q.Get("code"), q.Get("session_state")
	realmName := f.resolver.CurrentOr(r, "")
	if code == "" || sessionState == "" || realmName == "" {
		return errors.New("missing code, session_state or realm")
	}
	if sess.OAuthState == "" {
		return errors.New("no pending login state")
	}
	if subtle.ConstantTimeCompare([]byte(q.Get("state")), []byte(sess.OAuthState)) != 1 {
		return errors.New("state mismatch")
	}

	tok, err := f.client.ExchangeCode(ctx, realmName, code, sessionState, f.redirectURI(r))
	if err != nil {
		return err
	}
	sess.OAuthState = ""
	return f.complete(ctx, w, r, sess, realmName, tok)
}

// complete fetches the user info of tok, syncs the local user and logs it in.
func (f *Flow) complete(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *session.Session, realmName string, tok *oauth2.Token) error {
	info, err := f.client.UserInfo(ctx, realmName, tok.AccessToken)
	if err != nil {
		return err
	}
	u, err := f.SyncUser(ctx, realmName, info)
	if err != nil {
		return err
	}
	sess.SetTokenPair(realmName, tok.AccessToken, tok.RefreshToken)
	return f.sessions.Login(ctx, w, r, sess, u, realmName, Provider)
}

// SyncUser gets or creates the local user of info in realmName and copies
// the profile claims onto it, writing only when something changed.
func (f *Flow) SyncUser(ctx context.Context, realmName string, info *oidc.UserInfo) (*users.User, error) {
	if info.PreferredUsername == "" {
		return nil, fmt.Errorf("%w: missing preferred_username", ErrUserInfo)
	}
	u, err := f.users.GetOrCreate(ctx, realmName, info.PreferredUsername)
	if err != nil {
		return nil, err
	}
	err = f.users.UpdateProfile(ctx, u, users.Profile{
		FirstName: info.GivenName,
		LastName:  info.FamilyName,
		Email:     info.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return u, nil
}

// Refresh silently renews the session's IdP tokens before protected
// resources load. A failed refresh logs the session out.
func (f *Flow) Refresh(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := session.FromContext(ctx)
		if sess == nil || !sess.HasTokenPair() {
			next.ServeHTTP(w, r)
			return
		}

		tok, err := f.client.Refresh(ctx, sess.Realm, sess.RefreshToken)
		if err != nil {
			f.security.LogTokenRefresh(sess.Username, sess.Realm, false, err.Error())
			f.ForceLogout(ctx, w, sess, "refresh_failed")
			next.ServeHTTP(w, r.WithContext(auth.WithSessionExpired(ctx)))
			return
		}

		refresh := tok.RefreshToken
		if refresh == "" {
			refresh = sess.RefreshToken
		}
		if tok.AccessToken != sess.AccessToken || refresh != sess.RefreshToken {
			sess.SetTokenPair(sess.Realm, tok.AccessToken, refresh)
			if err := f.sessions.Manager().Save(ctx, w, sess); err != nil {
				logging.Ctx(ctx).Error().Err(err).Msg("Failed to save refreshed session")
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Logout ends the IdP session when the session holds a token pair, then
// clears the local session regardless of the outcome.
func (f *Flow) Logout(ctx context.Context, w http.ResponseWriter, sess *session.Session, reason string) {
	if sess.HasTokenPair() {
		if err := f.client.Logout(ctx, sess.Realm, sess.RefreshToken); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("realm", sess.Realm).Msg("Keycloak logout failed")
		}
	}
	f.sessions.Logout(ctx, w, sess, reason)
}

// ForceLogout logs the session out after an IdP or gateway failure.
func (f *Flow) ForceLogout(ctx context.Context, w http.ResponseWriter, sess *session.Session, reason string) {
	metrics.RecordForcedLogout(reason)
	f.Logout(ctx, w, sess, reason)
}

// LogoutRedirect returns where to send the browser after logout. A next
// page under gateway routing of a non-public realm goes to that realm's
// gateway logout endpoint.
func (f *Flow) LogoutRedirect(next string) string {
	u, err := url.Parse(next)
	if err != nil {
		return f.opts.LogoutRedirect
	}
	if p := f.resolver.GatewayRealm(u.Path); p != "" {
		return "/" + p + "/" + f.resolver.Deployment().GatewayServiceID + "/logout"
	}
	return f.opts.LogoutRedirect
}

// redirectURI is the absolute URL of the login view for r.
func (f *Flow) redirectURI(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(p, ",")[0]))
	}

	path := f.opts.LoginPath
	deploy := f.resolver.Deployment()
	if p := f.resolver.PathRealm(r.URL.Path); p != "" {
		path = "/" + p + "/" + deploy.GatewayServiceID + path
	}
	return scheme + "://" + r.Host + path
}

func newState() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("keycloak: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
