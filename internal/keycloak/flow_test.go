// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package keycloak

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/tomtom215/realmgate/internal/auth"
	"github.com/tomtom215/realmgate/internal/config"
	"github.com/tomtom215/realmgate/internal/httpclient"
	"github.com/tomtom215/realmgate/internal/keycloak/keycloaktest"
	"github.com/tomtom215/realmgate/internal/realm"
	"github.com/tomtom215/realmgate/internal/session"
	"github.com/tomtom215/realmgate/internal/storage"
	"github.com/tomtom215/realmgate/internal/users"
)

type harness struct {
	idp      *keycloaktest.Server
	flow     *Flow
	users    *users.Service
	sessions *session.Manager
}

func newHarness(t *testing.T, behindScenes bool, deploy config.DeploymentConfig) *harness {
	t.Helper()

	idp := keycloaktest.NewServer("r1")
	t.Cleanup(idp.Close)
	idp.AddUser("r1", keycloaktest.User{
		Username:   "user",
		Password:   "pw",
		GivenName:  "A",
		FamilyName: "B",
		Email:      "a@b.com",
	})

	db, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	svc, err := users.NewService(users.NewBadgerStore(db), deploy)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	manager := session.NewManager(session.NewMemoryStore(), session.DefaultCookieConfig(), time.Hour)
	hc := httpclient.New(config.HTTPClientConfig{Retries: 3, Timeout: 5 * time.Second}, httpclient.WithRetryWait(time.Millisecond))
	client := NewClient(config.KeycloakConfig{
		ServerURL:    idp.URL,
		ClientID:     "eha",
		BehindScenes: behindScenes,
		UserTokenTTL: time.Minute,
		CacheSize:    100,
	}, hc)

	flow := NewFlow(client, svc, auth.NewSessions(manager, svc, deploy), realm.NewResolver(deploy), FlowOptions{
		LoginPath:      "/accounts/login",
		LogoutRedirect: "/accounts/logged-out",
	})
	return &harness{idp: idp, flow: flow, users: svc, sessions: manager}
}

func defaultDeploy() config.DeploymentConfig {
	return config.DeploymentConfig{
		Multitenancy: true,
		DefaultRealm: "eha",
		RealmKey:     "eha-realm",
		PublicRealm:  "-",
	}
}

func withSession(r *http.Request, s *session.Session) *http.Request {
	return r.WithContext(session.NewContext(r.Context(), s))
}

func TestCheckRealm(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false, defaultDeploy())
	ctx := context.Background()

	if err := h.flow.Client().CheckRealm(ctx, "r1"); err != nil {
		t.Errorf("CheckRealm(r1): %v", err)
	}
	if err := h.flow.Client().CheckRealm(ctx, "nope"); !errors.Is(err, ErrRealmNotFound) {
		t.Errorf("CheckRealm(nope) = %v, want ErrRealmNotFound", err)
	}
}

func TestStart_InvalidRealm(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, defaultDeploy())
	sess := session.New(time.Hour)
	r := withSession(httptest.NewRequest(http.MethodPost, "/accounts/login", nil), sess)

	_, err := h.flow.Start(r.Context(), httptest.NewRecorder(), r, LoginRequest{Realm: "nope", Username: "user", Password: "pw"})
	if !errors.Is(err, ErrInvalidRealm) {
		t.Fatalf("err = %v, want ErrInvalidRealm", err)
	}
	if UserMessage(err) != "Invalid realm" {
		t.Errorf("UserMessage = %q", UserMessage(err))
	}
	if sess.Realm != "" || sess.AccessToken != "" || sess.RefreshToken != "" {
		t.Errorf("session modified after invalid realm: %+v", sess)
	}
	if h.idp.TokenCalls.Load() != 0 {
		t.Error("token endpoint called for invalid realm")
	}
}

func TestStart_BehindScenes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, defaultDeploy())
	sess := session.New(time.Hour)
	r := withSession(httptest.NewRequest(http.MethodPost, "/accounts/login", nil), sess)
	w := httptest.NewRecorder()

	redirect, err := h.flow.Start(r.Context(), w, r, LoginRequest{Realm: "r1", Username: "user", Password: "pw"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if redirect != "" {
		t.Errorf("redirect = %q, want none", redirect)
	}

	u, err := h.users.GetByUsername(context.Background(), "r1__user")
	if err != nil {
		t.Fatalf("local user not created: %v", err)
	}
	if u.FirstName != "A" || u.LastName != "B" || u.Email != "a@b.com" {
		t.Errorf("profile = %q %q %q", u.FirstName, u.LastName, u.Email)
	}
	if !u.InRealmGroup("r1") {
		t.Error("user not in realm group")
	}
	if sess.UserID != u.ID || !sess.HasTokenPair() || sess.Realm != "r1" {
		t.Errorf("session not logged in: %+v", sess)
	}
	if len(w.Result().Cookies()) == 0 {
		t.Error("session cookie not set")
	}
}

func TestStart_BehindScenesBadPassword(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, defaultDeploy())
	sess := session.New(time.Hour)
	r := withSession(httptest.NewRequest(http.MethodPost, "/accounts/login", nil), sess)

	_, err := h.flow.Start(r.Context(), httptest.NewRecorder(), r, LoginRequest{Realm: "r1", Username: "user", Password: "bad"})
	if !errors.Is(err, ErrInvalidLogin) {
		t.Fatalf("err = %v, want ErrInvalidLogin", err)
	}
	if sess.IsAuthenticated() || sess.HasTokenPair() {
		t.Errorf("session logged in after bad password: %+v", sess)
	}
}

func TestStart_Redirect(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false, defaultDeploy())
	sess := session.New(time.Hour)
	r := withSession(httptest.NewRequest(http.MethodPost, "http://gw.example/accounts/login", nil), sess)

	redirect, err := h.flow.Start(r.Context(), httptest.NewRecorder(), r, LoginRequest{Realm: "r1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if u.Path != "/r1/protocol/openid-connect/auth" {
		t.Errorf("path = %q", u.Path)
	}
	q := u.Query()
	checks := map[string]string{
		"client_id":     "eha",
		"scope":         "openid",
		"response_type": "code",
		"redirect_uri":  "http://gw.example/accounts/login",
		"state":         sess.OAuthState,
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if sess.Realm != "r1" || sess.OAuthState == "" {
		t.Errorf("session realm/state not stored: %+v", sess)
	}
}

func TestCallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false, defaultDeploy())
	sess := session.New(time.Hour)
	sess.Realm = "r1"
	sess.OAuthState = "xyz"

	code := h.idp.IssueCode("r1", "user")
	target := "http://gw.example/accounts/login?code=" + code + "&session_state=ss-1&state=xyz"
	r := withSession(httptest.NewRequest(http.MethodGet, target, nil), sess)
	if !IsCallback(r) {
		t.Fatal("IsCallback = false")
	}

	if err := h.flow.Callback(r.Context(), httptest.NewRecorder(), r); err != nil {
		t.Fatalf("Callback: %v", err)
	}
	if !sess.IsAuthenticated() || !sess.HasTokenPair() {
		t.Errorf("session not logged in: %+v", sess)
	}
	if got := h.idp.LastTokenForm("client_session_state"); got != "ss-1" {
		t.Errorf("client_session_state = %q", got)
	}
	if got := h.idp.LastTokenForm("client_session_host"); got != "http://gw.example/accounts/login" {
		t.Errorf("client_session_host = %q", got)
	}
}

func TestCallback_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		query       string
		storedState string
	}{
		{"bad code", "code=bogus&session_state=ss&state=xyz", "xyz"},
		{"state mismatch", "code=CODE&session_state=ss&state=other", "xyz"},
		{"missing state", "code=CODE&session_state=ss", "xyz"},
		{"missing session state", "code=CODE&state=xyz", "xyz"},
		{"no login started", "code=CODE&session_state=ss", ""},
		{"no login started with state", "code=CODE&session_state=ss&state=", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, false, defaultDeploy())
			sess := session.New(time.Hour)
			sess.Realm = "r1"
			sess.OAuthState = tt.storedState

			code := h.idp.IssueCode("r1", "user")
			query := tt.query
			if len(query) >= 9 && query[:9] == "code=CODE" {
				query = "code=" + code + query[9:]
			}
			r := withSession(httptest.NewRequest(http.MethodGet, "/accounts/login?"+query, nil), sess)

			err := h.flow.Callback(r.Context(), httptest.NewRecorder(), r)
			if !errors.Is(err, ErrCallback) {
				t.Fatalf("err = %v, want ErrCallback", err)
			}
			if UserMessage(err) != "An error ocurred while authenticating against keycloak" {
				t.Errorf("UserMessage = %q", UserMessage(err))
			}
			if sess.Realm != "" || sess.IsAuthenticated() {
				t.Errorf("session not reset: %+v", sess)
			}
		})
	}
}

func loggedInSession(t *testing.T, h *harness) *session.Session {
	t.Helper()
	sess := session.New(time.Hour)
	r := withSession(httptest.NewRequest(http.MethodPost, "/accounts/login", nil), sess)
	if _, err := h.flow.Start(r.Context(), httptest.NewRecorder(), r, LoginRequest{Realm: "r1", Username: "user", Password: "pw"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return sess
}

func TestRefresh_RenewsTokens(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, defaultDeploy())
	sess := loggedInSession(t, h)
	oldAccess := sess.AccessToken

	called := false
	handler := h.flow.Refresh(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	r := withSession(httptest.NewRequest(http.MethodGet, "/", nil), sess)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !called {
		t.Fatal("next handler not called")
	}
	if sess.AccessToken == oldAccess {
		t.Error("access token not renewed")
	}
	if !sess.IsAuthenticated() {
		t.Error("session logged out after successful refresh")
	}
}

func TestRefresh_CachedPerToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, defaultDeploy())
	sess := loggedInSession(t, h)
	refresh := sess.RefreshToken

	handler := h.flow.Refresh(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	for i := 0; i < 3; i++ {
		clone := *sess
		clone.RefreshToken = refresh
		r := withSession(httptest.NewRequest(http.MethodGet, "/", nil), &clone)
		handler.ServeHTTP(httptest.NewRecorder(), r)
	}
	if got := h.idp.RefreshCalls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
}

func TestRefresh_FailureLogsOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, defaultDeploy())
	sess := loggedInSession(t, h)
	h.idp.RejectRefresh.Store(true)

	expired := false
	handler := h.flow.Refresh(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		expired = auth.SessionExpired(r.Context())
	}))
	r := withSession(httptest.NewRequest(http.MethodGet, "/", nil), sess)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !expired {
		t.Error("request not marked as expired")
	}
	if sess.IsAuthenticated() || sess.Realm != "" || sess.AccessToken != "" || sess.RefreshToken != "" {
		t.Errorf("session not cleared: %+v", sess)
	}
	if h.idp.LogoutCalls.Load() != 1 {
		t.Errorf("logout calls = %d, want 1", h.idp.LogoutCalls.Load())
	}
}

func TestLogout_WithoutTokens(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, defaultDeploy())
	sess := session.New(time.Hour)
	sess.UserID = "u1"

	h.flow.Logout(context.Background(), httptest.NewRecorder(), sess, "user")
	if sess.IsAuthenticated() {
		t.Error("session still authenticated")
	}
	if h.idp.LogoutCalls.Load() != 0 {
		t.Error("IdP logout called without a token pair")
	}
}

func TestLogoutRedirect(t *testing.T) {
	t.Parallel()

	deploy := defaultDeploy()
	deploy.GatewayServiceID = "svc"
	h := newHarness(t, true, deploy)

	tests := []struct {
		next string
		want string
	}{
		{"/r1/svc/app/", "/r1/svc/logout"},
		{"/r1/svc?x=1", "/r1/svc/logout"},
		{"/r1/svc/app/?page=/-/svc/", "/r1/svc/logout"},
		{"/-/svc/app/", "/accounts/logged-out"},
		{"/-/svc?next=/r1/svc/", "/accounts/logged-out"},
		{"/app/", "/accounts/logged-out"},
		{"", "/accounts/logged-out"},
	}
	for _, tt := range tests {
		if got := h.flow.LogoutRedirect(tt.next); got != tt.want {
			t.Errorf("LogoutRedirect(%q) = %q, want %q", tt.next, got, tt.want)
		}
	}
}

func TestSyncUser_Idempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true, defaultDeploy())
	ctx := context.Background()
	info := &oidc.UserInfo{
		UserInfoProfile: oidc.UserInfoProfile{PreferredUsername: "bob", GivenName: "Bo", FamilyName: "B"},
		UserInfoEmail:   oidc.UserInfoEmail{Email: "bo@b.com"},
	}

	first, err := h.flow.SyncUser(ctx, "r1", info)
	if err != nil {
		t.Fatalf("SyncUser: %v", err)
	}
	second, err := h.flow.SyncUser(ctx, "r1", info)
	if err != nil {
		t.Fatalf("SyncUser again: %v", err)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("unchanged user info rewrote the user")
	}

	if _, err := h.flow.SyncUser(ctx, "r1", &oidc.UserInfo{}); !errors.Is(err, ErrUserInfo) {
		t.Errorf("missing username err = %v, want ErrUserInfo", err)
	}
}
