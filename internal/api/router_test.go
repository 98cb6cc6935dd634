// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/realmgate/internal/auth"
	"github.com/tomtom215/realmgate/internal/config"
	"github.com/tomtom215/realmgate/internal/httpclient"
	"github.com/tomtom215/realmgate/internal/keycloak/keycloaktest"
	"github.com/tomtom215/realmgate/internal/session"
	"github.com/tomtom215/realmgate/internal/storage"
	"github.com/tomtom215/realmgate/internal/users"
)

const serviceToken = "svc-secret"

// fakeApp is an external application: a token endpoint plus an echo of
// every other request.
type fakeApp struct {
	*httptest.Server

	refuse atomic.Bool

	mu   sync.Mutex
	last http.Header
	path string
}

func newFakeApp(t *testing.T) *fakeApp {
	t.Helper()
	a := &fakeApp{}
	a.Server = httptest.NewServer(http.HandlerFunc(a.serve))
	t.Cleanup(a.Close)
	return a
}

func (a *fakeApp) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/token" {
		a.token(w, r)
		return
	}
	a.mu.Lock()
	a.last = r.Header.Clone()
	a.path = r.URL.RequestURI()
	a.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"proxied":true}`)
}

func (a *fakeApp) token(w http.ResponseWriter, r *http.Request) {
	presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Token ")
	switch r.Method {
	case http.MethodHead, http.MethodGet:
		if presented == serviceToken || strings.HasPrefix(presented, "user-") {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	case http.MethodPost:
		if a.refuse.Load() || presented != serviceToken {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"token":"user-%s"}`, r.FormValue("username"))
	}
}

func (a *fakeApp) seen() (http.Header, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.path
}

type testEnv struct {
	server *httptest.Server
	app    *fakeApp
	idp    *keycloaktest.Server
	users  *users.Service
	cfg    *config.Config
}

type envOptions struct {
	keycloak bool
	gateway  bool
}

func testConfig(appURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			AppName:           "realmgate",
			Version:           "1.2.3",
			Revision:          "abc",
			CheckTokenURL:     "check-user-tokens",
			LoginRedirectURL:  "/",
			LogoutRedirectURL: "/logged-out",
		},
		Security: config.SecurityConfig{
			SessionCookieName: "realmgate_session",
			SessionTTL:        time.Hour,
			CORSOrigins:       []string{"*"},
			RateLimitDisabled: true,
		},
		Multitenancy: config.MultitenancyConfig{
			Enabled:      true,
			DefaultRealm: "eha",
			RealmCookie:  "eha-realm",
		},
		Keycloak: config.KeycloakConfig{
			ClientID:      "eha",
			TokenValidity: 5 * time.Minute,
			UserTokenTTL:  time.Minute,
			CacheSize:     100,
		},
		Gateway: config.GatewayConfig{
			HeaderToken: "X-Oauth-Token",
			PublicRealm: "-",
		},
		Apps: config.AppsConfig{
			Names:    []string{"kernel"},
			TokenURL: "token",
			Services: map[string]config.AppConfig{"kernel": {URL: appURL, Token: serviceToken}},
		},
		HTTPClient: config.HTTPClientConfig{
			Retries:        3,
			Timeout:        5 * time.Second,
			BreakerTrip:    100,
			BreakerTimeout: time.Second,
		},
	}
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	app := newFakeApp(t)
	cfg := testConfig(app.URL)
	env := &testEnv{app: app, cfg: cfg}

	if opts.keycloak {
		env.idp = keycloaktest.NewServer("r1")
		t.Cleanup(env.idp.Close)
		env.idp.AddUser("r1", keycloaktest.User{Username: "user", Password: "pw", GivenName: "A", FamilyName: "B", Email: "a@b.com"})
		cfg.Keycloak.ServerURL = env.idp.URL
	}
	if opts.gateway {
		cfg.Gateway.ServiceID = "svc"
	}

	db, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	deps, err := NewDependencies(cfg, db, session.NewMemoryStore(), httpclient.WithRetryWait(time.Millisecond))
	if err != nil {
		t.Fatalf("NewDependencies: %v", err)
	}
	env.users = deps.Users
	env.server = httptest.NewServer(NewRouter(deps).SetupChi())
	t.Cleanup(env.server.Close)
	return env
}

// client returns an HTTP client with a cookie jar that does not follow redirects.
func (e *testEnv) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (e *testEnv) addUser(t *testing.T, realmName, username, password string, staff bool) *users.User {
	t.Helper()
	u, err := e.users.Upsert(context.Background(), users.UpsertOptions{
		Realm:    realmName,
		Username: username,
		Password: password,
		Staff:    staff,
	})
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	return u
}

func do(t *testing.T, c *http.Client, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func (e *testEnv) get(t *testing.T, c *http.Client, path string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.server.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return do(t, c, req)
}

func (e *testEnv) postForm(t *testing.T, c *http.Client, path string, form url.Values, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header[k] = v
	}
	return do(t, c, req)
}

func basicAuth(username, password string) http.Header {
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth(username, password)
	return req.Header
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return v
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, envOptions{})
	c := env.client(t)

	tests := []struct {
		path string
		want int
	}{
		{path: "/health", want: http.StatusOK},
		{path: "/check-db", want: http.StatusOK},
		{path: "/check-app", want: http.StatusOK},
		{path: "/check-app/kernel", want: http.StatusOK},
		{path: "/check-app/unknown", want: http.StatusInternalServerError},
		{path: "/metrics", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, _ := env.get(t, c, tt.path, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Errorf("GET %s: missing X-Request-ID", tt.path)
			}
		})
	}

	_, body := env.get(t, c, "/check-app", nil)
	info := decode[AppInfo](t, body)
	if info != (AppInfo{Name: "realmgate", Version: "1.2.3", Revision: "abc"}) {
		t.Errorf("check-app = %+v", info)
	}
}

func TestLocalLoginAndToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, envOptions{})
	env.addUser(t, "eha", "alice", "secret", false)
	c := env.client(t)

	// anonymous
	resp, body := env.get(t, c, "/token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous GET /token = %d, want 401", resp.StatusCode)
	}
	if got := decode[errorBody](t, body).Error; got != "missing_credentials" {
		t.Errorf("error = %q, want missing_credentials", got)
	}

	// wrong password
	resp, body = env.postForm(t, c, "/login", url.Values{"realm": {"eha"}, "username": {"alice"}, "password": {"nope"}}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login = %d, want 401", resp.StatusCode)
	}
	if form := decode[LoginForm](t, body); form.Error != "Invalid username/password." || form.Provider != ProviderLocal {
		t.Errorf("bad login form = %+v", form)
	}

	// login
	resp, _ = env.postForm(t, c, "/login?next=/home", url.Values{"realm": {"eha"}, "username": {"alice"}, "password": {"secret"}}, nil)
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/home" {
		t.Fatalf("login = %d to %q, want 302 to /home", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, body = env.get(t, c, "/token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /token = %d: %s", resp.StatusCode, body)
	}
	if tok := decode[TokenResponse](t, body); tok.Token != nil {
		t.Errorf("token before creation = %q, want null", *tok.Token)
	}

	resp, body = env.postForm(t, c, "/token", url.Values{}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /token = %d: %s", resp.StatusCode, body)
	}
	created := decode[TokenResponse](t, body)
	if created.Token == nil || *created.Token == "" {
		t.Fatal("POST /token returned no token")
	}

	_, body = env.get(t, c, "/token", nil)
	if tok := decode[TokenResponse](t, body); tok.Token == nil || *tok.Token != *created.Token {
		t.Errorf("GET /token after creation = %v, want %q", tok.Token, *created.Token)
	}

	// the token authenticates without a session
	resp, _ = env.get(t, env.client(t), "/token", http.Header{"Authorization": {"Token " + *created.Token}})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("token auth = %d, want 200", resp.StatusCode)
	}

	// logout clears the session
	resp, _ = env.get(t, c, "/logout", nil)
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/logged-out" {
		t.Fatalf("logout = %d to %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	resp, _ = env.get(t, c, "/token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("GET /token after logout = %d, want 401", resp.StatusCode)
	}
}

func TestCreateToken_StaffForOtherUser(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, envOptions{})
	env.addUser(t, "eha", "admin", "secret", true)
	env.addUser(t, "eha", "bob", "secret", false)
	c := env.client(t)

	resp, body := env.postForm(t, c, "/token", url.Values{"username": {"carol"}}, basicAuth("admin", "secret"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("staff POST /token = %d: %s", resp.StatusCode, body)
	}
	tok := decode[TokenResponse](t, body)

	carol, err := env.users.GetByUsername(context.Background(), "eha__carol")
	if err != nil {
		t.Fatalf("carol was not created: %v", err)
	}
	if tok.Token == nil || carol.Token != *tok.Token {
		t.Errorf("token %v does not belong to carol (%q)", tok.Token, carol.Token)
	}

	// non-staff asking for another user gets its own token
	_, body = env.postForm(t, c, "/token", url.Values{"username": {"carol"}}, basicAuth("bob", "secret"))
	bobTok := decode[TokenResponse](t, body)
	bob, _ := env.users.GetByUsername(context.Background(), "eha__bob")
	if bobTok.Token == nil || *bobTok.Token != bob.Token {
		t.Errorf("non-staff got %v, want own token %q", bobTok.Token, bob.Token)
	}
}

func TestRealmIsolation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, envOptions{})
	env.addUser(t, "r2", "alice", "secret", false)
	c := env.client(t)

	header := basicAuth("r2__alice", "secret")
	header.Set("eha-realm", "eha")
	resp, body := env.get(t, c, "/token", header)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("cross-realm basic = %d, want 401", resp.StatusCode)
	}
	if got := decode[errorBody](t, body).Error; got != "invalid_realm" {
		t.Errorf("error = %q, want invalid_realm", got)
	}

	header.Set("eha-realm", "r2")
	resp, _ = env.get(t, c, "/token", header)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("same-realm basic = %d, want 200", resp.StatusCode)
	}
}

func TestProxy(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, envOptions{})
	env.addUser(t, "eha", "alice", "secret", false)
	c := env.client(t)

	header := basicAuth("alice", "secret")
	header.Set("X-Custom", "yes")
	resp, body := env.get(t, c, "/proxy/kernel/entities/1?page=2", header)
	if resp.StatusCode != http.StatusOK || string(body) != `{"proxied":true}` {
		t.Fatalf("proxy = %d %s", resp.StatusCode, body)
	}
	seen, path := env.app.seen()
	if path != "/entities/1?page=2" {
		t.Errorf("forwarded path = %q", path)
	}
	if got := seen.Get("Authorization"); got != "Token user-eha__alice" {
		t.Errorf("Authorization = %q, want app token", got)
	}
	if got := seen.Get("eha-realm"); got != "eha" {
		t.Errorf("realm header = %q, want eha", got)
	}
	if got := seen.Get("X-Custom"); got != "yes" {
		t.Errorf("X-Custom = %q, want forwarded", got)
	}

	resp, body = env.get(t, c, "/proxy/unknown/x", basicAuth("alice", "secret"))
	if resp.StatusCode != http.StatusBadRequest || decode[errorBody](t, body).Error != CodeConfigError {
		t.Errorf("unknown app = %d %s, want 400 config_error", resp.StatusCode, body)
	}

	env.app.refuse.Store(true)
	env.addUser(t, "eha", "bob", "secret", false)
	resp, body = env.get(t, c, "/proxy/kernel/x", basicAuth("bob", "secret"))
	if resp.StatusCode != http.StatusInternalServerError || decode[errorBody](t, body).Error != CodeNoToken {
		t.Errorf("refused token = %d %s, want 500 no_token", resp.StatusCode, body)
	}

	resp, _ = env.get(t, c, "/proxy/kernel/x", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous proxy = %d, want 401", resp.StatusCode)
	}
}

func TestCheckTokens(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, envOptions{})
	env.addUser(t, "eha", "alice", "secret", false)
	env.addUser(t, "eha", "bob", "secret", false)
	c := env.client(t)

	resp, body := env.get(t, c, "/check-tokens", basicAuth("alice", "secret"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check-tokens = %d %s", resp.StatusCode, body)
	}

	_, body = env.get(t, c, "/check-user-tokens", basicAuth("alice", "secret"))
	status := decode[UserTokensResponse](t, body)
	if len(status.Tokens) != 1 || status.Tokens[0].App != "kernel" || !status.Tokens[0].Valid {
		t.Errorf("check-user-tokens = %+v", status)
	}

	env.app.refuse.Store(true)
	resp, _ = env.get(t, c, "/check-tokens", basicAuth("bob", "secret"))
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("check-tokens without app token = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "/check-user-tokens?next=") {
		t.Errorf("Location = %q", loc)
	}
}

func TestPurgeCache_RequiresStaff(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, envOptions{})
	env.addUser(t, "eha", "alice", "secret", false)
	env.addUser(t, "eha", "admin", "secret", true)
	c := env.client(t)

	resp, _ := env.postForm(t, c, "/admin/purge-cache", url.Values{}, basicAuth("alice", "secret"))
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("non-staff purge = %d, want 403", resp.StatusCode)
	}
	resp, body := env.postForm(t, c, "/admin/purge-cache", url.Values{}, basicAuth("admin", "secret"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("staff purge = %d %s", resp.StatusCode, body)
	}
	if got := decode[PurgeCacheResponse](t, body); got.Purged != 0 {
		t.Errorf("purged = %d, want 0 without IdP", got.Purged)
	}
}

func (e *testEnv) send(t *testing.T, c *http.Client, method, path string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return do(t, c, req)
}

func TestRealmMembers_Admin(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, envOptions{})
	env.addUser(t, "eha", "alice", "secret", false)
	env.addUser(t, "eha", "admin", "secret", true)
	c := env.client(t)
	staff := basicAuth("admin", "secret")

	members := func(realmName string) []string {
		t.Helper()
		resp, body := env.get(t, c, "/admin/realms/"+realmName+"/users", staff)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list %s = %d %s", realmName, resp.StatusCode, body)
		}
		list := decode[RealmMembersResponse](t, body)
		names := make([]string, 0, len(list.Members))
		for _, m := range list.Members {
			names = append(names, m.Username)
		}
		return names
	}

	if got := members("r2"); len(got) != 0 {
		t.Fatalf("r2 members = %v, want none", got)
	}

	tests := []struct {
		name   string
		method string
		path   string
		header http.Header
		want   int
	}{
		{name: "non-staff", method: http.MethodPut, path: "/admin/realms/r2/users/eha__alice", header: basicAuth("alice", "secret"), want: http.StatusForbidden},
		{name: "anonymous", method: http.MethodPut, path: "/admin/realms/r2/users/eha__alice", want: http.StatusUnauthorized},
		{name: "unknown user", method: http.MethodPut, path: "/admin/realms/r2/users/eha__nobody", header: staff, want: http.StatusNotFound},
		{name: "add", method: http.MethodPut, path: "/admin/realms/r2/users/eha__alice", header: staff, want: http.StatusNoContent},
		{name: "add again", method: http.MethodPut, path: "/admin/realms/r2/users/eha__alice", header: staff, want: http.StatusNoContent},
	}
	for _, tt := range tests {
		resp, body := env.send(t, c, tt.method, tt.path, tt.header)
		if resp.StatusCode != tt.want {
			t.Errorf("%s: %s %s = %d %s, want %d", tt.name, tt.method, tt.path, resp.StatusCode, body, tt.want)
		}
	}

	if got := members("r2"); len(got) != 1 || got[0] != "eha__alice" {
		t.Errorf("r2 members after add = %v, want [eha__alice]", got)
	}

	resp, body := env.send(t, c, http.MethodDelete, "/admin/realms/r2/users/eha__alice", staff)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove = %d %s", resp.StatusCode, body)
	}
	if got := members("r2"); len(got) != 0 {
		t.Errorf("r2 members after remove = %v, want none", got)
	}
	if got := members("eha"); len(got) != 2 {
		t.Errorf("eha members = %v, want alice and admin", got)
	}
}

func TestListAppTokens(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, envOptions{})
	env.addUser(t, "eha", "alice", "secret", false)
	c := env.client(t)

	resp, body := env.get(t, c, "/app-tokens", basicAuth("alice", "secret"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("app-tokens = %d %s", resp.StatusCode, body)
	}
	if got := decode[AppTokensResponse](t, body); len(got.Tokens) != 0 {
		t.Errorf("tokens before proxy = %+v, want none", got.Tokens)
	}

	if resp, body = env.get(t, c, "/proxy/kernel/x", basicAuth("alice", "secret")); resp.StatusCode != http.StatusOK {
		t.Fatalf("proxy = %d %s", resp.StatusCode, body)
	}

	_, body = env.get(t, c, "/app-tokens", basicAuth("alice", "secret"))
	got := decode[AppTokensResponse](t, body)
	if len(got.Tokens) != 1 || got.Tokens[0].App != "kernel" || !got.Tokens[0].HasToken {
		t.Errorf("tokens after proxy = %+v", got.Tokens)
	}
	if strings.Contains(string(body), "user-eha__alice") {
		t.Errorf("app-tokens leaked the token value: %s", body)
	}

	resp, _ = env.get(t, c, "/app-tokens", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous app-tokens = %d, want 401", resp.StatusCode)
	}
}

func TestKeycloakLogin(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, envOptions{keycloak: true})
	c := env.client(t)

	resp, body := env.get(t, c, "/login", nil)
	form := decode[LoginForm](t, body)
	if resp.StatusCode != http.StatusOK || form.Provider != "keycloak" || form.Credentials {
		t.Errorf("login form = %d %+v", resp.StatusCode, form)
	}

	resp, body = env.postForm(t, c, "/login", url.Values{"realm": {"missing"}}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid realm = %d, want 400", resp.StatusCode)
	}
	if form := decode[LoginForm](t, body); form.Error != "Invalid realm" {
		t.Errorf("error = %q, want Invalid realm", form.Error)
	}

	resp, _ = env.postForm(t, c, "/login", url.Values{"realm": {"r1"}}, nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("realm login = %d, want 302", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(loc.String(), env.idp.URL+"/r1/protocol/openid-connect/auth") {
		t.Fatalf("Location = %q, want IdP auth endpoint", loc)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("authorization URL carries no state")
	}

	code := env.idp.IssueCode("r1", "user")
	resp, body = env.get(t, c, "/login?code="+code+"&session_state=s1&state="+state, nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("callback = %d %s, want 302", resp.StatusCode, body)
	}

	u, err := env.users.GetByUsername(context.Background(), "r1__user")
	if err != nil {
		t.Fatalf("user not synced: %v", err)
	}
	if u.FirstName != "A" || u.LastName != "B" || u.Email != "a@b.com" {
		t.Errorf("profile = %q %q %q", u.FirstName, u.LastName, u.Email)
	}

	resp, _ = env.get(t, c, "/token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /token after IdP login = %d, want 200", resp.StatusCode)
	}

	env.idp.RejectRefresh.Store(true)
	resp, body = env.get(t, c, "/token", nil)
	if resp.StatusCode != http.StatusForbidden || decode[errorBody](t, body).Error != auth.CodeSessionExpired {
		t.Errorf("GET /token on rejected refresh = %d %s, want 403 session_expired", resp.StatusCode, body)
	}
	resp, _ = env.get(t, c, "/token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("GET /token after forced logout = %d, want 401", resp.StatusCode)
	}
}

func TestKeycloakLogout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, envOptions{keycloak: true, gateway: true})
	c := env.client(t)

	resp, _ := env.get(t, c, "/logout?next=/r1/svc/app", nil)
	if loc := resp.Header.Get("Location"); loc != "/r1/svc/logout" {
		t.Errorf("gateway logout redirect = %q, want /r1/svc/logout", loc)
	}
	resp, _ = env.get(t, c, "/logout?next=/-/svc/app", nil)
	if loc := resp.Header.Get("Location"); loc != "/logged-out" {
		t.Errorf("public realm logout redirect = %q, want /logged-out", loc)
	}
}

func TestGatewayRequests(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, envOptions{keycloak: true, gateway: true})
	c := env.client(t)
	access, _ := env.idp.IssueTokens("r1", "user")
	header := http.Header{"X-Oauth-Token": {"Bearer " + access}}

	for i := 0; i < 2; i++ {
		resp, body := env.get(t, c, "/r1/svc/token", header)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("gateway GET /token #%d = %d %s", i, resp.StatusCode, body)
		}
	}
	if got := env.idp.UserInfoCalls.Load(); got != 1 {
		t.Errorf("userinfo calls = %d, want 1 within cache TTL", got)
	}

	resp, body := env.get(t, c, "/r1/svc/proxy/kernel/data", header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("gateway proxy = %d %s", resp.StatusCode, body)
	}
	seen, _ := env.app.seen()
	if got := seen.Get("Authorization"); got != "Token user-r1__user" {
		t.Errorf("Authorization = %q, want app token of r1__user", got)
	}
	if got := seen.Get("X-Oauth-Token"); got != "Bearer "+access {
		t.Errorf("gateway header = %q, want forwarded", got)
	}
	if got := seen.Get("eha-realm"); got != "r1" {
		t.Errorf("realm header = %q, want r1", got)
	}

	// dropping the gateway token ends the gateway session
	resp, _ = env.get(t, c, "/r1/svc/token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("gateway request without token = %d, want 401", resp.StatusCode)
	}
}
