// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package realm

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/realmgate/internal/config"
	"github.com/tomtom215/realmgate/internal/session"
)

func testDeployment() config.DeploymentConfig {
	return config.DeploymentConfig{
		Multitenancy:     true,
		DefaultRealm:     "eha",
		RealmKey:         "eha-realm",
		GatewayServiceID: "ui",
		PublicRealm:      "-",
	}
}

func TestResolver_Current(t *testing.T) {
	t.Parallel()

	withSession := func(r *http.Request, realm string) *http.Request {
		s := session.New(time.Hour)
		s.Realm = realm
		return r.WithContext(session.NewContext(r.Context(), s))
	}

	tests := []struct {
		name  string
		build func() *http.Request
		want  string
	}{
		{
			name:  "nothing set falls back to default",
			build: func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/x", nil) },
			want:  "eha",
		},
		{
			name: "header wins over cookie and session",
			build: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/api/x", nil)
				r.Header.Set("eha-realm", "from-header")
				r.AddCookie(&http.Cookie{Name: "eha-realm", Value: "from-cookie"})
				return withSession(r, "from-session")
			},
			want: "from-header",
		},
		{
			name: "cookie wins over session",
			build: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/api/x", nil)
				r.AddCookie(&http.Cookie{Name: "eha-realm", Value: "from-cookie"})
				return withSession(r, "from-session")
			},
			want: "from-cookie",
		},
		{
			name: "session used last",
			build: func() *http.Request {
				return withSession(httptest.NewRequest(http.MethodGet, "/api/x", nil), "from-session")
			},
			want: "from-session",
		},
		{
			name: "gateway path wins over header",
			build: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/tenant/ui/api/x", nil)
				r.Header.Set("eha-realm", "from-header")
				return r
			},
			want: "tenant",
		},
		{
			name: "public realm path falls through",
			build: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/-/ui/api/x", nil)
				r.Header.Set("eha-realm", "from-header")
				return r
			},
			want: "from-header",
		},
		{
			name:  "path for another service is ignored",
			build: func() *http.Request { return httptest.NewRequest(http.MethodGet, "/tenant/other/x", nil) },
			want:  "eha",
		},
	}

	r := NewResolver(testDeployment())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := r.Current(tt.build()); got != tt.want {
				t.Errorf("Current() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolver_NilRequest(t *testing.T) {
	t.Parallel()

	if got := NewResolver(testDeployment()).Current(nil); got != "eha" {
		t.Errorf("Current(nil) = %q, want eha", got)
	}

	d := testDeployment()
	d.Multitenancy = false
	if got := NewResolver(d).Current(nil); got != "" {
		t.Errorf("Current(nil) without multitenancy = %q, want empty", got)
	}
}

func TestResolver_MultitenancyDisabled(t *testing.T) {
	t.Parallel()

	d := testDeployment()
	d.Multitenancy = false
	req := httptest.NewRequest(http.MethodGet, "/tenant/ui/x", nil)
	req.Header.Set("eha-realm", "h")
	if got := NewResolver(d).Current(req); got != "" {
		t.Errorf("Current() = %q, want empty", got)
	}
}

func TestResolver_GatewayDisabledIgnoresPath(t *testing.T) {
	t.Parallel()

	d := testDeployment()
	d.GatewayServiceID = ""
	req := httptest.NewRequest(http.MethodGet, "/tenant/ui/x", nil)
	if got := NewResolver(d).Current(req); got != "eha" {
		t.Errorf("Current() = %q, want eha", got)
	}
}

func TestPathRealm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"/tenant/ui/", "tenant"},
		{"/tenant/ui", "tenant"},
		{"/tenant/ui/a/b", "tenant"},
		{"tenant/ui/a", "tenant"},
		{"/ui/tenant/a", ""},
		{"/tenant", ""},
		{"/", ""},
		{"//ui/a", ""},
	}
	for _, tt := range tests {
		if got := PathRealm(tt.path, "ui"); got != tt.want {
			t.Errorf("PathRealm(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
	if got := PathRealm("/tenant/ui", ""); got != "" {
		t.Errorf("PathRealm with empty service = %q, want empty", got)
	}
}

func TestResolver_InGateway(t *testing.T) {
	t.Parallel()

	r := NewResolver(testDeployment())
	if !r.InGateway(httptest.NewRequest(http.MethodGet, "/tenant/ui/x", nil)) {
		t.Error("expected gateway request")
	}
	if r.InGateway(httptest.NewRequest(http.MethodGet, "/-/ui/x", nil)) {
		t.Error("public realm path must not count as gateway")
	}
	if r.InGateway(nil) {
		t.Error("nil request must not count as gateway")
	}
}
