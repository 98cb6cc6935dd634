// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/tomtom215/realmgate/internal/config"
	"github.com/tomtom215/realmgate/internal/httpclient"
	"github.com/tomtom215/realmgate/internal/storage"
	"github.com/tomtom215/realmgate/internal/users"
)

func TestCreateUser_Upserts(t *testing.T) {
	t.Parallel()

	db, err := storage.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	deploy := config.DeploymentConfig{Multitenancy: true, DefaultRealm: "eha", RealmKey: "eha-realm"}
	svc, err := users.NewService(users.NewBadgerStore(db), deploy)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := createUser(ctx, svc, createUserOptions{username: "alice", password: "pw"}); err == nil {
		t.Fatal("create-user without realm must fail under multitenancy")
	}

	u, err := createUser(ctx, svc, createUserOptions{username: "alice", password: "pw", realm: "r1", token: "tok-1"})
	if err != nil {
		t.Fatalf("createUser() error = %v", err)
	}
	if u.Username != "r1__alice" || !u.InRealmGroup("r1") {
		t.Errorf("user = %q realms %v", u.Username, u.Realms)
	}

	// a second run updates password and token
	if _, err := createUser(ctx, svc, createUserOptions{username: "alice", password: "pw2", realm: "r1", token: "tok-2", staff: true}); err != nil {
		t.Fatalf("second createUser() error = %v", err)
	}
	if _, err := svc.CheckPassword(ctx, "r1__alice", "pw2"); err != nil {
		t.Errorf("updated password rejected: %v", err)
	}
	got, err := svc.GetByToken(ctx, "tok-2")
	if err != nil || got.ID != u.ID || !got.IsStaff {
		t.Errorf("GetByToken(tok-2) = %+v, %v", got, err)
	}
}

func TestCheckApps(t *testing.T) {
	t.Parallel()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Token secret" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(up.Close)

	cfg := &config.Config{
		Apps: config.AppsConfig{
			Names:    []string{"kernel", "odk"},
			TokenURL: "token",
			Services: map[string]config.AppConfig{
				"kernel": {URL: up.URL, Token: "secret"},
				"odk":    {URL: up.URL, Token: "wrong"},
			},
		},
		HTTPClient: config.HTTPClientConfig{Retries: 3, Timeout: time.Second, BreakerTrip: 100, BreakerTimeout: time.Second},
	}

	tests := []struct {
		name  string
		names []string
		want  []string
	}{
		{name: "all registered", names: nil, want: []string{"odk"}},
		{name: "named", names: []string{"kernel"}, want: nil},
		{name: "unknown", names: []string{"kernel", "missing"}, want: []string{"missing"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			failed := checkApps(context.Background(), cfg, tt.names, httpclient.WithRetryWait(time.Millisecond))
			if !slices.Equal(failed, tt.want) {
				t.Errorf("checkApps(%v) failed = %v, want %v", tt.names, failed, tt.want)
			}
		})
	}
}
