// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package httpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/realmgate/internal/config"
)

func testConfig() config.HTTPClientConfig {
	return config.HTTPClientConfig{
		Retries:        3,
		Timeout:        5 * time.Second,
		BreakerTrip:    100,
		BreakerTimeout: time.Minute,
	}
}

// flakyTransport fails the first n round trips with a connection reset.
type flakyTransport struct {
	failures int32
	calls    atomic.Int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return nil, &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
	}
	return f.next.RoundTrip(req)
}

func TestClient_DoesNotRetryErrorResponses(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(testConfig(), WithRetryWait(time.Millisecond))
	resp, err := c.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1", calls.Load())
	}
}

func TestClient_RetriesTransportErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	ft := &flakyTransport{failures: 2, next: http.DefaultTransport}
	c := New(testConfig(), WithRetryWait(time.Millisecond), WithTransport(ft))

	resp, err := c.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}
	if ft.calls.Load() != 3 {
		t.Errorf("round trips = %d, want 3", ft.calls.Load())
	}
}

func TestClient_GivesUpAfterBound(t *testing.T) {
	t.Parallel()

	ft := &flakyTransport{failures: 100, next: http.DefaultTransport}
	cfg := testConfig()
	cfg.Retries = 4
	c := New(cfg, WithRetryWait(time.Millisecond), WithTransport(ft))

	_, err := c.Get(context.Background(), "http://app.invalid/token", nil)
	var tne *TransientNetworkError
	if !errors.As(err, &tne) {
		t.Fatalf("err = %v, want TransientNetworkError", err)
	}
	if tne.Attempts != 4 || ft.calls.Load() != 4 {
		t.Errorf("attempts = %d, round trips = %d, want 4", tne.Attempts, ft.calls.Load())
	}
	if tne.Host != "app.invalid" {
		t.Errorf("host = %q", tne.Host)
	}
	if !IsUnavailable(err) {
		t.Error("IsUnavailable should be true")
	}
}

func TestClient_CircuitOpens(t *testing.T) {
	t.Parallel()

	ft := &flakyTransport{failures: 100, next: http.DefaultTransport}
	cfg := testConfig()
	cfg.BreakerTrip = 2
	c := New(cfg, WithRetryWait(time.Millisecond), WithTransport(ft))

	ctx := context.Background()
	for range 2 {
		if _, err := c.Get(ctx, "http://down.invalid/", nil); err == nil {
			t.Fatal("expected failure")
		}
	}
	before := ft.calls.Load()

	_, err := c.Get(ctx, "http://down.invalid/", nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if ft.calls.Load() != before {
		t.Error("open circuit must not reach the transport")
	}

	// other hosts are unaffected
	_, err = c.Get(ctx, "http://other.invalid/", nil)
	if errors.Is(err, ErrCircuitOpen) {
		t.Error("breaker must be per host")
	}
}

func TestClient_PostFormAndHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token svc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("username") != "eha__alice" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, "created")
	}))
	defer srv.Close()

	c := New(testConfig())
	h := http.Header{"Authorization": {"Token svc"}}
	resp, err := c.PostForm(context.Background(), srv.URL, url.Values{"username": {"eha__alice"}}, h)
	if err != nil {
		t.Fatalf("PostForm: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if h.Get("Content-Type") != "" {
		t.Error("PostForm must not mutate the caller's header")
	}
}

func TestClient_StandardClient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	ft := &flakyTransport{failures: 1, next: http.DefaultTransport}
	hc := New(testConfig(), WithRetryWait(time.Millisecond), WithTransport(ft)).StandardClient()

	resp, err := hc.Post(srv.URL, "text/plain", strings.NewReader("echo"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "echo" {
		t.Errorf("body = %q, want echo (body must be replayed on retry)", body)
	}
}

func TestClient_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(testConfig())
	_, err := c.Get(ctx, "http://app.invalid/", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
