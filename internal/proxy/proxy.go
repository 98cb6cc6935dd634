// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

// Package proxy forwards authenticated requests to registered external
// applications, authenticating as the caller with a per-user app token.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/realmgate/internal/apptoken"
	"github.com/tomtom215/realmgate/internal/httpclient"
	"github.com/tomtom215/realmgate/internal/logging"
	"github.com/tomtom215/realmgate/internal/metrics"
	"github.com/tomtom215/realmgate/internal/realm"
	"github.com/tomtom215/realmgate/internal/users"
)

// maxBody bounds the request body buffered for retries.
const maxBody = 32 << 20

// ConfigError is returned for an app name that is not registered.
type ConfigError struct {
	App string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%q app is not recognized.", e.App)
}

func (e *ConfigError) Unwrap() error {
	return apptoken.ErrAppNotRegistered
}

// NoTokenError is returned when no app token could be established for the user.
type NoTokenError struct {
	User string
	App  string
}

func (e *NoTokenError) Error() string {
	return fmt.Sprintf("User %q cannot connect to app %q", e.User, e.App)
}

func (e *NoTokenError) Unwrap() error {
	return apptoken.ErrTokenUnavailable
}

// Proxy forwards requests to external applications.
type Proxy struct {
	tokens   *apptoken.Manager
	client   *httpclient.Client
	resolver *realm.Resolver
}

// New creates a proxy.
func New(tokens *apptoken.Manager, client *httpclient.Client, resolver *realm.Resolver) *Proxy {
	return &Proxy{tokens: tokens, client: client, resolver: resolver}
}

// NeedsToken reports whether requests to r must carry the caller's app
// token. Only public-realm traffic in gateway mode goes without one.
func (p *Proxy) NeedsToken(r *http.Request) bool {
	return !p.resolver.Deployment().GatewayEnabled() || p.resolver.InGateway(r)
}

// Forward sends r to path of app as user and returns the app's response.
// The caller must close the response body.
func (p *Proxy) Forward(r *http.Request, app, path string, user *users.User) (*http.Response, error) {
	ctx := r.Context()
	registry := p.tokens.Registry()
	if !registry.Has(app) {
		err := &ConfigError{App: app}
		logging.Ctx(ctx).Error().Str("app", app).Msg(err.Error())
		return nil, err
	}

	header := ForwardHeaders(r.Header)
	deploy := p.resolver.Deployment()
	if deploy.Multitenancy {
		header.Set(deploy.RealmKey, p.resolver.Current(r))
	}

	if p.NeedsToken(r) {
		token, err := p.tokens.GetOrCreateToken(ctx, user.ID, user.Username, app)
		if err != nil {
			if errors.Is(err, apptoken.ErrTokenUnavailable) {
				err = &NoTokenError{User: user.Username, App: app}
				logging.Ctx(ctx).Error().Str("app", app).Msg(err.Error())
			}
			return nil, err
		}
		header.Set("Authorization", "Token "+token)
	}

	target, err := p.TargetURL(r, app, path)
	if err != nil {
		return nil, err
	}

	body, err := readBody(r)
	if err != nil {
		return nil, err
	}

	method := Method(r)
	logging.Ctx(ctx).Debug().Str("method", method).Str("url", target).Msg("Proxying request")
	return p.client.Send(ctx, method, target, body, header)
}

// Serve forwards r and writes the translated response to w.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request, app, path string, user *users.User) error {
	start := time.Now()
	resp, err := p.Forward(r, app, path, user)
	if err != nil {
		metrics.RecordProxyRequest(app, Method(r), "error", time.Since(start))
		return err
	}
	defer resp.Body.Close()

	WriteResponse(w, resp)
	metrics.RecordProxyRequest(app, Method(r), strconv.Itoa(resp.StatusCode), time.Since(start))
	return nil
}

// TargetURL builds the app URL for path, keeping r's query string.
func (p *Proxy) TargetURL(r *http.Request, app, path string) (string, error) {
	base, err := p.tokens.Registry().BaseURL(app, p.resolver.PathRealm(r.URL.Path))
	if err != nil {
		return "", &ConfigError{App: app}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := base + path
	if q := r.URL.RawQuery; q != "" {
		target += "?" + q
	}
	return target, nil
}

// Method returns the method to forward. A PUT carrying "X-Method: POST" is
// sent as POST; every other X-Method value is ignored.
func Method(r *http.Request) string {
	if r.Method == http.MethodPut && strings.EqualFold(r.Header.Get("X-Method"), http.MethodPost) {
		return http.MethodPost
	}
	return r.Method
}

// ForwardHeaders filters the inbound headers down to the ones that may be
// forwarded: Content-Type, CSRF_* request metadata except CSRF_COOKIE_USED,
// and every HTTP_* header except Host. Accept-Encoding is dropped so the
// outbound transport negotiates compression itself.
func ForwardHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for name, values := range in {
		meta := realm.MetaName(name)
		if !forwardable(meta) {
			continue
		}
		canonical := http.CanonicalHeaderKey(realm.HeaderName(meta))
		for _, v := range values {
			out.Add(canonical, v)
		}
	}
	return out
}

func forwardable(meta string) bool {
	switch {
	case meta == "CONTENT_TYPE":
		return true
	case strings.HasPrefix(meta, "CSRF_"):
		return meta != "CSRF_COOKIE_USED"
	case strings.HasPrefix(meta, "HTTP_"):
		return meta != "HTTP_HOST" && meta != "HTTP_ACCEPT_ENCODING"
	default:
		return false
	}
}

// WriteResponse copies resp to w. A 204 yields an empty 204. Otherwise the
// status, Content-Type and body are copied along with every header the app
// lists in Access-Control-Expose-Headers ("*" exposes all of them).
func WriteResponse(w http.ResponseWriter, resp *http.Response) {
	if resp.StatusCode == http.StatusNoContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h := w.Header()
	for _, name := range ExposedHeaders(resp.Header) {
		h[name] = append([]string(nil), resp.Header.Values(name)...)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		h.Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn().Err(err).Msg("Proxy response copy interrupted")
	}
}

// ExposedHeaders returns the canonical names of the response headers listed
// in Access-Control-Expose-Headers that are present in h.
func ExposedHeaders(h http.Header) []string {
	value := strings.TrimSpace(h.Get("Access-Control-Expose-Headers"))
	if value == "" {
		return nil
	}

	var names []string
	if value == "*" {
		for name := range h {
			names = append(names, name)
		}
		return names
	}
	for _, part := range strings.Split(value, ",") {
		name := http.CanonicalHeaderKey(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if _, ok := h[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

func readBody(r *http.Request) (io.Reader, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if len(b) > maxBody {
		return nil, errors.New("request body too large")
	}
	if len(b) == 0 {
		return nil, nil
	}
	return bytes.NewReader(b), nil
}
