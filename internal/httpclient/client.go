// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

// Package httpclient provides the outbound HTTP client shared by the IdP
// client, the app token manager and the proxy.
//
// Requests are retried on transport failures only (connection reset,
// premature close, dial errors) with linear backoff: the n-th retry waits
// n times the base wait. Well-formed responses of any status are returned
// as-is. Each target host has its own circuit breaker so an unreachable
// application fails fast instead of tying up request workers.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/realmgate/internal/config"
	"github.com/tomtom215/realmgate/internal/logging"
	"github.com/tomtom215/realmgate/internal/metrics"
)

// ErrCircuitOpen is returned when the target host's circuit breaker rejects the call.
var ErrCircuitOpen = errors.New("upstream circuit open")

// TransientNetworkError reports a transport failure that persisted through every attempt.
type TransientNetworkError struct {
	Method   string
	Host     string
	Attempts int
	Err      error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Method, e.Host, e.Attempts, e.Err)
}

func (e *TransientNetworkError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err means the upstream could not be reached.
func IsUnavailable(err error) bool {
	var tne *TransientNetworkError
	return errors.As(err, &tne) || errors.Is(err, ErrCircuitOpen)
}

// Option configures a Client.
type Option func(*Client)

// WithRetryWait sets the base linear backoff step. Defaults to one second.
func WithRetryWait(d time.Duration) Option {
	return func(c *Client) {
		c.retry.RetryWaitMin = d
		c.retry.RetryWaitMax = d
	}
}

// WithTransport replaces the underlying transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.retry.HTTPClient.Transport = rt
	}
}

// Client is a retrying, circuit-breaking HTTP client. Safe for concurrent use.
type Client struct {
	retry *retryablehttp.Client

	breakerTrip    uint32
	breakerTimeout time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// New creates a client from the outbound HTTP policy.
func New(cfg config.HTTPClientConfig, opts ...Option) *Client {
	attempts := cfg.Retries
	if attempts < config.MinRequestRetries {
		attempts = config.MinRequestRetries
	}

	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = cfg.Timeout

	c := &Client{
		retry: &retryablehttp.Client{
			HTTPClient:     hc,
			Logger:         logging.NewComponentSlogLogger("httpclient"),
			RetryWaitMin:   time.Second,
			RetryWaitMax:   time.Second,
			RetryMax:       attempts - 1,
			CheckRetry:     transportOnlyRetryPolicy,
			Backoff:        retryablehttp.LinearJitterBackoff,
			ErrorHandler:   giveUpHandler,
			RequestLogHook: recordRetry,
		},
		breakerTrip:    cfg.BreakerTrip,
		breakerTimeout: cfg.BreakerTimeout,
		breakers:       make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
	if c.breakerTrip == 0 {
		c.breakerTrip = 5
	}
	if c.breakerTimeout <= 0 {
		c.breakerTimeout = 30 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// transportOnlyRetryPolicy retries transport errors the default policy
// considers recoverable and never retries a received response.
func transportOnlyRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func giveUpHandler(resp *http.Response, err error, attempts int) (*http.Response, error) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	return nil, &TransientNetworkError{Attempts: attempts, Err: err}
}

func recordRetry(_ retryablehttp.Logger, req *http.Request, attempt int) {
	if attempt > 0 {
		metrics.RecordOutboundRetry(req.URL.Host)
	}
}

// Do sends req through the host's circuit breaker and the retry policy.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	rreq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, err
	}
	return c.do(rreq)
}

func (c *Client) do(req *retryablehttp.Request) (*http.Response, error) {
	host := req.URL.Host
	resp, err := c.breaker(host).Execute(func() (*http.Response, error) {
		return c.retry.Do(req)
	})
	if err == nil {
		metrics.CircuitBreakerRequests.WithLabelValues(host, "success").Inc()
		return resp, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CircuitBreakerRequests.WithLabelValues(host, "rejected").Inc()
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, host)
	}
	metrics.CircuitBreakerRequests.WithLabelValues(host, "failure").Inc()

	var tne *TransientNetworkError
	if errors.As(err, &tne) {
		tne.Method = req.Method
		tne.Host = host
	}
	return nil, err
}

func (c *Client) breaker(host string) *gobreaker.CircuitBreaker[*http.Response] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[host]; ok {
		return cb
	}

	trip := c.breakerTrip
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     c.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("host", name).Str("from", from.String()).Str("to", to.String()).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	c.breakers[host] = cb
	metrics.CircuitBreakerState.WithLabelValues(host).Set(0)
	return cb
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Get issues a GET with the given headers.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	return c.send(ctx, http.MethodGet, rawURL, nil, header)
}

// Head issues a HEAD with the given headers.
func (c *Client) Head(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	return c.send(ctx, http.MethodHead, rawURL, nil, header)
}

// PostForm issues a form-encoded POST.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, header http.Header) (*http.Response, error) {
	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.send(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()), h)
}

// Send issues a request with an arbitrary method and body.
func (c *Client) Send(ctx context.Context, method, rawURL string, body io.Reader, header http.Header) (*http.Response, error) {
	return c.send(ctx, method, rawURL, body, header)
}

func (c *Client) send(ctx context.Context, method, rawURL string, body any, header http.Header) (*http.Response, error) {
	rreq, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			rreq.Header.Add(k, v)
		}
	}
	return c.do(rreq)
}

// StandardClient returns an *http.Client whose transport goes through c.
// Use it with libraries that accept a plain client, such as x/oauth2.
func (c *Client) StandardClient() *http.Client {
	return &http.Client{Transport: roundTripper{c}}
}

type roundTripper struct {
	c *Client
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt.c.Do(req)
}
