// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

/*
Package middleware provides HTTP infrastructure middleware shared by every
route of the gateway.

  - RequestID: assigns or propagates X-Request-ID and seeds the logging
    context with request and correlation ids.
  - PrometheusMetrics: per-route request counters, latency histograms and
    the in-flight gauge, labelled by chi route pattern.

Authentication, sessions, CORS and rate limiting are composed separately in
internal/api:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)
*/
package middleware
