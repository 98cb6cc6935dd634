// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

/*
Package api serves the HTTP surface of the gateway with the chi router.

Every request passes the global stack (request id, real IP, panic
recovery, CORS, security headers, Prometheus metrics) and then the
authentication pipeline: session load, gateway trust (gateway mode),
silent IdP refresh (IdP configured) and credential authentication.

Routes:

	GET  /health, /check-db, /check-app          liveness and build info
	GET  /check-app/{name}                       external app reachability
	GET  /check-tokens                           200 or redirect to the token status page
	GET  /{AUTH_URL}/login                       login form or IdP callback
	POST /{AUTH_URL}/login                       start or complete a login
	GET  /logout, /{AUTH_URL}/logout             end the session
	GET  /token, POST /token                     local API token
	GET  /{CHECK_TOKEN_URL}                      app token status of the caller
	GET  /app-tokens                             stored app tokens of the caller
	*    /proxy/{app}/*                          authenticated reverse proxy
	POST /admin/purge-cache                      drop cached IdP results (staff)
	GET  /admin/realms/{realm}/users             realm members (staff)
	PUT  /admin/realms/{realm}/users/{username}  add a realm member (staff)
	DELETE the same path                         remove a realm member (staff)
	GET  /metrics                                Prometheus

In gateway mode the same routes are also served under
/{realm}/{GATEWAY_SERVICE_ID}/.

Errors are written as {"error": code, "message": text}; upstream error text
is never echoed.
*/
package api
