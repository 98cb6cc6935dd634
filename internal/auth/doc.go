// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

/*
Package auth authenticates requests against local users and enforces that
every principal belongs to the realm the request is addressed to.

# Authenticators

Three authenticators implement the Authenticator interface:

  - SessionAuthenticator: the user logged in to the browser session (priority 10)
  - TokenAuthenticator: "Authorization: Token <key>" (priority 20)
  - BasicAuthenticator: HTTP Basic, with bare or realm-qualified usernames (priority 30)

MultiAuthenticator tries them in priority order. ErrNoCredentials and
ErrAuthenticatorUnavailable move on to the next one; any other error stops
the chain.

# Realm membership

A principal passes the realm check when it is staff or superuser, or when
its realm groups contain the current realm. With multitenancy disabled the
check always passes.

# Error mapping

	ErrNoCredentials             401 missing_credentials
	ErrInvalidCredentials        401 invalid_credentials
	ErrRealmMismatch             401 invalid_realm
	ErrRealmAccessDenied         403 realm_access_denied
	ErrAuthenticatorUnavailable  502 upstream_unavailable

# Usage

	chain := auth.NewMultiAuthenticator(
	    auth.NewSessionAuthenticator(users, resolver),
	    auth.NewTokenAuthenticator(users, resolver),
	    auth.NewBasicAuthenticator(users, resolver),
	)
	mw := auth.NewMiddleware(chain, users, resolver)
	r.With(mw.RequireAuth).Get("/token", handler)
*/
package auth
