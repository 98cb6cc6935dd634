// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

/*
Package cache provides the short-lived result caches that protect the
identity provider from request storms.

# Overview

A Memo remembers the successful result of a function for a fixed TTL and
collapses concurrent calls for the same key into a single execution:

  - Bounded size with least-recently-used eviction (golang-lru expirable)
  - Per-entry TTL fixed at creation, entries are never updated in place
  - Concurrent misses on one key share one call (x/sync singleflight)
  - Errors are never cached, so a failed refresh is retried on the next request
  - Hit, miss and size metrics under the memo's name

# Use Cases

  - Refresh-token grants keyed by (realm, refresh token)
  - Userinfo lookups keyed by (realm, access token)

Both reuse a result for at most USER_TOKEN_TTL, which configuration
validation keeps below the access token lifetime.

# Usage Example

	refreshes := cache.NewMemo[*oauth2.Token]("keycloak_refresh", 10000, time.Minute)

	tok, err := refreshes.Do(ctx, cache.GenerateKey(realm, refreshToken),
	    func(ctx context.Context) (*oauth2.Token, error) {
	        return source.Token()
	    })

# Keys

GenerateKey hashes its parts with SHA-256 so raw tokens are never held
as map keys or exposed through metrics or debugging output.
*/
package cache
