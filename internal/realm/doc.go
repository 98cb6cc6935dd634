// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

/*
Package realm resolves the tenant ("realm") a request belongs to and holds
the naming helpers that keep principals of different realms apart.

# Resolution Order

A request's realm is decided by the first rule that yields a value:

 1. In gateway mode, a path of the form /{realm}/{service-id}/... names the
    realm, unless that realm is the public realm.
 2. The realm header (default "eha-realm").
 3. The realm cookie of the same name.
 4. The realm stored in the session.
 5. The configured default realm, or "" when multitenancy is disabled.

# Usernames

Local usernames are stored realm-qualified as "{realm}__{name}".
ParseUsername adds the prefix, UnparseUsername removes it.

# Header Names

MetaName and HeaderName convert between HTTP header names and the
upper-case underscore form used by the proxy allow-list
(Content-Type <-> CONTENT_TYPE, X-Foo <-> HTTP_X_FOO).
*/
package realm
