// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

// Package keycloak logs users in against the realms of a Keycloak server.
//
// A login starts from a realm name. The realm is probed first; then either
// the password grant runs directly (behind-the-scenes mode) or the browser
// is redirected to the realm's authorization endpoint and comes back with a
// code. Every protected request refreshes the session's token pair, and a
// failed refresh logs the session out.
package keycloak
