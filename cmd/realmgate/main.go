// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

// Command realmgate runs the multi-tenant authentication gateway.
//
// Startup order for "serve":
//
//  1. Configuration: defaults, optional config.yaml, environment (koanf)
//  2. Logging: zerolog from LOG_LEVEL, LOG_FORMAT and LOG_CALLER
//  3. Storage: badger at STORAGE_PATH, in memory when empty
//  4. Components: users, sessions, authenticators, app tokens, proxy, IdP flow
//  5. Supervisor tree: HTTP server, session sweeper, storage GC
//
// SIGINT and SIGTERM cancel the tree; services get the configured timeout
// to drain.
package main

func main() {
	Execute()
}
