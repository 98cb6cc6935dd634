// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

// Package services adapts the gateway's long-running components to
// suture.Service: the HTTP server and the periodic maintenance tasks
// (session sweeper, storage garbage collection).
package services
