// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

// Package logging provides centralized zerolog-based structured logging for Realmgate.
//
// # Overview
//
// The package provides:
//   - Zero-allocation structured logging via zerolog
//   - JSON output for production and console output for development
//   - Context-aware logging with request and correlation id propagation
//   - An slog adapter for libraries that take *slog.Logger (suture, retryablehttp)
//   - A security logger for authentication events with identifier masking
//
// # Quick Start
//
//	logging.Init(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	logging.Info().Str("realm", realm).Msg("Realm resolved")
//	logging.Ctx(ctx).Warn().Err(err).Str("app", app).Msg("Token refresh failed")
//
// # Security
//
// Tokens, passwords and session ids must never be logged verbatim. Use
// SecurityLogger for authentication events; it masks identifiers and
// replaces error strings that mention credentials with a generic message.
package logging
