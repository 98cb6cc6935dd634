// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package services

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/realmgate/internal/metrics"
	"github.com/tomtom215/realmgate/internal/session"
	"github.com/tomtom215/realmgate/internal/storage"
)

// NewSessionSweeper removes expired sessions from store every interval and
// counts them in the sessions_expired_total metric.
func NewSessionSweeper(store session.Store, interval time.Duration) *PeriodicService {
	return NewPeriodicService("session-sweeper", interval, store.CleanupExpired, func(n int) {
		metrics.SessionsExpired.Add(float64(n))
	})
}

// NewStorageGC runs badger value-log garbage collection every interval.
func NewStorageGC(db *badger.DB, interval time.Duration) *PeriodicService {
	return NewPeriodicService("storage-gc", interval, func(context.Context) (int, error) {
		return storage.RunGC(db)
	}, nil)
}
