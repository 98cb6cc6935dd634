// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/realmgate/internal/storage"
)

const sessionKeyPrefix = "session:"

// BadgerStore implements Store on BadgerDB. Entries carry a badger TTL
// matching the session expiry, so expired sessions also vanish on compaction.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a new BadgerDB-backed session store.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Get retrieves a session by ID.
func (b *BadgerStore) Get(_ context.Context, id string) (*Session, error) {
	var s Session
	err := b.db.View(func(txn *badger.Txn) error {
		return storage.GetJSON(txn, sessionKeyPrefix+id, &s)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s.IsExpired() {
		return nil, ErrSessionExpired
	}
	return &s, nil
}

// Save creates or replaces a session.
func (b *BadgerStore) Save(_ context.Context, s *Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return b.db.Update(func(txn *badger.Txn) error {
			return storage.Delete(txn, sessionKeyPrefix+s.ID)
		})
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return storage.SetJSON(txn, sessionKeyPrefix+s.ID, s, ttl)
	})
}

// Delete removes a session by ID.
func (b *BadgerStore) Delete(_ context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return storage.Delete(txn, sessionKeyPrefix+id)
	})
}

// CleanupExpired removes all expired sessions.
func (b *BadgerStore) CleanupExpired(ctx context.Context) (int, error) {
	var expired []string
	err := b.db.View(func(txn *badger.Txn) error {
		return storage.ScanJSON(txn, sessionKeyPrefix, func(_ string, s *Session) error {
			if s.IsExpired() {
				expired = append(expired, s.ID)
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("scan sessions: %w", err)
	}

	count := 0
	for _, id := range expired {
		if err := b.Delete(ctx, id); err != nil {
			continue
		}
		count++
	}
	return count, nil
}
