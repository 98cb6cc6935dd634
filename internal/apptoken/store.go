// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package apptoken

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/realmgate/internal/storage"
)

const recordKeyPrefix = "apptoken:"

// Record is the persisted (user, app) token. Token is nil when the last
// attempt to obtain one failed.
type Record struct {
	UserID   string    `json:"user_id"`
	App      string    `json:"app"`
	Token    *string   `json:"token"`
	Modified time.Time `json:"modified"`
}

// Store persists Records. At most one record exists per (user, app).
type Store interface {
	// GetOrCreate loads the record of (userID, app), returning a fresh unsaved
	// record when none exists.
	GetOrCreate(ctx context.Context, userID, app string) (*Record, error)

	// Save upserts r and refreshes its modification time.
	Save(ctx context.Context, r *Record) error

	// ListByUser returns every record of userID.
	ListByUser(ctx context.Context, userID string) ([]*Record, error)
}

// BadgerStore implements Store on BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a new BadgerDB-backed app token store.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func recordKey(userID, app string) string {
	return recordKeyPrefix + userID + ":" + app
}

// GetOrCreate loads or initializes the record of (userID, app).
func (b *BadgerStore) GetOrCreate(_ context.Context, userID, app string) (*Record, error) {
	r := &Record{UserID: userID, App: app}
	err := b.db.View(func(txn *badger.Txn) error {
		return storage.GetJSON(txn, recordKey(userID, app), r)
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return nil, err
	}
	return r, nil
}

// Save upserts r.
func (b *BadgerStore) Save(_ context.Context, r *Record) error {
	r.Modified = time.Now()
	return b.db.Update(func(txn *badger.Txn) error {
		return storage.SetJSON(txn, recordKey(r.UserID, r.App), r, 0)
	})
}

// ListByUser returns every record of userID.
func (b *BadgerStore) ListByUser(_ context.Context, userID string) ([]*Record, error) {
	var out []*Record
	err := b.db.View(func(txn *badger.Txn) error {
		return storage.ScanJSON(txn, recordKeyPrefix+userID+":", func(_ string, r *Record) error {
			c := *r
			out = append(out, &c)
			return nil
		})
	})
	return out, err
}
