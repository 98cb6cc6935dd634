// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

// Package storage owns the BadgerDB instance shared by the session, user and
// app token stores, plus the JSON record helpers they use.
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/realmgate/internal/config"
	"github.com/tomtom215/realmgate/internal/logging"
)

// ErrClosed is returned by Ping when the database has been closed.
var ErrClosed = errors.New("storage: database closed")

// Open opens BadgerDB at cfg.Path, or an in-memory instance when Path is empty.
func Open(cfg config.StorageConfig) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Path, err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.Path == "").
		Msg("Storage opened")

	return db, nil
}

// OpenInMemory opens an in-memory BadgerDB. Used by tests and the CLI.
func OpenInMemory() (*badger.DB, error) {
	return Open(config.StorageConfig{})
}

// Ping reports whether the database is open and readable.
func Ping(db *badger.DB) error {
	if db == nil || db.IsClosed() {
		return ErrClosed
	}
	return db.View(func(*badger.Txn) error { return nil })
}

// RunGC rewrites value log files until badger reports nothing left to collect.
// It returns the number of files rewritten.
func RunGC(db *badger.DB) (int, error) {
	rewritten := 0
	for {
		err := db.RunValueLogGC(0.5)
		switch {
		case err == nil:
			rewritten++
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrGCInMemoryMode):
			return rewritten, nil
		default:
			return rewritten, fmt.Errorf("value log gc: %w", err)
		}
	}
}

// GetJSON loads key into v. It returns badger.ErrKeyNotFound when absent.
func GetJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// SetJSON stores v under key. A positive ttl lets badger expire the entry.
func SetJSON(txn *badger.Txn, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	e := badger.NewEntry([]byte(key), data)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return txn.SetEntry(e)
}

// Delete removes key, ignoring missing keys.
func Delete(txn *badger.Txn, key string) error {
	if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return nil
}

// ScanJSON decodes every value under prefix into a fresh T and calls fn.
func ScanJSON[T any](txn *badger.Txn, prefix string, fn func(key string, v *T) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		item := it.Item()
		var v T
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return fmt.Errorf("decode %s: %w", item.Key(), err)
		}
		if err := fn(string(item.KeyCopy(nil)), &v); err != nil {
			return err
		}
	}
	return nil
}
