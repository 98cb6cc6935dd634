// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/realmgate/internal/storage"
)

const (
	userKeyPrefix     = "user:id:"
	usernameKeyPrefix = "user:name:"
	tokenKeyPrefix    = "user:token:"
)

// Store defines the persistence operations on users.
type Store interface {
	Get(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByToken(ctx context.Context, token string) (*User, error)

	// Create inserts a new user. Returns ErrUsernameTaken on conflict.
	Create(ctx context.Context, u *User) error

	// Update replaces an existing user and keeps the username and token indexes in sync.
	Update(ctx context.Context, u *User) error

	List(ctx context.Context) ([]*User, error)
}

// BadgerStore implements Store on BadgerDB with secondary keys for
// username and token lookups.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a new BadgerDB-backed user store.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Get retrieves a user by id.
func (b *BadgerStore) Get(_ context.Context, id string) (*User, error) {
	var u *User
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		u, err = getUser(txn, id)
		return err
	})
	return u, err
}

// GetByUsername retrieves a user by username.
func (b *BadgerStore) GetByUsername(_ context.Context, username string) (*User, error) {
	return b.getIndexed(usernameKeyPrefix+username, ErrUserNotFound)
}

// GetByToken retrieves the owner of an API token.
func (b *BadgerStore) GetByToken(_ context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}
	return b.getIndexed(tokenKeyPrefix+token, ErrTokenNotFound)
}

func (b *BadgerStore) getIndexed(key string, notFound error) (*User, error) {
	var u *User
	err := b.db.View(func(txn *badger.Txn) error {
		var id string
		if err := storage.GetJSON(txn, key, &id); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return notFound
			}
			return err
		}
		var err error
		u, err = getUser(txn, id)
		return err
	})
	return u, err
}

// Create inserts a new user. A transaction conflict means a concurrent
// create of the same username won and is reported as ErrUsernameTaken.
func (b *BadgerStore) Create(_ context.Context, u *User) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		nameKey := usernameKeyPrefix + u.Username
		var existing string
		err := storage.GetJSON(txn, nameKey, &existing)
		if err == nil {
			return ErrUsernameTaken
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := storage.SetJSON(txn, nameKey, u.ID, 0); err != nil {
			return err
		}
		if u.Token != "" {
			if err := storage.SetJSON(txn, tokenKeyPrefix+u.Token, u.ID, 0); err != nil {
				return err
			}
		}
		return storage.SetJSON(txn, userKeyPrefix+u.ID, u, 0)
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrUsernameTaken
	}
	return err
}

// Update replaces an existing user.
func (b *BadgerStore) Update(_ context.Context, u *User) error {
	return b.db.Update(func(txn *badger.Txn) error {
		old, err := getUser(txn, u.ID)
		if err != nil {
			return err
		}
		if old.Username != u.Username {
			var other string
			if err := storage.GetJSON(txn, usernameKeyPrefix+u.Username, &other); err == nil && other != u.ID {
				return ErrUsernameTaken
			}
			if err := storage.Delete(txn, usernameKeyPrefix+old.Username); err != nil {
				return err
			}
			if err := storage.SetJSON(txn, usernameKeyPrefix+u.Username, u.ID, 0); err != nil {
				return err
			}
		}
		if old.Token != u.Token {
			if old.Token != "" {
				if err := storage.Delete(txn, tokenKeyPrefix+old.Token); err != nil {
					return err
				}
			}
			if u.Token != "" {
				if err := storage.SetJSON(txn, tokenKeyPrefix+u.Token, u.ID, 0); err != nil {
					return err
				}
			}
		}
		return storage.SetJSON(txn, userKeyPrefix+u.ID, u, 0)
	})
}

// List returns every user.
func (b *BadgerStore) List(_ context.Context) ([]*User, error) {
	var out []*User
	err := b.db.View(func(txn *badger.Txn) error {
		return storage.ScanJSON(txn, userKeyPrefix, func(_ string, u *User) error {
			out = append(out, u.clone())
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

func getUser(txn *badger.Txn, id string) (*User, error) {
	var u User
	if err := storage.GetJSON(txn, userKeyPrefix+id, &u); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
