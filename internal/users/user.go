// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

// Package users stores local principals, their realm memberships, their
// passwords and their opaque API tokens.
package users

import (
	"errors"
	"slices"
	"time"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")

	// ErrTokenNotFound is returned when an API token matches no user.
	ErrTokenNotFound = errors.New("token not found")

	// ErrUsernameTaken is returned when creating a user whose username exists.
	ErrUsernameTaken = errors.New("username already taken")
)

// User is a local principal. Username is realm-qualified when multitenancy is on.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`

	// PasswordHash is a bcrypt hash, or an unusable marker starting with "!".
	PasswordHash string `json:"password_hash"`

	IsStaff     bool `json:"is_staff"`
	IsSuperuser bool `json:"is_superuser"`
	IsActive    bool `json:"is_active"`

	// Realms lists the realm groups the user belongs to.
	Realms []string `json:"realms,omitempty"`

	// Token is the user's opaque API token, empty until one is created.
	Token string `json:"token,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	LastLogin time.Time `json:"last_login"`
}

// InRealmGroup reports whether the user is a member of realm's group.
func (u *User) InRealmGroup(realm string) bool {
	return slices.Contains(u.Realms, realm)
}

// IsPrivileged reports whether the user bypasses realm membership checks.
func (u *User) IsPrivileged() bool {
	return u.IsStaff || u.IsSuperuser
}

func (u *User) clone() *User {
	c := *u
	c.Realms = slices.Clone(u.Realms)
	return &c
}
