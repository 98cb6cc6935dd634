// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package users

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/realmgate/internal/authz"
	"github.com/tomtom215/realmgate/internal/config"
	"github.com/tomtom215/realmgate/internal/logging"
	"github.com/tomtom215/realmgate/internal/realm"
)

const (
	// bcryptCost is the bcrypt cost factor for password hashing.
	bcryptCost = 12

	// unusablePrefix marks a password hash that never verifies.
	unusablePrefix = "!"

	// randomPasswordLength is the length of passwords generated for users
	// created from an external identity.
	randomPasswordLength = 100

	// tokenBytes is the size of API tokens before hex encoding.
	tokenBytes = 20
)

// Profile holds the demographic fields an identity provider supplies.
type Profile struct {
	FirstName string
	LastName  string
	Email     string
}

// Service implements the user operations on top of a Store. Realm and
// staff decisions go through the authz enforcer, which mirrors the
// memberships persisted in the store.
type Service struct {
	store    Store
	deploy   config.DeploymentConfig
	enforcer *authz.Enforcer
}

// NewService creates a user service.
func NewService(store Store, deploy config.DeploymentConfig) (*Service, error) {
	enforcer, err := authz.NewEnforcer()
	if err != nil {
		return nil, err
	}
	return &Service{store: store, deploy: deploy, enforcer: enforcer}, nil
}

// Get retrieves a user by id.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.Get(ctx, id)
}

// GetByUsername retrieves a user by username exactly as stored.
func (s *Service) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.store.GetByUsername(ctx, username)
}

// GetOrCreate returns the user named username in realm, creating it when
// missing. New users get first name = bare username, last name = realm, an
// unusable random password and membership of realm.
func (s *Service) GetOrCreate(ctx context.Context, realmName, username string) (*User, error) {
	parsed := realm.ParseUsername(realmName, username)

	u, err := s.store.GetByUsername(ctx, parsed)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	now := time.Now()
	u = &User{
		ID:           uuid.NewString(),
		Username:     parsed,
		FirstName:    username,
		LastName:     realmName,
		PasswordHash: unusablePrefix + randomString(randomPasswordLength),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.addMembership(u, realmName)

	if err := s.store.Create(ctx, u); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			// lost a concurrent create
			return s.store.GetByUsername(ctx, parsed)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := s.syncPolicy(u); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateProfile copies non-identical profile fields onto u and saves only
// when something changed.
func (s *Service) UpdateProfile(ctx context.Context, u *User, p Profile) error {
	changed := false
	if u.FirstName != p.FirstName {
		u.FirstName = p.FirstName
		changed = true
	}
	if u.LastName != p.LastName {
		u.LastName = p.LastName
		changed = true
	}
	if u.Email != p.Email {
		u.Email = p.Email
		changed = true
	}
	if !changed {
		return nil
	}
	u.UpdatedAt = time.Now()
	return s.store.Update(ctx, u)
}

// TouchLogin records a successful login.
func (s *Service) TouchLogin(ctx context.Context, u *User) error {
	u.LastLogin = time.Now()
	return s.store.Update(ctx, u)
}

// CheckPassword verifies username/password against the stored hash.
// Inactive users never verify.
func (s *Service) CheckPassword(ctx context.Context, username, password string) (*User, error) {
	u, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !u.IsActive || !passwordMatches(u.PasswordHash, password) {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// SetPassword replaces the user's password hash.
func (s *Service) SetPassword(ctx context.Context, u *User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	u.UpdatedAt = time.Now()
	return s.store.Update(ctx, u)
}

func passwordMatches(hash, password string) bool {
	if hash == "" || strings.HasPrefix(hash, unusablePrefix) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// InRealm reports whether u may act in realmName: always when multitenancy
// is disabled, for staff, or when u belongs to the realm group.
func (s *Service) InRealm(u *User, realmName string) bool {
	if !s.deploy.Multitenancy {
		return true
	}
	return s.allowed(u, realm.GroupName(realmName), authz.ActionAccess)
}

// IsStaff reports whether u may run admin operations.
func (s *Service) IsStaff(u *User) bool {
	return s.allowed(u, authz.AnyRealm, authz.ActionAdmin)
}

func (s *Service) allowed(u *User, domain, action string) bool {
	if u == nil {
		return false
	}
	if !s.enforcer.Synced(u.ID) {
		if err := s.syncPolicy(u); err != nil {
			logging.Error().Err(err).Str("user_id", u.ID).Msg("Failed to load realm policy")
			return false
		}
	}
	ok, err := s.enforcer.Enforce(u.ID, domain, action)
	if err != nil {
		logging.Error().Err(err).Str("user_id", u.ID).Msg("Authorization check failed")
		return false
	}
	return ok
}

func (s *Service) syncPolicy(u *User) error {
	return s.enforcer.SyncSubject(u.ID, u.Realms, u.IsPrivileged())
}

// AddToRealm adds u to the realm group. It is a no-op without multitenancy.
func (s *Service) AddToRealm(ctx context.Context, u *User, realmName string) error {
	if !s.addMembership(u, realmName) {
		return nil
	}
	if err := s.store.Update(ctx, u); err != nil {
		return err
	}
	return s.syncPolicy(u)
}

// addMembership appends the realm group to u and reports whether u changed.
func (s *Service) addMembership(u *User, realmName string) bool {
	if !s.deploy.Multitenancy || realmName == "" {
		return false
	}
	g := realm.GroupName(realmName)
	if u.InRealmGroup(g) {
		return false
	}
	u.Realms = append(u.Realms, g)
	u.UpdatedAt = time.Now()
	return true
}

// RemoveFromRealm removes u from the realm group.
func (s *Service) RemoveFromRealm(ctx context.Context, u *User, realmName string) error {
	if !s.deploy.Multitenancy {
		return nil
	}
	g := realm.GroupName(realmName)
	if !u.InRealmGroup(g) {
		return nil
	}
	u.Realms = slices.DeleteFunc(u.Realms, func(r string) bool { return r == g })
	u.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, u); err != nil {
		return err
	}
	return s.syncPolicy(u)
}

// ListByRealm returns the members of realmName, or every user without multitenancy.
func (s *Service) ListByRealm(ctx context.Context, realmName string) ([]*User, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if !s.deploy.Multitenancy {
		return all, nil
	}
	for _, u := range all {
		if !s.enforcer.Synced(u.ID) {
			if err := s.syncPolicy(u); err != nil {
				return nil, err
			}
		}
	}
	ids, err := s.enforcer.RealmMembers(realm.GroupName(realmName))
	if err != nil {
		return nil, err
	}
	out := make([]*User, 0, len(ids))
	for _, u := range all {
		if slices.Contains(ids, u.ID) {
			out = append(out, u)
		}
	}
	return out, nil
}

// DisplayName renders u as "first last" or its bare username.
func (s *Service) DisplayName(u *User, realmName string) string {
	return realm.DisplayName(realmName, u.Username, u.FirstName, u.LastName)
}

// GetByToken returns the owner of an API token.
func (s *Service) GetByToken(ctx context.Context, token string) (*User, error) {
	u, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(u.Token), []byte(token)) != 1 {
		return nil, ErrTokenNotFound
	}
	return u, nil
}

// GetOrCreateToken returns u's API token, creating one when missing.
func (s *Service) GetOrCreateToken(ctx context.Context, u *User) (string, error) {
	if u.Token != "" {
		return u.Token, nil
	}
	return s.SetToken(ctx, u, randomToken())
}

// SetToken assigns token to u. An empty token generates a random one.
func (s *Service) SetToken(ctx context.Context, u *User, token string) (string, error) {
	if token == "" {
		token = randomToken()
	}
	u.Token = token
	u.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, u); err != nil {
		return "", err
	}
	return token, nil
}

// UpsertOptions are the inputs of Upsert.
type UpsertOptions struct {
	Realm    string
	Username string
	Password string
	Token    string
	Staff    bool
}

// Upsert creates the user or, when it exists, updates its password and
// token. Used by the create-user command.
func (s *Service) Upsert(ctx context.Context, opts UpsertOptions) (*User, error) {
	if s.deploy.Multitenancy && opts.Realm == "" {
		return nil, errors.New("realm is required when multitenancy is enabled")
	}
	u, err := s.GetOrCreate(ctx, opts.Realm, opts.Username)
	if err != nil {
		return nil, err
	}
	if err := s.AddToRealm(ctx, u, opts.Realm); err != nil {
		return nil, err
	}
	if opts.Staff && !u.IsStaff {
		u.IsStaff = true
		if err := s.store.Update(ctx, u); err != nil {
			return nil, err
		}
		if err := s.syncPolicy(u); err != nil {
			return nil, err
		}
	}
	if opts.Password != "" {
		if err := s.SetPassword(ctx, u, opts.Password); err != nil {
			return nil, err
		}
	}
	if opts.Token != "" {
		if _, err := s.SetToken(ctx, u, opts.Token); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func randomToken() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		panic("users: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

func randomString(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("users: crypto/rand failed: " + err.Error())
	}
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(b)
}
