// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package authz

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/tomtom215/realmgate/internal/metrics"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Roles and actions of the embedded policy.
const (
	RoleMember = "member"
	RoleStaff  = "staff"

	ActionAccess = "access"
	ActionAdmin  = "admin"

	// AnyRealm is the domain of checks that are not bound to a realm.
	AnyRealm = "*"
)

// Enforcer wraps the Casbin enforcer with the realm grouping rules.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer

	// synced records the subjects whose rules have been loaded.
	synced sync.Map
}

// NewEnforcer creates an enforcer from the embedded model and policy.
func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	if err := loadEmbeddedPolicy(enforcer, embeddedPolicy); err != nil {
		return nil, err
	}
	return &Enforcer{enforcer: enforcer}, nil
}

// loadEmbeddedPolicy parses and loads the "p" lines of the embedded policy CSV.
func loadEmbeddedPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if parts[0] != "p" || len(parts) != 4 {
			return fmt.Errorf("invalid policy line %q", line)
		}
		if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
			return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
		}
	}
	return nil
}

// Enforce checks whether subject may perform action in realm.
func (e *Enforcer) Enforce(subject, realmName, action string) (bool, error) {
	allowed, err := e.enforcer.Enforce(subject, realmName, action)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}
	metrics.RecordAuthzDecision(action, allowed)
	return allowed, nil
}

// Synced reports whether SyncSubject has run for subject.
func (e *Enforcer) Synced(subject string) bool {
	_, ok := e.synced.Load(subject)
	return ok
}

// SyncSubject replaces the grouping rules of subject with membership of
// realms and, when staff is set, the staff role.
func (e *Enforcer) SyncSubject(subject string, realms []string, staff bool) error {
	if _, err := e.enforcer.RemoveFilteredGroupingPolicy(0, subject); err != nil {
		return fmt.Errorf("failed to clear realm roles: %w", err)
	}
	if _, err := e.enforcer.RemoveFilteredNamedGroupingPolicy("g2", 0, subject); err != nil {
		return fmt.Errorf("failed to clear staff role: %w", err)
	}
	for _, r := range realms {
		if err := e.AddToRealm(subject, r); err != nil {
			return err
		}
	}
	if staff {
		if _, err := e.enforcer.AddNamedGroupingPolicy("g2", subject, RoleStaff); err != nil {
			return fmt.Errorf("failed to add staff role: %w", err)
		}
	}
	e.synced.Store(subject, struct{}{})
	return nil
}

// AddToRealm makes subject a member of realm.
func (e *Enforcer) AddToRealm(subject, realmName string) error {
	if _, err := e.enforcer.AddGroupingPolicy(subject, RoleMember, realmName); err != nil {
		return fmt.Errorf("failed to add grouping policy: %w", err)
	}
	return nil
}

// RemoveFromRealm drops subject's membership of realm.
func (e *Enforcer) RemoveFromRealm(subject, realmName string) error {
	if _, err := e.enforcer.RemoveGroupingPolicy(subject, RoleMember, realmName); err != nil {
		return fmt.Errorf("failed to remove grouping policy: %w", err)
	}
	return nil
}

// RealmMembers returns the subjects holding membership of realm.
func (e *Enforcer) RealmMembers(realmName string) ([]string, error) {
	rules, err := e.enforcer.GetFilteredGroupingPolicy(1, RoleMember, realmName)
	if err != nil {
		return nil, fmt.Errorf("failed to list realm members: %w", err)
	}
	out := make([]string, 0, len(rules))
	for _, rule := range rules {
		out = append(out, rule[0])
	}
	return out, nil
}
