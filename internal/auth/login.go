// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tomtom215/realmgate/internal/config"
	"github.com/tomtom215/realmgate/internal/logging"
	"github.com/tomtom215/realmgate/internal/metrics"
	"github.com/tomtom215/realmgate/internal/session"
	"github.com/tomtom215/realmgate/internal/users"
)

// Sessions logs users in to and out of browser sessions.
type Sessions struct {
	manager  *session.Manager
	users    *users.Service
	deploy   config.DeploymentConfig
	security *logging.SecurityLogger
}

// NewSessions creates the session login helper.
func NewSessions(manager *session.Manager, svc *users.Service, deploy config.DeploymentConfig) *Sessions {
	return &Sessions{
		manager:  manager,
		users:    svc,
		deploy:   deploy,
		security: logging.NewSecurityLogger(),
	}
}

// Manager returns the underlying session manager.
func (s *Sessions) Manager() *session.Manager {
	return s.manager
}

// Login attaches u to sess and persists it. The session id is rotated
// whenever the logged in user changes. realmName is stored when not empty.
func (s *Sessions) Login(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *session.Session, u *users.User, realmName, provider string) error {
	if sess.UserID != u.ID {
		s.manager.Cycle(ctx, sess)
	}
	sess.UserID = u.ID
	sess.Username = u.Username
	if realmName != "" {
		sess.Realm = realmName
	}

	if err := s.users.TouchLogin(ctx, u); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", u.ID).Msg("Failed to record last login")
	}
	if err := s.manager.Save(ctx, w, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	label := s.deploy.RealmLabel(sess.Realm)
	s.security.LogLoginSuccess(u.Username, label, provider, remoteIP(r))
	metrics.RecordAuthAttempt(provider, label, "success")
	return nil
}

// Logout ends sess, deleting its record and expiring the cookie.
func (s *Sessions) Logout(ctx context.Context, w http.ResponseWriter, sess *session.Session, reason string) {
	username, realmName, id := sess.Username, sess.Realm, sess.ID
	if err := s.manager.Flush(ctx, w, sess); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to delete session")
	}
	if username != "" {
		s.security.LogLogout(username, s.deploy.RealmLabel(realmName), id, reason)
	}
}

func remoteIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	return r.RemoteAddr
}
