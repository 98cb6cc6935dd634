// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package logging

import (
	"strings"

	"github.com/rs/zerolog"
)

// SecurityEvent represents a security-relevant event for audit logging.
type SecurityEvent struct {
	// Event is the type of event (e.g., "login_success", "logout", "token_refresh").
	Event string
	// Username is the internal, realm-prefixed username (if known).
	Username string
	// Realm is the tenant the event happened in.
	Realm string
	// SessionID is the session identifier (masked before logging).
	SessionID string
	// Provider is the authentication backend (keycloak, gateway, basic, token, session).
	Provider string
	// IPAddress is the client's IP address.
	IPAddress string
	// Success indicates if the operation was successful.
	Success bool
	// Error is the failure reason if the operation failed.
	Error string
	// Details contains additional details, sanitized by key.
	Details map[string]string
}

// SecurityLogger provides secure logging for authentication events.
type SecurityLogger struct {
	logger zerolog.Logger
}

// NewSecurityLogger creates a security logger on the global logger.
func NewSecurityLogger() *SecurityLogger {
	return newSecurityLogger(current())
}

//nolint:gocritic // zerolog.Logger is designed to be passed by value
func newSecurityLogger(logger zerolog.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger.With().Str("component", "auth").Logger()}
}

// LogEvent logs a security event with automatic sanitization.
func (l *SecurityLogger) LogEvent(event *SecurityEvent) {
	e := l.logger.Info()
	if !event.Success {
		e = l.logger.Warn()
	}
	e = e.Str("event", event.Event)

	if event.Success {
		e = e.Str("status", "success")
	} else {
		e = e.Str("status", "failed")
	}
	if event.Username != "" {
		e = e.Str("username", SanitizeUsername(event.Username))
	}
	if event.Realm != "" {
		e = e.Str("realm", event.Realm)
	}
	if event.SessionID != "" {
		e = e.Str("session_id", SanitizeToken(event.SessionID))
	}
	if event.Provider != "" {
		e = e.Str("provider", event.Provider)
	}
	if event.IPAddress != "" {
		e = e.Str("ip", event.IPAddress)
	}
	if event.Error != "" && !event.Success {
		e = e.Str("reason", SanitizeError(event.Error))
	}
	for k, v := range event.Details {
		e = e.Str(k, SanitizeValue(k, v))
	}

	e.Msg("")
}

// LogLoginSuccess logs a successful login.
func (l *SecurityLogger) LogLoginSuccess(username, realm, provider, ip string) {
	l.LogEvent(&SecurityEvent{
		Event:     "login_success",
		Username:  username,
		Realm:     realm,
		Provider:  provider,
		IPAddress: ip,
		Success:   true,
	})
}

// LogLoginFailure logs a failed login.
func (l *SecurityLogger) LogLoginFailure(username, realm, provider, ip, reason string) {
	l.LogEvent(&SecurityEvent{
		Event:     "login_failed",
		Username:  username,
		Realm:     realm,
		Provider:  provider,
		IPAddress: ip,
		Error:     reason,
	})
}

// LogLogout logs a logout. Forced logouts carry the reason.
func (l *SecurityLogger) LogLogout(username, realm, sessionID, reason string) {
	ev := &SecurityEvent{
		Event:     "logout",
		Username:  username,
		Realm:     realm,
		SessionID: sessionID,
		Success:   true,
	}
	if reason != "" {
		ev.Details = map[string]string{"forced_by": reason}
	}
	l.LogEvent(ev)
}

// LogTokenRefresh logs an IdP token refresh.
func (l *SecurityLogger) LogTokenRefresh(username, realm string, success bool, errMsg string) {
	l.LogEvent(&SecurityEvent{
		Event:    "token_refresh",
		Username: username,
		Realm:    realm,
		Provider: "keycloak",
		Success:  success,
		Error:    errMsg,
	})
}

// LogRealmMismatch logs a valid principal presented in the wrong realm.
func (l *SecurityLogger) LogRealmMismatch(username, realm, provider, ip string) {
	l.LogEvent(&SecurityEvent{
		Event:     "realm_mismatch",
		Username:  username,
		Realm:     realm,
		Provider:  provider,
		IPAddress: ip,
		Error:     "user not in realm",
	})
}

// SanitizeToken masks a token, showing only first and last 4 characters.
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizeUsername keeps the realm prefix and the first 2 characters of the name.
// Example: "eha__johndoe" -> "eha__jo***"
func SanitizeUsername(username string) string {
	prefix := ""
	if i := strings.Index(username, "__"); i >= 0 {
		prefix, username = username[:i+2], username[i+2:]
	}
	if username == "" {
		return ""
	}
	if len(username) <= 2 {
		return prefix + "***"
	}
	return prefix + username[:2] + "***"
}

// SanitizeEmail masks an email address.
// Example: "john.doe@example.com" -> "jo***@example.com"
func SanitizeEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return "***" + domain
	}
	return local[:2] + "***" + domain
}

// SanitizeError replaces messages that mention credentials with a generic text.
func SanitizeError(err string) string {
	lower := strings.ToLower(err)
	for _, pattern := range []string{"password", "secret", "token", "bearer", "authorization", "cookie"} {
		if strings.Contains(lower, pattern) {
			return "authentication error"
		}
	}
	return truncateString(err, 200)
}

// SanitizeValue sanitizes a value based on its key name.
func SanitizeValue(key, value string) string {
	switch strings.ToLower(key) {
	case "access_token", "refresh_token", "id_token", "token", "password", "secret",
		"authorization", "bearer", "cookie", "session", "session_id":
		return SanitizeToken(value)
	}
	if strings.Contains(value, "@") && strings.Contains(value, ".") {
		return SanitizeEmail(value)
	}
	return value
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
