// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package realm

import (
	"strings"
	"unicode"
)

// separator joins realm and bare username.
const separator = "__"

// ParseUsername returns the realm-qualified form of username. It is a no-op
// when realm is empty or username already carries the prefix.
func ParseUsername(realm, username string) string {
	if realm == "" {
		return username
	}
	prefix := realm + separator
	if strings.HasPrefix(username, prefix) {
		return username
	}
	return prefix + username
}

// UnparseUsername strips the realm prefix from username.
func UnparseUsername(realm, username string) string {
	if realm == "" {
		return username
	}
	return strings.TrimPrefix(username, realm+separator)
}

// DisplayName returns "first last" when both are set, otherwise the bare username.
func DisplayName(realm, username, first, last string) string {
	if first != "" && last != "" {
		return first + " " + last
	}
	return UnparseUsername(realm, username)
}

// GroupName returns the name of the membership group of realm.
func GroupName(realm string) string {
	return realm
}

// MetaName converts a header name to its meta form:
// "Content-Type" -> "CONTENT_TYPE", "x-oauth-realm" -> "HTTP_X_OAUTH_REALM".
func MetaName(header string) string {
	name := strings.ToUpper(strings.ReplaceAll(header, "-", "_"))
	switch name {
	case "CONTENT_TYPE", "CONTENT_LENGTH":
		return name
	}
	return "HTTP_" + name
}

// HeaderName converts a meta name back to a header name:
// "HTTP_X_OAUTH_REALM" -> "X-Oauth-Realm". Each letter following a
// non-letter is upper-cased, every other letter lower-cased.
func HeaderName(meta string) string {
	name := strings.TrimPrefix(meta, "HTTP_")

	var b strings.Builder
	b.Grow(len(name))
	prevLetter := false
	for _, c := range name {
		switch {
		case unicode.IsLetter(c):
			if prevLetter {
				b.WriteRune(unicode.ToLower(c))
			} else {
				b.WriteRune(unicode.ToUpper(c))
			}
			prevLetter = true
		case c == '_':
			b.WriteRune('-')
			prevLetter = false
		default:
			b.WriteRune(c)
			prevLetter = false
		}
	}
	return b.String()
}
