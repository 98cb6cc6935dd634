// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

/*
Package authz decides realm access with a Casbin RBAC-with-domains model.

Each realm is a Casbin domain. Membership of a realm group is the grouping
rule (g, subject, member, realm); staff status is the domain-less rule
(g2, subject, staff). The embedded policy grants:

	p, member, *, access   members act inside their own realms
	p, staff,  *, access   staff act in every realm
	p, staff,  *, admin    staff run admin operations

Subjects are user ids. The enforcer holds no state of its own beyond the
rules loaded into it: the user store persists memberships and the users
service mirrors them here with SyncSubject whenever it reads or writes a
user.
*/
package authz
