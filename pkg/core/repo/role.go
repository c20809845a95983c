// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package repo

import (
	"context"

	"github.com/momeni/role-bridge/pkg/core/model"
)

// Role is a string specifying a database role name. Managed roles are
// derived from application identities by the naming policy, while
// unmanaged roles (such as the administrator role below) exist in the
// database without an application counterpart and are never mutated
// by this project.
type Role string

// These constants specify the expected pre-existing database roles.
// At least the AdminRole must exist beforehand (i.e., must be created
// manually) and it must be privileged enough to create other roles,
// grant memberships, and apply declared permission statements.
const (
	// AdminRole is an administrator role which is used for creation
	// of managed roles, granting or revoking their memberships, and
	// applying the declared permission statements during migrations.
	AdminRole Role = "admin"
)

// DefaultRole is the sentinel role name representing the session's
// original identity, i.e., the privilege state which is active before
// any explicit privilege switch.
const DefaultRole Role = ""

// Roles interface presents expectations from a repository which
// manages database roles and their membership edges, so the identity
// synchronizer can keep them consistent with the application identity
// store. All mutating operations are idempotent upserts: replaying an
// operation which is already applied must cause no change and no error.
type Roles interface {
	// Conn takes a Conn interface instance, unwraps it as required,
	// and returns a RolesQueryer interface which can run the roles
	// management queries on that connection.
	Conn(Conn) RolesQueryer

	// Tx takes a Tx interface instance, unwraps it as required, and
	// returns a RolesQueryer interface which can run the roles
	// management queries in that transaction.
	Tx(Tx) RolesQueryer
}

// RolesQueryer interface lists the database role management queries.
// Implementations must refuse to mutate unmanaged roles: any operation
// which would affect a role that exists without the managed-role
// marker of the expected kind must fail instead of proceeding.
type RolesQueryer interface {
	// CreateUserRole creates the `role` role as a managed user role
	// with the login capability, if it does not exist yet. If the
	// scram password hash is non-empty, it is set as the role
	// password, so the application user may establish sessions with
	// it. Creating an already existing managed user role is a no-op.
	CreateUserRole(
		ctx context.Context, role Role, scramHash string,
	) error

	// CreateGroupRole creates the `role` role as a managed group role
	// without the login capability, if it does not exist yet. Group
	// roles are pure privilege containers.
	CreateGroupRole(ctx context.Context, role Role) error

	// RenameRole renames the managed `old` role to `new` in place, so
	// its memberships and granted privileges survive unchanged.
	// If `old` is absent while the managed `new` role of the same
	// kind exists, the rename is treated as already applied.
	RenameRole(ctx context.Context, old, new Role) error

	// SetCanLogin grants or revokes the login capability of the
	// managed user `role` role, retaining the role and its grants.
	SetCanLogin(ctx context.Context, role Role, canLogin bool) error

	// SetPassword updates the password of the managed user `role`
	// role using a pre-computed scram hash, so no plaintext password
	// is sent to the DBMS.
	SetPassword(ctx context.Context, role Role, scramHash string) error

	// GrantMembership grants the `group` group role to the `member`
	// user role. Granting an existing membership is a no-op.
	GrantMembership(ctx context.Context, group, member Role) error

	// RevokeMembership revokes the `group` group role from the
	// `member` user role. Revoking an absent membership is a no-op.
	RevokeMembership(ctx context.Context, group, member Role) error

	// DropRole drops the managed `role` role. If the role still owns
	// database objects or is referenced by active sessions, a
	// *cerr.RoleRemovalPending error is returned and the role is kept,
	// so the caller may queue the removal for a later retry.
	// Dropping an absent role is a no-op.
	DropRole(ctx context.Context, role Role) error

	// Kind reports how the `role` role relates to this project:
	// model.UserRole or model.GroupRole for managed roles,
	// model.UnmanagedRole for foreign roles. The second return value
	// is false if no such role exists at all.
	Kind(ctx context.Context, role Role) (model.RoleKind, bool, error)

	// ListManaged returns all managed roles with their kinds, login
	// capability, and membership edges, so a reconciliation pass can
	// compare them against the identity store snapshot.
	ListManaged(ctx context.Context) ([]model.DatabaseRole, error)
}
