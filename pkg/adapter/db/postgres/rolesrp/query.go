// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package rolesrp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/momeni/role-bridge/pkg/adapter/db/postgres"
	"github.com/momeni/role-bridge/pkg/core/cerr"
	"github.com/momeni/role-bridge/pkg/core/model"
	"github.com/momeni/role-bridge/pkg/core/repo"
)

// Managed roles are tagged with one of these markers, stored as the
// role comment in the pg_authid shared catalog. A role without a
// marker belongs to someone else and is never mutated.
const (
	userMarker  = "role-bridge: managed user role"
	groupMarker = "role-bridge: managed group role"
)

// Kind reports how the `role` role relates to this project, based on
// its managed-role marker. The second return value is false if no such
// role exists at all.
func Kind[Q postgres.Queryer](
	ctx context.Context, q Q, role repo.Role,
) (model.RoleKind, bool, error) {
	rows, err := q.Query(
		ctx,
		`SELECT shobj_description(oid, 'pg_authid')
			FROM pg_roles WHERE rolname=$1`,
		string(role),
	)
	if err != nil {
		return "", false, fmt.Errorf("querying pg_roles: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return "", false, rows.Err()
	}
	var comment sql.NullString
	if err := rows.Scan(&comment); err != nil {
		return "", false, fmt.Errorf("scanning: %w", err)
	}
	switch comment.String {
	case userMarker:
		return model.UserRole, true, nil
	case groupMarker:
		return model.GroupRole, true, nil
	}
	return model.UnmanagedRole, true, nil
}

// managedKind asserts that the `role` role either does not exist or
// carries the marker of the expected `kind` kind. The first return
// value reports the role existence.
func managedKind[Q postgres.Queryer](
	ctx context.Context, q Q, role repo.Role, kind model.RoleKind,
) (bool, error) {
	k, exists, err := Kind(ctx, q, role)
	switch {
	case err != nil:
		return false, err
	case !exists:
		return false, nil
	case k != kind:
		return true, fmt.Errorf(
			"role %q is %q, not a managed %q role", role, k, kind,
		)
	}
	return true, nil
}

// CreateUserRole creates the `role` role as a managed user role with
// the login capability, tagging it with the managed user marker. If
// the non-empty `scramHash` is given, it is set as the role password
// verifier, so no plaintext password reaches the DBMS. Creating an
// already existing managed user role causes no change.
func CreateUserRole[Q postgres.Queryer](
	ctx context.Context, q Q, role repo.Role, scramHash string,
) error {
	exists, err := managedKind(ctx, q, role, model.UserRole)
	if err != nil || exists {
		return err
	}
	stmt := "CREATE ROLE " +
		postgres.QuoteIdentifier(string(role)) + " LOGIN"
	if scramHash != "" {
		stmt += " PASSWORD" + postgres.QuoteLiteral(scramHash)
	}
	if _, err := q.Exec(ctx, stmt); err != nil {
		return postgres.WrapRoleError(err, string(role))
	}
	return markRole(ctx, q, role, userMarker)
}

// CreateGroupRole creates the `role` role as a managed group role
// without the login capability, tagging it with the managed group
// marker. Group roles are pure privilege containers. Creating an
// already existing managed group role causes no change.
func CreateGroupRole[Q postgres.Queryer](
	ctx context.Context, q Q, role repo.Role,
) error {
	exists, err := managedKind(ctx, q, role, model.GroupRole)
	if err != nil || exists {
		return err
	}
	stmt := "CREATE ROLE " +
		postgres.QuoteIdentifier(string(role)) + " NOLOGIN"
	if _, err := q.Exec(ctx, stmt); err != nil {
		return postgres.WrapRoleError(err, string(role))
	}
	return markRole(ctx, q, role, groupMarker)
}

func markRole[Q postgres.Queryer](
	ctx context.Context, q Q, role repo.Role, marker string,
) error {
	_, err := q.Exec(
		ctx,
		"COMMENT ON ROLE "+postgres.QuoteIdentifier(string(role))+
			" IS"+postgres.QuoteLiteral(marker),
	)
	if err != nil {
		return fmt.Errorf("tagging role %q: %w", role, err)
	}
	return nil
}

// RenameRole renames the managed `old` role to `new` in place, so its
// memberships and granted privileges survive unchanged. If `old` is
// absent while a managed `new` role exists, the rename is treated as
// already applied, so a replayed rename event causes no change.
// SCRAM password verifiers are not invalidated by a role rename, in
// contrast to the md5 ones which use the role name as their salt.
func RenameRole[Q postgres.Queryer](
	ctx context.Context, q Q, old, new repo.Role,
) error {
	k, exists, err := Kind(ctx, q, old)
	switch {
	case err != nil:
		return err
	case !exists:
		nk, nexists, err := Kind(ctx, q, new)
		if err != nil {
			return err
		}
		if nexists && nk.Managed() {
			return nil // rename is already applied
		}
		return &cerr.UnknownRole{Role: string(old)}
	case !k.Managed():
		return fmt.Errorf("role %q is not managed", old)
	}
	if _, nexists, err := Kind(ctx, q, new); err != nil {
		return err
	} else if nexists {
		return &cerr.NamingConflict{
			Identifier: string(old),
			Role:       string(new),
			Reason:     "target role already exists",
		}
	}
	_, err = q.Exec(
		ctx,
		"ALTER ROLE "+postgres.QuoteIdentifier(string(old))+
			" RENAME TO "+postgres.QuoteIdentifier(string(new)),
	)
	if err != nil {
		return postgres.WrapRoleError(err, string(old))
	}
	return nil
}

// SetCanLogin grants or revokes the login capability of the managed
// user `role` role, retaining the role and its grants.
func SetCanLogin[Q postgres.Queryer](
	ctx context.Context, q Q, role repo.Role, canLogin bool,
) error {
	exists, err := managedKind(ctx, q, role, model.UserRole)
	switch {
	case err != nil:
		return err
	case !exists:
		return &cerr.UnknownRole{Role: string(role)}
	}
	login := " NOLOGIN"
	if canLogin {
		login = " LOGIN"
	}
	_, err = q.Exec(
		ctx,
		"ALTER ROLE "+postgres.QuoteIdentifier(string(role))+login,
	)
	if err != nil {
		return postgres.WrapRoleError(err, string(role))
	}
	return nil
}

// SetPassword updates the password verifier of the managed user `role`
// role using the pre-computed `scramHash` hash.
func SetPassword[Q postgres.Queryer](
	ctx context.Context, q Q, role repo.Role, scramHash string,
) error {
	exists, err := managedKind(ctx, q, role, model.UserRole)
	switch {
	case err != nil:
		return err
	case !exists:
		return &cerr.UnknownRole{Role: string(role)}
	}
	_, err = q.Exec(
		ctx,
		"ALTER ROLE "+postgres.QuoteIdentifier(string(role))+
			" PASSWORD"+postgres.QuoteLiteral(scramHash),
	)
	if err != nil {
		return postgres.WrapRoleError(err, string(role))
	}
	return nil
}

// GrantMembership grants the `group` group role to the `member` user
// role. PostgreSQL treats a repeated grant as a no-op, so replaying a
// membership event causes no change.
func GrantMembership[Q postgres.Queryer](
	ctx context.Context, q Q, group, member repo.Role,
) error {
	_, err := q.Exec(
		ctx,
		"GRANT "+postgres.QuoteIdentifier(string(group))+
			" TO "+postgres.QuoteIdentifier(string(member)),
	)
	if err != nil {
		return postgres.WrapRoleError(err, string(group))
	}
	return nil
}

// RevokeMembership revokes the `group` group role from the `member`
// user role. Revoking an absent membership, or a membership whose
// member role is dropped already, causes no change.
func RevokeMembership[Q postgres.Queryer](
	ctx context.Context, q Q, group, member repo.Role,
) error {
	_, err := q.Exec(
		ctx,
		"REVOKE "+postgres.QuoteIdentifier(string(group))+
			" FROM "+postgres.QuoteIdentifier(string(member)),
	)
	if err != nil {
		err = postgres.WrapRoleError(err, string(group))
		var unknown *cerr.UnknownRole
		if errors.As(err, &unknown) {
			return nil // a dropped role has no memberships left
		}
		return err
	}
	return nil
}

// DropRole drops the managed `role` role. A role which is referenced
// by active sessions or still owns database objects cannot be dropped;
// a *cerr.RoleRemovalPending error is returned instead and the role is
// kept, so the caller may queue the removal for a later retry.
// Dropping an absent role causes no change.
func DropRole[Q postgres.Queryer](
	ctx context.Context, q Q, role repo.Role,
) error {
	k, exists, err := Kind(ctx, q, role)
	switch {
	case err != nil:
		return err
	case !exists:
		return nil // already dropped
	case !k.Managed():
		return fmt.Errorf("role %q is not managed", role)
	}
	sessions, err := countSessions(ctx, q, role)
	if err != nil {
		return err
	}
	if sessions > 0 {
		return &cerr.RoleRemovalPending{
			Role: string(role),
			Reason: fmt.Sprintf(
				"role is referenced by %d active sessions", sessions,
			),
		}
	}
	_, err = q.Exec(
		ctx, "DROP ROLE "+postgres.QuoteIdentifier(string(role)),
	)
	if err != nil {
		return postgres.WrapRoleError(err, string(role))
	}
	return nil
}

func countSessions[Q postgres.Queryer](
	ctx context.Context, q Q, role repo.Role,
) (int64, error) {
	rows, err := q.Query(
		ctx,
		"SELECT COUNT(*) FROM pg_stat_activity WHERE usename=$1",
		string(role),
	)
	if err != nil {
		return 0, fmt.Errorf("querying pg_stat_activity: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, fmt.Errorf("no rows: %w", rows.Err())
	}
	var count int64
	if err := rows.Scan(&count); err != nil {
		return 0, fmt.Errorf("scanning: %w", err)
	}
	return count, nil
}

// ListManaged returns all managed roles with their kinds, login
// capability, and membership edges, ordered by the role name.
func ListManaged[Q postgres.Queryer](
	ctx context.Context, q Q,
) ([]model.DatabaseRole, error) {
	managed, names, err := listMarkedRoles(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := fillMemberships(ctx, q, managed); err != nil {
		return nil, err
	}
	l := make([]model.DatabaseRole, 0, len(names))
	for _, name := range names {
		l = append(l, *managed[name])
	}
	return l, nil
}

func listMarkedRoles[Q postgres.Queryer](
	ctx context.Context, q Q,
) (map[string]*model.DatabaseRole, []string, error) {
	rows, err := q.Query(
		ctx,
		`SELECT rolname, rolcanlogin,
			shobj_description(oid, 'pg_authid')
			FROM pg_roles ORDER BY rolname`,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("querying pg_roles: %w", err)
	}
	defer rows.Close()
	managed := make(map[string]*model.DatabaseRole)
	var names []string
	for rows.Next() {
		var (
			name     string
			canLogin bool
			comment  sql.NullString
		)
		if err := rows.Scan(&name, &canLogin, &comment); err != nil {
			return nil, nil, fmt.Errorf("scanning: %w", err)
		}
		var kind model.RoleKind
		switch comment.String {
		case userMarker:
			kind = model.UserRole
		case groupMarker:
			kind = model.GroupRole
		default:
			continue
		}
		managed[name] = &model.DatabaseRole{
			Name:     name,
			Kind:     kind,
			CanLogin: canLogin,
			MemberOf: []string{},
		}
		names = append(names, name)
	}
	return managed, names, rows.Err()
}

func fillMemberships[Q postgres.Queryer](
	ctx context.Context, q Q, managed map[string]*model.DatabaseRole,
) error {
	rows, err := q.Query(
		ctx,
		`SELECT m.rolname, g.rolname
			FROM pg_auth_members am
			JOIN pg_roles m ON m.oid=am.member
			JOIN pg_roles g ON g.oid=am.roleid
			ORDER BY m.rolname, g.rolname`,
	)
	if err != nil {
		return fmt.Errorf("querying pg_auth_members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var member, group string
		if err := rows.Scan(&member, &group); err != nil {
			return fmt.Errorf("scanning: %w", err)
		}
		if r, ok := managed[member]; ok {
			r.MemberOf = append(r.MemberOf, group)
		}
	}
	return rows.Err()
}
