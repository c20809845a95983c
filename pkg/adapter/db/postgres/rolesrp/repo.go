// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package rolesrp provides a reification of the repo.Roles interface,
// managing database roles and their membership edges with plain DDL
// statements. Roles which this project creates are tagged with a
// marker comment in the pg_authid shared catalog, so they can be told
// apart from pre-existing roles which must never be mutated.
package rolesrp

import (
	"context"

	"github.com/momeni/role-bridge/pkg/adapter/db/postgres"
	"github.com/momeni/role-bridge/pkg/core/model"
	"github.com/momeni/role-bridge/pkg/core/repo"
)

// Repo represents a database roles management repository.
type Repo struct {
}

// New instantiates a roles management Repo struct.
func New() *Repo {
	return &Repo{}
}

type connQueryer struct {
	*postgres.Conn
}

// Conn takes a Conn interface instance, unwraps it as required, and
// returns a repo.RolesQueryer interface which runs the roles
// management queries on that connection, each in its own auto-commit
// transaction.
func (roles *Repo) Conn(c repo.Conn) repo.RolesQueryer {
	cc := c.(*postgres.Conn)
	return connQueryer{Conn: cc}
}

func (cq connQueryer) CreateUserRole(
	ctx context.Context, role repo.Role, scramHash string,
) error {
	return CreateUserRole(ctx, cq.Conn, role, scramHash)
}

func (cq connQueryer) CreateGroupRole(
	ctx context.Context, role repo.Role,
) error {
	return CreateGroupRole(ctx, cq.Conn, role)
}

func (cq connQueryer) RenameRole(
	ctx context.Context, old, new repo.Role,
) error {
	return RenameRole(ctx, cq.Conn, old, new)
}

func (cq connQueryer) SetCanLogin(
	ctx context.Context, role repo.Role, canLogin bool,
) error {
	return SetCanLogin(ctx, cq.Conn, role, canLogin)
}

func (cq connQueryer) SetPassword(
	ctx context.Context, role repo.Role, scramHash string,
) error {
	return SetPassword(ctx, cq.Conn, role, scramHash)
}

func (cq connQueryer) GrantMembership(
	ctx context.Context, group, member repo.Role,
) error {
	return GrantMembership(ctx, cq.Conn, group, member)
}

func (cq connQueryer) RevokeMembership(
	ctx context.Context, group, member repo.Role,
) error {
	return RevokeMembership(ctx, cq.Conn, group, member)
}

func (cq connQueryer) DropRole(
	ctx context.Context, role repo.Role,
) error {
	return DropRole(ctx, cq.Conn, role)
}

func (cq connQueryer) Kind(
	ctx context.Context, role repo.Role,
) (model.RoleKind, bool, error) {
	return Kind(ctx, cq.Conn, role)
}

func (cq connQueryer) ListManaged(
	ctx context.Context,
) ([]model.DatabaseRole, error) {
	return ListManaged(ctx, cq.Conn)
}

type txQueryer struct {
	*postgres.Tx
}

// Tx takes a Tx interface instance, unwraps it as required, and
// returns a repo.RolesQueryer interface which runs the roles
// management queries in that transaction. Note that CREATE ROLE and
// DROP ROLE are transactional in PostgreSQL, in contrast to some
// other DBMS engines, so grouping them with dependent statements in
// one transaction is sound.
func (roles *Repo) Tx(tx repo.Tx) repo.RolesQueryer {
	tt := tx.(*postgres.Tx)
	return txQueryer{Tx: tt}
}

func (tq txQueryer) CreateUserRole(
	ctx context.Context, role repo.Role, scramHash string,
) error {
	return CreateUserRole(ctx, tq.Tx, role, scramHash)
}

func (tq txQueryer) CreateGroupRole(
	ctx context.Context, role repo.Role,
) error {
	return CreateGroupRole(ctx, tq.Tx, role)
}

func (tq txQueryer) RenameRole(
	ctx context.Context, old, new repo.Role,
) error {
	return RenameRole(ctx, tq.Tx, old, new)
}

func (tq txQueryer) SetCanLogin(
	ctx context.Context, role repo.Role, canLogin bool,
) error {
	return SetCanLogin(ctx, tq.Tx, role, canLogin)
}

func (tq txQueryer) SetPassword(
	ctx context.Context, role repo.Role, scramHash string,
) error {
	return SetPassword(ctx, tq.Tx, role, scramHash)
}

func (tq txQueryer) GrantMembership(
	ctx context.Context, group, member repo.Role,
) error {
	return GrantMembership(ctx, tq.Tx, group, member)
}

func (tq txQueryer) RevokeMembership(
	ctx context.Context, group, member repo.Role,
) error {
	return RevokeMembership(ctx, tq.Tx, group, member)
}

func (tq txQueryer) DropRole(
	ctx context.Context, role repo.Role,
) error {
	return DropRole(ctx, tq.Tx, role)
}

func (tq txQueryer) Kind(
	ctx context.Context, role repo.Role,
) (model.RoleKind, bool, error) {
	return Kind(ctx, tq.Tx, role)
}

func (tq txQueryer) ListManaged(
	ctx context.Context,
) ([]model.DatabaseRole, error) {
	return ListManaged(ctx, tq.Tx)
}
