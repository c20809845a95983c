// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package identityrp provides a reification of the repo.Identities
// interface, reading snapshots of the users, groups, and memberships
// tables which the external application maintains. This repository
// never writes: the identity store is owned by the application and
// this project only converges database roles towards it.
package identityrp

import (
	"context"

	"github.com/momeni/role-bridge/pkg/adapter/db/postgres"
	"github.com/momeni/role-bridge/pkg/core/model"
	"github.com/momeni/role-bridge/pkg/core/repo"
)

// Repo represents an identity store reading repository.
type Repo struct {
}

// New instantiates an identity store Repo struct.
func New() *Repo {
	return &Repo{}
}

type connQueryer struct {
	*postgres.Conn
}

// Conn takes a Conn interface instance, unwraps it as required, and
// returns a repo.IdentitiesQueryer interface which runs the identity
// snapshot queries on that connection.
func (ids *Repo) Conn(c repo.Conn) repo.IdentitiesQueryer {
	cc := c.(*postgres.Conn)
	return connQueryer{Conn: cc}
}

func (cq connQueryer) ListUsers(
	ctx context.Context,
) ([]model.User, error) {
	return ListUsers(ctx, cq.Conn)
}

func (cq connQueryer) ListGroups(
	ctx context.Context,
) ([]model.Group, error) {
	return ListGroups(ctx, cq.Conn)
}

type txQueryer struct {
	*postgres.Tx
}

// Tx takes a Tx interface instance, unwraps it as required, and
// returns a repo.IdentitiesQueryer interface which runs the identity
// snapshot queries in that transaction. A REPEATABLE READ transaction
// yields a consistent snapshot of users, groups, and memberships.
func (ids *Repo) Tx(tx repo.Tx) repo.IdentitiesQueryer {
	tt := tx.(*postgres.Tx)
	return txQueryer{Tx: tt}
}

func (tq txQueryer) ListUsers(
	ctx context.Context,
) ([]model.User, error) {
	return ListUsers(ctx, tq.Tx)
}

func (tq txQueryer) ListGroups(
	ctx context.Context,
) ([]model.Group, error) {
	return ListGroups(ctx, tq.Tx)
}
