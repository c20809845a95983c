// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package declrp provides a reification of the repo.Declarations
// interface, executing the declared permission statements which the
// external schema tooling attaches to schema entities. Executed
// statements are recorded in a ledger table, so re-running an already
// applied declaration is a no-op and an edited one is an error.
package declrp

import (
	"context"

	"github.com/momeni/role-bridge/pkg/adapter/db/postgres"
	"github.com/momeni/role-bridge/pkg/core/model"
	"github.com/momeni/role-bridge/pkg/core/repo"
)

// Repo represents a permission declarations repository.
type Repo struct {
}

// New instantiates a permission declarations Repo struct.
func New() *Repo {
	return &Repo{}
}

type txQueryer struct {
	*postgres.Tx
}

// Tx takes a Tx interface instance, unwraps it as required, and
// returns a repo.DeclarationsQueryer interface which applies the
// declarations in that transaction. A transaction (instead of a
// connection) is mandated, so a batch of declarations either applies
// completely or rolls back without leaving a half-applied policy set.
func (decls *Repo) Tx(tx repo.Tx) repo.DeclarationsQueryer {
	tt := tx.(*postgres.Tx)
	return txQueryer{Tx: tt}
}

func (tq txQueryer) Apply(
	ctx context.Context, decl model.Declaration,
) error {
	return Apply(ctx, tq.Tx, decl)
}
