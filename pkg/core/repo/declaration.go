// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package repo

import (
	"context"

	"github.com/momeni/role-bridge/pkg/core/model"
)

// Declarations interface presents expectations from a repository which
// applies declared permission statements during a schema migration.
// The statements are produced by the external schema tooling and are
// opaque here; this repository only guarantees that they are executed
// with elevated privileges, in their declared order, within the given
// transaction, and that re-running an already applied declaration is
// a no-op.
type Declarations interface {
	// Tx takes a Tx interface instance, unwraps it as required, and
	// returns a DeclarationsQueryer interface which applies
	// declarations in that transaction. Requiring a transaction keeps
	// the whole batch atomic: a partial failure rolls back and leaves
	// no half-applied policy set behind.
	Tx(Tx) DeclarationsQueryer
}

// DeclarationsQueryer interface lists the declaration application
// queries.
type DeclarationsQueryer interface {
	// Apply executes the statements of the `decl` declaration in
	// order, skipping statements which were applied by an earlier
	// migration run. A previously applied statement whose content has
	// changed since then is an error, because silently re-executing a
	// different statement under the same position could break the
	// ordering assumptions of the following statements.
	Apply(ctx context.Context, decl model.Declaration) error
}
