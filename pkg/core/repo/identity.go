// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package repo

import (
	"context"

	"github.com/momeni/role-bridge/pkg/core/model"
)

// Identities interface presents expectations from a repository which
// reads the application identity store. The identity store is owned by
// the external application; this repository only takes consistent
// snapshots of it, so a reconciliation pass can converge the database
// roles towards the observed identity state.
type Identities interface {
	// Conn takes a Conn interface instance, unwraps it as required,
	// and returns an IdentitiesQueryer interface which can run the
	// identity snapshot queries on that connection.
	Conn(Conn) IdentitiesQueryer

	// Tx takes a Tx interface instance, unwraps it as required, and
	// returns an IdentitiesQueryer interface which can run the
	// identity snapshot queries in that transaction. Reading users,
	// groups, and memberships in one transaction yields a consistent
	// snapshot.
	Tx(Tx) IdentitiesQueryer
}

// IdentitiesQueryer interface lists the identity store read queries.
type IdentitiesQueryer interface {
	// ListUsers returns all application users with their stable
	// identifiers, current usernames, and active flags.
	ListUsers(ctx context.Context) ([]model.User, error)

	// ListGroups returns all application groups with their stable
	// identifiers, current names, and member user identifiers.
	ListGroups(ctx context.Context) ([]model.Group, error)
}
