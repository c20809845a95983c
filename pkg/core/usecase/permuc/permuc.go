// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package permuc contains the permission declaration application
// UseCase. Declarations are ordered lists of raw access-control
// statements (grants, row security policies, column grants) which the
// external schema tooling attaches to schema entities. This use case
// applies all of them in one transaction, with elevated privileges, in
// their declared order, relying on the declarations repository for
// skipping the statements which an earlier migration run already
// applied.
package permuc

import (
	"context"
	"fmt"

	"github.com/momeni/role-bridge/pkg/core/model"
	"github.com/momeni/role-bridge/pkg/core/repo"
)

// UseCase represents the permission declaration application use case.
// It holds a database connection pool, which must be established with
// the administrator role because declared statements may create
// grants and policies on arbitrary schema entities, and the
// declarations repository instance.
type UseCase struct {
	pool   repo.Pool
	declrp repo.Declarations
}

// New instantiates a permission declaration application use case.
func New(p repo.Pool, d repo.Declarations) *UseCase {
	return &UseCase{pool: p, declrp: d}
}

// Apply validates and applies the given declarations within a single
// transaction, so a partial failure rolls the whole batch back and no
// half-applied policy set is left behind. Statements are executed in
// the declared order; re-running an already applied batch is a no-op.
func (uc *UseCase) Apply(
	ctx context.Context, decls []model.Declaration,
) error {
	for i := range decls {
		if err := decls[i].Validate(); err != nil {
			return fmt.Errorf("invalid declaration: %w", err)
		}
	}
	err := uc.pool.Conn(
		ctx, func(ctx context.Context, c repo.Conn) error {
			return c.Tx(
				ctx, func(ctx context.Context, tx repo.Tx) error {
					q := uc.declrp.Tx(tx)
					for _, decl := range decls {
						if err := q.Apply(ctx, decl); err != nil {
							return fmt.Errorf(
								"applying declaration %q: %w",
								decl.Entity, err,
							)
						}
					}
					return nil
				},
			)
		},
	)
	if err != nil {
		return fmt.Errorf("applying declarations: %w", err)
	}
	return nil
}
