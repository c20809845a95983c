// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"context"
	"fmt"

	"github.com/momeni/role-bridge/pkg/adapter/config"
	"github.com/momeni/role-bridge/pkg/adapter/db/postgres/declrp"
	"github.com/momeni/role-bridge/pkg/core/usecase/permuc"
	"github.com/spf13/cobra"
)

var applyPermsCmd = &cobra.Command{
	Use:   "apply-perms <declarations.yaml>",
	Short: "Apply declared permission statements",
	Long: `Apply declared permission statements from a declarations
file which the schema tooling produced during a migration. All of the
statements are executed in one transaction, in their declared order,
with the privileges of the configured administrator role, so a partial
failure rolls the whole batch back. Statements which an earlier run
already applied are skipped, hence, re-running an interrupted
migration is safe.`,
	RunE: applyPerms,
	Args: cobra.ExactArgs(1),
}

func applyPerms(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	c, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config.Load(%q): %w", cfgPath, err)
	}
	decls, err := config.LoadDeclarations(args[0])
	if err != nil {
		return fmt.Errorf(
			"config.LoadDeclarations(%q): %w", args[0], err,
		)
	}
	p, err := c.Database.ConnectionPool(ctx)
	if err != nil {
		return fmt.Errorf("creating DB pool: %w", err)
	}
	defer p.Close()
	uc := permuc.New(p, declrp.New())
	if err := uc.Apply(ctx, decls); err != nil {
		return fmt.Errorf("applying declarations: %w", err)
	}
	return nil
}

func init() {
	dbCmd.AddCommand(applyPermsCmd)
}
