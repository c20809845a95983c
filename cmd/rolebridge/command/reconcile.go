// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import (
	"context"
	"fmt"

	"github.com/momeni/role-bridge/pkg/adapter/config"
	"github.com/momeni/role-bridge/pkg/adapter/db/postgres/identityrp"
	"github.com/momeni/role-bridge/pkg/adapter/db/postgres/rolesrp"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Converge database roles to the identity store state",
	Long: `Converge database roles to the identity store state with a
one-shot reconciliation pass. A consistent snapshot of the application
users, groups, and memberships is taken first and then the managed
roles are created, adjusted, or dropped until they mirror it; roles
without the managed marker are left untouched. Removals which are
blocked by owned objects or active sessions are reported and retried
once at the end.
This action is useful after an events delivery outage or before
enabling the synchronization server for an existing identity store.`,
	RunE: reconcile,
	Args: cobra.NoArgs,
}

func reconcile(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	c, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config.Load(%q): %w", cfgPath, err)
	}
	p, idp, cleanup, err := connectPools(ctx, c)
	if err != nil {
		return err
	}
	defer cleanup()
	uc, err := c.NewSyncUseCase(
		p, rolesrp.New(), idp, identityrp.New(),
	)
	if err != nil {
		return fmt.Errorf("creating sync use case: %w", err)
	}
	if err := uc.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconciling: %w", err)
	}
	if err := uc.RetryPending(ctx); err != nil {
		return fmt.Errorf("retrying deferred removals: %w", err)
	}
	for _, r := range uc.PendingRemovals() {
		fmt.Printf(
			"deferred removal: role %q (%s)\n", r.Role, r.Reason,
		)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
