// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package command

import "github.com/spf13/cobra"

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management actions",
	Long: `Database management actions can be chosen by sub-commands.
The apply-perms action applies the permission declarations which the
schema tooling produced during a migration, executing grants and row
security policies with elevated privileges in their declared order.`,
}

func init() {
	rootCmd.AddCommand(dbCmd)
}
