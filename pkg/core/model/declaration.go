// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import "fmt"

// Declaration is an ordered list of raw access-control statements
// which are attached to one schema entity (e.g., a table) by the
// external schema tooling. The statements are opaque to this project;
// only their order matters because later statements may depend on the
// effects of earlier ones (e.g., a row security policy referencing a
// role which an earlier GRANT prepared).
// Declarations are applied once per migration, in order, ideally in a
// single transaction, and must be safely re-runnable.
type Declaration struct {
	// Entity names the schema entity which the statements belong to.
	// It keys the applied-statements ledger, so it must be stable.
	Entity string `yaml:"entity"`

	// Statements are the raw SQL statements in application order.
	Statements []string `yaml:"statements"`
}

// Validate returns nil if this declaration carries an entity name and
// no empty statement, so it may be passed to the applier.
func (d *Declaration) Validate() error {
	if d.Entity == "" {
		return fmt.Errorf("declaration without an entity name")
	}
	for i, s := range d.Statements {
		if s == "" {
			return fmt.Errorf(
				"declaration %q: statement %d is empty", d.Entity, i,
			)
		}
	}
	return nil
}
