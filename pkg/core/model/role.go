// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"fmt"
)

// RoleKind classifies a database role based on its relation to the
// application identity store.
type RoleKind string

// These constants enumerate the possible RoleKind values.
// A UserRole corresponds to exactly one application user and a
// GroupRole corresponds to exactly one application group, both of
// them created and maintained by the identity synchronizer.
// An UnmanagedRole exists in the database without any application
// counterpart, such as administrator roles, backup accounts, or roles
// of other applications. Unmanaged roles must never be mutated or
// dropped by the synchronizer.
const (
	UserRole      RoleKind = "user"
	GroupRole     RoleKind = "group"
	UnmanagedRole RoleKind = "unmanaged"
)

// Validate returns nil if this RoleKind instance contains one of the
// expected values and an error otherwise.
func (k RoleKind) Validate() error {
	switch k {
	case UserRole, GroupRole, UnmanagedRole:
		return nil
	default:
		return fmt.Errorf("invalid role kind: %q", string(k))
	}
}

// Managed returns true if roles of this kind are owned by the
// identity synchronizer and so may be created, renamed, or dropped
// by it.
func (k RoleKind) Managed() bool {
	return k == UserRole || k == GroupRole
}

// DatabaseRole describes a PostgreSQL role as the synchronizer sees
// it. The Name is derived deterministically from the corresponding
// application identity by the naming policy (for managed kinds).
// CanLogin indicates whether the role may establish a session.
// MemberOf lists the group roles which this role is granted.
type DatabaseRole struct {
	Name     string
	Kind     RoleKind
	CanLogin bool
	MemberOf []string
}
