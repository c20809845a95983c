// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cerr

import "fmt"

// NamingConflict indicates that an application identity could not be
// mapped to a database role name, either because the transformed name
// collides with a reserved or unmanaged role name pattern, or because
// another identity already occupies the derived name.
// The affected identity is left unsynchronized and must be flagged for
// operator attention; other identities are not affected.
type NamingConflict struct {
	Identifier string // the offending application identifier
	Role       string // the derived (or colliding) role name
	Reason     string
}

// Error returns a string representation of this error instance.
func (e *NamingConflict) Error() string {
	return fmt.Sprintf(
		"naming conflict for identifier %q (role %q): %s",
		e.Identifier, e.Role, e.Reason,
	)
}

// UnknownRole indicates that a privilege switch targeted a role with
// no corresponding database role. The session privilege state is left
// unchanged by the failed switch.
type UnknownRole struct {
	Role string
}

// Error returns a string representation of this error instance.
func (e *UnknownRole) Error() string {
	return fmt.Sprintf("role %q does not exist", e.Role)
}

// PrivilegeDenied indicates that the current session is not permitted
// to assume the requested role. The attempted operation must be
// treated as not having run.
type PrivilegeDenied struct {
	Role string
	Err  error
}

// Error returns a string representation of this error instance.
func (e *PrivilegeDenied) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("permission denied to assume role %q", e.Role)
	}
	return fmt.Sprintf(
		"permission denied to assume role %q: %s", e.Role, e.Err,
	)
}

// Unwrap returns the wrapped database error, if any.
func (e *PrivilegeDenied) Unwrap() error {
	return e.Err
}

// AlreadyInContext indicates that a nested privilege switch was
// attempted on a session which is configured without stack support,
// while another context was still active on it.
type AlreadyInContext struct {
	Active string // the role of the currently active context
}

// Error returns a string representation of this error instance.
func (e *AlreadyInContext) Error() string {
	return fmt.Sprintf(
		"session is already in the %q privilege context", e.Active,
	)
}

// RoleRemovalPending indicates that a managed role could not be
// dropped yet, because it still owns database objects or is referenced
// by active sessions. This condition is not fatal; the removal is
// queued and retried on subsequent reconciliation passes.
type RoleRemovalPending struct {
	Role   string
	Reason string
}

// Error returns a string representation of this error instance.
func (e *RoleRemovalPending) Error() string {
	return fmt.Sprintf(
		"removal of role %q is pending: %s", e.Role, e.Reason,
	)
}
