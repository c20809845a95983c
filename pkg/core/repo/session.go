// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package repo

import "context"

// Session interface exposes the privilege state of one database
// session, i.e., one dedicated connection. It is the substrate of the
// privilege context manager: switching causes subsequent statements on
// this session to be authorized as the target role, until the state is
// switched again or reset to the session's original identity.
//
// A Session is bound to exactly one underlying connection and is
// unsafe to be shared across concurrent units of work. The connection
// pool must not hand a connection which is under a non-default
// privilege state to another caller; the scoped Pool.Conn acquisition
// guarantees that as long as every switch is reverted (or the
// connection is discarded) before the handler returns.
type Session interface {
	Queryer

	// SwitchRole causes subsequent statements on this session to run
	// with the privileges of the `role` role. It fails with a
	// *cerr.UnknownRole error if no such role exists and with a
	// *cerr.PrivilegeDenied error if the session's original identity
	// is not a member of the target role. A failed switch leaves the
	// session privilege state unchanged.
	SwitchRole(ctx context.Context, role Role) error

	// ResetRole restores the session's original identity, dropping
	// any active privilege switch.
	ResetRole(ctx context.Context) error

	// CurrentRole reports the role whose privileges are currently in
	// effect on this session. It returns DefaultRole if no switch is
	// active, i.e., the current role equals the session identity.
	CurrentRole(ctx context.Context) (Role, error)

	// Discard marks the underlying connection as unusable, so the
	// connection pool closes it instead of handing it to another
	// caller. It must be called whenever the session privilege state
	// becomes unknown, e.g., when a restore directive fails.
	Discard() error
}
