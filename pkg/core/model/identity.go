// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package model contains the application identity and database role
// models in addition to the identity lifecycle events which connect
// them together. The identity models (users and groups) are owned by
// an external identity store and are only observed here, while the
// database role models describe the PostgreSQL roles which must be
// kept consistent with them.
package model

import "github.com/google/uuid"

// User represents an application user as observed from the external
// identity store. The ID is stable and immutable for the lifetime of
// the user, while the Username may change (triggering a role rename).
// The Active flag indicates whether the user may establish sessions;
// an inactive user keeps its role and grants, but loses the login
// capability until it is activated again.
type User struct {
	ID       uuid.UUID
	Username string
	Active   bool
}

// Group represents an application group as observed from the external
// identity store. The ID is stable and immutable, the Name may change.
// Members holds the usernames of the member users, since role names
// and membership edges are derived from usernames by the naming
// policy.
type Group struct {
	ID      uuid.UUID
	Name    string
	Members []string
}
