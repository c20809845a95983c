// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"fmt"

	"github.com/google/uuid"
)

// EventKind enumerates the identity lifecycle event kinds which the
// synchronizer reacts to.
type EventKind string

// These constants specify the supported identity lifecycle events.
// Events are delivered at-least-once, hence, every event handler must
// be idempotent under redelivery.
const (
	// EventCreated announces a new user or group. The Name field
	// carries the current username or group name.
	EventCreated EventKind = "created"

	// EventRenamed announces that a user or group changed its name.
	// The OldName and Name fields carry the previous and new names.
	EventRenamed EventKind = "renamed"

	// EventActivated announces that a previously deactivated user may
	// establish sessions again.
	EventActivated EventKind = "activated"

	// EventDeactivated announces that a user may no longer establish
	// sessions. Its role and grants are retained.
	EventDeactivated EventKind = "deactivated"

	// EventDeleted announces that a user or group was removed from
	// the identity store. The corresponding role removal may be
	// deferred while it owns objects or has active sessions.
	EventDeleted EventKind = "deleted"

	// EventMembershipChanged announces that the member set of a group
	// changed. The Added and Removed fields carry the affected user
	// identifiers.
	EventMembershipChanged EventKind = "membership-changed"
)

// Validate returns nil if this EventKind instance contains one of the
// expected values and an error otherwise.
func (k EventKind) Validate() error {
	switch k {
	case EventCreated, EventRenamed, EventActivated,
		EventDeactivated, EventDeleted, EventMembershipChanged:
		return nil
	default:
		return fmt.Errorf("invalid event kind: %q", string(k))
	}
}

// IdentityKind distinguishes the identity type which an event is
// about. It matches the managed RoleKind values.
type IdentityKind string

// These constants specify the supported identity kinds.
const (
	UserIdentity  IdentityKind = "user"
	GroupIdentity IdentityKind = "group"
)

// Validate returns nil if this IdentityKind instance contains one of
// the expected values and an error otherwise.
func (k IdentityKind) Validate() error {
	switch k {
	case UserIdentity, GroupIdentity:
		return nil
	default:
		return fmt.Errorf("invalid identity kind: %q", string(k))
	}
}

// RoleKind returns the managed role kind which corresponds to this
// identity kind.
func (k IdentityKind) RoleKind() RoleKind {
	if k == GroupIdentity {
		return GroupRole
	}
	return UserRole
}

// Event is one identity lifecycle event as delivered by the identity
// store, either through the NOTIFY channel or the events webhook.
// The ID identifies the affected user or group and stays stable across
// renames, serializing the handling of rapid successive events about
// the same identity. Name carries the current username or group name
// (which role names are derived from) and OldName the previous one for
// rename events. Added and Removed carry member usernames for
// membership change events.
type Event struct {
	Kind     EventKind    `json:"kind" binding:"required"`
	Identity IdentityKind `json:"identity" binding:"required"`
	ID       uuid.UUID    `json:"id" binding:"required"`
	Name     string       `json:"name"`
	OldName  string       `json:"old_name,omitempty"`
	Added    []string     `json:"added,omitempty"`
	Removed  []string     `json:"removed,omitempty"`
}

// Validate checks the event kind and identity kind values in addition
// to the event fields consistency, returning nil if the event may be
// dispatched to the synchronizer.
func (e *Event) Validate() error {
	if err := e.Kind.Validate(); err != nil {
		return err
	}
	if err := e.Identity.Validate(); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		return fmt.Errorf("event %q without an identity ID", e.Kind)
	}
	if e.Name == "" {
		return fmt.Errorf("event %q without a name", e.Kind)
	}
	switch e.Kind {
	case EventRenamed:
		if e.OldName == "" {
			return fmt.Errorf("event %q without the old name", e.Kind)
		}
	case EventActivated, EventDeactivated:
		if e.Identity != UserIdentity {
			return fmt.Errorf(
				"event %q is only defined for users", e.Kind,
			)
		}
	case EventMembershipChanged:
		if e.Identity != GroupIdentity {
			return fmt.Errorf(
				"event %q is only defined for groups", e.Kind,
			)
		}
	}
	return nil
}
