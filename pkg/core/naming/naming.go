// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package naming maps application identities to database role names.
// The mapping is pure and deterministic (no randomness, no counters),
// so that re-running a synchronization pass after a crash or a
// redelivered event derives the same role names again and the
// synchronization operations stay idempotent.
package naming

import (
	"fmt"
	"strings"

	"github.com/momeni/role-bridge/pkg/core/cerr"
	"github.com/momeni/role-bridge/pkg/core/model"
)

// These constants specify the role name prefixes for the managed role
// kinds. Distinct prefixes keep the (kind, identifier) pairs
// collision-free: two identities of different kinds can never derive
// the same role name.
const (
	UserPrefix  = "user_"
	GroupPrefix = "role_"
)

// MaxNameLen is the PostgreSQL identifier length limit (NAMEDATALEN-1).
// Longer derived names are rejected instead of being truncated, since
// truncation could make two distinct identifiers collide silently.
const MaxNameLen = 63

// Policy derives database role names from application identifiers.
// The zero value is usable; Reserve may be called to protect
// additional unmanaged role names from collisions.
type Policy struct {
	reserved map[string]struct{}
}

// New instantiates a naming Policy which protects the given unmanaged
// role names (e.g., administrator or backup roles) in addition to the
// built-in reserved patterns.
func New(reserved ...string) *Policy {
	p := &Policy{reserved: make(map[string]struct{}, len(reserved))}
	for _, r := range reserved {
		p.reserved[strings.ToLower(r)] = struct{}{}
	}
	return p
}

// Reserve protects the given role name from being derived for any
// application identity. Attempts to derive it fail with a
// *cerr.NamingConflict error.
func (p *Policy) Reserve(name string) {
	if p.reserved == nil {
		p.reserved = make(map[string]struct{}, 1)
	}
	p.reserved[strings.ToLower(name)] = struct{}{}
}

// RoleName derives the database role name for the given identity kind
// and application identifier. The identifier is lowercased and every
// character outside of [a-z0-9_] is rejected, so the derived name can
// be embedded in DDL statements after quoting without surprises and
// distinct identifiers always derive distinct names.
// It fails with a *cerr.NamingConflict error if the identifier is
// empty, contains unsupported characters, derives an overlong name,
// or collides with a reserved or unmanaged role name pattern.
func (p *Policy) RoleName(
	kind model.IdentityKind, identifier string,
) (string, error) {
	if err := kind.Validate(); err != nil {
		return "", &cerr.NamingConflict{
			Identifier: identifier,
			Reason:     err.Error(),
		}
	}
	if identifier == "" {
		return "", &cerr.NamingConflict{
			Identifier: identifier,
			Reason:     "empty identifier",
		}
	}
	lowered := strings.ToLower(identifier)
	for _, c := range lowered {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return "", &cerr.NamingConflict{
				Identifier: identifier,
				Reason: fmt.Sprintf(
					"unsupported character %q in identifier", c,
				),
			}
		}
	}
	prefix := UserPrefix
	if kind == model.GroupIdentity {
		prefix = GroupPrefix
	}
	name := prefix + lowered
	if len(name) > MaxNameLen {
		return "", &cerr.NamingConflict{
			Identifier: identifier,
			Role:       name,
			Reason: fmt.Sprintf(
				"derived name exceeds %d bytes", MaxNameLen,
			),
		}
	}
	// The user_/role_ prefixes keep derived names out of the pg_
	// catalog namespace, so only the configured unmanaged names can
	// still collide.
	if _, ok := p.reserved[name]; ok {
		return "", &cerr.NamingConflict{
			Identifier: identifier,
			Role:       name,
			Reason:     "name is reserved for an unmanaged role",
		}
	}
	return name, nil
}
