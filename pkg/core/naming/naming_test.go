// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package naming_test

import (
	"strings"
	"testing"

	"github.com/momeni/role-bridge/pkg/core/cerr"
	"github.com/momeni/role-bridge/pkg/core/model"
	"github.com/momeni/role-bridge/pkg/core/naming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleNameDerivation(t *testing.T) {
	p := naming.New()
	tests := []struct {
		name       string
		kind       model.IdentityKind
		identifier string
		expected   string
	}{
		{"user", model.UserIdentity, "smith", "user_smith"},
		{"group", model.GroupIdentity, "librarians", "role_librarians"},
		{"lowercased", model.UserIdentity, "Smith", "user_smith"},
		{"underscore", model.UserIdentity, "j_doe", "user_j_doe"},
		{"digits", model.UserIdentity, "agent007", "user_agent007"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.RoleName(tt.kind, tt.identifier)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRoleNameIsDeterministic(t *testing.T) {
	p := naming.New()
	first, err := p.RoleName(model.UserIdentity, "smith")
	require.NoError(t, err)
	second, err := p.RoleName(model.UserIdentity, "smith")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestKindsNeverCollide(t *testing.T) {
	p := naming.New()
	u, err := p.RoleName(model.UserIdentity, "staff")
	require.NoError(t, err)
	g, err := p.RoleName(model.GroupIdentity, "staff")
	require.NoError(t, err)
	assert.NotEqual(t, u, g)
}

func TestRoleNameRejections(t *testing.T) {
	p := naming.New("user_backup")
	tests := []struct {
		name       string
		kind       model.IdentityKind
		identifier string
	}{
		{"empty", model.UserIdentity, ""},
		{"space", model.UserIdentity, "john doe"},
		{"quote", model.UserIdentity, `a"b`},
		{"semicolon", model.UserIdentity, "x;drop"},
		{"unicode", model.UserIdentity, "pål"},
		{"reserved", model.UserIdentity, "backup"},
		{
			"overlong", model.UserIdentity,
			strings.Repeat("a", naming.MaxNameLen),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.RoleName(tt.kind, tt.identifier)
			var conflict *cerr.NamingConflict
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, tt.identifier, conflict.Identifier)
		})
	}
}

func TestReserveProtectsUnmanagedRoles(t *testing.T) {
	p := naming.New()
	_, err := p.RoleName(model.GroupIdentity, "admins")
	require.NoError(t, err)

	p.Reserve("role_admins")
	_, err = p.RoleName(model.GroupIdentity, "admins")
	var conflict *cerr.NamingConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "role_admins", conflict.Role)
}
