// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package syncuc_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/momeni/role-bridge/pkg/core/cerr"
	"github.com/momeni/role-bridge/pkg/core/model"
	"github.com/momeni/role-bridge/pkg/core/repo"
)

// fakePool implements repo.Pool over nothing: every handler receives a
// fakeConn, which is enough because the fake repositories keep their
// state in process memory instead of a DBMS.
type fakePool struct{}

func (fakePool) Conn(
	ctx context.Context, f repo.ConnHandler,
) error {
	return f(ctx, fakeConn{})
}

type fakeConn struct{}

func (fakeConn) Exec(
	ctx context.Context, sql string, args ...any,
) (int64, error) {
	return 0, nil
}

func (fakeConn) Query(
	ctx context.Context, sql string, args ...any,
) (repo.Rows, error) {
	return nil, errors.New("not supported by fakeConn")
}

func (fakeConn) Tx(ctx context.Context, f repo.TxHandler) error {
	return f(ctx, fakeTx{})
}

func (fakeConn) IsConn() {}

type fakeTx struct{}

func (fakeTx) Exec(
	ctx context.Context, sql string, args ...any,
) (int64, error) {
	return 0, nil
}

func (fakeTx) Query(
	ctx context.Context, sql string, args ...any,
) (repo.Rows, error) {
	return nil, errors.New("not supported by fakeTx")
}

func (fakeTx) IsTx() {}

// dbRole is the state which fakeRoles keeps per role.
type dbRole struct {
	kind     model.RoleKind
	canLogin bool
	memberOf map[repo.Role]struct{}
	password string

	ownsObjects    bool // blocks removal like pg dependent objects
	activeSessions bool
}

// fakeRoles implements repo.Roles in memory, enforcing the same
// managed-role discipline as the postgres adapter: operations which
// would mutate an unmanaged role fail instead of proceeding.
type fakeRoles struct {
	mu    sync.Mutex
	roles map[repo.Role]*dbRole
}

func newFakeRoles() *fakeRoles {
	return &fakeRoles{roles: make(map[repo.Role]*dbRole)}
}

// addUnmanaged seeds a role which exists without the managed marker,
// like administrator or backup accounts.
func (fr *fakeRoles) addUnmanaged(role repo.Role) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.roles[role] = &dbRole{
		kind:     model.UnmanagedRole,
		canLogin: true,
		memberOf: make(map[repo.Role]struct{}),
	}
}

func (fr *fakeRoles) password(role repo.Role) string {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if r, ok := fr.roles[role]; ok {
		return r.password
	}
	return ""
}

func (fr *fakeRoles) setOwnsObjects(role repo.Role, owns bool) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if r, ok := fr.roles[role]; ok {
		r.ownsObjects = owns
	}
}

// snapshot clones the full role state, so tests can compare the state
// after one and two replays of the same event sequence.
func (fr *fakeRoles) snapshot() map[repo.Role]model.DatabaseRole {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	s := make(map[repo.Role]model.DatabaseRole, len(fr.roles))
	for name, r := range fr.roles {
		groups := make([]string, 0, len(r.memberOf))
		for g := range r.memberOf {
			groups = append(groups, string(g))
		}
		sort.Strings(groups)
		s[name] = model.DatabaseRole{
			Name:     string(name),
			Kind:     r.kind,
			CanLogin: r.canLogin,
			MemberOf: groups,
		}
	}
	return s
}

func (fr *fakeRoles) Conn(repo.Conn) repo.RolesQueryer {
	return fr
}

func (fr *fakeRoles) Tx(repo.Tx) repo.RolesQueryer {
	return fr
}

// managed asserts that the role either does not exist or is managed
// with the expected kind, returning the role state in the former case.
func (fr *fakeRoles) managed(
	role repo.Role, kind model.RoleKind,
) (*dbRole, error) {
	r, ok := fr.roles[role]
	if !ok {
		return nil, nil
	}
	if r.kind != kind {
		return nil, fmt.Errorf(
			"role %q is %q, not a managed %q role", role, r.kind, kind,
		)
	}
	return r, nil
}

func (fr *fakeRoles) CreateUserRole(
	ctx context.Context, role repo.Role, scramHash string,
) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	r, err := fr.managed(role, model.UserRole)
	if err != nil {
		return err
	}
	if r != nil {
		return nil // already created
	}
	fr.roles[role] = &dbRole{
		kind:     model.UserRole,
		canLogin: true,
		memberOf: make(map[repo.Role]struct{}),
		password: scramHash,
	}
	return nil
}

func (fr *fakeRoles) CreateGroupRole(
	ctx context.Context, role repo.Role,
) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	r, err := fr.managed(role, model.GroupRole)
	if err != nil {
		return err
	}
	if r != nil {
		return nil
	}
	fr.roles[role] = &dbRole{
		kind:     model.GroupRole,
		memberOf: make(map[repo.Role]struct{}),
	}
	return nil
}

func (fr *fakeRoles) RenameRole(
	ctx context.Context, old, new repo.Role,
) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	r, ok := fr.roles[old]
	if !ok {
		if n, exists := fr.roles[new]; exists && n.kind.Managed() {
			return nil // rename is already applied
		}
		return &cerr.UnknownRole{Role: string(old)}
	}
	if !r.kind.Managed() {
		return fmt.Errorf("role %q is not managed", old)
	}
	if _, exists := fr.roles[new]; exists {
		return &cerr.NamingConflict{
			Identifier: string(old),
			Role:       string(new),
			Reason:     "target role already exists",
		}
	}
	delete(fr.roles, old)
	fr.roles[new] = r
	// rewrite the membership edges which reference the old name
	for _, other := range fr.roles {
		if _, ok := other.memberOf[old]; ok {
			delete(other.memberOf, old)
			other.memberOf[new] = struct{}{}
		}
	}
	return nil
}

func (fr *fakeRoles) SetCanLogin(
	ctx context.Context, role repo.Role, canLogin bool,
) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	r, err := fr.managed(role, model.UserRole)
	if err != nil {
		return err
	}
	if r == nil {
		return &cerr.UnknownRole{Role: string(role)}
	}
	r.canLogin = canLogin
	return nil
}

func (fr *fakeRoles) SetPassword(
	ctx context.Context, role repo.Role, scramHash string,
) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	r, err := fr.managed(role, model.UserRole)
	if err != nil {
		return err
	}
	if r == nil {
		return &cerr.UnknownRole{Role: string(role)}
	}
	r.password = scramHash
	return nil
}

func (fr *fakeRoles) GrantMembership(
	ctx context.Context, group, member repo.Role,
) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if _, ok := fr.roles[group]; !ok {
		return &cerr.UnknownRole{Role: string(group)}
	}
	m, ok := fr.roles[member]
	if !ok {
		return &cerr.UnknownRole{Role: string(member)}
	}
	m.memberOf[group] = struct{}{}
	return nil
}

func (fr *fakeRoles) RevokeMembership(
	ctx context.Context, group, member repo.Role,
) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	m, ok := fr.roles[member]
	if !ok {
		return &cerr.UnknownRole{Role: string(member)}
	}
	delete(m.memberOf, group)
	return nil
}

func (fr *fakeRoles) DropRole(
	ctx context.Context, role repo.Role,
) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	r, ok := fr.roles[role]
	if !ok {
		return nil // already dropped
	}
	if !r.kind.Managed() {
		return fmt.Errorf("role %q is not managed", role)
	}
	switch {
	case r.ownsObjects:
		return &cerr.RoleRemovalPending{
			Role:   string(role),
			Reason: "role still owns database objects",
		}
	case r.activeSessions:
		return &cerr.RoleRemovalPending{
			Role:   string(role),
			Reason: "role is referenced by active sessions",
		}
	}
	delete(fr.roles, role)
	for _, other := range fr.roles {
		delete(other.memberOf, role)
	}
	return nil
}

func (fr *fakeRoles) Kind(
	ctx context.Context, role repo.Role,
) (model.RoleKind, bool, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	r, ok := fr.roles[role]
	if !ok {
		return "", false, nil
	}
	return r.kind, true, nil
}

func (fr *fakeRoles) ListManaged(
	ctx context.Context,
) ([]model.DatabaseRole, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	var l []model.DatabaseRole
	for name, r := range fr.roles {
		if !r.kind.Managed() {
			continue
		}
		groups := make([]string, 0, len(r.memberOf))
		for g := range r.memberOf {
			groups = append(groups, string(g))
		}
		sort.Strings(groups)
		l = append(l, model.DatabaseRole{
			Name:     string(name),
			Kind:     r.kind,
			CanLogin: r.canLogin,
			MemberOf: groups,
		})
	}
	sort.Slice(l, func(i, j int) bool { return l[i].Name < l[j].Name })
	return l, nil
}

// fakeIdentities implements repo.Identities over fixed snapshots.
// An optional onListUsers hook runs when the user list is read, so
// tests can interleave concurrent operations with a snapshot read.
type fakeIdentities struct {
	users  []model.User
	groups []model.Group

	onListUsers func()
}

func (fi *fakeIdentities) Conn(repo.Conn) repo.IdentitiesQueryer {
	return fi
}

func (fi *fakeIdentities) Tx(repo.Tx) repo.IdentitiesQueryer {
	return fi
}

func (fi *fakeIdentities) ListUsers(
	ctx context.Context,
) ([]model.User, error) {
	if fi.onListUsers != nil {
		fi.onListUsers()
	}
	return fi.users, nil
}

func (fi *fakeIdentities) ListGroups(
	ctx context.Context,
) ([]model.Group, error) {
	return fi.groups, nil
}
