// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package syncuc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/momeni/role-bridge/pkg/core/cerr"
	"github.com/momeni/role-bridge/pkg/core/log"
	"github.com/momeni/role-bridge/pkg/core/model"
	"github.com/momeni/role-bridge/pkg/core/repo"
)

// desiredRole is the role state which one application identity implies.
type desiredRole struct {
	kind     model.RoleKind
	canLogin bool
	memberOf map[repo.Role]struct{}
}

// Reconcile converges the managed database roles towards a consistent
// snapshot of the identity store: missing roles are created, stale
// login flags and membership edges are fixed, and managed roles whose
// identity disappeared are dropped (or queued as pending removals when
// blocked). Unmanaged roles are never touched. Identities whose name
// cannot be derived are logged and skipped, so one naming conflict
// never blocks the synchronization of other identities.
//
// Reconcile requires the identity store access which is configured by
// the WithIdentityStore option. It serializes against concurrent event
// handling: the identity snapshot and the role convergence run in one
// exclusive section, so no event may commit a role mutation between the
// snapshot read and the convergence, only to have it dropped as stale.
func (uc *UseCase) Reconcile(ctx context.Context) error {
	if uc.idsrp == nil {
		return errors.New(
			"no identity store is configured for reconciliation",
		)
	}
	uc.reconEvent.Lock()
	defer uc.reconEvent.Unlock()
	users, groups, err := uc.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("reading identity store snapshot: %w", err)
	}
	desired := uc.desiredState(ctx, users, groups)

	err = uc.pool.Conn(
		ctx, func(ctx context.Context, c repo.Conn) error {
			return uc.converge(ctx, uc.rolesrp.Conn(c), desired)
		},
	)
	if err != nil {
		return fmt.Errorf("converging managed roles: %w", err)
	}
	return nil
}

// snapshot reads users and groups in one identity store transaction,
// so both lists describe the same committed identity state.
func (uc *UseCase) snapshot(ctx context.Context) (
	users []model.User, groups []model.Group, err error,
) {
	pool := uc.idPool
	if pool == nil {
		pool = uc.pool
	}
	err = pool.Conn(ctx, func(ctx context.Context, c repo.Conn) error {
		return c.Tx(ctx, func(ctx context.Context, tx repo.Tx) error {
			q := uc.idsrp.Tx(tx)
			if users, err = q.ListUsers(ctx); err != nil {
				return fmt.Errorf("listing users: %w", err)
			}
			if groups, err = q.ListGroups(ctx); err != nil {
				return fmt.Errorf("listing groups: %w", err)
			}
			return nil
		})
	})
	return users, groups, err
}

// desiredState derives the expected managed role set from the identity
// snapshot. Identities with naming conflicts are logged and skipped.
func (uc *UseCase) desiredState(
	ctx context.Context, users []model.User, groups []model.Group,
) map[repo.Role]*desiredRole {
	desired := make(map[repo.Role]*desiredRole, len(users)+len(groups))
	userRole := make(map[string]repo.Role, len(users))
	for _, u := range users {
		name, err := uc.policy.RoleName(model.UserIdentity, u.Username)
		if err != nil {
			log.Warn(ctx, "skipping unsynchronizable user",
				slog.String("user", u.Username),
				log.Err("error", err),
			)
			continue
		}
		userRole[u.Username] = repo.Role(name)
		desired[repo.Role(name)] = &desiredRole{
			kind:     model.UserRole,
			canLogin: u.Active,
			memberOf: make(map[repo.Role]struct{}),
		}
	}
	for _, g := range groups {
		name, err := uc.policy.RoleName(model.GroupIdentity, g.Name)
		if err != nil {
			log.Warn(ctx, "skipping unsynchronizable group",
				slog.String("group", g.Name),
				log.Err("error", err),
			)
			continue
		}
		group := repo.Role(name)
		desired[group] = &desiredRole{
			kind:     model.GroupRole,
			memberOf: make(map[repo.Role]struct{}),
		}
		for _, username := range g.Members {
			member, ok := userRole[username]
			if !ok {
				continue // the member user itself was skipped
			}
			desired[member].memberOf[group] = struct{}{}
		}
	}
	return desired
}

// converge applies the difference between the desired and the actual
// managed role state. All applied operations are idempotent, so a
// crashed pass can simply run again.
func (uc *UseCase) converge(
	ctx context.Context,
	q repo.RolesQueryer,
	desired map[repo.Role]*desiredRole,
) error {
	actual, err := q.ListManaged(ctx)
	if err != nil {
		return fmt.Errorf("listing managed roles: %w", err)
	}
	actualByName := make(map[repo.Role]model.DatabaseRole, len(actual))
	for _, r := range actual {
		actualByName[repo.Role(r.Name)] = r
	}
	for _, role := range sortedRoles(desired) {
		d := desired[role]
		a, exists := actualByName[role]
		if err := uc.convergeRole(ctx, q, role, d, a, exists); err != nil {
			// isolated per identity: log and continue with the rest
			log.Error(ctx, "converging role",
				slog.String("role", string(role)),
				log.Err("error", err),
			)
		}
	}
	for _, r := range actual {
		if _, ok := desired[repo.Role(r.Name)]; ok {
			continue
		}
		err := uc.dropRole(ctx, q, repo.Role(r.Name))
		var pending *cerr.RoleRemovalPending
		switch {
		case err == nil:
		case errors.As(err, &pending):
			log.Info(ctx, "role removal is pending",
				slog.String("role", r.Name),
				slog.String("reason", pending.Reason),
			)
		default:
			log.Error(ctx, "dropping stale role",
				slog.String("role", r.Name),
				log.Err("error", err),
			)
		}
	}
	return nil
}

func (uc *UseCase) convergeRole(
	ctx context.Context,
	q repo.RolesQueryer,
	role repo.Role,
	d *desiredRole,
	a model.DatabaseRole,
	exists bool,
) error {
	if !exists {
		if d.kind == model.GroupRole {
			if err := q.CreateGroupRole(ctx, role); err != nil {
				return err
			}
		} else {
			if err := q.CreateUserRole(ctx, role, ""); err != nil {
				return err
			}
			if !d.canLogin {
				if err := q.SetCanLogin(ctx, role, false); err != nil {
					return err
				}
			}
		}
		a = model.DatabaseRole{
			Name:     string(role),
			Kind:     d.kind,
			CanLogin: d.kind == model.UserRole && d.canLogin,
		}
	}
	if a.Kind != d.kind {
		return fmt.Errorf(
			"role %q is managed as %q, but the identity implies %q",
			role, a.Kind, d.kind,
		)
	}
	if d.kind == model.UserRole && a.CanLogin != d.canLogin {
		if err := q.SetCanLogin(ctx, role, d.canLogin); err != nil {
			return err
		}
	}
	actualMemberOf := make(map[repo.Role]struct{}, len(a.MemberOf))
	for _, g := range a.MemberOf {
		actualMemberOf[repo.Role(g)] = struct{}{}
	}
	for g := range d.memberOf {
		if _, ok := actualMemberOf[g]; ok {
			continue
		}
		if err := q.GrantMembership(ctx, g, role); err != nil {
			return fmt.Errorf("granting %q to %q: %w", g, role, err)
		}
	}
	for g := range actualMemberOf {
		if _, ok := d.memberOf[g]; ok {
			continue
		}
		if err := q.RevokeMembership(ctx, g, role); err != nil {
			return fmt.Errorf("revoking %q from %q: %w", g, role, err)
		}
	}
	return nil
}

// sortedRoles keeps the convergence order deterministic, so repeated
// passes and their logs stay comparable.
func sortedRoles(m map[repo.Role]*desiredRole) []repo.Role {
	roles := make([]repo.Role, 0, len(m))
	for r := range m {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool {
		return roles[i] < roles[j]
	})
	return roles
}
