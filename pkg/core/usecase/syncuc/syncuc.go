// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package syncuc contains the identity synchronization UseCase which
// keeps the database roles consistent with the application users and
// groups. It reacts to identity lifecycle events (delivered
// at-least-once, handled idempotently) and can also run a full
// reconciliation pass which converges the managed roles towards a
// snapshot of the identity store.
package syncuc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/momeni/role-bridge/pkg/core/cerr"
	"github.com/momeni/role-bridge/pkg/core/log"
	"github.com/momeni/role-bridge/pkg/core/model"
	"github.com/momeni/role-bridge/pkg/core/naming"
	"github.com/momeni/role-bridge/pkg/core/repo"
	"github.com/momeni/role-bridge/pkg/core/scram"
)

// UseCase represents the identity synchronization use case. It holds
// a database connection pool which must be established with a role
// that is privileged enough to create, alter, and drop the managed
// roles (see repo.AdminRole), the roles repository, and the naming
// policy. An identity store pool and repository may be configured too,
// enabling full reconciliation passes.
type UseCase struct {
	pool    repo.Pool
	rolesrp repo.Roles
	policy  *naming.Policy

	idPool repo.Pool
	idsrp  repo.Identities

	hasher     scram.Hasher
	hashIters  int
	pending    *pendingRemovals
	perID      *keyedMutex
	reconEvent sync.RWMutex // event handlers vs. reconciliation passes
}

// New instantiates an identity synchronization use case.
// Required parameters are passed individually, so caller has to
// provision them and whenever they change, caller will notice and fix
// them due to a compilation error.
// Optional parameters are passed as a series of functional options
// in order to facilitate their validation and flexibility.
func New(
	p repo.Pool,
	r repo.Roles,
	policy *naming.Policy,
	opts ...Option,
) (*UseCase, error) {
	uc := &UseCase{
		pool:    p,
		rolesrp: r,
		policy:  policy,
		pending: newPendingRemovals(),
		perID:   newKeyedMutex(),
	}
	for _, opt := range opts {
		if err := opt(uc); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}
	return uc, nil
}

// Apply reacts to one identity lifecycle event. Events about the same
// identity (keyed by its stable ID) are serialized, so two rapid
// renames cannot race each other, while events about distinct
// identities proceed concurrently. Handlers are idempotent: replaying
// an already applied event causes no change and no error.
//
// A deleted identity whose role still owns objects or has active
// sessions yields a *cerr.RoleRemovalPending error; the removal is
// queued and retried by RetryPending, the event must not be
// redelivered for that.
func (uc *UseCase) Apply(ctx context.Context, ev model.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	uc.reconEvent.RLock()
	defer uc.reconEvent.RUnlock()
	unlock := uc.perID.lock(ev.ID.String())
	defer unlock()
	return uc.pool.Conn(
		ctx, func(ctx context.Context, c repo.Conn) error {
			return uc.dispatch(ctx, uc.rolesrp.Conn(c), ev)
		},
	)
}

func (uc *UseCase) dispatch(
	ctx context.Context, q repo.RolesQueryer, ev model.Event,
) error {
	role, err := uc.policy.RoleName(ev.Identity, ev.Name)
	if err != nil {
		return err
	}
	switch ev.Kind {
	case model.EventCreated:
		if ev.Identity == model.GroupIdentity {
			return q.CreateGroupRole(ctx, repo.Role(role))
		}
		// Login is enabled, but no password is set; the user cannot
		// establish sessions effectively until ProvisionPassword runs.
		return q.CreateUserRole(ctx, repo.Role(role), "")
	case model.EventRenamed:
		old, err := uc.policy.RoleName(ev.Identity, ev.OldName)
		if err != nil {
			return err
		}
		return q.RenameRole(ctx, repo.Role(old), repo.Role(role))
	case model.EventActivated:
		return q.SetCanLogin(ctx, repo.Role(role), true)
	case model.EventDeactivated:
		return q.SetCanLogin(ctx, repo.Role(role), false)
	case model.EventDeleted:
		return uc.dropRole(ctx, q, repo.Role(role))
	case model.EventMembershipChanged:
		return uc.updateMembers(ctx, q, repo.Role(role), ev)
	default:
		return fmt.Errorf("unsupported event kind: %q", ev.Kind)
	}
}

// dropRole drops the role, queueing it for a later retry if the
// removal is blocked by owned objects or active sessions.
func (uc *UseCase) dropRole(
	ctx context.Context, q repo.RolesQueryer, role repo.Role,
) error {
	err := q.DropRole(ctx, role)
	var pending *cerr.RoleRemovalPending
	if errors.As(err, &pending) {
		uc.pending.add(role, pending.Reason)
		return err
	}
	if err == nil {
		uc.pending.remove(role)
	}
	return err
}

func (uc *UseCase) updateMembers(
	ctx context.Context,
	q repo.RolesQueryer,
	group repo.Role,
	ev model.Event,
) error {
	for _, username := range ev.Added {
		member, err := uc.policy.RoleName(
			model.UserIdentity, username,
		)
		if err != nil {
			return err
		}
		err = q.GrantMembership(ctx, group, repo.Role(member))
		if err != nil {
			return fmt.Errorf(
				"granting %q to %q: %w", group, member, err,
			)
		}
	}
	for _, username := range ev.Removed {
		member, err := uc.policy.RoleName(
			model.UserIdentity, username,
		)
		if err != nil {
			return err
		}
		err = q.RevokeMembership(ctx, group, repo.Role(member))
		if err != nil {
			return fmt.Errorf(
				"revoking %q from %q: %w", group, member, err,
			)
		}
	}
	return nil
}

// ProvisionPassword hashes the given plaintext password with the
// configured scram hasher and sets it for the user's role, so no
// plaintext password is sent to the DBMS. It fails if no hasher was
// configured by the WithPasswordHasher option.
func (uc *UseCase) ProvisionPassword(
	ctx context.Context, username, password string,
) error {
	if uc.hasher == nil {
		return errors.New("no password hasher is configured")
	}
	role, err := uc.policy.RoleName(model.UserIdentity, username)
	if err != nil {
		return err
	}
	hash, err := uc.hasher.Hash(password, "", uc.hashIters)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	uc.reconEvent.RLock()
	defer uc.reconEvent.RUnlock()
	return uc.pool.Conn(
		ctx, func(ctx context.Context, c repo.Conn) error {
			q := uc.rolesrp.Conn(c)
			return q.SetPassword(ctx, repo.Role(role), hash)
		},
	)
}

// RetryPending re-attempts the queued role removals. Roles which are
// still blocked stay queued; other removal errors are logged and the
// affected role stays queued too, so no removal is ever dropped
// silently.
func (uc *UseCase) RetryPending(ctx context.Context) error {
	roles := uc.pending.blockedRoles()
	if len(roles) == 0 {
		return nil
	}
	uc.reconEvent.Lock()
	defer uc.reconEvent.Unlock()
	return uc.pool.Conn(
		ctx, func(ctx context.Context, c repo.Conn) error {
			q := uc.rolesrp.Conn(c)
			for _, role := range roles {
				err := q.DropRole(ctx, role)
				var pending *cerr.RoleRemovalPending
				switch {
				case err == nil:
					uc.pending.remove(role)
					log.Info(ctx, "dropped pending role",
						slog.String("role", string(role)),
					)
				case errors.As(err, &pending):
					uc.pending.add(role, pending.Reason)
				default:
					log.Error(ctx, "retrying role removal",
						slog.String("role", string(role)),
						log.Err("error", err),
					)
				}
			}
			return nil
		},
	)
}

// PendingRemovals reports the roles whose removal is deferred, with
// the reason of the last failed attempt, so operators can observe and
// unblock them.
func (uc *UseCase) PendingRemovals() []PendingRemoval {
	return uc.pending.list()
}
