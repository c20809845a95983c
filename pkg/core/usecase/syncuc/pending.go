// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package syncuc

import (
	"sort"
	"sync"

	"github.com/momeni/role-bridge/pkg/core/repo"
)

// PendingRemoval describes one managed role whose removal is deferred,
// together with the reason of the last failed removal attempt.
type PendingRemoval struct {
	Role   repo.Role `json:"role"`
	Reason string    `json:"reason"`
}

// pendingRemovals is the retry queue of blocked role removals. The
// database itself is the source of truth for role state, so this queue
// only has to survive until the next reconciliation pass, which
// re-discovers stale roles from the database; it is kept in process
// memory for that reason.
type pendingRemovals struct {
	mu    sync.Mutex
	roles map[repo.Role]string // role -> last blocking reason
}

func newPendingRemovals() *pendingRemovals {
	return &pendingRemovals{roles: make(map[repo.Role]string)}
}

func (pr *pendingRemovals) add(role repo.Role, reason string) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.roles[role] = reason
}

func (pr *pendingRemovals) remove(role repo.Role) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	delete(pr.roles, role)
}

func (pr *pendingRemovals) blockedRoles() []repo.Role {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	roles := make([]repo.Role, 0, len(pr.roles))
	for r := range pr.roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool {
		return roles[i] < roles[j]
	})
	return roles
}

func (pr *pendingRemovals) list() []PendingRemoval {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	l := make([]PendingRemoval, 0, len(pr.roles))
	for r, reason := range pr.roles {
		l = append(l, PendingRemoval{Role: r, Reason: reason})
	}
	sort.Slice(l, func(i, j int) bool {
		return l[i].Role < l[j].Role
	})
	return l
}
