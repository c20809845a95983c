// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package privctx provides scoped switching of a database session's
// effective privileges. A Manager wraps exactly one repo.Session and
// maintains a linear stack of privilege contexts on it: Enter switches
// the session to a target role and remembers the previously effective
// role, Exit restores it. The Do method offers the scoped-acquisition
// form in which the restore runs on every exit path, including error
// returns and panics, so the safety of the restore does not depend on
// caller discipline.
//
// A Manager is bound to its session and is unsafe to be shared across
// concurrent units of work, exactly like the session itself.
package privctx

import (
	"context"
	"errors"
	"fmt"

	"github.com/momeni/role-bridge/pkg/core/cerr"
	"github.com/momeni/role-bridge/pkg/core/repo"
)

// Manager tracks the privilege contexts of one database session.
// Instances must be created by the New function.
type Manager struct {
	sess    repo.Session
	stack   []repo.Role // target roles of the active contexts
	nesting bool
}

// New instantiates a privilege context Manager over the given session.
// The session must be dedicated to the calling unit of work for the
// whole lifetime of the manager. By default, contexts may be nested;
// see the WithSingleContext option to restrict that.
func New(sess repo.Session, opts ...Option) (*Manager, error) {
	m := &Manager{sess: sess, nesting: true}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}
	return m, nil
}

// Handle identifies one entered privilege context. It must be passed
// to the matching Exit call. Handles are single-use.
type Handle struct {
	m      *Manager
	depth  int // stack depth right after the Enter, 1-based
	target repo.Role
	prev   repo.Role
	done   bool
}

// Role returns the target role of this context.
func (h *Handle) Role() repo.Role {
	return h.target
}

// Enter switches the session privileges to the `target` role and
// returns a handle for the matching Exit call. The previously
// effective role is remembered, so Exit restores it rather than the
// absolute session default. Errors:
//   - *cerr.UnknownRole if no such database role exists,
//   - *cerr.PrivilegeDenied if the session may not assume the role,
//   - *cerr.AlreadyInContext if a context is active and nesting is
//     disabled by the WithSingleContext option.
//
// A failed Enter leaves the session privilege state unchanged.
func (m *Manager) Enter(
	ctx context.Context, target repo.Role,
) (*Handle, error) {
	if target == repo.DefaultRole {
		return nil, errors.New(
			"cannot enter the default privilege context explicitly",
		)
	}
	if !m.nesting && len(m.stack) > 0 {
		return nil, &cerr.AlreadyInContext{
			Active: string(m.stack[len(m.stack)-1]),
		}
	}
	prev := repo.DefaultRole
	if n := len(m.stack); n > 0 {
		prev = m.stack[n-1]
	}
	if err := m.sess.SwitchRole(ctx, target); err != nil {
		return nil, fmt.Errorf("switching to role %q: %w", target, err)
	}
	m.stack = append(m.stack, target)
	return &Handle{
		m:      m,
		depth:  len(m.stack),
		target: target,
		prev:   prev,
	}, nil
}

// Exit restores the privilege state which was effective immediately
// before the matching Enter call. It must be called with the handle of
// the innermost active context; exiting contexts out of order is
// rejected without touching the session state.
//
// The restore is a finalization step: it runs even if the surrounding
// unit of work was cancelled, using a detached context. If the restore
// directive itself fails, the session privilege state is unknown, so
// the underlying connection is discarded and must not be reused; the
// returned error reports both failures in that case.
func (m *Manager) Exit(ctx context.Context, h *Handle) error {
	switch {
	case h == nil || h.m != m:
		return errors.New("handle does not belong to this manager")
	case h.done:
		return errors.New("privilege context is already exited")
	case h.depth != len(m.stack):
		return fmt.Errorf(
			"out of order exit: context of %q is not the innermost",
			h.target,
		)
	}
	// The restore must not be skipped due to a cancelled unit of work,
	// otherwise the connection would keep the switched privileges.
	rctx := context.WithoutCancel(ctx)
	var err error
	if h.prev == repo.DefaultRole {
		err = m.sess.ResetRole(rctx)
	} else {
		err = m.sess.SwitchRole(rctx, h.prev)
	}
	h.done = true
	m.stack = m.stack[:len(m.stack)-1]
	if err == nil {
		return nil
	}
	if derr := m.sess.Discard(); derr != nil {
		return fmt.Errorf(
			"restoring privileges: %w, discarding connection: %w",
			err, derr,
		)
	}
	return fmt.Errorf(
		"restoring privileges: %w; connection was discarded", err,
	)
}

// Do runs the `f` handler with the session privileges switched to the
// `target` role, restoring the previous privilege state when the
// handler returns. The restore runs on all exit paths: normal return,
// error return, and panic (which is converted into an error after the
// restore, following the same discipline as transaction handlers).
func (m *Manager) Do(
	ctx context.Context,
	target repo.Role,
	f func(ctx context.Context) error,
) (err error) {
	h, err := m.Enter(ctx, target)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = m.Exit(ctx, h)
			if err == nil {
				err = fmt.Errorf("panicked: %v", r)
				return
			}
			err = fmt.Errorf("panicked: %v, exit: %w", r, err)
			return
		}
		if err2 := m.Exit(ctx, h); err2 != nil {
			if err != nil {
				err = fmt.Errorf("handler: %w, exit: %w", err, err2)
				return
			}
			err = err2
		}
	}()
	return f(ctx)
}

// Depth returns the number of active privilege contexts.
func (m *Manager) Depth() int {
	return len(m.stack)
}

// Active returns the target role of the innermost active context, or
// repo.DefaultRole if the session runs with its original privileges.
func (m *Manager) Active() repo.Role {
	if n := len(m.stack); n > 0 {
		return m.stack[n-1]
	}
	return repo.DefaultRole
}
