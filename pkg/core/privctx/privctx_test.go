// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package privctx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/momeni/role-bridge/pkg/core/cerr"
	"github.com/momeni/role-bridge/pkg/core/privctx"
	"github.com/momeni/role-bridge/pkg/core/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession implements repo.Session in memory, so the privilege
// switching discipline can be verified without a DBMS. The session
// identity may assume any role in the `grantees` set; other existing
// roles cause a permission error and absent roles an unknown role
// error, mirroring the adapter error mapping.
type fakeSession struct {
	roles     map[repo.Role]struct{}
	grantees  map[repo.Role]struct{}
	current   repo.Role
	discarded bool
	failReset error
}

func newFakeSession(grantees ...repo.Role) *fakeSession {
	fs := &fakeSession{
		roles:    make(map[repo.Role]struct{}),
		grantees: make(map[repo.Role]struct{}),
	}
	for _, r := range grantees {
		fs.roles[r] = struct{}{}
		fs.grantees[r] = struct{}{}
	}
	return fs
}

func (fs *fakeSession) Exec(
	ctx context.Context, sql string, args ...any,
) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return 0, nil
}

func (fs *fakeSession) Query(
	ctx context.Context, sql string, args ...any,
) (repo.Rows, error) {
	return nil, errors.New("not supported by fakeSession")
}

func (fs *fakeSession) SwitchRole(
	ctx context.Context, role repo.Role,
) error {
	switch {
	case fs.discarded:
		return errors.New("connection is discarded")
	case ctx.Err() != nil:
		return ctx.Err()
	}
	if _, ok := fs.roles[role]; !ok {
		return &cerr.UnknownRole{Role: string(role)}
	}
	if _, ok := fs.grantees[role]; !ok {
		return &cerr.PrivilegeDenied{Role: string(role)}
	}
	fs.current = role
	return nil
}

func (fs *fakeSession) ResetRole(ctx context.Context) error {
	switch {
	case fs.discarded:
		return errors.New("connection is discarded")
	case ctx.Err() != nil:
		return ctx.Err()
	case fs.failReset != nil:
		return fs.failReset
	}
	fs.current = repo.DefaultRole
	return nil
}

func (fs *fakeSession) CurrentRole(
	ctx context.Context,
) (repo.Role, error) {
	return fs.current, nil
}

func (fs *fakeSession) Discard() error {
	fs.discarded = true
	return nil
}

func TestEnterExitRestoresPriorState(t *testing.T) {
	ctx := context.Background()
	fs := newFakeSession("user_smith")
	m, err := privctx.New(fs)
	require.NoError(t, err)

	h, err := m.Enter(ctx, "user_smith")
	require.NoError(t, err)
	assert.Equal(t, repo.Role("user_smith"), fs.current)
	assert.Equal(t, repo.Role("user_smith"), m.Active())

	require.NoError(t, m.Exit(ctx, h))
	assert.Equal(t, repo.DefaultRole, fs.current)
	assert.Zero(t, m.Depth())
	assert.False(t, fs.discarded)
}

func TestEnterUnknownRoleLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	fs := newFakeSession("user_smith")
	m, err := privctx.New(fs)
	require.NoError(t, err)

	_, err = m.Enter(ctx, "user_ghost")
	var unknown *cerr.UnknownRole
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "user_ghost", unknown.Role)
	assert.Equal(t, repo.DefaultRole, fs.current)
	assert.Zero(t, m.Depth())
}

func TestEnterPrivilegeDenied(t *testing.T) {
	ctx := context.Background()
	fs := newFakeSession("user_smith")
	fs.roles["user_other"] = struct{}{} // exists, but not assumable
	m, err := privctx.New(fs)
	require.NoError(t, err)

	_, err = m.Enter(ctx, "user_other")
	var denied *cerr.PrivilegeDenied
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, repo.DefaultRole, fs.current)
}

func TestNestedContextsRestoreToOuterRole(t *testing.T) {
	ctx := context.Background()
	fs := newFakeSession("user_a", "user_b")
	m, err := privctx.New(fs)
	require.NoError(t, err)

	ha, err := m.Enter(ctx, "user_a")
	require.NoError(t, err)
	hb, err := m.Enter(ctx, "user_b")
	require.NoError(t, err)
	assert.Equal(t, repo.Role("user_b"), fs.current)
	assert.Equal(t, 2, m.Depth())

	require.NoError(t, m.Exit(ctx, hb))
	assert.Equal(t, repo.Role("user_a"), fs.current,
		"inner exit must restore the outer role, not the default")

	require.NoError(t, m.Exit(ctx, ha))
	assert.Equal(t, repo.DefaultRole, fs.current)
}

func TestOutOfOrderExitIsRejected(t *testing.T) {
	ctx := context.Background()
	fs := newFakeSession("user_a", "user_b")
	m, err := privctx.New(fs)
	require.NoError(t, err)

	ha, err := m.Enter(ctx, "user_a")
	require.NoError(t, err)
	_, err = m.Enter(ctx, "user_b")
	require.NoError(t, err)

	err = m.Exit(ctx, ha)
	require.Error(t, err)
	assert.Equal(t, repo.Role("user_b"), fs.current,
		"a rejected exit must not touch the session state")
	assert.Equal(t, 2, m.Depth())
}

func TestExitedHandleCannotBeReused(t *testing.T) {
	ctx := context.Background()
	fs := newFakeSession("user_a")
	m, err := privctx.New(fs)
	require.NoError(t, err)

	h, err := m.Enter(ctx, "user_a")
	require.NoError(t, err)
	require.NoError(t, m.Exit(ctx, h))
	require.Error(t, m.Exit(ctx, h))
}

func TestSingleContextOptionRejectsNesting(t *testing.T) {
	ctx := context.Background()
	fs := newFakeSession("user_a", "user_b")
	m, err := privctx.New(fs, privctx.WithSingleContext())
	require.NoError(t, err)

	_, err = m.Enter(ctx, "user_a")
	require.NoError(t, err)
	_, err = m.Enter(ctx, "user_b")
	var already *cerr.AlreadyInContext
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "user_a", already.Active)
	assert.Equal(t, repo.Role("user_a"), fs.current)
}

func TestDoRestoresOnHandlerError(t *testing.T) {
	ctx := context.Background()
	fs := newFakeSession("user_a")
	m, err := privctx.New(fs)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.Do(ctx, "user_a", func(ctx context.Context) error {
		assert.Equal(t, repo.Role("user_a"), fs.current)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, repo.DefaultRole, fs.current)
	assert.Zero(t, m.Depth())
}

func TestDoRestoresOnPanic(t *testing.T) {
	ctx := context.Background()
	fs := newFakeSession("user_a")
	m, err := privctx.New(fs)
	require.NoError(t, err)

	err = m.Do(ctx, "user_a", func(ctx context.Context) error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, repo.DefaultRole, fs.current)
	assert.Zero(t, m.Depth())
}

func TestExitRunsUnderCancelledContext(t *testing.T) {
	fs := newFakeSession("user_a")
	m, err := privctx.New(fs)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := m.Enter(ctx, "user_a")
	require.NoError(t, err)

	cancel() // the unit of work is cancelled while switched
	require.NoError(t, m.Exit(ctx, h))
	assert.Equal(t, repo.DefaultRole, fs.current)
	assert.False(t, fs.discarded)
}

func TestFailedRestoreDiscardsConnection(t *testing.T) {
	ctx := context.Background()
	fs := newFakeSession("user_a")
	fs.failReset = errors.New("connection dropped")
	m, err := privctx.New(fs)
	require.NoError(t, err)

	h, err := m.Enter(ctx, "user_a")
	require.NoError(t, err)

	err = m.Exit(ctx, h)
	require.Error(t, err)
	assert.True(t, fs.discarded,
		"a session with unknown privilege state must be discarded")
	assert.Zero(t, m.Depth())
}
