// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package listen provides the LISTEN/NOTIFY delivery path for the
// identity change events. The external application emits one NOTIFY
// per identity change with a JSON-serialized event payload; this
// package holds a dedicated pgx connection, decodes the payloads, and
// feeds them to the identity synchronization use case.
//
// Notifications which are emitted while the listener is disconnected
// are lost by the DBMS, hence, every (re)connection is followed by an
// optional catch-up callback, so a reconciliation pass can converge
// the roles state over the missed events.
package listen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/momeni/role-bridge/pkg/core/cerr"
	"github.com/momeni/role-bridge/pkg/core/log"
	"github.com/momeni/role-bridge/pkg/core/model"
)

// Handler consumes one decoded identity change event. Events are
// delivered at least once, so handlers must be idempotent.
type Handler func(ctx context.Context, ev model.Event) error

// Listener holds a dedicated database connection, listening for the
// identity change event notifications on one channel.
type Listener struct {
	url       string
	channel   string
	handle    Handler
	onConnect func(ctx context.Context) error
	retryWait time.Duration
}

// Option is a functional option for the events Listener.
type Option func(l *Listener) error

// WithOnConnect option configures a callback which runs after every
// successful (re)connection, right after the LISTEN statement takes
// effect, so events which were missed during a disconnection can be
// compensated by a reconciliation pass before fresh events arrive.
func WithOnConnect(f func(ctx context.Context) error) Option {
	return func(l *Listener) error {
		if f == nil {
			return errors.New("on-connect callback is nil")
		}
		l.onConnect = f
		return nil
	}
}

// WithRetryWait option configures the delay before a reconnection
// attempt, after the listening connection is lost.
func WithRetryWait(d time.Duration) Option {
	return func(l *Listener) error {
		if d <= 0 {
			return fmt.Errorf("non-positive retry wait: %v", d)
		}
		l.retryWait = d
		return nil
	}
}

// New instantiates a Listener which connects to the `url` database,
// listens on the `channel` channel, and feeds decoded events to the
// `h` handler. Options may adjust the reconnection behavior.
func New(
	url, channel string, h Handler, opts ...Option,
) (*Listener, error) {
	if h == nil {
		return nil, errors.New("events handler is nil")
	}
	l := &Listener{
		url:       url,
		channel:   channel,
		handle:    h,
		retryWait: 5 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}
	return l, nil
}

// Run listens for the identity change events until the given context
// is canceled, reconnecting (with a delay) whenever the listening
// connection is lost. It always returns a non-nil error, namely the
// context cancellation cause.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error(ctx, "events listener disconnected",
			slog.String("channel", l.channel),
			log.Err("error", err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryWait):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.url)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))
	_, err = conn.Exec(
		ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize(),
	)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", l.channel, err)
	}
	if l.onConnect != nil {
		if err := l.onConnect(ctx); err != nil {
			return fmt.Errorf("catching up after connecting: %w", err)
		}
	}
	log.Info(ctx, "listening for identity change events",
		slog.String("channel", l.channel),
	)
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("waiting for a notification: %w", err)
		}
		l.dispatch(ctx, n.Payload)
	}
}

// dispatch decodes and applies one notification payload. Failures are
// logged without stopping the listening loop: a malformed payload
// cannot be retried at all and a failed event application is
// compensated by the next reconciliation pass.
func (l *Listener) dispatch(ctx context.Context, payload string) {
	var ev model.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.Error(ctx, "dropping a malformed event payload",
			slog.String("payload", payload),
			log.Err("error", err),
		)
		return
	}
	err := l.handle(ctx, ev)
	var pending *cerr.RoleRemovalPending
	switch {
	case err == nil:
	case errors.As(err, &pending):
		log.Info(ctx, "role removal is pending",
			slog.String("role", pending.Role),
			slog.String("reason", pending.Reason),
		)
	default:
		log.Error(ctx, "applying an identity change event",
			slog.String("kind", string(ev.Kind)),
			slog.String("name", ev.Name),
			log.Err("error", err),
		)
	}
}
