// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package command provides the root and sub-commands for the
// role-bridge project. Commands are organized using the cobra library.
// The root command starts the synchronization server itself, which
// listens for the identity change events (over both the LISTEN/NOTIFY
// channel and the events webhook) and serves the operator REST APIs,
// while the other commands run one-shot actions.
//
//	./rolebridge [-c /path/of/main/config.yaml]      # start server
//	./rolebridge reconcile [-c /path/of/main/config.yaml]
//	./rolebridge db apply-perms
//	    /path/of/declarations.yaml
//	    [-c /path/of/main/config.yaml]
package command

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/momeni/role-bridge/pkg/adapter/config"
	"github.com/momeni/role-bridge/pkg/adapter/db/postgres/listen"
	"github.com/momeni/role-bridge/pkg/adapter/restful/gin"
	"github.com/momeni/role-bridge/pkg/adapter/restful/gin/routes"
	"github.com/momeni/role-bridge/pkg/core/repo"
	"github.com/momeni/role-bridge/pkg/core/usecase/syncuc"
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "rolebridge",
	Short: "Bridge application identities to database roles",
	Long: `Bridge application identities to database roles, so each
application user and group is mirrored by a real database role and
database-enforced access control (grants and row security policies)
can replace an application-level authorization layer.
The server subscribes to the identity change events over a PostgreSQL
LISTEN/NOTIFY channel and over an events webhook, converges the
managed roles (creating, renaming, disabling, and dropping them and
keeping group membership edges in sync), reconciles the full roles
state against the identity store on demand, and retries the role
removals which are blocked by owned objects or active sessions.`,
	RunE: startServer,
	Args: cobra.NoArgs,
}

func startServer(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config.Load(%q): %w", cfgPath, err)
	}
	p, idp, cleanup, err := connectPools(ctx, c)
	if err != nil {
		return err
	}
	defer cleanup()
	var e *gin.Engine = c.Gin.NewEngine()
	sync, err := routes.Register(e, p, idp, c)
	if err != nil {
		return fmt.Errorf("registering routes: %w", err)
	}
	l, err := newListener(c, sync)
	if err != nil {
		return fmt.Errorf("creating events listener: %w", err)
	}
	go retryRemovals(
		ctx, sync, time.Duration(*c.Sync.RetryInterval),
	)
	errc := make(chan error, 2)
	go func() {
		errc <- l.Run(ctx)
	}()
	go func() {
		errc <- e.Run()
	}()
	return <-errc
}

// newListener wires the LISTEN/NOTIFY delivery path to the sync use
// case. Each (re)connection triggers a reconciliation pass, so events
// which the DBMS dropped while the listener was disconnected are
// compensated before fresh events arrive.
func newListener(
	c *config.Config, sync *syncuc.UseCase,
) (*listen.Listener, error) {
	url, err := c.Database.ConnectionURL(c.Database.Role)
	if err != nil {
		return nil, fmt.Errorf("building connection URL: %w", err)
	}
	return listen.New(
		url, c.Sync.Channel, sync.Apply,
		listen.WithOnConnect(sync.Reconcile),
	)
}

// retryRemovals periodically retries the role removals which were
// deferred because the roles still owned objects or were referenced
// by active sessions.
func retryRemovals(
	ctx context.Context, sync *syncuc.UseCase, every time.Duration,
) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = sync.RetryPending(ctx)
		}
	}
}

// connectPools establishes the target database pool and, if a separate
// identity database is configured, the identity store pool too. The
// returned cleanup function closes whatever was opened.
func connectPools(ctx context.Context, c *config.Config) (
	p, idp repo.Pool, cleanup func(), err error,
) {
	pp, err := c.Database.ConnectionPool(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating DB pool: %w", err)
	}
	if c.Identity == nil {
		return pp, pp, func() { pp.Close() }, nil
	}
	ip, err := c.IdentityDatabase().ConnectionPool(ctx)
	if err != nil {
		pp.Close()
		return nil, nil, nil, fmt.Errorf(
			"creating identity DB pool: %w", err,
		)
	}
	return pp, ip, func() {
		ip.Close()
		pp.Close()
	}, nil
}

// Execute runs the rootCmd which in turn parses CLI arguments and
// flags and runs the most specific cobra command. The exit code may
// be a boolean (zero for success and non-zero for failure) or may be
// chosen based on the error condition (if it is desired to report
// several error conditions in the CLI of this program).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(fixConfigPath)
	rootCmd.PersistentFlags().StringVarP(
		&cfgPath, "config", "c", "", "config file path",
	)
}

// fixConfigPath ensures that cfgPath is set respectively by either the
// CLI args, the CONFIG_FILE environment variable, or its default value.
// By the way, default value is not necessarily a single path and may
// check several paths sequentially and take the highest priority one
// among the existing paths. For example, a user-specific path may take
// precedence over a file in /etc which is selected over a file in /usr.
func fixConfigPath() {
	if cfgPath != "" {
		return
	}
	var found bool
	if cfgPath, found = os.LookupEnv("CONFIG_FILE"); !found {
		// the default path should usually be in the /etc directory
		cfgPath = "configs/sample-config.yaml"
	}
}
