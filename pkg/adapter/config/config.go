// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config makes it possible to load the configuration settings
// from a YAML file, validate and normalize them, and instantiate the
// adapter and use case objects based on them. The configuration is
// kept in primitive fields and locally defined structs, not models or
// structs which are defined in lower layers, so other layers can
// change freely without affecting the configuration files format.
package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/momeni/role-bridge/pkg/adapter/db/postgres"
	"github.com/momeni/role-bridge/pkg/adapter/hash/scram"
	"github.com/momeni/role-bridge/pkg/adapter/restful/gin"
	"github.com/momeni/role-bridge/pkg/core/naming"
	"github.com/momeni/role-bridge/pkg/core/repo"
	scrami "github.com/momeni/role-bridge/pkg/core/scram"
	"github.com/momeni/role-bridge/pkg/core/usecase/syncuc"
	"gopkg.in/yaml.v3"
)

// Config contains all settings which are required by different parts
// of the project, such as adapters or use cases.
type Config struct {
	// Database is the target database whose roles are managed and
	// whose schema entities receive the declared permissions.
	Database Database

	// Identity optionally names the database holding the application
	// identity tables (users, groups, and memberships). A nil value
	// means that the identity tables live in the target database too.
	Identity *Database `yaml:"identity-database,omitempty"`

	Gin  Gin  // Gin-Gonic instantiation settings
	Sync Sync // identity synchronization settings
}

// Load reads the `path` file, unmarshals it as YAML, and validates and
// normalizes the loaded settings, replacing missing items with their
// default values.
//
// If some settings should be overridden by environment variables,
// this function is the proper place for that replacement.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("unmarshalling yaml: %w", err)
	}
	if err := c.ValidateAndNormalize(); err != nil {
		return nil, fmt.Errorf("validating configs: %w", err)
	}
	return c, nil
}

// ValidateAndNormalize validates the configuration settings and
// returns an error if they were not acceptable. It can also modify
// settings in order to normalize them or replace some zero values with
// their expected default values (if any).
func (c *Config) ValidateAndNormalize() error {
	if err := c.Database.ValidateAndNormalize(); err != nil {
		return fmt.Errorf("validating database settings: %w", err)
	}
	if c.Identity != nil {
		if err := c.Identity.ValidateAndNormalize(); err != nil {
			return fmt.Errorf(
				"validating identity database settings: %w", err,
			)
		}
	}
	c.Gin.Normalize()
	if err := c.Sync.ValidateAndNormalize(); err != nil {
		return fmt.Errorf("validating sync settings: %w", err)
	}
	return nil
}

// IdentityDatabase returns the identity store database settings,
// falling back to the target database settings when no separate
// identity database is configured.
func (c *Config) IdentityDatabase() Database {
	if c.Identity != nil {
		return *c.Identity
	}
	return c.Database
}

// NewSyncUseCase instantiates an identity synchronization use case
// based on the settings in the `c` instance. The `p` pool and `r`
// repository work on the target database with the administrator role,
// while the optional `idp` pool and `ids` repository (which must be
// given together, if at all) provide the identity store access which
// the reconciliation operation requires.
func (c *Config) NewSyncUseCase(
	p repo.Pool, r repo.Roles, idp repo.Pool, ids repo.Identities,
) (*syncuc.UseCase, error) {
	opts := make([]syncuc.Option, 0, 2)
	if ids != nil {
		opts = append(opts, syncuc.WithIdentityStore(idp, ids))
	}
	opts = append(opts, syncuc.WithPasswordHasher(
		c.Database.Hasher(), c.Sync.ScramIterations,
	))
	return syncuc.New(p, r, c.Sync.NamingPolicy(), opts...)
}

// Database contains the database related configuration settings.
type Database struct {
	Host    string `validate:"required"` // DBMS server name or address
	Port    int    `validate:"required,min=1,max=65535"`
	Name    string `validate:"required"` // database name
	PassDir string `yaml:"pass-dir" validate:"required"`

	// Role is the database role which is used for establishing
	// connections. It must be privileged enough to create roles,
	// grant memberships, and apply the declared permission statements.
	Role repo.Role `yaml:"role,omitempty"`

	// AuthMethod specifies the database authentication method name.
	// This method indicates how passwords should be hashed before
	// being stored in the database, so they may be used by an
	// authentication operation successfully.
	// Currently, only scram-sha-1 and scram-sha-256 methods are
	// supported. The scram-sha-256 is the default value.
	AuthMethod string `yaml:"auth-method,omitempty"`

	// hasher is instantiated based on the AuthMethod, so the managed
	// user role passwords may be hashed properly (as expected by the
	// DBMS) before being sent to it.
	hasher scrami.Hasher `yaml:"-"`
}

// ValidateAndNormalize validates the database settings and returns an
// error if they were not acceptable. It can also modify settings in
// order to normalize them or replace some zero values with their
// expected default values (if any). So, it takes a pointer receiver
// instead of a non-reference receiver (in contrast to other methods).
func (d *Database) ValidateAndNormalize() error {
	if d.Role == "" {
		d.Role = repo.AdminRole
	}
	switch am := d.AuthMethod; am {
	case "scram-sha-1":
		d.hasher = scram.SHA1()
	case "":
		d.AuthMethod = "scram-sha-256"
		fallthrough
	case "scram-sha-256":
		d.hasher = scram.SHA256()
	default:
		return fmt.Errorf(
			"unsupported database authentication method: %q", am,
		)
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("validating fields: %w", err)
	}
	return nil
}

var validate = validator.New()

// Hasher returns the scram hasher which matches the configured
// database authentication method. The ValidateAndNormalize method must
// be called beforehand, so the hasher is instantiated.
func (d Database) Hasher() scrami.Hasher {
	return d.hasher
}

// ConnectionPool creates a database connection pool using the
// connection information which are kept in the `d` settings, reading
// the password of the configured role from the .pgpass file in the
// `d.PassDir` directory.
func (d Database) ConnectionPool(
	ctx context.Context,
) (*postgres.Pool, error) {
	u, err := d.ConnectionURL(d.Role)
	if err != nil {
		return nil, err
	}
	p, err := postgres.NewPool(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("connecting to %q: %w", d.Name, err)
	}
	return p, nil
}

// ConnectionURL returns the database connection URL embedding the
// host, port, database name, and the `r` role name with its password.
// The password is read from the .pgpass file in the `d.PassDir`
// directory, which may contain empty or `#`-commented lines in
// addition to the password specifying lines conforming with the
// pgpass files format:
//
//	host:port:dbname:role:password
func (d Database) ConnectionURL(r repo.Role) (string, error) {
	path := filepath.Join(d.PassDir, ".pgpass")
	passLines, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading pass-file: %w", err)
	}
	prfx := fmt.Sprintf("%s:%d:%s:%s:", d.Host, d.Port, d.Name, r)
	var pass string
	for _, line := range strings.Split(string(passLines), "\n") {
		if line == "" || line[0] == '#' {
			continue
		}
		if strings.HasPrefix(line, prfx) {
			pass = line[len(prfx):]
			break
		}
	}
	if pass == "" {
		return "", fmt.Errorf(
			"no matching password line for role %q in %q", r, path,
		)
	}
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(string(r), pass),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.Name,
	}
	return u.String(), nil
}

// ConnectionInfo returns the host, port, and database name of the
// connection information which are kept in this Database instance.
func (d Database) ConnectionInfo() (dbName, host string, port int) {
	return d.Name, d.Host, d.Port
}

// Gin contains the gin-gonic related configuration settings.
// Fields are defined as pointers, so it is possible to detect if they
// are or are not initialized and fill the missing items with their
// default values during the normalization.
type Gin struct {
	Logger   *bool // Whether to register the logging middleware
	Recovery *bool // Whether to register the recovery middleware
}

// Normalize replaces the missing items with their default values,
// enabling both middlewares.
func (g *Gin) Normalize() {
	if g.Logger == nil {
		v := true
		g.Logger = &v
	}
	if g.Recovery == nil {
		v := true
		g.Recovery = &v
	}
}

// NewEngine instantiates a new gin-gonic engine instance based on
// the `g` settings.
func (g Gin) NewEngine() *gin.Engine {
	middlewares := make([]gin.HandlerFunc, 0, 2)
	if *g.Logger {
		middlewares = append(middlewares, gin.Logger())
	}
	if *g.Recovery {
		middlewares = append(middlewares, gin.Recovery())
	}
	return gin.New(middlewares...)
}

// Sync contains the configuration settings for the identity
// synchronization use case and the events listener.
type Sync struct {
	// Channel is the LISTEN/NOTIFY channel carrying the identity
	// change events.
	Channel string `yaml:"channel,omitempty"`

	// ReservedRoles lists role names which must never be taken over
	// by a managed role, beyond the pre-existing unmanaged roles which
	// are protected by their missing marker anyways. Deriving one of
	// these names from an identity is reported as a naming conflict.
	ReservedRoles []string `yaml:"reserved-roles,omitempty"`

	// RetryInterval indicates how often the deferred role removals
	// (roles which still own objects or are referenced by active
	// sessions) are retried.
	RetryInterval *Duration `yaml:"removal-retry-interval,omitempty"`

	// ScramIterations is the hashing iterations count for the managed
	// user role password verifiers. It must be at least 4096; the
	// RFC 7677 recommends 15000 or more.
	ScramIterations int `yaml:"scram-iterations,omitempty" validate:"min=4096"`
}

// ValidateAndNormalize validates the sync settings and returns an
// error if they were not acceptable, replacing missing items with
// their default values.
func (s *Sync) ValidateAndNormalize() error {
	if s.Channel == "" {
		s.Channel = postgres.DefaultEventsChannel
	}
	if s.RetryInterval == nil {
		d := Duration(time.Minute)
		s.RetryInterval = &d
	}
	if s.ScramIterations == 0 {
		s.ScramIterations = 15000
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("validating fields: %w", err)
	}
	return nil
}

// NamingPolicy instantiates the role naming policy, reserving the
// configured role names.
func (s Sync) NamingPolicy() *naming.Policy {
	return naming.New(s.ReservedRoles...)
}
