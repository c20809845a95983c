// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package declrp_test

import (
	"context"
	"testing"
	"time"

	"github.com/momeni/role-bridge/internal/test/dbcontainer"
	"github.com/momeni/role-bridge/pkg/adapter/db/postgres"
	"github.com/momeni/role-bridge/pkg/adapter/db/postgres/declrp"
	"github.com/momeni/role-bridge/pkg/core/model"
	"github.com/momeni/role-bridge/pkg/core/repo"
	"github.com/momeni/role-bridge/pkg/core/usecase/permuc"
	"github.com/stretchr/testify/suite"
)

type IntegrationDeclTestSuite struct {
	suite.Suite

	Ctx  context.Context
	Pool *postgres.Pool
	UC   *permuc.UseCase
}

func TestIntegrationDeclTestSuite(t *testing.T) {
	ctx := context.Background()
	_, pool, dfrs, ok := dbcontainer.New(ctx, 60*time.Second, t)
	for _, f := range dfrs {
		defer f()
	}
	if !ok {
		return // errors are already logged
	}
	suite.Run(t, &IntegrationDeclTestSuite{
		Ctx:  ctx,
		Pool: pool,
		UC:   permuc.New(pool, declrp.New()),
	})
}

func (idts *IntegrationDeclTestSuite) SetupSuite() {
	for _, stmt := range []string{
		"CREATE ROLE role_readers",
		"CREATE TABLE books (id int, title varchar)",
		"CREATE TABLE loans (id int, borrower varchar)",
	} {
		idts.exec(stmt)
	}
}

func (idts *IntegrationDeclTestSuite) exec(sql string) {
	err := idts.Pool.Conn(
		idts.Ctx, func(ctx context.Context, c repo.Conn) error {
			_, err := c.Exec(ctx, sql)
			return err
		},
	)
	idts.Require().NoError(err, "cannot execute %q", sql)
}

// count runs the `sql` counting query and returns its single result.
func (idts *IntegrationDeclTestSuite) count(
	sql string, args ...any,
) int64 {
	var n int64
	err := idts.Pool.Conn(
		idts.Ctx, func(ctx context.Context, c repo.Conn) error {
			rows, err := c.Query(ctx, sql, args...)
			if err != nil {
				return err
			}
			defer rows.Close()
			if !rows.Next() {
				return rows.Err()
			}
			return rows.Scan(&n)
		},
	)
	idts.Require().NoError(err, "cannot run the counting query")
	return n
}

// grants counts the privileges which the role_readers role holds on
// the `table` table.
func (idts *IntegrationDeclTestSuite) grants(table string) int64 {
	return idts.count(
		`SELECT COUNT(*) FROM information_schema.role_table_grants
			WHERE grantee='role_readers' AND table_name=$1`,
		table,
	)
}

// ledger counts the applied statements which are recorded for the
// `entity` entity.
func (idts *IntegrationDeclTestSuite) ledger(entity string) int64 {
	return idts.count(
		`SELECT COUNT(*) FROM rolebridge_applied_statements
			WHERE entity=$1`,
		entity,
	)
}

func (idts *IntegrationDeclTestSuite) TestApplyAndReplay() {
	decls := []model.Declaration{
		{
			Entity: "books",
			Statements: []string{
				"GRANT SELECT ON books TO role_readers",
				"GRANT INSERT ON books TO role_readers",
			},
		},
	}
	err := idts.UC.Apply(idts.Ctx, decls)
	idts.Require().NoError(err, "cannot apply declarations")
	idts.EqualValues(2, idts.grants("books"))
	idts.EqualValues(2, idts.ledger("books"))

	// replaying the same batch must find every statement in the
	// ledger and cause no change
	err = idts.UC.Apply(idts.Ctx, decls)
	idts.Require().NoError(err, "replayed batch must be a no-op")
	idts.EqualValues(2, idts.ledger("books"))

	// appending a statement applies the new statement alone
	decls[0].Statements = append(
		decls[0].Statements, "GRANT UPDATE ON books TO role_readers",
	)
	err = idts.UC.Apply(idts.Ctx, decls)
	idts.Require().NoError(err, "cannot apply the appended statement")
	idts.EqualValues(3, idts.grants("books"))
	idts.EqualValues(3, idts.ledger("books"))
}

func (idts *IntegrationDeclTestSuite) TestEditedStatement() {
	decls := []model.Declaration{
		{
			Entity: "loans",
			Statements: []string{
				"GRANT SELECT ON loans TO role_readers",
			},
		},
	}
	err := idts.UC.Apply(idts.Ctx, decls)
	idts.Require().NoError(err)

	decls[0].Statements[0] = "GRANT DELETE ON loans TO role_readers"
	err = idts.UC.Apply(idts.Ctx, decls)
	idts.ErrorContains(err, "changed after being applied",
		"an edited applied statement must be reported")
	idts.EqualValues(1, idts.grants("loans"),
		"the edited statement must not be executed")
}

func (idts *IntegrationDeclTestSuite) TestRollbackOnFailure() {
	err := idts.UC.Apply(idts.Ctx, []model.Declaration{
		{
			Entity: "partial",
			Statements: []string{
				"GRANT SELECT ON books TO role_readers",
				"GRANT SELECT ON no_such_table TO role_readers",
			},
		},
	})
	idts.Require().Error(err, "a failing statement must be reported")
	idts.EqualValues(0, idts.ledger("partial"),
		"a failed batch must leave no ledger rows behind")
}

func (idts *IntegrationDeclTestSuite) TestInvalidDeclaration() {
	err := idts.UC.Apply(idts.Ctx, []model.Declaration{
		{Entity: "", Statements: []string{"GRANT ALL ON books TO x"}},
	})
	idts.ErrorContains(err, "without an entity name")
}
