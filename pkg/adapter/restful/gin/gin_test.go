// Copyright (c) 2023-2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gin_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/bitcomplete/sqltestutil"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/momeni/role-bridge/internal/test/dbcontainer"
	"github.com/momeni/role-bridge/pkg/adapter/db/postgres"
	"github.com/momeni/role-bridge/pkg/adapter/db/postgres/identityrp"
	"github.com/momeni/role-bridge/pkg/adapter/db/postgres/rolesrp"
	"github.com/momeni/role-bridge/pkg/adapter/hash/scram"
	"github.com/momeni/role-bridge/pkg/adapter/restful/gin"
	"github.com/momeni/role-bridge/pkg/adapter/restful/gin/eventsrs"
	"github.com/momeni/role-bridge/pkg/adapter/restful/gin/syncrs"
	"github.com/momeni/role-bridge/pkg/core/model"
	"github.com/momeni/role-bridge/pkg/core/naming"
	"github.com/momeni/role-bridge/pkg/core/repo"
	"github.com/momeni/role-bridge/pkg/core/usecase/syncuc"
	"github.com/stretchr/testify/suite"
)

type IntegrationGinTestSuite struct {
	suite.Suite

	Ctx  context.Context
	Pg   *sqltestutil.PostgresContainer
	Pool *postgres.Pool
	Gin  *gin.Engine
}

func TestIntegrationGinTestSuite(t *testing.T) {
	ctx := context.Background()
	pg, pool, dfrs, ok := dbcontainer.New(ctx, 60*time.Second, t)
	for _, f := range dfrs {
		defer f()
	}
	if !ok {
		return // errors are already logged
	}
	suite.Run(t, &IntegrationGinTestSuite{
		Ctx:  ctx,
		Pg:   pg,
		Pool: pool,
	})
}

func (igts *IntegrationGinTestSuite) SetupSuite() {
	sql, err := os.ReadFile("testdata/schema.sql")
	igts.Require().NoError(err, "failed to read schema.sql file")
	err = igts.Pool.Conn(
		igts.Ctx, func(ctx context.Context, c repo.Conn) error {
			_, err := c.Exec(ctx, string(sql))
			return err
		},
	)
	igts.Require().NoError(err, "failed to create schema contents")

	sync, err := syncuc.New(
		igts.Pool, rolesrp.New(), naming.New(),
		syncuc.WithIdentityStore(igts.Pool, identityrp.New()),
		syncuc.WithPasswordHasher(scram.SHA256(), 4096),
	)
	igts.Require().NoError(err, "cannot instantiate sync use case")

	igts.Gin = gin.New(gin.Logger(), gin.Recovery())
	igts.Require().NotNil(igts.Gin, "cannot instantiate Gin engine")
	r := igts.Gin.Group("/api/rolebridge/v1")
	eventsrs.Register(r, sync)
	syncrs.Register(r, sync)
}

func (igts *IntegrationGinTestSuite) request(
	method, path string, body any,
) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		b, err := json.Marshal(body)
		igts.Require().NoError(err, "cannot marshal request body")
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(
		method, "/api/rolebridge/v1"+path, reader,
	)
	igts.Require().NoError(err, "cannot create %s request", method)
	req.Header.Add("Content-Type", "application/json")
	w := httptest.NewRecorder()
	igts.Gin.ServeHTTP(w, req)
	return w
}

func (igts *IntegrationGinTestSuite) postEvent(
	ev model.Event,
) *httptest.ResponseRecorder {
	return igts.request(http.MethodPost, "/events", ev)
}

// roleInfo reports whether the `role` role exists and can login.
func (igts *IntegrationGinTestSuite) roleInfo(
	role string,
) (exists, canLogin bool) {
	err := igts.Pool.Conn(
		igts.Ctx, func(ctx context.Context, c repo.Conn) error {
			rows, err := c.Query(
				ctx,
				"SELECT rolcanlogin FROM pg_roles WHERE rolname=$1",
				role,
			)
			if err != nil {
				return err
			}
			defer rows.Close()
			if !rows.Next() {
				return rows.Err()
			}
			exists = true
			return rows.Scan(&canLogin)
		},
	)
	igts.Require().NoError(err, "cannot query pg_roles")
	return exists, canLogin
}

// memberOf reports whether the `member` role is granted the `group`
// group role.
func (igts *IntegrationGinTestSuite) memberOf(
	group, member string,
) bool {
	var n int64
	err := igts.Pool.Conn(
		igts.Ctx, func(ctx context.Context, c repo.Conn) error {
			rows, err := c.Query(
				ctx,
				`SELECT COUNT(*) FROM pg_auth_members am
					JOIN pg_roles g ON g.oid=am.roleid
					JOIN pg_roles m ON m.oid=am.member
					WHERE g.rolname=$1 AND m.rolname=$2`,
				group, member,
			)
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
	igts.Require().NoError(err, "cannot query pg_auth_members")
	return n == 1
}

func (igts *IntegrationGinTestSuite) exec(sql string) {
	err := igts.Pool.Conn(
		igts.Ctx, func(ctx context.Context, c repo.Conn) error {
			_, err := c.Exec(ctx, sql)
			return err
		},
	)
	igts.Require().NoError(err, "cannot execute %q", sql)
}

func (igts *IntegrationGinTestSuite) TestBadEvent() {
	for _, tc := range []struct {
		name string
		ev   model.Event
	}{
		{
			name: "unknown kind",
			ev: model.Event{
				Kind:     "promoted",
				Identity: model.UserIdentity,
				ID:       uuid.New(),
				Name:     "gopher",
			},
		},
		{
			name: "missing name",
			ev: model.Event{
				Kind:     model.EventCreated,
				Identity: model.UserIdentity,
				ID:       uuid.New(),
			},
		},
		{
			name: "rename without old name",
			ev: model.Event{
				Kind:     model.EventRenamed,
				Identity: model.UserIdentity,
				ID:       uuid.New(),
				Name:     "gopher",
			},
		},
		{
			name: "membership change for a user",
			ev: model.Event{
				Kind:     model.EventMembershipChanged,
				Identity: model.UserIdentity,
				ID:       uuid.New(),
				Name:     "gopher",
			},
		},
	} {
		igts.Run(tc.name, func() {
			w := igts.postEvent(tc.ev)
			igts.Equal(http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func (igts *IntegrationGinTestSuite) TestEventLifecycle() {
	userID := uuid.New()
	groupID := uuid.New()

	w := igts.postEvent(model.Event{
		Kind:     model.EventCreated,
		Identity: model.UserIdentity,
		ID:       userID,
		Name:     "gopher",
	})
	igts.Require().Equal(http.StatusNoContent, w.Code, w.Body.String())
	exists, canLogin := igts.roleInfo("user_gopher")
	igts.True(exists, "created user role must exist")
	igts.True(canLogin, "created user role must be able to login")

	w = igts.postEvent(model.Event{
		Kind:     model.EventCreated,
		Identity: model.GroupIdentity,
		ID:       groupID,
		Name:     "writers",
	})
	igts.Require().Equal(http.StatusNoContent, w.Code, w.Body.String())
	exists, canLogin = igts.roleInfo("role_writers")
	igts.True(exists, "created group role must exist")
	igts.False(canLogin, "group roles must not be able to login")

	w = igts.postEvent(model.Event{
		Kind:     model.EventMembershipChanged,
		Identity: model.GroupIdentity,
		ID:       groupID,
		Name:     "writers",
		Added:    []string{"gopher"},
	})
	igts.Require().Equal(http.StatusNoContent, w.Code, w.Body.String())
	igts.True(igts.memberOf("role_writers", "user_gopher"))

	w = igts.postEvent(model.Event{
		Kind:     model.EventRenamed,
		Identity: model.UserIdentity,
		ID:       userID,
		Name:     "ferris",
		OldName:  "gopher",
	})
	igts.Require().Equal(http.StatusNoContent, w.Code, w.Body.String())
	exists, _ = igts.roleInfo("user_gopher")
	igts.False(exists, "rename must not leave the old role behind")
	igts.True(igts.memberOf("role_writers", "user_ferris"),
		"membership edges must survive the rename")

	w = igts.postEvent(model.Event{
		Kind:     model.EventDeactivated,
		Identity: model.UserIdentity,
		ID:       userID,
		Name:     "ferris",
	})
	igts.Require().Equal(http.StatusNoContent, w.Code, w.Body.String())
	exists, canLogin = igts.roleInfo("user_ferris")
	igts.True(exists, "deactivation must retain the role")
	igts.False(canLogin)

	for _, ev := range []model.Event{
		{
			Kind:     model.EventDeleted,
			Identity: model.UserIdentity,
			ID:       userID,
			Name:     "ferris",
		},
		{
			Kind:     model.EventDeleted,
			Identity: model.GroupIdentity,
			ID:       groupID,
			Name:     "writers",
		},
	} {
		w = igts.postEvent(ev)
		igts.Require().Equal(
			http.StatusNoContent, w.Code, w.Body.String(),
		)
	}
	exists, _ = igts.roleInfo("user_ferris")
	igts.False(exists)
	exists, _ = igts.roleInfo("role_writers")
	igts.False(exists)
}

func (igts *IntegrationGinTestSuite) TestDeferredRemoval() {
	userID := uuid.New()
	w := igts.postEvent(model.Event{
		Kind:     model.EventCreated,
		Identity: model.UserIdentity,
		ID:       userID,
		Name:     "owner",
	})
	igts.Require().Equal(http.StatusNoContent, w.Code, w.Body.String())
	igts.exec("CREATE TABLE owned_table (id int)")
	igts.exec("ALTER TABLE owned_table OWNER TO user_owner")

	deleted := model.Event{
		Kind:     model.EventDeleted,
		Identity: model.UserIdentity,
		ID:       userID,
		Name:     "owner",
	}
	w = igts.postEvent(deleted)
	igts.Require().Equal(http.StatusAccepted, w.Code, w.Body.String())
	exists, _ := igts.roleInfo("user_owner")
	igts.True(exists, "a blocked removal must keep the role")

	w = igts.request(http.MethodGet, "/removals", nil)
	igts.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	res := &struct {
		Removals []struct {
			Role   string `json:"role"`
			Reason string `json:"reason"`
		} `json:"removals"`
	}{}
	igts.Require().NoError(json.Unmarshal(w.Body.Bytes(), res))
	igts.Require().Len(res.Removals, 1)
	igts.Equal("user_owner", res.Removals[0].Role)

	// the blocking table is gone, the removal succeeds now
	igts.exec("DROP TABLE owned_table")
	w = igts.postEvent(deleted)
	igts.Require().Equal(http.StatusNoContent, w.Code, w.Body.String())
	exists, _ = igts.roleInfo("user_owner")
	igts.False(exists)
}

func (igts *IntegrationGinTestSuite) TestProvisionPassword() {
	userID := uuid.New()
	w := igts.postEvent(model.Event{
		Kind:     model.EventCreated,
		Identity: model.UserIdentity,
		ID:       userID,
		Name:     "keeper",
	})
	igts.Require().Equal(http.StatusNoContent, w.Code, w.Body.String())

	w = igts.request(
		http.MethodPut, "/users/keeper/password",
		map[string]string{"password": "a-secret-password"},
	)
	igts.Require().Equal(http.StatusNoContent, w.Code, w.Body.String())

	var verifier string
	err := igts.Pool.Conn(
		igts.Ctx, func(ctx context.Context, c repo.Conn) error {
			rows, err := c.Query(
				ctx,
				`SELECT rolpassword FROM pg_authid
					WHERE rolname='user_keeper'`,
			)
			if err != nil {
				return err
			}
			defer rows.Close()
			if !rows.Next() {
				return rows.Err()
			}
			return rows.Scan(&verifier)
		},
	)
	igts.Require().NoError(err, "cannot query pg_authid")
	igts.Contains(verifier, "SCRAM-SHA-256$",
		"password must be stored as a scram verifier")

	w = igts.request(
		http.MethodPut, "/users/keeper/password",
		map[string]string{"password": "short"},
	)
	igts.Equal(http.StatusBadRequest, w.Code,
		"too short passwords must be rejected")
}

func (igts *IntegrationGinTestSuite) TestReconcile() {
	w := igts.request(http.MethodPost, "/reconcile", nil)
	igts.Require().Equal(http.StatusNoContent, w.Code, w.Body.String())

	exists, canLogin := igts.roleInfo("user_smith")
	igts.True(exists)
	igts.True(canLogin, "active users must be able to login")
	exists, canLogin = igts.roleInfo("user_doe")
	igts.True(exists)
	igts.False(canLogin, "inactive users must not be able to login")
	exists, canLogin = igts.roleInfo("role_librarians")
	igts.True(exists)
	igts.False(canLogin)
	igts.True(igts.memberOf("role_librarians", "user_smith"))
	igts.False(igts.memberOf("role_librarians", "user_doe"))
}
