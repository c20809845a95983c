// Copyright (c) 2023-2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package routes contains all resource packages and facilitates
// instantiation and registration of all repo, use case, and resource
// packages based on the user provided configuration settings.
package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/momeni/role-bridge/pkg/adapter/config"
	"github.com/momeni/role-bridge/pkg/adapter/db/postgres/identityrp"
	"github.com/momeni/role-bridge/pkg/adapter/db/postgres/rolesrp"
	"github.com/momeni/role-bridge/pkg/adapter/restful/gin/eventsrs"
	"github.com/momeni/role-bridge/pkg/adapter/restful/gin/syncrs"
	"github.com/momeni/role-bridge/pkg/core/repo"
	"github.com/momeni/role-bridge/pkg/core/usecase/syncuc"
)

// Register instantiates relevant repositories and use cases based on
// the c configuration settings. The p connections pool belongs to the
// target database (established with the administrator role) and the
// idp pool belongs to the identity store database; both pools are
// passed to the use case instances, so they may acquire/release
// connections and transactions on demand. These connections and
// transactions will be passed to the repositories later in order to
// run relevant queries on them and accomplish those use cases. Each
// use case package is named like syncuc and each repository package
// is named like rolesrp.
// Register instantiates a series of "resource" structs, from packages
// which are named like eventsrs, in order to adapt the use cases
// interfaces with the REST APIs. These resources are registered as
// request handlers using the e gin-gonic engine instance.
// The identity synchronization use case is returned too, so the
// caller may additionally feed it from the LISTEN/NOTIFY delivery
// path and schedule its deferred removal retries.
func Register(
	e *gin.Engine, p, idp repo.Pool, c *config.Config,
) (*syncuc.UseCase, error) {
	rolesRepo := rolesrp.New()
	idsRepo := identityrp.New()

	sync, err := c.NewSyncUseCase(p, rolesRepo, idp, idsRepo)
	if err != nil {
		return nil, fmt.Errorf("creating sync use case: %w", err)
	}
	r := e.Group("/api/rolebridge/v1")
	eventsrs.Register(r, sync)
	syncrs.Register(r, sync)
	return sync, nil
}
