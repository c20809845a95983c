// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package syncrs realizes the synchronization operator resource,
// exposing the roles state management REST APIs: inspecting the
// deferred role removals, triggering a reconciliation pass, and
// provisioning the managed user role passwords.
package syncrs

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/momeni/role-bridge/pkg/adapter/restful/gin/serdser"
	"github.com/momeni/role-bridge/pkg/core/usecase/syncuc"
)

type resource struct {
	sync *syncuc.UseCase
}

// Register instantiates a resource adapting the identity
// synchronization use case instance with the relevant REST APIs
// including:
//  1. GET request to /api/rolebridge/v1/removals
//     in order to list the deferred role removals.
//  2. POST request to /api/rolebridge/v1/reconcile
//     in order to converge the roles state towards the identity
//     store snapshot and retry the deferred role removals.
//  3. PUT request to /api/rolebridge/v1/users/:username/password
//     in order to provision the password of a managed user role.
func Register(r *gin.RouterGroup, sync *syncuc.UseCase) {
	rs := &resource{sync: sync}
	r.GET("removals", rs.ListRemovals)
	r.POST("reconcile", rs.Reconcile)
	r.PUT("users/:username/password", rs.ProvisionPassword)
}

func (rs *resource) ListRemovals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"removals": rs.sync.PendingRemovals(),
	})
}

func (rs *resource) Reconcile(c *gin.Context) {
	if err := rs.sync.Reconcile(c); err != nil {
		serdser.SerErr(c, err)
		return
	}
	if err := rs.sync.RetryPending(c); err != nil {
		serdser.SerErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (rs *resource) ProvisionPassword(c *gin.Context) {
	req := rs.DserPasswordReq(c)
	if req == nil {
		return
	}
	err := rs.sync.ProvisionPassword(c, req.Username, req.Password)
	if err != nil {
		serdser.SerErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
