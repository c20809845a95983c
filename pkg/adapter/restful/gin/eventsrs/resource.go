// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package eventsrs realizes the identity change events resource,
// accepting the webhook delivery path of the identity store and
// delegating the decoded events to the identity synchronization use
// case. Events are delivered at least once and their application is
// idempotent, hence, the identity store may safely retry a delivery
// which it could not confirm.
package eventsrs

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/momeni/role-bridge/pkg/adapter/restful/gin/serdser"
	"github.com/momeni/role-bridge/pkg/core/cerr"
	"github.com/momeni/role-bridge/pkg/core/usecase/syncuc"
)

type resource struct {
	sync *syncuc.UseCase
}

// Register instantiates a resource adapting the identity
// synchronization use case instance with the relevant REST APIs
// including:
//  1. POST request to /api/rolebridge/v1/events
//     in order to deliver one identity change event.
func Register(r *gin.RouterGroup, sync *syncuc.UseCase) {
	rs := &resource{sync: sync}
	r.POST("events", rs.ApplyEvent)
}

func (rs *resource) ApplyEvent(c *gin.Context) {
	ev := rs.DserEvent(c)
	if ev == nil {
		return
	}
	err := rs.sync.Apply(c, *ev)
	var pending *cerr.RoleRemovalPending
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.As(err, &pending):
		// The event is accepted and the blocked role removal is
		// queued for a later retry.
		c.JSON(http.StatusAccepted, gin.H{
			"detail": pending.Error(),
		})
	default:
		serdser.SerErr(c, err)
	}
}
