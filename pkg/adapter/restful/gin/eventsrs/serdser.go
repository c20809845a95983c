// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package eventsrs

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/momeni/role-bridge/pkg/adapter/restful/gin/serdser"
	"github.com/momeni/role-bridge/pkg/core/model"
)

func (rs *resource) DserEvent(c *gin.Context) *model.Event {
	ev := &model.Event{}
	if ok := serdser.Bind(c, ev, binding.JSON); !ok {
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": err.Error(),
		})
		return nil
	}
	return ev
}
