// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package syncrs

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/momeni/role-bridge/pkg/adapter/restful/gin/serdser"
)

type rawPasswordReq struct {
	Password string `json:"password" binding:"required,min=8"`
}

type passwordReq struct {
	Username string
	Password string
}

func (rs *resource) DserPasswordReq(c *gin.Context) *passwordReq {
	req := &rawPasswordReq{}
	if ok := serdser.Bind(c, req, binding.JSON); !ok {
		return nil
	}
	return &passwordReq{
		Username: c.Param("username"),
		Password: req.Password,
	}
}
