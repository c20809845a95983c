// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package identityrp

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/momeni/role-bridge/pkg/adapter/db/postgres"
	"github.com/momeni/role-bridge/pkg/core/model"
)

type gUser struct {
	UID      uuid.UUID `gorm:"primaryKey;type:uuid;column:uid"`
	Username string
	Active   bool
}

func (gu *gUser) TableName() string {
	return "users"
}

func (gu *gUser) Model() *model.User {
	return &model.User{
		ID:       gu.UID,
		Username: gu.Username,
		Active:   gu.Active,
	}
}

type gGroup struct {
	GID  uuid.UUID `gorm:"primaryKey;type:uuid;column:gid"`
	Name string
}

func (gg *gGroup) TableName() string {
	return "groups"
}

func ListUsers[Q postgres.Queryer](
	ctx context.Context, q Q,
) ([]model.User, error) {
	gdb := q.GORM(ctx)
	var gus []gUser
	if err := gdb.Find(&gus).Error; err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	users := make([]model.User, 0, len(gus))
	for i := range gus {
		users = append(users, *gus[i].Model())
	}
	return users, nil
}

func ListGroups[Q postgres.Queryer](
	ctx context.Context, q Q,
) ([]model.Group, error) {
	gdb := q.GORM(ctx)
	var ggs []gGroup
	if err := gdb.Find(&ggs).Error; err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	members, err := listMembers(ctx, q)
	if err != nil {
		return nil, err
	}
	groups := make([]model.Group, 0, len(ggs))
	for i := range ggs {
		gg := &ggs[i]
		groups = append(groups, model.Group{
			ID:      gg.GID,
			Name:    gg.Name,
			Members: members[gg.GID],
		})
	}
	return groups, nil
}

// listMembers resolves the membership edges to the member usernames,
// since the group role memberships are maintained in terms of the
// role names which are derived from usernames, not user identifiers.
func listMembers[Q postgres.Queryer](
	ctx context.Context, q Q,
) (map[uuid.UUID][]string, error) {
	rows, err := q.GORM(ctx).Table("memberships").Select(
		"memberships.gid", "users.username",
	).Joins(
		"JOIN users ON users.uid=memberships.uid",
	).Rows()
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	members := make(map[uuid.UUID][]string)
	for rows.Next() {
		var (
			gid      uuid.UUID
			username string
		)
		if err := rows.Scan(&gid, &username); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		members[gid] = append(members[gid], username)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating: %w", err)
	}
	for gid := range members {
		sort.Strings(members[gid])
	}
	return members, nil
}
