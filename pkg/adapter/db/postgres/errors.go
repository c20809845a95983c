// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/momeni/role-bridge/pkg/core/cerr"
)

// SQLSTATE codes which the role management statements may produce.
// See https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	errInvalidParameterValue = "22023" // SET ROLE to an absent role
	errInsufficientPrivilege = "42501"
	errUndefinedObject       = "42704"
	errObjectInUse           = "55006"
	errDependentObjectsExist = "2BP01"
)

// WrapRoleError translates an error which the DBMS reported for a
// statement affecting the `role` role into the corresponding cerr
// error type, based on its SQLSTATE code. Errors without a recognized
// code are returned unchanged.
func WrapRoleError(err error, role string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case errUndefinedObject, errInvalidParameterValue:
		return &cerr.UnknownRole{Role: role}
	case errInsufficientPrivilege:
		return &cerr.PrivilegeDenied{Role: role, Err: err}
	case errDependentObjectsExist, errObjectInUse:
		return &cerr.RoleRemovalPending{
			Role:   role,
			Reason: pgErr.Message,
		}
	}
	return err
}
