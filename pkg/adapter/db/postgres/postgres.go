// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package postgres provides the PostgreSQL adapter, reifying the
// connection pool, connection, and transaction interfaces of the
// pkg/core/repo package on top of the GORM framework.
//
// Beyond plain statement execution, a *Conn also reifies the
// repo.Session interface: it can switch the session privilege state
// to a managed role with SET ROLE, reset it again, and discard the
// underlying connection when its privilege state becomes unknown.
// Errors which the DBMS reports for role management statements are
// translated into the pkg/core/cerr error types, so the use cases
// layer can react to them without depending on SQLSTATE codes.
package postgres

// DefaultEventsChannel is the LISTEN/NOTIFY channel on which identity
// change events are expected by default. See the listen sub-package.
const DefaultEventsChannel = "rolebridge_events"
