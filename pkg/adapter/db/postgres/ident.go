// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package postgres

import "strings"

// QuoteIdentifier quotes the `name` identifier, so it can be embedded
// in a SQL statement at a position where the PostgreSQL wire protocol
// does not support query parameters, such as role names in CREATE ROLE
// or SET ROLE statements. Embedded double quotes are doubled following
// the SQL standard quoting rules.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes the `s` string literal for the same embedding
// positions which QuoteIdentifier covers, such as role passwords in
// ALTER ROLE statements or role comments in COMMENT ON statements.
// Backslashes are doubled too and the E'' form is used, so the result
// is safe independent of the standard_conforming_strings setting.
func QuoteLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `''`)
	return ` E'` + s + `'`
}
