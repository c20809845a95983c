// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package declrp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/momeni/role-bridge/pkg/adapter/db/postgres"
	"github.com/momeni/role-bridge/pkg/core/model"
)

// The applied statements ledger records which declared statements were
// executed by the earlier runs, keyed by the declaration entity and
// the statement position. The fingerprint column detects declarations
// which were edited after being applied, since re-executing a changed
// statement under an old position could break the ordering assumptions
// of the following statements.
const createLedger = `CREATE TABLE IF NOT EXISTS
	rolebridge_applied_statements (
	entity varchar NOT NULL,
	position integer NOT NULL,
	fingerprint varchar(64) NOT NULL,
	applied_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (entity, position)
)`

// Apply executes the statements of the `decl` declaration in their
// declared order within the `tx` transaction, recording each executed
// statement in the applied statements ledger. Statements which the
// ledger already contains are skipped, after verifying that their
// fingerprints still match, so a replayed migration causes no change
// while an edited declaration is reported as an error.
func Apply(
	ctx context.Context, tx *postgres.Tx, decl model.Declaration,
) error {
	if _, err := tx.Exec(ctx, createLedger); err != nil {
		return fmt.Errorf("creating the ledger table: %w", err)
	}
	applied, err := fingerprints(ctx, tx, decl.Entity)
	if err != nil {
		return err
	}
	for i, stmt := range decl.Statements {
		fp := fingerprint(stmt)
		if have, ok := applied[i]; ok {
			if have != fp {
				return fmt.Errorf(
					"statement %d of entity %q changed after"+
						" being applied", i, decl.Entity,
				)
			}
			continue
		}
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf(
				"executing statement %d of entity %q: %w",
				i, decl.Entity, err,
			)
		}
		_, err := tx.Exec(
			ctx,
			`INSERT INTO rolebridge_applied_statements
				(entity, position, fingerprint)
				VALUES ($1, $2, $3)`,
			decl.Entity, i, fp,
		)
		if err != nil {
			return fmt.Errorf(
				"recording statement %d of entity %q: %w",
				i, decl.Entity, err,
			)
		}
	}
	return nil
}

func fingerprint(stmt string) string {
	sum := sha256.Sum256([]byte(stmt))
	return hex.EncodeToString(sum[:])
}

func fingerprints(
	ctx context.Context, tx *postgres.Tx, entity string,
) (map[int]string, error) {
	rows, err := tx.Query(
		ctx,
		`SELECT position, fingerprint
			FROM rolebridge_applied_statements WHERE entity=$1`,
		entity,
	)
	if err != nil {
		return nil, fmt.Errorf("querying the ledger table: %w", err)
	}
	defer rows.Close()
	applied := make(map[int]string)
	for rows.Next() {
		var (
			position int
			fp       string
		)
		if err := rows.Scan(&position, &fp); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		applied[position] = fp
	}
	return applied, rows.Err()
}
