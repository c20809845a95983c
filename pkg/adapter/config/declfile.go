// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"fmt"
	"os"

	"github.com/momeni/role-bridge/pkg/core/model"
	"gopkg.in/yaml.v3"
)

// LoadDeclarations reads the `path` YAML file which the external
// schema tooling produces, containing the permission declarations to
// be applied during a schema migration. The expected format is a
// mapping with one declarations list:
//
//	declarations:
//	  - entity: books
//	    statements:
//	      - GRANT SELECT ON books TO role_librarians
//	      - CREATE POLICY books_rls ON books ...
//
// The declared order is preserved, both among the declarations and
// among the statements of each declaration.
func LoadDeclarations(path string) ([]model.Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	var doc struct {
		Declarations []model.Declaration `yaml:"declarations"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshalling yaml: %w", err)
	}
	for i := range doc.Declarations {
		if err := doc.Declarations[i].Validate(); err != nil {
			return nil, fmt.Errorf(
				"invalid declaration at index %d: %w", i, err,
			)
		}
	}
	return doc.Declarations, nil
}
