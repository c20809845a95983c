// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package syncuc

import (
	"errors"
	"fmt"

	"github.com/momeni/role-bridge/pkg/core/repo"
	"github.com/momeni/role-bridge/pkg/core/scram"
)

// Option is a functional option for the identity synchronization
// use case.
type Option func(uc *UseCase) error

// WithIdentityStore option configures the identity store access which
// the Reconcile method requires. The `p` pool connects to the database
// holding the application identity tables (which may differ from the
// target database) and the `ids` repository reads them. This option
// may be passed to the New() function.
func WithIdentityStore(p repo.Pool, ids repo.Identities) Option {
	return func(uc *UseCase) error {
		switch {
		case ids == nil:
			return errors.New("identities repository is nil")
		case uc.idsrp != nil:
			return errors.New("identity store is already configured")
		}
		uc.idPool = p
		uc.idsrp = ids
		return nil
	}
}

// WithPasswordHasher option configures the scram hasher which the
// ProvisionPassword method uses, together with its hashing iterations
// count (at least 4096; RFC 7677 recommends 15000 or more). This
// option may be passed to the New() function.
func WithPasswordHasher(h scram.Hasher, iters int) Option {
	return func(uc *UseCase) error {
		switch {
		case h == nil:
			return errors.New("scram hasher is nil")
		case iters < 4096:
			return fmt.Errorf("iters (%d) is less than 4096", iters)
		case uc.hasher != nil:
			return errors.New("password hasher is already configured")
		}
		uc.hasher = h
		uc.hashIters = iters
		return nil
	}
}
