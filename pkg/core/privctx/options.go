// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package privctx

import "errors"

// Option is a functional option for the privilege context Manager.
type Option func(m *Manager) error

// WithSingleContext option restricts the Manager to one active
// privilege context at a time: an Enter call while another context is
// active fails with a *cerr.AlreadyInContext error instead of nesting.
// This option may be passed to the New() function.
func WithSingleContext() Option {
	return func(m *Manager) error {
		if !m.nesting {
			return errors.New("single context is already configured")
		}
		m.nesting = false
		return nil
	}
}
