// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package syncuc

import "sync"

// keyedMutex provides a mutual exclusion scope per key, so operations
// which touch the same identity are serialized while operations on
// distinct identities proceed concurrently. Entries are reference
// counted and removed again when their last holder unlocks, keeping
// the map bounded by the number of in-flight operations.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

// lock acquires the mutex of the given key and returns the matching
// unlock function.
func (km *keyedMutex) lock(key string) (unlock func()) {
	km.mu.Lock()
	e, ok := km.locks[key]
	if !ok {
		e = &lockEntry{}
		km.locks[key] = e
	}
	e.refs++
	km.mu.Unlock()
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		km.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}
