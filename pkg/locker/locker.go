/*
 * Copyright 2026 The Quince Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 * This file was written with reference to moby/locker.
 *   https://github.com/moby/locker
 */

// Package locker provides mutexes addressed by name. A lock entry exists only
// while someone holds or waits for it, so the set of names can be unbounded.
package locker

import (
	"errors"
	"sync"
)

// ErrNoSuchLock is returned when unlocking a name that is not locked.
var ErrNoSuchLock = errors.New("no such lock")

// Locker hands out one mutex per name.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// entry is a named mutex. refs counts holders and waiters and is only
// touched under Locker.mu.
type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates a new Locker.
func New() *Locker {
	return &Locker{
		locks: make(map[string]*entry),
	}
}

func (l *Locker) acquire(name string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[name]
	if !ok {
		e = &entry{}
		l.locks[name] = e
	}
	e.refs++
	return e
}

func (l *Locker) release(name string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, name)
	}
}

// Lock locks the mutex of the given name, waiting if needed.
func (l *Locker) Lock(name string) {
	l.acquire(name).mu.Lock()
}

// TryLock locks the mutex of the given name only if it is free.
func (l *Locker) TryLock(name string) bool {
	e := l.acquire(name)
	if e.mu.TryLock() {
		return true
	}

	l.release(name, e)
	return false
}

// Unlock unlocks the mutex of the given name.
func (l *Locker) Unlock(name string) error {
	l.mu.Lock()
	e, ok := l.locks[name]
	l.mu.Unlock()
	if !ok {
		return ErrNoSuchLock
	}

	e.mu.Unlock()
	l.release(name, e)
	return nil
}

// Len returns the number of names currently held or waited on.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
