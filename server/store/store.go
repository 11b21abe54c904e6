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
 */

// Package store provides the byte-oriented key-value storage that documents
// are persisted to. Backends live in sub-packages; the server picks exactly
// one at startup.
package store

import (
	"context"
	"fmt"

	"github.com/quince-team/quince/pkg/errors"
)

var (
	// ErrNotFound is returned when the key does not exist.
	ErrNotFound = errors.NotFound("key not found").WithCode("ErrNotFound")

	// ErrTransient wraps failures that may succeed when retried, such as
	// network errors and timeouts.
	ErrTransient = errors.Unavailable("transient store failure").WithCode("ErrTransient")

	// ErrInvalidLocation is returned when a store cannot be opened from the
	// configured location. It is fatal at startup.
	ErrInvalidLocation = errors.InvalidArgument("invalid store location").WithCode("ErrInvalidLocation")
)

// Store is a flat key-value store of opaque bytes. Implementations guarantee
// read-after-write consistency for a single key and are safe for concurrent
// use. No ordering is guaranteed across keys.
type Store interface {
	// Get returns the value of the given key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores the value under the given key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// List returns the keys that start with the given prefix in
	// lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the given key. Removing a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the resources of the store.
	Close() error
}

// IsTransient returns whether the error may succeed when retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Transient marks the given error as retryable.
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// IsNotFound returns whether the error reports a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
