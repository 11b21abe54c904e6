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

// Package storetest provides the behavior every store backend must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quince-team/quince/server/store"
)

// RunStoreTest runs the common store tests against stores made by newStore.
// Each subtest gets a fresh store.
func RunStoreTest(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()

	t.Run("put and get test", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(ctx, "doc/snapshot")
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.Put(ctx, "doc/snapshot", []byte("v1")))
		value, err := s.Get(ctx, "doc/snapshot")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), value)

		require.NoError(t, s.Put(ctx, "doc/snapshot", []byte("v2")))
		value, err = s.Get(ctx, "doc/snapshot")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), value)
	})

	t.Run("returned values are not aliased test", func(t *testing.T) {
		s := newStore(t)
		input := []byte("abc")
		require.NoError(t, s.Put(ctx, "k", input))
		input[0] = 'z'

		value, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), value)
	})

	t.Run("list by prefix in order test", func(t *testing.T) {
		s := newStore(t)
		for _, key := range []string{
			"doc/update/00000000000000000010",
			"doc/update/00000000000000000002",
			"doc/snapshot",
			"doc2/update/00000000000000000001",
			"doc/update/00000000000000000001",
		} {
			require.NoError(t, s.Put(ctx, key, []byte(key)))
		}

		keys, err := s.List(ctx, "doc/update/")
		require.NoError(t, err)
		assert.Equal(t, []string{
			"doc/update/00000000000000000001",
			"doc/update/00000000000000000002",
			"doc/update/00000000000000000010",
		}, keys)

		keys, err = s.List(ctx, "missing/")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("delete test", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, "doc/snapshot", []byte("v")))
		require.NoError(t, s.Delete(ctx, "doc/snapshot"))

		_, err := s.Get(ctx, "doc/snapshot")
		assert.ErrorIs(t, err, store.ErrNotFound)

		assert.NoError(t, s.Delete(ctx, "doc/snapshot"))
	})

	t.Run("concurrent writers test", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := fmt.Sprintf("doc/update/%020d", i)
				assert.NoError(t, s.Put(ctx, key, []byte(key)))
			}(i)
		}
		wg.Wait()

		keys, err := s.List(ctx, "doc/update/")
		require.NoError(t, err)
		assert.Len(t, keys, 20)
	})
}
