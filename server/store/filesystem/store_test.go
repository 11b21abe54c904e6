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

package filesystem_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quince-team/quince/server/store"
	"github.com/quince-team/quince/server/store/filesystem"
	"github.com/quince-team/quince/server/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.RunStoreTest(t, func(t *testing.T) store.Store {
		s, err := filesystem.New(t.TempDir())
		require.NoError(t, err)
		return s
	})

	t.Run("values survive reopening test", func(t *testing.T) {
		ctx := context.Background()
		dir := t.TempDir()

		s, err := filesystem.New(dir)
		require.NoError(t, err)
		require.NoError(t, s.Put(ctx, "doc/snapshot", []byte("persisted")))
		require.NoError(t, s.Close())

		reopened, err := filesystem.New(dir)
		require.NoError(t, err)
		value, err := reopened.Get(ctx, "doc/snapshot")
		require.NoError(t, err)
		assert.Equal(t, []byte("persisted"), value)
	})

	t.Run("keys escaping the root are rejected test", func(t *testing.T) {
		ctx := context.Background()
		s, err := filesystem.New(t.TempDir())
		require.NoError(t, err)

		assert.ErrorIs(t, s.Put(ctx, "../outside", []byte("x")), filesystem.ErrInvalidKey)
		assert.ErrorIs(t, s.Put(ctx, "/abs", []byte("x")), filesystem.ErrInvalidKey)
		_, err = s.Get(ctx, "a/../../b")
		assert.ErrorIs(t, err, filesystem.ErrInvalidKey)
	})

	t.Run("leftover temporary files are not listed test", func(t *testing.T) {
		ctx := context.Background()
		dir := t.TempDir()
		s, err := filesystem.New(dir)
		require.NoError(t, err)

		require.NoError(t, s.Put(ctx, "doc/update/00000000000000000001", []byte("u")))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "doc", "update", ".tmp-123"), []byte("x"), 0o600))

		keys, err := s.List(ctx, "doc/")
		require.NoError(t, err)
		assert.Equal(t, []string{"doc/update/00000000000000000001"}, keys)
	})
}
