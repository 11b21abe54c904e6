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

package backend_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quince-team/quince/pkg/crdt"
	"github.com/quince-team/quince/server/backend"
	"github.com/quince-team/quince/server/backend/housekeeping"
	"github.com/quince-team/quince/server/documents"
	"github.com/quince-team/quince/server/profiling/prometheus"
	"github.com/quince-team/quince/server/store"
)

func TestOpenStore(t *testing.T) {
	t.Run("select backend by location test", func(t *testing.T) {
		dir := t.TempDir()
		for _, location := range []string{
			"memory://",
			"file://" + filepath.Join(dir, "files"),
			filepath.Join(dir, "bare"),
			"badger://" + filepath.Join(dir, "badger"),
		} {
			st, err := backend.OpenStore(location, nil, nil)
			require.NoError(t, err, location)
			assert.NoError(t, st.Close())
		}
	})

	t.Run("invalid location test", func(t *testing.T) {
		for _, location := range []string{"", "redis://localhost", "s3://bucket", "mongodb://localhost"} {
			_, err := backend.OpenStore(location, nil, nil)
			assert.ErrorIs(t, err, store.ErrInvalidLocation, location)
		}
	})
}

func TestBackend(t *testing.T) {
	t.Run("shutdown flushes dirty documents test", func(t *testing.T) {
		ctx := context.Background()
		conf := newValidBackendConf(t)
		conf.StoreLocation = "file://" + t.TempDir()

		metrics, err := prometheus.NewMetrics()
		require.NoError(t, err)
		hkConf := &housekeeping.Config{Interval: "1h", TaskTimeout: "1m"}

		be, err := backend.New(&conf, nil, nil, hkConf, metrics)
		require.NoError(t, err)
		require.NoError(t, be.Start())

		serverToken, err := be.Authenticator.ServerToken()
		require.NoError(t, err)
		s, err := be.Sessions.Connect(ctx, serverToken, "doc")
		require.NoError(t, err)

		data, err := crdt.New("alice").Set("k", "v").Encode()
		require.NoError(t, err)
		_, err = be.Sessions.ApplyUpdate(ctx, "doc", data)
		require.NoError(t, err)

		require.NoError(t, be.Shutdown())
		<-s.Done()

		st, err := backend.OpenStore(conf.StoreLocation, nil, nil)
		require.NoError(t, err)
		defer func() { assert.NoError(t, st.Close()) }()

		_, err = st.Get(ctx, documents.SnapshotKey("doc"))
		assert.NoError(t, err)
		keys, err := st.List(ctx, documents.UpdatePrefix("doc"))
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}
