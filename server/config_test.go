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

package server_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quince-team/quince/server"
	"github.com/quince-team/quince/server/backend"
	"github.com/quince-team/quince/server/store/mongo"
)

func TestNewConfigFromFile(t *testing.T) {
	t.Run("fail read config file test", func(t *testing.T) {
		conf := server.NewConfig()
		assert.Equal(t, "127.0.0.1:8080", conf.RPCAddr())
		_, err := server.NewConfigFromFile("nowhere.yml")
		assert.Error(t, err)
		assert.Equal(t, server.DefaultRPCPort, conf.RPC.Port)
		assert.Equal(t, "", conf.RPC.CertFile)
		assert.Equal(t, "", conf.RPC.KeyFile)

		assert.Equal(t, server.DefaultCheckpointInterval.String(), conf.Backend.CheckpointInterval)
		assert.Equal(t, server.DefaultCorruptUpdatePolicy, conf.Backend.CorruptUpdatePolicy)
	})

	t.Run("read config file test", func(t *testing.T) {
		conf, err := server.NewConfigFromFile("config.sample.yml")
		require.NoError(t, err)

		assert.Equal(t, server.DefaultRPCPort, conf.RPC.Port)
		assert.Equal(t, server.DefaultProfilingPort, conf.Profiling.Port)
		assert.Equal(t, "memory://", conf.Backend.StoreLocation)
		assert.True(t, conf.Backend.NoAuth)

		checkpointInterval, err := time.ParseDuration(conf.Backend.CheckpointInterval)
		require.NoError(t, err)
		assert.Equal(t, server.DefaultCheckpointInterval, checkpointInterval)

		connTimeout, err := time.ParseDuration(conf.Mongo.ConnectionTimeout)
		require.NoError(t, err)
		assert.Equal(t, server.DefaultMongoConnectionTimeout, connTimeout)
		assert.Equal(t, server.DefaultMongoDatabase, conf.Mongo.Database)

		assert.NoError(t, conf.Validate())
	})
}

func TestConfig(t *testing.T) {
	t.Run("validate store sections test", func(t *testing.T) {
		conf := server.NewConfig()
		conf.Backend.StoreLocation = "memory://"
		conf.Backend.NoAuth = true
		require.NoError(t, conf.Validate())

		// the Mongo section only matters for a MongoDB store
		conf.Mongo.Database = ""
		assert.NoError(t, conf.Validate())
		conf.Backend.StoreLocation = "mongodb://localhost:27017"
		assert.ErrorIs(t, conf.Validate(), mongo.ErrEmptyDatabase)
	})

	t.Run("validate auth mode test", func(t *testing.T) {
		conf := server.NewConfig()
		conf.Backend.StoreLocation = "memory://"
		assert.ErrorIs(t, conf.Validate(), backend.ErrMissingAuthKey)
	})
}
