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

package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quince-team/quince/server/backend"
	"github.com/quince-team/quince/server/backend/housekeeping"
	"github.com/quince-team/quince/server/documents"
	"github.com/quince-team/quince/server/profiling"
	"github.com/quince-team/quince/server/rpc"
	"github.com/quince-team/quince/server/sessions"
	"github.com/quince-team/quince/server/store/mongo"
	"github.com/quince-team/quince/server/store/s3"
)

// Below are the values of the default values of Quince config.
const (
	DefaultRPCHost              = "127.0.0.1"
	DefaultRPCPort              = 8080
	DefaultRPCMaxMessageBytes   = 10 * 1024 * 1024
	DefaultRPCWriteTimeout      = 10 * time.Second
	DefaultProfilingHost        = "127.0.0.1"
	DefaultProfilingPort        = 8081
	DefaultHousekeepingInterval = 30 * time.Second
	DefaultHousekeepingTimeout  = time.Minute

	DefaultCheckpointInterval    = 10 * time.Second
	DefaultCheckpointConcurrency = documents.DefaultCheckpointConcurrency
	DefaultIdleEvictionThreshold = time.Minute
	DefaultAwarenessTimeout      = 30 * time.Second
	DefaultShutdownTimeout       = 10 * time.Second
	DefaultCorruptUpdatePolicy   = string(documents.CorruptUpdateFail)
	DefaultOutboundBufferSize    = sessions.DefaultOutboundBufferSize

	DefaultMongoConnectionTimeout = 5 * time.Second
	DefaultMongoPingTimeout       = 5 * time.Second
	DefaultMongoDatabase          = "quince"

	DefaultS3Endpoint          = "s3.amazonaws.com"
	DefaultS3ConnectionTimeout = 5 * time.Second
)

// Config is the configuration for creating a Quince instance.
type Config struct {
	RPC          *rpc.Config          `yaml:"RPC"`
	Profiling    *profiling.Config    `yaml:"Profiling"`
	Housekeeping *housekeeping.Config `yaml:"Housekeeping"`
	Backend      *backend.Config      `yaml:"Backend"`
	Mongo        *mongo.Config        `yaml:"Mongo"`
	S3           *s3.Config           `yaml:"S3"`
}

// NewConfig returns a Config struct that contains reasonable defaults
// for most of the configurations.
func NewConfig() *Config {
	conf := &Config{}
	conf.ensureDefaultValue()
	return conf
}

// NewConfigFromFile returns a Config struct for the given conf file.
func NewConfigFromFile(path string) (*Config, error) {
	conf := &Config{}
	bytes, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err = yaml.Unmarshal(bytes, conf); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}

	conf.ensureDefaultValue()
	return conf, nil
}

// RPCAddr returns the RPC address.
func (c *Config) RPCAddr() string {
	return fmt.Sprintf("%s:%d", c.RPC.Host, c.RPC.Port)
}

// Validate returns an error if the provided Config is invalidated.
func (c *Config) Validate() error {
	if err := c.RPC.Validate(); err != nil {
		return err
	}

	if err := c.Profiling.Validate(); err != nil {
		return err
	}

	if err := c.Housekeeping.Validate(); err != nil {
		return err
	}

	if err := c.Backend.Validate(); err != nil {
		return err
	}

	// the store sections only matter for the store in use
	location := c.Backend.StoreLocation
	if strings.HasPrefix(location, "mongodb://") || strings.HasPrefix(location, "mongodb+srv://") {
		if err := c.Mongo.Validate(); err != nil {
			return err
		}
	}

	if strings.HasPrefix(location, "s3://") {
		if err := c.S3.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// ensureDefaultValue sets the value of the option to which the default value
// should be applied when the user does not input it.
func (c *Config) ensureDefaultValue() {
	if c.RPC == nil {
		c.RPC = &rpc.Config{}
	}
	if c.RPC.Host == "" {
		c.RPC.Host = DefaultRPCHost
	}
	if c.RPC.Port == 0 {
		c.RPC.Port = DefaultRPCPort
	}
	if c.RPC.MaxMessageBytes == 0 {
		c.RPC.MaxMessageBytes = DefaultRPCMaxMessageBytes
	}
	if c.RPC.WriteTimeout == "" {
		c.RPC.WriteTimeout = DefaultRPCWriteTimeout.String()
	}

	if c.Profiling == nil {
		c.Profiling = &profiling.Config{}
	}
	if c.Profiling.Host == "" {
		c.Profiling.Host = DefaultProfilingHost
	}
	if c.Profiling.Port == 0 {
		c.Profiling.Port = DefaultProfilingPort
	}

	if c.Housekeeping == nil {
		c.Housekeeping = &housekeeping.Config{}
	}
	if c.Housekeeping.Interval == "" {
		c.Housekeeping.Interval = DefaultHousekeepingInterval.String()
	}
	if c.Housekeeping.TaskTimeout == "" {
		c.Housekeeping.TaskTimeout = DefaultHousekeepingTimeout.String()
	}

	if c.Backend == nil {
		c.Backend = &backend.Config{}
	}
	if c.Backend.CheckpointInterval == "" {
		c.Backend.CheckpointInterval = DefaultCheckpointInterval.String()
	}
	if c.Backend.CheckpointConcurrency == 0 {
		c.Backend.CheckpointConcurrency = DefaultCheckpointConcurrency
	}
	if c.Backend.IdleEvictionThreshold == "" {
		c.Backend.IdleEvictionThreshold = DefaultIdleEvictionThreshold.String()
	}
	if c.Backend.AwarenessTimeout == "" {
		c.Backend.AwarenessTimeout = DefaultAwarenessTimeout.String()
	}
	if c.Backend.ShutdownTimeout == "" {
		c.Backend.ShutdownTimeout = DefaultShutdownTimeout.String()
	}
	if c.Backend.CorruptUpdatePolicy == "" {
		c.Backend.CorruptUpdatePolicy = DefaultCorruptUpdatePolicy
	}
	if c.Backend.OutboundBufferSize == 0 {
		c.Backend.OutboundBufferSize = DefaultOutboundBufferSize
	}

	if c.Mongo == nil {
		c.Mongo = &mongo.Config{}
	}
	if c.Mongo.ConnectionTimeout == "" {
		c.Mongo.ConnectionTimeout = DefaultMongoConnectionTimeout.String()
	}
	if c.Mongo.PingTimeout == "" {
		c.Mongo.PingTimeout = DefaultMongoPingTimeout.String()
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = DefaultMongoDatabase
	}

	if c.S3 == nil {
		c.S3 = &s3.Config{}
	}
	if c.S3.Endpoint == "" {
		c.S3.Endpoint = DefaultS3Endpoint
	}
	if c.S3.ConnectionTimeout == "" {
		c.S3.ConnectionTimeout = DefaultS3ConnectionTimeout.String()
	}
}
