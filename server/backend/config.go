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

package backend

import (
	"errors"
	"fmt"
	"time"

	"github.com/quince-team/quince/server/auth"
	"github.com/quince-team/quince/server/documents"
)

var (
	// ErrMissingAuthKey is returned when no auth key is given and no-auth
	// mode is not chosen.
	ErrMissingAuthKey = errors.New("auth key required unless no-auth mode is set")

	// ErrConflictingAuth is returned when an auth key is given in no-auth
	// mode.
	ErrConflictingAuth = errors.New("auth key given in no-auth mode")

	// ErrInvalidPolicy is returned for an unknown corrupt update policy.
	ErrInvalidPolicy = errors.New("invalid corrupt update policy")

	// ErrEmptyStoreLocation is returned when no store location is given.
	ErrEmptyStoreLocation = errors.New("empty store location")
)

// Config is the configuration for creating a Backend instance.
type Config struct {
	// StoreLocation selects the store backend, e.g. "memory://",
	// "file:///var/lib/quince" or "s3://bucket/prefix".
	StoreLocation string `yaml:"StoreLocation"`

	// AuthKey is the private key for signing and verifying tokens.
	AuthKey string `yaml:"AuthKey"`

	// NoAuth admits every client without a token.
	NoAuth bool `yaml:"NoAuth"`

	// CheckpointInterval is the time between checkpoints of dirty documents.
	CheckpointInterval string `yaml:"CheckpointInterval"`

	// CheckpointConcurrency is the number of documents checkpointed at once.
	CheckpointConcurrency int `yaml:"CheckpointConcurrency"`

	// IdleEvictionThreshold is how long a document without sessions stays in
	// memory.
	IdleEvictionThreshold string `yaml:"IdleEvictionThreshold"`

	// AwarenessTimeout is how long an awareness state lives without being
	// refreshed.
	AwarenessTimeout string `yaml:"AwarenessTimeout"`

	// ShutdownTimeout bounds the final checkpoint on shutdown.
	ShutdownTimeout string `yaml:"ShutdownTimeout"`

	// CorruptUpdatePolicy is "fail" or "skip".
	CorruptUpdatePolicy string `yaml:"CorruptUpdatePolicy"`

	// OutboundBufferSize is the capacity of each session's outbound queue.
	OutboundBufferSize int `yaml:"OutboundBufferSize"`
}

// Validate validates this config.
func (c *Config) Validate() error {
	if c.StoreLocation == "" {
		return ErrEmptyStoreLocation
	}

	if c.NoAuth && c.AuthKey != "" {
		return ErrConflictingAuth
	}
	if !c.NoAuth {
		if c.AuthKey == "" {
			return ErrMissingAuthKey
		}
		if _, err := auth.New(c.AuthKey); err != nil {
			return fmt.Errorf(`invalid argument for "--auth" flag: %w`, err)
		}
	}

	for _, d := range []struct {
		flag  string
		value string
	}{
		{"--checkpoint-interval", c.CheckpointInterval},
		{"--idle-eviction-threshold", c.IdleEvictionThreshold},
		{"--awareness-timeout", c.AwarenessTimeout},
		{"--shutdown-timeout", c.ShutdownTimeout},
	} {
		duration, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf(`invalid argument "%s" for "%s" flag: %w`, d.value, d.flag, err)
		}
		if duration <= 0 {
			return fmt.Errorf(`invalid argument "%s" for "%s" flag: must be positive`, d.value, d.flag)
		}
	}

	switch documents.CorruptUpdatePolicy(c.CorruptUpdatePolicy) {
	case documents.CorruptUpdateFail, documents.CorruptUpdateSkip:
	default:
		return fmt.Errorf(`invalid argument "%s" for "--corrupt-update-policy" flag: %w`,
			c.CorruptUpdatePolicy, ErrInvalidPolicy)
	}

	if c.CheckpointConcurrency <= 0 {
		return fmt.Errorf(`invalid argument %d for "--checkpoint-concurrency" flag`, c.CheckpointConcurrency)
	}
	if c.OutboundBufferSize <= 0 {
		return fmt.Errorf(`invalid argument %d for "--outbound-buffer-size" flag`, c.OutboundBufferSize)
	}

	return nil
}

// ParseCheckpointInterval returns the checkpoint interval.
func (c *Config) ParseCheckpointInterval() time.Duration {
	return mustParseDuration(c.CheckpointInterval)
}

// ParseIdleEvictionThreshold returns the idle eviction threshold.
func (c *Config) ParseIdleEvictionThreshold() time.Duration {
	return mustParseDuration(c.IdleEvictionThreshold)
}

// ParseAwarenessTimeout returns the awareness timeout.
func (c *Config) ParseAwarenessTimeout() time.Duration {
	return mustParseDuration(c.AwarenessTimeout)
}

// ParseShutdownTimeout returns the shutdown timeout.
func (c *Config) ParseShutdownTimeout() time.Duration {
	return mustParseDuration(c.ShutdownTimeout)
}

// mustParseDuration parses a duration already checked by Validate.
func mustParseDuration(value string) time.Duration {
	result, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}

	return result
}
