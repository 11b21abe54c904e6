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

package s3

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyEndpoint is returned when no endpoint is configured.
	ErrEmptyEndpoint = errors.New("empty S3 endpoint")
)

// Config is the configuration for connecting to an S3 compatible service.
// Credentials are read from the standard AWS environment variables.
type Config struct {
	// Endpoint is the host of the service, e.g. "s3.amazonaws.com".
	Endpoint string `yaml:"Endpoint"`

	// Region is the region of the bucket. Empty means auto-detection.
	Region string `yaml:"Region"`

	// Insecure disables TLS to the endpoint. Only for local development.
	Insecure bool `yaml:"Insecure"`

	// ConnectionTimeout bounds the startup bucket check.
	ConnectionTimeout string `yaml:"ConnectionTimeout"`
}

// Validate returns an error if the provided Config is invalidated.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrEmptyEndpoint
	}

	if _, err := time.ParseDuration(c.ConnectionTimeout); err != nil {
		return fmt.Errorf(
			`invalid argument "%s" for "--s3-connection-timeout" flag: %w`,
			c.ConnectionTimeout,
			err,
		)
	}

	return nil
}

// ParseConnectionTimeout returns connection timeout duration.
func (c *Config) ParseConnectionTimeout() time.Duration {
	result, err := time.ParseDuration(c.ConnectionTimeout)
	if err != nil {
		return 0
	}

	return result
}
