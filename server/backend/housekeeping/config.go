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

package housekeeping

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInterval is returned when an interval is not positive.
var ErrInvalidInterval = errors.New("invalid interval")

// Config is the configuration for the housekeeping service.
type Config struct {
	// Interval is the time between runs of the sweep tasks: idle eviction,
	// awareness expiry and store garbage collection.
	Interval string `yaml:"Interval"`

	// TaskTimeout bounds a single run of a task.
	TaskTimeout string `yaml:"TaskTimeout"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	interval, err := time.ParseDuration(c.Interval)
	if err != nil {
		return fmt.Errorf(
			`invalid argument %s for "--housekeeping-interval" flag: %w`,
			c.Interval,
			err,
		)
	}
	if interval <= 0 {
		return fmt.Errorf(
			`invalid argument %s for "--housekeeping-interval" flag: %w`,
			c.Interval,
			ErrInvalidInterval,
		)
	}

	timeout, err := time.ParseDuration(c.TaskTimeout)
	if err != nil {
		return fmt.Errorf(
			`invalid argument %s for "--housekeeping-task-timeout" flag: %w`,
			c.TaskTimeout,
			err,
		)
	}
	if timeout <= 0 {
		return fmt.Errorf(
			`invalid argument %s for "--housekeeping-task-timeout" flag: %w`,
			c.TaskTimeout,
			ErrInvalidInterval,
		)
	}

	return nil
}

// ParseInterval parses the interval.
func (c *Config) ParseInterval() (time.Duration, error) {
	interval, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 0, fmt.Errorf("parse interval %s: %w", c.Interval, err)
	}

	return interval, nil
}

// ParseTaskTimeout parses the task timeout.
func (c *Config) ParseTaskTimeout() (time.Duration, error) {
	timeout, err := time.ParseDuration(c.TaskTimeout)
	if err != nil {
		return 0, fmt.Errorf("parse task timeout %s: %w", c.TaskTimeout, err)
	}

	return timeout, nil
}
