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

package rpc

import (
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	// ErrInvalidRPCPort occurs when the port in the config is invalid.
	ErrInvalidRPCPort = errors.New("invalid port number for RPC server")
	// ErrInvalidCertFile occurs when the certificate file is invalid.
	ErrInvalidCertFile = errors.New("invalid cert file for RPC server")
	// ErrInvalidKeyFile occurs when the key file is invalid.
	ErrInvalidKeyFile = errors.New("invalid key file for RPC server")
	// ErrInvalidLimit occurs when a connection or message limit is negative.
	ErrInvalidLimit = errors.New("invalid limit for RPC server")
	// ErrInvalidWriteTimeout occurs when the write timeout is invalid.
	ErrInvalidWriteTimeout = errors.New("invalid write timeout for RPC server")
)

// Config is the configuration for creating a Server instance.
type Config struct {
	// Host is the address the server listens on.
	Host string `yaml:"Host"`

	// Port is the port number for the RPC server.
	Port int `yaml:"Port"`

	// CertFile is the path to the certificate file.
	CertFile string `yaml:"CertFile"`

	// KeyFile is the path to the key file.
	KeyFile string `yaml:"KeyFile"`

	// UseHTTPS makes the URLs handed to clients use wss:// even when TLS is
	// terminated in front of the server.
	UseHTTPS bool `yaml:"UseHTTPS"`

	// MaxConnections bounds the number of open connections. 0 is unlimited.
	MaxConnections int `yaml:"MaxConnections"`

	// MaxMessageBytes bounds the size of a websocket message or an update
	// posted over HTTP.
	MaxMessageBytes int64 `yaml:"MaxMessageBytes"`

	// MaxMessagesPerSecond throttles the inbound frames of each session. 0 is
	// unlimited.
	MaxMessagesPerSecond float64 `yaml:"MaxMessagesPerSecond"`

	// WriteTimeout bounds a single websocket write.
	WriteTimeout string `yaml:"WriteTimeout"`
}

// Validate validates the port number and the files for certification.
func (c *Config) Validate() error {
	if c.Port < 1 || 65535 < c.Port {
		return fmt.Errorf("must be between 1 and 65535, given %d: %w", c.Port, ErrInvalidRPCPort)
	}

	// when specific cert or key file are configured
	if c.CertFile != "" {
		if _, err := os.Stat(c.CertFile); err != nil {
			return fmt.Errorf("%s: %w", c.CertFile, ErrInvalidCertFile)
		}
	}

	if c.KeyFile != "" {
		if _, err := os.Stat(c.KeyFile); err != nil {
			return fmt.Errorf("%s: %w", c.KeyFile, ErrInvalidKeyFile)
		}
	}

	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections %d: %w", c.MaxConnections, ErrInvalidLimit)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("max message bytes %d: %w", c.MaxMessageBytes, ErrInvalidLimit)
	}
	if c.MaxMessagesPerSecond < 0 {
		return fmt.Errorf("max messages per second %v: %w", c.MaxMessagesPerSecond, ErrInvalidLimit)
	}

	if d, err := time.ParseDuration(c.WriteTimeout); err != nil || d <= 0 {
		return fmt.Errorf("%s: %w", c.WriteTimeout, ErrInvalidWriteTimeout)
	}

	return nil
}

// ParseWriteTimeout returns the write timeout.
func (c *Config) ParseWriteTimeout() time.Duration {
	result, err := time.ParseDuration(c.WriteTimeout)
	if err != nil {
		return 0
	}

	return result
}

// UseTLS returns whether the server itself terminates TLS.
func (c *Config) UseTLS() bool {
	return c.CertFile != "" && c.KeyFile != ""
}
