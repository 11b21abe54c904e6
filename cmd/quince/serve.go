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

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quince-team/quince/server"
	"github.com/quince-team/quince/server/logging"
)

var (
	gracefulTimeout = 10 * time.Second
)

var (
	flagConfPath string
	flagLogLevel string

	checkpointFreqSeconds int
	housekeepingInterval  time.Duration
	idleEvictionThreshold time.Duration
	awarenessTimeout      time.Duration
	shutdownTimeout       time.Duration
	writeTimeout          time.Duration

	mongoConnectionTimeout time.Duration
	mongoPingTimeout       time.Duration
	s3ConnectionTimeout    time.Duration

	serveConf = server.NewConfig()
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve [store location]",
		Short: "Start Quince server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := serveConf
			conf.Backend.CheckpointInterval = (time.Duration(checkpointFreqSeconds) * time.Second).String()
			conf.Backend.IdleEvictionThreshold = idleEvictionThreshold.String()
			conf.Backend.AwarenessTimeout = awarenessTimeout.String()
			conf.Backend.ShutdownTimeout = shutdownTimeout.String()
			conf.RPC.WriteTimeout = writeTimeout.String()
			conf.Housekeeping.Interval = housekeepingInterval.String()
			conf.Mongo.ConnectionTimeout = mongoConnectionTimeout.String()
			conf.Mongo.PingTimeout = mongoPingTimeout.String()
			conf.S3.ConnectionTimeout = s3ConnectionTimeout.String()

			// If config file is given, command-line arguments will be overwritten.
			if flagConfPath != "" {
				parsed, err := server.NewConfigFromFile(flagConfPath)
				if err != nil {
					return err
				}
				conf = parsed
			}

			if len(args) == 1 {
				conf.Backend.StoreLocation = args[0]
			}

			if err := logging.SetLogLevel(flagLogLevel); err != nil {
				return err
			}

			q, err := server.New(conf)
			if err != nil {
				return err
			}

			if err := q.Start(); err != nil {
				return err
			}

			if code := handleSignal(q, conf.Backend.ParseShutdownTimeout()); code != 0 {
				return fmt.Errorf("exit code: %d", code)
			}

			return nil
		},
	}
}

// handleSignal waits for a signal and shuts the server down. flushTimeout
// is the time the documents get to flush on top of the graceful timeout.
func handleSignal(q *server.Quince, flushTimeout time.Duration) int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var sig os.Signal
	select {
	case s := <-sigCh:
		sig = s
	case <-q.ShutdownCh():
		// quince is already shutdown
		return 0
	}

	graceful := false
	if sig == syscall.SIGINT || sig == syscall.SIGTERM {
		graceful = true
	}

	gracefulCh := make(chan struct{})
	go func() {
		if err := q.Shutdown(graceful); err != nil {
			return
		}
		close(gracefulCh)
	}()

	timeout := gracefulTimeout + flushTimeout

	select {
	case <-sigCh:
		return 1
	case <-time.After(timeout):
		return 1
	case <-gracefulCh:
		return 0
	}
}

func init() {
	cmd := newServeCmd()
	cmd.Flags().StringVarP(
		&flagConfPath,
		"config",
		"c",
		"",
		"Config path",
	)
	cmd.Flags().StringVarP(
		&flagLogLevel,
		"log-level",
		"l",
		"info",
		"Log level: debug, info, warn, error, panic, fatal",
	)
	cmd.Flags().StringVar(
		&serveConf.RPC.Host,
		"host",
		server.DefaultRPCHost,
		"Address to listen on",
	)
	cmd.Flags().IntVarP(
		&serveConf.RPC.Port,
		"port",
		"p",
		server.DefaultRPCPort,
		"Port to listen on",
	)
	cmd.Flags().StringVar(
		&serveConf.RPC.CertFile,
		"cert-file",
		"",
		"Certification file's path for TLS",
	)
	cmd.Flags().StringVar(
		&serveConf.RPC.KeyFile,
		"key-file",
		"",
		"Key file's path for TLS",
	)
	cmd.Flags().BoolVar(
		&serveConf.RPC.UseHTTPS,
		"use-https",
		false,
		"Hand out https and wss URLs, e.g. behind a TLS terminating proxy",
	)
	cmd.Flags().IntVar(
		&serveConf.RPC.MaxConnections,
		"max-connections",
		0,
		"Maximum number of open connections, 0 for unlimited",
	)
	cmd.Flags().Int64Var(
		&serveConf.RPC.MaxMessageBytes,
		"max-message-bytes",
		server.DefaultRPCMaxMessageBytes,
		"Maximum size in bytes of a websocket message or a posted update",
	)
	cmd.Flags().Float64Var(
		&serveConf.RPC.MaxMessagesPerSecond,
		"max-messages-per-second",
		0,
		"Inbound frames allowed per second per session, 0 for unlimited",
	)
	cmd.Flags().DurationVar(
		&writeTimeout,
		"write-timeout",
		server.DefaultRPCWriteTimeout,
		"Timeout of a single websocket write",
	)
	cmd.Flags().StringVar(
		&serveConf.Backend.AuthKey,
		"auth",
		"",
		"Private key for signing and verifying tokens, see gen-auth",
	)
	cmd.Flags().BoolVar(
		&serveConf.Backend.NoAuth,
		"no-auth",
		false,
		"Admit every client without a token. Only use this for local development!",
	)
	cmd.Flags().IntVar(
		&checkpointFreqSeconds,
		"checkpoint-freq-seconds",
		int(server.DefaultCheckpointInterval/time.Second),
		"Seconds between checkpoints of changed documents",
	)
	cmd.Flags().IntVar(
		&serveConf.Backend.CheckpointConcurrency,
		"checkpoint-concurrency",
		server.DefaultCheckpointConcurrency,
		"Number of documents checkpointed at once",
	)
	cmd.Flags().DurationVar(
		&idleEvictionThreshold,
		"idle-eviction-threshold",
		server.DefaultIdleEvictionThreshold,
		"How long a document without sessions stays in memory",
	)
	cmd.Flags().DurationVar(
		&awarenessTimeout,
		"awareness-timeout",
		server.DefaultAwarenessTimeout,
		"How long an awareness state lives without being refreshed",
	)
	cmd.Flags().DurationVar(
		&shutdownTimeout,
		"shutdown-timeout",
		server.DefaultShutdownTimeout,
		"Deadline for flushing documents on shutdown",
	)
	cmd.Flags().StringVar(
		&serveConf.Backend.CorruptUpdatePolicy,
		"corrupt-update-policy",
		server.DefaultCorruptUpdatePolicy,
		"What to do with an update in the log that fails to decode: fail or skip",
	)
	cmd.Flags().IntVar(
		&serveConf.Backend.OutboundBufferSize,
		"outbound-buffer-size",
		server.DefaultOutboundBufferSize,
		"Frames queued per session before it is closed as a slow consumer",
	)
	cmd.Flags().DurationVar(
		&housekeepingInterval,
		"housekeeping-interval",
		server.DefaultHousekeepingInterval,
		"Interval between eviction and awareness sweeps",
	)
	cmd.Flags().StringVar(
		&serveConf.Profiling.Host,
		"profiling-host",
		server.DefaultProfilingHost,
		"Address the profiling server listens on",
	)
	cmd.Flags().IntVar(
		&serveConf.Profiling.Port,
		"profiling-port",
		server.DefaultProfilingPort,
		"Profiling port",
	)
	cmd.Flags().BoolVar(
		&serveConf.Profiling.EnablePprof,
		"enable-pprof",
		false,
		"Enable runtime profiling data via HTTP server.",
	)
	cmd.Flags().DurationVar(
		&mongoConnectionTimeout,
		"mongo-connection-timeout",
		server.DefaultMongoConnectionTimeout,
		"Mongo DB's connection timeout",
	)
	cmd.Flags().DurationVar(
		&mongoPingTimeout,
		"mongo-ping-timeout",
		server.DefaultMongoPingTimeout,
		"Mongo DB's ping timeout",
	)
	cmd.Flags().StringVar(
		&serveConf.Mongo.Database,
		"mongo-database",
		server.DefaultMongoDatabase,
		"Quince's database name in MongoDB",
	)
	cmd.Flags().StringVar(
		&serveConf.S3.Endpoint,
		"s3-endpoint",
		server.DefaultS3Endpoint,
		"Host of the S3 compatible service",
	)
	cmd.Flags().StringVar(
		&serveConf.S3.Region,
		"s3-region",
		"",
		"Region of the bucket, empty for auto-detection",
	)
	cmd.Flags().BoolVar(
		&serveConf.S3.Insecure,
		"s3-insecure",
		false,
		"Connect to the S3 endpoint without TLS",
	)
	cmd.Flags().DurationVar(
		&s3ConnectionTimeout,
		"s3-connection-timeout",
		server.DefaultS3ConnectionTimeout,
		"Timeout of the bucket check at startup",
	)

	rootCmd.AddCommand(cmd)
}
