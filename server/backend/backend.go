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

// Package backend assembles the store, the document engine, the session
// multiplexer and the housekeeping tasks of a Quince server.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/quince-team/quince/server/auth"
	"github.com/quince-team/quince/server/backend/background"
	"github.com/quince-team/quince/server/backend/housekeeping"
	"github.com/quince-team/quince/server/documents"
	"github.com/quince-team/quince/server/logging"
	"github.com/quince-team/quince/server/profiling/prometheus"
	"github.com/quince-team/quince/server/sessions"
	"github.com/quince-team/quince/server/store"
	"github.com/quince-team/quince/server/store/mongo"
	"github.com/quince-team/quince/server/store/s3"
)

// garbageCollector is implemented by stores that reclaim space on demand.
type garbageCollector interface {
	CollectGarbage(ctx context.Context) error
}

// Backend manages the resources behind the server.
type Backend struct {
	Config *Config

	// Store is where documents are persisted.
	Store store.Store
	// Authenticator verifies tokens. It is nil in no-auth mode.
	Authenticator *auth.Authenticator
	// Documents owns the resident documents.
	Documents *documents.Manager
	// Sessions owns the client sessions.
	Sessions *sessions.Multiplexer

	// Background is used to manage background tasks.
	Background *background.Background
	// Housekeeping runs checkpoints and sweeps.
	Housekeeping *housekeeping.Housekeeping

	// Metrics is used to expose metrics.
	Metrics *prometheus.Metrics
}

// New creates a new instance of Backend.
func New(
	conf *Config,
	mongoConf *mongo.Config,
	s3Conf *s3.Config,
	housekeepingConf *housekeeping.Config,
	metrics *prometheus.Metrics,
) (*Backend, error) {
	// 01. Create the authenticator unless running without auth.
	var authenticator *auth.Authenticator
	if conf.NoAuth {
		logging.DefaultLogger().Warn("running without auth: every client can read and write every document")
	} else {
		a, err := auth.New(conf.AuthKey)
		if err != nil {
			return nil, err
		}
		authenticator = a
	}

	// 02. Open the store the location names.
	st, err := OpenStore(conf.StoreLocation, mongoConf, s3Conf)
	if err != nil {
		return nil, err
	}

	// 03. Create the document engine and the session multiplexer on it.
	manager := documents.New(st, documents.Options{
		CorruptUpdatePolicy:   documents.CorruptUpdatePolicy(conf.CorruptUpdatePolicy),
		CheckpointConcurrency: conf.CheckpointConcurrency,
	}, metrics)
	mux := sessions.New(authenticator, manager, metrics, sessions.Options{
		OutboundBufferSize: conf.OutboundBufferSize,
		AwarenessTimeout:   conf.ParseAwarenessTimeout(),
	})

	// 04. Create the housekeeping tasks.
	bg := background.New(metrics)
	housekeeper, err := housekeeping.New(housekeepingConf, bg)
	if err != nil {
		return nil, multierr.Append(err, st.Close())
	}
	if err := registerTasks(housekeeper, conf, st, manager, mux); err != nil {
		return nil, multierr.Append(err, st.Close())
	}

	logging.DefaultLogger().Infof("backend created: store: %s", conf.StoreLocation)

	return &Backend{
		Config: conf,

		Store:         st,
		Authenticator: authenticator,
		Documents:     manager,
		Sessions:      mux,

		Background:   bg,
		Housekeeping: housekeeper,

		Metrics: metrics,
	}, nil
}

func registerTasks(
	h *housekeeping.Housekeeping,
	conf *Config,
	st store.Store,
	manager *documents.Manager,
	mux *sessions.Multiplexer,
) error {
	if err := h.RegisterTask("checkpoint", conf.ParseCheckpointInterval(), manager.CheckpointAll); err != nil {
		return err
	}

	threshold := conf.ParseIdleEvictionThreshold()
	if err := h.RegisterTask("evict-idle", 0, func(ctx context.Context) error {
		evicted, err := manager.EvictIdle(ctx, threshold)
		if evicted > 0 {
			logging.From(ctx).Infof("HSKP: evicted %d idle documents, %d resident", evicted, manager.Len())
		}
		return err
	}); err != nil {
		return err
	}

	if err := h.RegisterTask("awareness", 0, func(ctx context.Context) error {
		_, err := mux.SweepAwareness(ctx)
		return err
	}); err != nil {
		return err
	}

	if gc, ok := st.(garbageCollector); ok {
		if err := h.RegisterTask("store-gc", 0, gc.CollectGarbage); err != nil {
			return err
		}
	}

	return nil
}

// Start starts the backend.
func (b *Backend) Start() error {
	if err := b.Housekeeping.Start(); err != nil {
		return err
	}

	logging.DefaultLogger().Infof("backend started")
	return nil
}

// Shutdown closes the sessions, stops housekeeping, checkpoints every dirty
// document within the shutdown timeout and closes the store.
func (b *Backend) Shutdown() error {
	b.Sessions.Close()

	err := b.Housekeeping.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), b.Config.ParseShutdownTimeout())
	defer cancel()
	if flushErr := b.Documents.Close(ctx); flushErr != nil {
		err = multierr.Append(err, fmt.Errorf("final checkpoint: %w", flushErr))
	}

	b.Background.Close()
	err = multierr.Append(err, b.Store.Close())

	if err != nil {
		return err
	}

	logging.DefaultLogger().Infof("backend stopped")
	return nil
}
