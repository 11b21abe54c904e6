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

// Package housekeeping runs the periodic maintenance tasks of the backend,
// such as checkpointing dirty documents and evicting idle ones.
package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quince-team/quince/server/backend/background"
	"github.com/quince-team/quince/server/logging"
)

// ErrAlreadyStarted is returned when registering a task after Start.
var ErrAlreadyStarted = errors.New("housekeeping already started")

// Task is one run of a housekeeping task.
type Task func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	run      Task
}

// Housekeeping runs every registered task on its own interval until
// stopped.
type Housekeeping struct {
	background *background.Background

	interval    time.Duration
	taskTimeout time.Duration

	mu      sync.Mutex
	tasks   []task
	started bool

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a new housekeeping instance.
func New(conf *Config, bg *background.Background) (*Housekeeping, error) {
	interval, err := conf.ParseInterval()
	if err != nil {
		return nil, err
	}
	taskTimeout, err := conf.ParseTaskTimeout()
	if err != nil {
		return nil, err
	}

	ctx, cancelFunc := context.WithCancel(context.Background())

	return &Housekeeping{
		background:  bg,
		interval:    interval,
		taskTimeout: taskTimeout,
		ctx:         ctx,
		cancelFunc:  cancelFunc,
	}, nil
}

// RegisterTask registers a task that runs every interval. A zero interval
// uses the configured one.
func (h *Housekeeping) RegisterTask(name string, interval time.Duration, run Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("register %s: %w", name, ErrAlreadyStarted)
	}
	if interval < 0 {
		return fmt.Errorf("register %s: %w", name, ErrInvalidInterval)
	}
	if interval == 0 {
		interval = h.interval
	}

	h.tasks = append(h.tasks, task{name: name, interval: interval, run: run})
	return nil
}

// Start starts a loop per registered task.
func (h *Housekeeping) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return ErrAlreadyStarted
	}
	h.started = true

	for _, t := range h.tasks {
		t := t
		h.wg.Add(1)
		if !h.background.AttachGoroutine(func(ctx context.Context) {
			defer h.wg.Done()
			h.loop(ctx, t)
		}, "housekeeping-"+t.name) {
			h.wg.Done()
		}
	}

	return nil
}

// Stop cancels every task, including a run in progress, and waits for the
// loops to exit.
func (h *Housekeeping) Stop() error {
	h.cancelFunc()
	h.wg.Wait()

	return nil
}

func (h *Housekeeping) loop(ctx context.Context, t task) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}

		h.runOnce(ctx, t)
	}
}

func (h *Housekeeping) runOnce(ctx context.Context, t task) {
	ctx, cancel := context.WithTimeout(ctx, h.taskTimeout)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	start := time.Now()
	if err := t.run(ctx); err != nil {
		if errors.Is(err, context.Canceled) && h.ctx.Err() != nil {
			return
		}
		logging.From(ctx).Warnf("HSKP: %s: %v", t.name, err)
		return
	}

	logging.From(ctx).Debugf("HSKP: %s, %s", t.name, time.Since(start))
}
