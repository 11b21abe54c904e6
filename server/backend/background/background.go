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

// Package background tracks the goroutines the backend runs on its own, so
// that shutdown can wait for them to exit.
package background

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/quince-team/quince/server/logging"
	"github.com/quince-team/quince/server/profiling/prometheus"
)

type routineID int32

func (c *routineID) next() string {
	next := atomic.AddInt32((*int32)(c), 1)
	return "b" + strconv.Itoa(int(next))
}

// Background manages the background routines of the backend.
type Background struct {
	// closing is closed by Close. Routines watch it through their context.
	closing chan struct{}

	// wgMu blocks concurrent WaitGroup mutation while closing.
	wgMu sync.RWMutex
	wg   sync.WaitGroup

	routineID routineID

	metrics *prometheus.Metrics
}

// New creates a new background service.
func New(metrics *prometheus.Metrics) *Background {
	return &Background{
		closing: make(chan struct{}),
		metrics: metrics,
	}
}

// AttachGoroutine runs f in a tracked goroutine. The context given to f
// carries a routine logger and is cancelled when Close begins.
func (b *Background) AttachGoroutine(
	f func(ctx context.Context),
	taskType string,
) bool {
	b.wgMu.RLock() // this blocks with ongoing close(b.closing)
	defer b.wgMu.RUnlock()
	select {
	case <-b.closing:
		logging.DefaultLogger().Warnf("background closed; skipping %s", taskType)
		return false
	default:
	}

	// now safe to add since WaitGroup wait has not started yet
	b.wg.Add(1)
	routineLogger := logging.New(b.routineID.next())
	b.metrics.AddBackgroundGoroutines(taskType)

	ctx, cancel := context.WithCancel(logging.With(context.Background(), routineLogger))
	go func() {
		select {
		case <-b.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	go func() {
		defer func() {
			cancel()
			b.wg.Done()
			b.metrics.RemoveBackgroundGoroutines(taskType)
		}()
		f(ctx)
	}()

	return true
}

// Close cancels every routine and waits for them to exit.
func (b *Background) Close() {
	b.wgMu.Lock()
	select {
	case <-b.closing:
		b.wgMu.Unlock()
		return
	default:
	}
	close(b.closing)
	b.wgMu.Unlock()

	b.wg.Wait()
}
