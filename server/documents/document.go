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

package documents

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/quince-team/quince/pkg/crdt"
	"github.com/quince-team/quince/pkg/errors"
)

// serverActor is the actor of the server replica. The server never writes
// on its own, so it never issues tickets with it.
const serverActor = "server"

// errNotIdle is returned when eviction finds recent activity.
var errNotIdle = errors.New("document not idle")

// document is a resident document. mu is the single-writer lock of the
// document: every field below it is guarded by mu.
type document struct {
	id string

	// checkpointMu serializes checkpoints of this document. It is always
	// taken before mu.
	checkpointMu sync.Mutex

	mu           sync.Mutex
	crdt         *crdt.Doc
	lastSeq      int64
	baseline     int64
	dirty        bool
	sessions     int
	lastActivity time.Time
	evicted      bool
}

func newDocument(id string) *document {
	return &document{
		id:           id,
		crdt:         crdt.New(serverActor),
		lastActivity: time.Now(),
	}
}

// attach registers a new holder. It fails once eviction has begun, in which
// case the caller must load the document again.
func (d *document) attach() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.evicted {
		return false
	}

	d.sessions++
	d.lastActivity = time.Now()
	return true
}

func (d *document) detach() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sessions--
	d.lastActivity = time.Now()
}

// markEvicted stops new holders from attaching if the document has none and
// has been idle for at least threshold.
func (d *document) markEvicted(now time.Time, threshold time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sessions > 0 {
		return ErrDocumentInUse
	}
	if now.Sub(d.lastActivity) < threshold {
		return errNotIdle
	}

	d.evicted = true
	return nil
}

func (d *document) unmarkEvicted() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evicted = false
}

// Stats is a point-in-time view of a resident document.
type Stats struct {
	Sessions     int
	LastSeq      int64
	Baseline     int64
	Dirty        bool
	LastActivity time.Time
}

func (d *document) stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Stats{
		Sessions:     d.sessions,
		LastSeq:      d.lastSeq,
		Baseline:     d.baseline,
		Dirty:        d.dirty,
		LastActivity: d.lastActivity,
	}
}

// Handle is a holder's reference to a resident document. It keeps the
// document from being evicted until it is released.
type Handle struct {
	doc      *document
	released atomic.Bool
}

// DocID returns the ID of the document.
func (h *Handle) DocID() string {
	return h.doc.id
}

// Released returns whether the handle has been released.
func (h *Handle) Released() bool {
	return h.released.Load()
}

// StateAsUpdate returns the current state encoded as a single update.
func (h *Handle) StateAsUpdate() ([]byte, error) {
	if h.Released() {
		return nil, ErrHandleReleased
	}

	h.doc.mu.Lock()
	defer h.doc.mu.Unlock()

	return h.doc.crdt.EncodeStateAsUpdate()
}

// Entries returns the live entries of the document.
func (h *Handle) Entries() ([]crdt.Entry, error) {
	if h.Released() {
		return nil, ErrHandleReleased
	}

	h.doc.mu.Lock()
	defer h.doc.mu.Unlock()

	return h.doc.crdt.Entries(), nil
}
