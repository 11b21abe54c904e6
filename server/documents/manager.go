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

// Package documents is the persistence engine. It keeps at most one resident
// replica per document, appends every accepted update to the document's log
// before merging it, and periodically folds the log into a snapshot.
//
// A loaded document always equals its latest durable snapshot merged with
// every durable log record whose sequence is above the snapshot baseline.
package documents

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quince-team/quince/internal/validation"
	"github.com/quince-team/quince/pkg/cmap"
	"github.com/quince-team/quince/pkg/crdt"
	"github.com/quince-team/quince/pkg/errors"
	"github.com/quince-team/quince/pkg/locker"
	"github.com/quince-team/quince/server/logging"
	"github.com/quince-team/quince/server/profiling/prometheus"
	"github.com/quince-team/quince/server/store"
)

var (
	// ErrInvalidDocID is returned when the document ID is not acceptable.
	ErrInvalidDocID = errors.InvalidArgument("invalid document ID").WithCode("ErrInvalidDocID")

	// ErrInvalidUpdate is returned when update bytes cannot be decoded. Such
	// updates are never persisted.
	ErrInvalidUpdate = errors.InvalidArgument("invalid update").WithCode("ErrInvalidUpdate")

	// ErrDocumentCorrupted is returned when stored data of a document cannot
	// be decoded.
	ErrDocumentCorrupted = errors.Internal("document corrupted").WithCode("ErrDocumentCorrupted")

	// ErrDocumentUnavailable is returned when the store fails while loading.
	ErrDocumentUnavailable = errors.Unavailable("document unavailable").WithCode("ErrDocumentUnavailable")

	// ErrDocumentInUse is returned when evicting a document that is held.
	ErrDocumentInUse = errors.FailedPrecond("document in use").WithCode("ErrDocumentInUse")

	// ErrHandleReleased is returned when using a released handle.
	ErrHandleReleased = errors.FailedPrecond("handle released").WithCode("ErrHandleReleased")

	// ErrManagerClosed is returned when loading after Close.
	ErrManagerClosed = errors.Unavailable("document manager closed").WithCode("ErrManagerClosed")
)

// CorruptUpdatePolicy decides what loading does with an unreadable or
// missing update record.
type CorruptUpdatePolicy string

const (
	// CorruptUpdateFail fails the whole load.
	CorruptUpdateFail CorruptUpdatePolicy = "fail"

	// CorruptUpdateSkip skips the record and loads the rest. The next
	// checkpoint drops the record for good.
	CorruptUpdateSkip CorruptUpdatePolicy = "skip"
)

// DefaultCheckpointConcurrency is the number of documents checkpointed at
// once by CheckpointAll.
const DefaultCheckpointConcurrency = 8

// Options configures a Manager.
type Options struct {
	CorruptUpdatePolicy   CorruptUpdatePolicy
	CheckpointConcurrency int
}

// Manager owns every resident document of the process.
type Manager struct {
	store   store.Store
	options Options
	metrics *prometheus.Metrics

	docs *cmap.Map[string, *document]

	// loading single-flights reads and evictions per document.
	loading *locker.Locker
	closed  atomic.Bool
}

// New creates a Manager on the given store.
func New(st store.Store, options Options, metrics *prometheus.Metrics) *Manager {
	if options.CorruptUpdatePolicy == "" {
		options.CorruptUpdatePolicy = CorruptUpdateFail
	}
	if options.CheckpointConcurrency <= 0 {
		options.CheckpointConcurrency = DefaultCheckpointConcurrency
	}

	return &Manager{
		store:   st,
		options: options,
		metrics: metrics,
		docs:    cmap.New[string, *document](),
		loading: locker.New(),
	}
}

// Load returns a handle to the given document, reading it from the store if
// it is not resident. Every handle must be released with Release.
func (m *Manager) Load(ctx context.Context, docID string) (*Handle, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if err := validation.ValidateDocID(docID); err != nil {
		return nil, fmt.Errorf("%q: %w", docID, ErrInvalidDocID)
	}

	if doc, ok := m.docs.Get(docID); ok && doc.attach() {
		return &Handle{doc: doc}, nil
	}

	m.loading.Lock(docID)
	defer func() {
		_ = m.loading.Unlock(docID)
	}()

	// eviction holds the loading lock until the document leaves the map, so
	// a document found here is attachable
	if doc, ok := m.docs.Get(docID); ok && doc.attach() {
		return &Handle{doc: doc}, nil
	}

	doc, err := m.read(ctx, docID)
	if err != nil {
		m.metrics.AddDocumentLoad(prometheus.ResultFailure)
		return nil, err
	}

	doc.sessions = 1
	m.docs.Set(docID, doc)
	m.metrics.AddDocumentLoad(prometheus.ResultSuccess)
	m.metrics.SetResidentDocuments(m.docs.Len())

	return &Handle{doc: doc}, nil
}

// read rebuilds a document from its snapshot and the log records above the
// snapshot baseline.
func (m *Manager) read(ctx context.Context, docID string) (*document, error) {
	doc := newDocument(docID)

	data, err := m.store.Get(ctx, SnapshotKey(docID))
	switch {
	case err == nil:
		snap, err := decodeSnapshot(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", docID, ErrDocumentCorrupted, err)
		}
		if err := doc.crdt.ApplyUpdate(snap.State); err != nil {
			return nil, fmt.Errorf("%s: snapshot state: %w: %w", docID, ErrDocumentCorrupted, err)
		}
		doc.baseline = snap.Baseline
		doc.lastSeq = snap.Baseline
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("read snapshot of %s: %w: %w", docID, ErrDocumentUnavailable, err)
	}

	keys, err := m.store.List(ctx, UpdatePrefix(docID))
	if err != nil {
		return nil, fmt.Errorf("list updates of %s: %w: %w", docID, ErrDocumentUnavailable, err)
	}

	var seqs []int64
	for _, key := range keys {
		seq, err := parseUpdateSeq(docID, key)
		if err != nil {
			if err := m.corrupted(ctx, doc, err.Error()); err != nil {
				return nil, err
			}
			continue
		}
		// records at or below the baseline survived an interrupted compaction
		if seq > doc.baseline {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	for _, seq := range seqs {
		if seq != doc.lastSeq+1 {
			reason := fmt.Sprintf("updates %d to %d missing", doc.lastSeq+1, seq-1)
			if err := m.corrupted(ctx, doc, reason); err != nil {
				return nil, err
			}
		}

		data, err := m.store.Get(ctx, UpdateKey(docID, seq))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("read update %d of %s: %w: %w", seq, docID, ErrDocumentUnavailable, err)
		}
		if err == nil {
			err = doc.crdt.ApplyUpdate(data)
		}
		if err != nil {
			if err := m.corrupted(ctx, doc, fmt.Sprintf("update %d: %s", seq, err)); err != nil {
				return nil, err
			}
		}

		doc.lastSeq = seq
	}

	return doc, nil
}

// corrupted applies the corrupt update policy to a bad record.
func (m *Manager) corrupted(ctx context.Context, doc *document, reason string) error {
	if m.options.CorruptUpdatePolicy != CorruptUpdateSkip {
		return fmt.Errorf("%s: %s: %w", doc.id, reason, ErrDocumentCorrupted)
	}

	logging.From(ctx).Warnf("skip corrupted record of %s: %s", doc.id, reason)
	doc.dirty = true
	return nil
}

// ApplyUpdate validates the update, appends it to the log and merges it into
// the document, in that order. It returns the sequence of the new record.
// If the append fails, the document is left unchanged.
func (m *Manager) ApplyUpdate(ctx context.Context, h *Handle, data []byte) (int64, error) {
	if h.Released() {
		return 0, ErrHandleReleased
	}

	update, err := crdt.DecodeUpdate(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidUpdate, err)
	}

	doc := h.doc
	doc.mu.Lock()
	defer doc.mu.Unlock()

	seq := doc.lastSeq + 1
	if err := m.store.Put(ctx, UpdateKey(doc.id, seq), data); err != nil {
		return 0, fmt.Errorf("append update %d of %s: %w", seq, doc.id, err)
	}

	doc.crdt.Apply(update)
	doc.lastSeq = seq
	doc.dirty = true
	doc.lastActivity = time.Now()
	m.metrics.AddUpdateApplied(len(data))

	return seq, nil
}

// Checkpoint writes a snapshot of the document if it has unsaved updates.
func (m *Manager) Checkpoint(ctx context.Context, h *Handle) error {
	if h.Released() {
		return ErrHandleReleased
	}

	return m.checkpoint(ctx, h.doc)
}

// checkpoint copies the state under the document lock, writes it outside the
// lock, then drops the log records the snapshot covers. Updates merged while
// the snapshot is written keep the document dirty.
func (m *Manager) checkpoint(ctx context.Context, doc *document) error {
	doc.checkpointMu.Lock()
	defer doc.checkpointMu.Unlock()

	doc.mu.Lock()
	if !doc.dirty {
		doc.mu.Unlock()
		return nil
	}
	state, err := doc.crdt.EncodeStateAsUpdate()
	baseline := doc.lastSeq
	doc.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode state of %s: %w", doc.id, err)
	}

	start := time.Now()
	data, err := encodeSnapshot(&snapshot{
		Baseline:  baseline,
		State:     state,
		CreatedAt: start.UTC(),
	})
	if err != nil {
		return err
	}

	if err := m.store.Put(ctx, SnapshotKey(doc.id), data); err != nil {
		m.metrics.ObserveCheckpoint(prometheus.ResultFailure, time.Since(start).Seconds(), 0)
		return fmt.Errorf("write snapshot of %s: %w", doc.id, err)
	}

	// leftovers are harmless: loading skips records at or below the baseline
	if err := m.compact(ctx, doc.id, baseline); err != nil {
		logging.From(ctx).Warnf("compact %s up to %d: %v", doc.id, baseline, err)
	}

	doc.mu.Lock()
	doc.baseline = baseline
	if doc.lastSeq == baseline {
		doc.dirty = false
	}
	doc.mu.Unlock()

	m.metrics.ObserveCheckpoint(prometheus.ResultSuccess, time.Since(start).Seconds(), len(data))
	return nil
}

// compact deletes the log records at or below the baseline.
func (m *Manager) compact(ctx context.Context, docID string, baseline int64) error {
	keys, err := m.store.List(ctx, UpdatePrefix(docID))
	if err != nil {
		return err
	}

	for _, key := range keys {
		seq, err := parseUpdateSeq(docID, key)
		if err != nil || seq > baseline {
			continue
		}
		if err := m.store.Delete(ctx, key); err != nil {
			return err
		}
	}

	return nil
}

// CheckpointAll checkpoints every dirty resident document. A failing
// document does not stop the others; the first error is returned.
func (m *Manager) CheckpointAll(ctx context.Context) error {
	g := errgroup.Group{}
	g.SetLimit(m.options.CheckpointConcurrency)

	for _, doc := range m.docs.Values() {
		doc := doc
		g.Go(func() error {
			if err := m.checkpoint(ctx, doc); err != nil {
				logging.From(ctx).Warnf("checkpoint %s: %v", doc.id, err)
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// Release gives up the handle. Releasing twice is a no-op. Release never
// evicts; eviction is left to EvictIdle.
func (m *Manager) Release(h *Handle) {
	if !h.released.CompareAndSwap(false, true) {
		return
	}

	h.doc.detach()
}

// Evict checkpoints the given document and drops it from memory. It fails
// with ErrDocumentInUse while the document is held. A document that is not
// resident is left alone.
func (m *Manager) Evict(ctx context.Context, docID string) error {
	doc, ok := m.docs.Get(docID)
	if !ok {
		return nil
	}

	m.loading.Lock(docID)
	defer func() {
		_ = m.loading.Unlock(docID)
	}()

	return m.evict(ctx, doc, 0)
}

// EvictIdle evicts every document that nobody holds and that has been idle
// for at least threshold. Documents busy loading are skipped for this round.
// It returns the number of documents evicted.
func (m *Manager) EvictIdle(ctx context.Context, threshold time.Duration) (int, error) {
	evicted := 0
	for _, doc := range m.docs.Values() {
		if err := ctx.Err(); err != nil {
			return evicted, err
		}

		if !m.loading.TryLock(doc.id) {
			continue
		}

		err := m.evict(ctx, doc, threshold)
		_ = m.loading.Unlock(doc.id)

		switch {
		case err == nil:
			evicted++
		case errors.Is(err, ErrDocumentInUse), errors.Is(err, errNotIdle):
		default:
			logging.From(ctx).Warnf("evict %s: %v", doc.id, err)
		}
	}

	return evicted, nil
}

// evict runs with the loading lock of the document held.
func (m *Manager) evict(ctx context.Context, doc *document, threshold time.Duration) error {
	if cur, ok := m.docs.Get(doc.id); !ok || cur != doc {
		return errNotIdle
	}

	if err := doc.markEvicted(time.Now(), threshold); err != nil {
		return err
	}

	if err := m.checkpoint(ctx, doc); err != nil {
		doc.unmarkEvicted()
		m.metrics.AddDocumentEviction(prometheus.ResultFailure)
		return fmt.Errorf("final checkpoint of %s: %w", doc.id, err)
	}

	m.docs.Delete(doc.id, func(d *document, exists bool) bool {
		return d == doc
	})
	m.metrics.AddDocumentEviction(prometheus.ResultSuccess)
	m.metrics.SetResidentDocuments(m.docs.Len())

	return nil
}

// Create makes the document exist in the store if it does not yet. It is a
// no-op for an existing document.
func (m *Manager) Create(ctx context.Context, docID string) error {
	if err := validation.ValidateDocID(docID); err != nil {
		return fmt.Errorf("%q: %w", docID, ErrInvalidDocID)
	}

	// holding the loading lock keeps the document from becoming resident,
	// so no checkpoint can race with the initial snapshot
	m.loading.Lock(docID)
	defer func() {
		_ = m.loading.Unlock(docID)
	}()

	exists, err := m.Exists(ctx, docID)
	if err != nil || exists {
		return err
	}

	state, err := crdt.New(serverActor).EncodeStateAsUpdate()
	if err != nil {
		return err
	}
	data, err := encodeSnapshot(&snapshot{State: state, CreatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	if err := m.store.Put(ctx, SnapshotKey(docID), data); err != nil {
		return fmt.Errorf("create %s: %w", docID, err)
	}

	return nil
}

// Exists returns whether the document is resident or has anything stored.
func (m *Manager) Exists(ctx context.Context, docID string) (bool, error) {
	if m.docs.Has(docID) {
		return true, nil
	}

	_, err := m.store.Get(ctx, SnapshotKey(docID))
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("check %s: %w: %w", docID, ErrDocumentUnavailable, err)
	}

	keys, err := m.store.List(ctx, UpdatePrefix(docID))
	if err != nil {
		return false, fmt.Errorf("check %s: %w: %w", docID, ErrDocumentUnavailable, err)
	}

	return len(keys) > 0, nil
}

// Stats returns a view of the given resident document.
func (m *Manager) Stats(docID string) (Stats, bool) {
	doc, ok := m.docs.Get(docID)
	if !ok {
		return Stats{}, false
	}

	return doc.stats(), true
}

// Len returns the number of resident documents.
func (m *Manager) Len() int {
	return m.docs.Len()
}

// Close refuses new loads and checkpoints every dirty document. The caller
// bounds the time it may take through ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.closed.Store(true)

	if err := m.CheckpointAll(ctx); err != nil {
		return fmt.Errorf("flush documents: %w", err)
	}

	return nil
}
