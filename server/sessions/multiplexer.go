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

// Package sessions is the connection multiplexer. It admits client sessions
// to documents, merges their updates one at a time per document and fans the
// updates out to the other sessions of the same document.
package sessions

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/quince-team/quince/pkg/cmap"
	"github.com/quince-team/quince/pkg/errors"
	"github.com/quince-team/quince/server/auth"
	"github.com/quince-team/quince/server/documents"
	"github.com/quince-team/quince/server/logging"
	"github.com/quince-team/quince/server/profiling/prometheus"
)

var (
	// ErrSessionNotActive is returned when a session that is not active
	// submits a frame.
	ErrSessionNotActive = errors.FailedPrecond("session not active").WithCode("ErrSessionNotActive")

	// ErrSessionClosed is returned when a session closes while connecting.
	ErrSessionClosed = errors.FailedPrecond("session closed").WithCode("ErrSessionClosed")

	// ErrUnexpectedFrame is returned when a client submits a frame type that
	// only the server sends.
	ErrUnexpectedFrame = errors.InvalidArgument("unexpected frame").WithCode("ErrUnexpectedFrame")

	// ErrMultiplexerClosed is returned when connecting after Close.
	ErrMultiplexerClosed = errors.Unavailable("multiplexer closed").WithCode("ErrMultiplexerClosed")
)

const (
	// DefaultOutboundBufferSize is the default capacity of a session's
	// outbound queue.
	DefaultOutboundBufferSize = 256

	directionInbound  = "in"
	directionOutbound = "out"
)

// Options configures a Multiplexer.
type Options struct {
	// OutboundBufferSize is the capacity of each session's outbound queue.
	// A session whose queue is full is closed as a slow consumer.
	OutboundBufferSize int

	// AwarenessTimeout is how long an awareness state lives without being
	// refreshed.
	AwarenessTimeout time.Duration
}

// Multiplexer owns every session of the process.
type Multiplexer struct {
	// authenticator is nil when running without auth.
	authenticator *auth.Authenticator
	documents     *documents.Manager
	metrics       *prometheus.Metrics
	options       Options

	hubs   *cmap.Map[string, *hub]
	closed atomic.Bool
}

// New creates a Multiplexer. A nil authenticator admits every token.
func New(
	authenticator *auth.Authenticator,
	manager *documents.Manager,
	metrics *prometheus.Metrics,
	options Options,
) *Multiplexer {
	if options.OutboundBufferSize <= 0 {
		options.OutboundBufferSize = DefaultOutboundBufferSize
	}

	return &Multiplexer{
		authenticator: authenticator,
		documents:     manager,
		metrics:       metrics,
		options:       options,
		hubs:          cmap.New[string, *hub](),
	}
}

// Authorize verifies the token for the given document, or for the server
// when docID is empty. It returns when the token expires, or the zero time.
func (m *Multiplexer) Authorize(token, docID string) (time.Time, error) {
	if m.authenticator == nil {
		return time.Time{}, nil
	}

	claims, err := m.authenticator.Verify(token, docID)
	if err != nil {
		return time.Time{}, err
	}

	return claims.ExpiresAt(), nil
}

// Connect admits a session to the given document. The first frame queued
// to the session is the document state, followed by the awareness states of
// the other sessions.
func (m *Multiplexer) Connect(ctx context.Context, token, docID string) (*Session, error) {
	if m.closed.Load() {
		return nil, ErrMultiplexerClosed
	}

	s := newSession(docID, m.options.OutboundBufferSize)

	expiresAt, err := m.Authorize(token, docID)
	if err != nil {
		return nil, err
	}
	s.expiresAt = expiresAt
	s.advance(StateConnecting, StateAuthorized)

	handle, err := m.documents.Load(ctx, docID)
	if err != nil {
		return nil, err
	}
	s.handle = handle

	h := m.acquireHub(docID)
	s.hub = h

	if err := m.join(h, s); err != nil {
		m.releaseHub(h)
		m.documents.Release(handle)
		s.close(ReasonShutdown)
		return nil, err
	}
	m.metrics.AddActiveSessions(1)

	if !s.advance(StateAuthorized, StateActive) {
		// closed by Close or as a slow consumer while joining
		return nil, ErrSessionClosed
	}
	s.watchExpiry(func() {
		m.Disconnect(s, ReasonExpired)
	})

	logging.From(ctx).Debugf("session %s joined %s", s.id, docID)
	return s, nil
}

// join adds the session to the hub and queues its initial frames. It runs
// under the write lock, so no update can slip between the state and the
// session becoming a broadcast target.
func (m *Multiplexer) join(h *hub, s *Session) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	state, err := s.handle.StateAsUpdate()
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if m.closed.Load() {
		return ErrMultiplexerClosed
	}

	frames := append([]Frame{{Type: FrameSync, Payload: state}}, h.awarenessFrames()...)
	for _, f := range frames {
		if !s.enqueue(f) {
			return fmt.Errorf("initial sync of %s: %w", s.id, ErrSessionClosed)
		}
		m.metrics.AddFrame(f.Type.String(), directionOutbound)
	}

	h.sessions[s.id] = s
	return nil
}

// acquireHub returns the hub of the document with a reference taken.
func (m *Multiplexer) acquireHub(docID string) *hub {
	for {
		h := m.hubs.Upsert(docID, func(h *hub, exists bool) *hub {
			if exists && !h.isClosed() {
				return h
			}
			return newHub(docID)
		})
		if h.acquire() {
			return h
		}
	}
}

// releaseHub drops a reference and unregisters the hub once unused.
func (m *Multiplexer) releaseHub(h *hub) {
	if !h.release() {
		return
	}

	m.hubs.Delete(h.docID, func(cur *hub, exists bool) bool {
		return exists && cur == h
	})
}

// Submit handles a frame sent by the client of the session.
func (m *Multiplexer) Submit(ctx context.Context, s *Session, f Frame) error {
	if s.State() != StateActive {
		return ErrSessionNotActive
	}
	if s.expired(time.Now()) {
		m.Disconnect(s, ReasonExpired)
		return auth.ErrUnauthorized
	}
	m.metrics.AddFrame(f.Type.String(), directionInbound)

	switch f.Type {
	case FrameUpdate:
		_, err := m.applyUpdate(ctx, s.hub, s.handle, f.Payload, s.id)
		return err
	case FrameAwareness:
		m.setAwareness(s, f.Payload)
		return nil
	default:
		return fmt.Errorf("%s from client: %w", f.Type, ErrUnexpectedFrame)
	}
}

// ApplyUpdate applies an update that did not come from a session, such as
// one posted over HTTP, and broadcasts it to every session of the document.
func (m *Multiplexer) ApplyUpdate(ctx context.Context, docID string, update []byte) (int64, error) {
	handle, err := m.documents.Load(ctx, docID)
	if err != nil {
		return 0, err
	}
	defer m.documents.Release(handle)

	h := m.acquireHub(docID)
	defer m.releaseHub(h)

	return m.applyUpdate(ctx, h, handle, update, "")
}

func (m *Multiplexer) applyUpdate(
	ctx context.Context,
	h *hub,
	handle *documents.Handle,
	update []byte,
	origin string,
) (int64, error) {
	h.writeMu.Lock()
	seq, err := m.documents.ApplyUpdate(ctx, handle, update)
	if err != nil {
		h.writeMu.Unlock()
		return 0, err
	}
	delivered, slow := h.broadcast(Frame{Type: FrameUpdate, Origin: origin, Payload: update}, origin)
	h.writeMu.Unlock()

	m.recordDelivery(FrameUpdate, delivered)
	m.closeSlow(slow)
	return seq, nil
}

func (m *Multiplexer) setAwareness(s *Session, data []byte) {
	h := s.hub

	h.mu.Lock()
	// Disconnect may have removed the session since Submit checked its state.
	if h.sessions[s.id] != s || s.State() != StateActive {
		h.mu.Unlock()
		return
	}
	h.awareness[s.id] = awareness{data: data, updatedAt: time.Now()}
	h.mu.Unlock()

	delivered, slow := h.broadcast(Frame{Type: FrameAwareness, Origin: s.id, Payload: data}, s.id)
	m.recordDelivery(FrameAwareness, delivered)
	m.closeSlow(slow)
}

func (m *Multiplexer) recordDelivery(t FrameType, delivered int) {
	for i := 0; i < delivered; i++ {
		m.metrics.AddFrame(t.String(), directionOutbound)
	}
}

func (m *Multiplexer) closeSlow(slow []*Session) {
	for _, s := range slow {
		if m.Disconnect(s, ReasonSlowConsumer) {
			m.metrics.AddSlowConsumerClosed()
			logging.DefaultLogger().Warnf("session %s of %s closed: %s", s.id, s.docID, ReasonSlowConsumer)
		}
	}
}

// Disconnect closes the session, removes it from its document and releases
// its handle. It reports whether this call closed the session.
func (m *Multiplexer) Disconnect(s *Session, reason CloseReason) bool {
	if !s.close(reason) {
		return false
	}

	h := s.hub
	h.mu.Lock()
	_, joined := h.sessions[s.id]
	delete(h.sessions, s.id)
	_, hadAwareness := h.awareness[s.id]
	delete(h.awareness, s.id)
	h.mu.Unlock()

	if !joined {
		// Connect failed before the session joined and cleans up itself
		return true
	}

	if hadAwareness {
		m.broadcastRemoval(h, []string{s.id})
	}

	m.releaseHub(h)
	m.documents.Release(s.handle)
	m.metrics.AddActiveSessions(-1)
	return true
}

func (m *Multiplexer) broadcastRemoval(h *hub, ids []string) {
	for _, id := range ids {
		delivered, slow := h.broadcast(Frame{Type: FrameAwarenessRemoved, Origin: id}, id)
		m.recordDelivery(FrameAwarenessRemoved, delivered)
		m.closeSlow(slow)
	}
}

// SweepAwareness drops the awareness states older than the awareness
// timeout and tells the other sessions. It returns the number dropped.
func (m *Multiplexer) SweepAwareness(ctx context.Context) (int, error) {
	if m.options.AwarenessTimeout <= 0 {
		return 0, nil
	}

	before := time.Now().Add(-m.options.AwarenessTimeout)
	count := 0
	for _, h := range m.hubs.Values() {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		expired := h.sweepAwareness(before)
		m.broadcastRemoval(h, expired)
		count += len(expired)
	}

	return count, nil
}

// Sessions returns the number of sessions attached to the document.
func (m *Multiplexer) Sessions(docID string) int {
	h, ok := m.hubs.Get(docID)
	if !ok {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close refuses new sessions and closes every session with the shutdown
// reason.
func (m *Multiplexer) Close() {
	m.closed.Store(true)

	for _, h := range m.hubs.Values() {
		for _, s := range h.snapshotSessions() {
			m.Disconnect(s, ReasonShutdown)
		}
	}
}
