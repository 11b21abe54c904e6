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

package sessions

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/quince-team/quince/server/documents"
)

// State is the state of a session. A session only moves forward:
// Connecting, Authorized, Active and then Closed. Closed is terminal.
type State int32

const (
	// StateConnecting is the state before the token is verified.
	StateConnecting State = iota

	// StateAuthorized is the state after the token is verified and before
	// the session joins its document.
	StateAuthorized

	// StateActive is the state of a session that may submit frames.
	StateActive

	// StateClosed is the terminal state.
	StateClosed
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorized:
		return "authorized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason tells why a session was closed.
type CloseReason string

const (
	// ReasonClient is used when the client went away.
	ReasonClient CloseReason = "client"

	// ReasonShutdown is used when the server is shutting down.
	ReasonShutdown CloseReason = "shutdown"

	// ReasonExpired is used when the token of the session expired.
	ReasonExpired CloseReason = "expired"

	// ReasonSlowConsumer is used when the session did not drain its
	// outbound queue.
	ReasonSlowConsumer CloseReason = "slow consumer"

	// ReasonProtocol is used when the client sent something unacceptable.
	ReasonProtocol CloseReason = "protocol error"

	// ReasonServerError is used when the server could not persist an update.
	ReasonServerError CloseReason = "server error"
)

// Session is one client's attachment to a document. The transport drains
// Outbound until Done is closed.
type Session struct {
	id        string
	docID     string
	expiresAt time.Time

	state atomic.Int32

	// handle and hub are set before the session joins its hub and never
	// change afterwards.
	handle *documents.Handle
	hub    *hub

	outbound chan Frame
	done     chan struct{}

	mu     sync.Mutex
	reason CloseReason
	expiry *time.Timer
}

func newSession(docID string, bufferSize int) *Session {
	return &Session{
		id:       xid.New().String(),
		docID:    docID,
		outbound: make(chan Frame, bufferSize),
		done:     make(chan struct{}),
	}
}

// ID returns the ID of the session.
func (s *Session) ID() string {
	return s.id
}

// DocID returns the ID of the document the session is attached to.
func (s *Session) DocID() string {
	return s.docID
}

// State returns the current state of the session.
func (s *Session) State() State {
	return State(s.state.Load())
}

// ExpiresAt returns when the token of the session expires, or the zero time.
func (s *Session) ExpiresAt() time.Time {
	return s.expiresAt
}

// Outbound returns the frames to deliver to the client, in order.
func (s *Session) Outbound() <-chan Frame {
	return s.outbound
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// CloseReason returns why the session was closed. It is empty until Done
// is closed.
func (s *Session) CloseReason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reason
}

func (s *Session) advance(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *Session) expired(now time.Time) bool {
	return !s.expiresAt.IsZero() && !now.Before(s.expiresAt)
}

// enqueue queues the frame without blocking. It reports false when the
// queue is full.
func (s *Session) enqueue(f Frame) bool {
	select {
	case s.outbound <- f:
		return true
	default:
		return false
	}
}

// close moves the session to Closed. It reports whether this call did it.
func (s *Session) close(reason CloseReason) bool {
	if State(s.state.Swap(int32(StateClosed))) == StateClosed {
		return false
	}

	s.mu.Lock()
	s.reason = reason
	if s.expiry != nil {
		s.expiry.Stop()
	}
	s.mu.Unlock()

	close(s.done)
	return true
}

// watchExpiry arms a timer that fires at the token expiry.
func (s *Session) watchExpiry(fire func()) {
	if s.expiresAt.IsZero() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateClosed {
		return
	}
	s.expiry = time.AfterFunc(time.Until(s.expiresAt), fire)
}
