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
	"sort"
	"sync"
	"time"
)

// awareness is the ephemeral state of one session.
type awareness struct {
	data      []byte
	updatedAt time.Time
}

// hub is the meeting point of the sessions of one document.
type hub struct {
	docID string

	// writeMu orders updates and joins, so every session sees the updates
	// after its sync frame in the order they were appended.
	writeMu sync.Mutex

	mu        sync.RWMutex
	sessions  map[string]*Session
	awareness map[string]awareness

	// refs counts the sessions and in-flight server updates using the hub.
	// A hub with no refs is closed and must not be used again.
	refs   int
	closed bool
}

func newHub(docID string) *hub {
	return &hub{
		docID:     docID,
		sessions:  make(map[string]*Session),
		awareness: make(map[string]awareness),
	}
}

// acquire takes a reference unless the hub is closed.
func (h *hub) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.refs++
	return true
}

func (h *hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.closed
}

// release drops a reference. It reports whether the hub closed.
func (h *hub) release() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.refs--
	if h.refs == 0 {
		h.closed = true
	}
	return h.closed
}

// broadcast queues the frame to every session but the excluded one. It
// returns the sessions whose queue was full.
func (h *hub) broadcast(f Frame, exclude string) (delivered int, slow []*Session) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, s := range h.sessions {
		if id == exclude {
			continue
		}
		if s.enqueue(f) {
			delivered++
		} else {
			slow = append(slow, s)
		}
	}

	return delivered, slow
}

// awarenessFrames returns the awareness states of the current sessions,
// ordered by session ID. The caller holds mu.
func (h *hub) awarenessFrames() []Frame {
	frames := make([]Frame, 0, len(h.awareness))
	for id, a := range h.awareness {
		frames = append(frames, Frame{Type: FrameAwareness, Origin: id, Payload: a.data})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Origin < frames[j].Origin })
	return frames
}

// sweepAwareness drops the awareness states not refreshed since the given
// time and returns their owners.
func (h *hub) sweepAwareness(before time.Time) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var expired []string
	for id, a := range h.awareness {
		if a.updatedAt.Before(before) {
			delete(h.awareness, id)
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	return expired
}

func (h *hub) snapshotSessions() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
