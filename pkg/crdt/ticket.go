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

package crdt

import (
	"strconv"
	"strings"
)

// Ticket is a Lamport timestamp paired with the actor that issued it. Tickets
// are totally ordered, which is what lets concurrent writes to the same key
// resolve identically on every replica.
type Ticket struct {
	Lamport int64
	Actor   string
}

// Compare returns an integer comparing two tickets. The result is 0 when
// t == other, -1 when t < other and +1 when t > other.
func (t Ticket) Compare(other Ticket) int {
	if t.Lamport > other.Lamport {
		return 1
	} else if t.Lamport < other.Lamport {
		return -1
	}

	return strings.Compare(t.Actor, other.Actor)
}

// After returns whether the given ticket was created later.
func (t Ticket) After(other Ticket) bool {
	return t.Compare(other) > 0
}

// String returns a string representation of this ticket for debugging.
func (t Ticket) String() string {
	return strconv.FormatInt(t.Lamport, 10) + ":" + t.Actor
}
