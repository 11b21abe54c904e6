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
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrMalformedUpdate is returned when update bytes cannot be decoded.
	ErrMalformedUpdate = errors.New("malformed update")
)

// Op is a single write carried by an update.
type Op struct {
	Key     string `bson:"k"`
	Value   string `bson:"v,omitempty"`
	Lamport int64  `bson:"l"`
	Actor   string `bson:"a"`
	Removed bool   `bson:"r,omitempty"`
}

// Ticket returns the ticket of this op.
func (o Op) Ticket() Ticket {
	return Ticket{Lamport: o.Lamport, Actor: o.Actor}
}

// Update is a batch of ops. Applying an update is idempotent and
// commutative with respect to every other update.
type Update struct {
	Ops []Op `bson:"ops"`
}

// Encode serializes the update.
func (u *Update) Encode() ([]byte, error) {
	data, err := bson.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}

	return data, nil
}

// DecodeUpdate parses and validates update bytes.
func DecodeUpdate(data []byte) (*Update, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload: %w", ErrMalformedUpdate)
	}

	u := &Update{}
	if err := bson.Unmarshal(data, u); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), ErrMalformedUpdate)
	}

	for i, op := range u.Ops {
		if op.Key == "" || op.Actor == "" || op.Lamport <= 0 {
			return nil, fmt.Errorf("op %d: %w", i, ErrMalformedUpdate)
		}
	}

	return u, nil
}
