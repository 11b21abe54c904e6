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

// Package crdt provides the replicated document type that the server merges
// client updates into. A Doc is a last-writer-wins map keyed by string;
// updates carry Lamport-stamped writes, so merging any set of updates in any
// order, any number of times, yields the same state.
//
// Doc is not safe for concurrent use. The server serializes access per
// document.
package crdt

// Entry is a live key-value pair of a document.
type Entry struct {
	Key       string `json:"key" yaml:"key"`
	Value     string `json:"value" yaml:"value"`
	UpdatedAt string `json:"updatedAt" yaml:"updatedAt"`
}

// Doc is a replica of a collaborative document.
type Doc struct {
	actor   string
	lamport int64
	rht     *RHT
}

// New creates an empty replica owned by the given actor. The actor only
// matters for local writes made with Set and Delete.
func New(actor string) *Doc {
	return &Doc{
		actor: actor,
		rht:   NewRHT(),
	}
}

// ApplyUpdate decodes and merges the given update bytes.
func (d *Doc) ApplyUpdate(data []byte) error {
	u, err := DecodeUpdate(data)
	if err != nil {
		return err
	}

	d.Apply(u)
	return nil
}

// Apply merges an already decoded update.
func (d *Doc) Apply(u *Update) {
	for _, op := range u.Ops {
		d.rht.Apply(op.Key, op.Value, op.Ticket(), op.Removed)
		if op.Lamport > d.lamport {
			d.lamport = op.Lamport
		}
	}
}

// EncodeStateAsUpdate returns the whole state, tombstones included, as a
// single update. Applying it to an empty replica reproduces this replica.
func (d *Doc) EncodeStateAsUpdate() ([]byte, error) {
	nodes := d.rht.Nodes()
	u := &Update{Ops: make([]Op, 0, len(nodes))}
	for _, node := range nodes {
		u.Ops = append(u.Ops, Op{
			Key:     node.key,
			Value:   node.val,
			Lamport: node.updatedAt.Lamport,
			Actor:   node.updatedAt.Actor,
			Removed: node.isRemoved,
		})
	}

	return u.Encode()
}

// Set writes a value locally and returns the update to ship to peers.
func (d *Doc) Set(key, value string) *Update {
	return d.write(key, value, false)
}

// Delete removes a key locally and returns the update to ship to peers.
func (d *Doc) Delete(key string) *Update {
	return d.write(key, "", true)
}

func (d *Doc) write(key, value string, removed bool) *Update {
	d.lamport++
	op := Op{
		Key:     key,
		Value:   value,
		Lamport: d.lamport,
		Actor:   d.actor,
		Removed: removed,
	}
	d.rht.Apply(op.Key, op.Value, op.Ticket(), op.Removed)

	return &Update{Ops: []Op{op}}
}

// Get returns the live value of the given key.
func (d *Doc) Get(key string) (string, bool) {
	return d.rht.Get(key)
}

// Len returns the number of live keys.
func (d *Doc) Len() int {
	return d.rht.Len()
}

// Entries returns the live entries ordered by key.
func (d *Doc) Entries() []Entry {
	var entries []Entry
	for _, node := range d.rht.Nodes() {
		if node.isRemoved {
			continue
		}
		entries = append(entries, Entry{
			Key:       node.key,
			Value:     node.val,
			UpdatedAt: node.updatedAt.String(),
		})
	}

	return entries
}
