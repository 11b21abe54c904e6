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
	"sort"
)

// RHTNode is a node of RHT(Replicated Hashtable).
type RHTNode struct {
	key       string
	val       string
	updatedAt Ticket
	isRemoved bool
}

// Key returns the key of this node.
func (n *RHTNode) Key() string {
	return n.key
}

// Value returns the value of this node.
func (n *RHTNode) Value() string {
	return n.val
}

// UpdatedAt returns the last update time.
func (n *RHTNode) UpdatedAt() Ticket {
	return n.updatedAt
}

// IsRemoved returns whether this node is a tombstone.
func (n *RHTNode) IsRemoved() bool {
	return n.isRemoved
}

// wins returns whether a write with the given ticket and payload replaces
// this node. Equal tickets fall back to comparing payloads so that replicas
// agree even if an actor reused a ticket.
func (n *RHTNode) wins(ticket Ticket, val string, removed bool) bool {
	if c := ticket.Compare(n.updatedAt); c != 0 {
		return c > 0
	}
	if removed != n.isRemoved {
		return removed
	}
	return val > n.val
}

// RHT is a last-writer-wins hashtable with logical clock. Removed keys are
// kept as tombstones so that a late write older than the removal loses.
type RHT struct {
	nodeMapByKey           map[string]*RHTNode
	numberOfRemovedElement int
}

// NewRHT creates a new instance of RHT.
func NewRHT() *RHT {
	return &RHT{
		nodeMapByKey: make(map[string]*RHTNode),
	}
}

// Get returns the value of the given key.
func (rht *RHT) Get(key string) (string, bool) {
	node, ok := rht.nodeMapByKey[key]
	if !ok || node.isRemoved {
		return "", false
	}

	return node.val, true
}

// Apply merges a single write. It returns whether the write changed the
// table.
func (rht *RHT) Apply(key, val string, executedAt Ticket, removed bool) bool {
	node, ok := rht.nodeMapByKey[key]
	if ok && !node.wins(executedAt, val, removed) {
		return false
	}

	if ok && node.isRemoved {
		rht.numberOfRemovedElement--
	}
	if removed {
		rht.numberOfRemovedElement++
		val = ""
	}

	rht.nodeMapByKey[key] = &RHTNode{
		key:       key,
		val:       val,
		updatedAt: executedAt,
		isRemoved: removed,
	}
	return true
}

// Nodes returns every node including tombstones, ordered by key.
func (rht *RHT) Nodes() []*RHTNode {
	nodes := make([]*RHTNode, 0, len(rht.nodeMapByKey))
	for _, node := range rht.nodeMapByKey {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].key < nodes[j].key
	})

	return nodes
}

// Len returns the number of live elements.
func (rht *RHT) Len() int {
	return len(rht.nodeMapByKey) - rht.numberOfRemovedElement
}
