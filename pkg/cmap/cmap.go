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

// Package cmap provides a sharded concurrent map keyed by strings. Keys that
// fall into different shards never contend on the same lock.
package cmap

import (
	"hash/fnv"
	"sync"
)

const numShards = 32

type shard[V any] struct {
	sync.RWMutex
	items map[string]V
}

// Map is a concurrent map that is safe for multiple routines.
type Map[K ~string, V any] struct {
	shards [numShards]shard[V]
}

// New creates a new Map.
func New[K ~string, V any]() *Map[K, V] {
	m := &Map[K, V]{}
	for i := range m.shards {
		m.shards[i].items = make(map[string]V)
	}
	return m
}

func (m *Map[K, V]) shardFor(key K) *shard[V] {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(key))
	return &m.shards[hash.Sum32()%numShards]
}

// Set sets a key-value pair.
func (m *Map[K, V]) Set(key K, value V) {
	s := m.shardFor(key)
	s.Lock()
	defer s.Unlock()

	s.items[string(key)] = value
}

// UpsertFunc returns the value to store given the current one.
type UpsertFunc[V any] func(value V, exists bool) V

// Upsert inserts or updates a key-value pair while holding the shard lock.
// The function must not call back into the map.
func (m *Map[K, V]) Upsert(key K, upsertFunc UpsertFunc[V]) V {
	s := m.shardFor(key)
	s.Lock()
	defer s.Unlock()

	v, exists := s.items[string(key)]
	res := upsertFunc(v, exists)
	s.items[string(key)] = res
	return res
}

// Get retrieves a value from the map.
func (m *Map[K, V]) Get(key K) (V, bool) {
	s := m.shardFor(key)
	s.RLock()
	defer s.RUnlock()

	v, exists := s.items[string(key)]
	return v, exists
}

// DeleteFunc decides, under the shard lock, whether the entry is removed.
type DeleteFunc[V any] func(value V, exists bool) bool

// Delete removes the entry when deleteFunc agrees. It reports whether an
// entry was removed.
func (m *Map[K, V]) Delete(key K, deleteFunc DeleteFunc[V]) bool {
	s := m.shardFor(key)
	s.Lock()
	defer s.Unlock()

	v, exists := s.items[string(key)]
	if !exists || !deleteFunc(v, exists) {
		return false
	}

	delete(s.items, string(key))
	return true
}

// Has checks if a key exists in the map.
func (m *Map[K, V]) Has(key K) bool {
	_, exists := m.Get(key)
	return exists
}

// Len returns the number of items in the map.
func (m *Map[K, V]) Len() int {
	count := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.RLock()
		count += len(s.items)
		s.RUnlock()
	}
	return count
}

// Values returns a point-in-time copy of all values.
func (m *Map[K, V]) Values() []V {
	var values []V
	for i := range m.shards {
		s := &m.shards[i]
		s.RLock()
		for _, v := range s.items {
			values = append(values, v)
		}
		s.RUnlock()
	}
	return values
}
