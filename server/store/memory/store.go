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

// Package memory implements the store interface using an in-memory database.
// Contents are lost when the process exits; it is meant for tests and local
// development.
package memory

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-memdb"

	"github.com/quince-team/quince/server/store"
)

const tblEntries = "entries"

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblEntries: {
			Name: tblEntries,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
			},
		},
	},
}

// entry is a stored key-value pair. Values are copied on the way in and out
// because memdb hands out the stored object itself.
type entry struct {
	Key   string
	Value []byte
}

// Store is an in-memory store.
type Store struct {
	db *memdb.MemDB
}

// New returns a new in-memory store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the value of the given key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tblEntries, "id", key)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", key, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}

	return append([]byte(nil), raw.(*entry).Value...), nil
}

// Put stores the value under the given key.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(tblEntries, &entry{
		Key:   key,
		Value: append([]byte(nil), value...),
	}); err != nil {
		return fmt.Errorf("insert %s: %w", key, err)
	}

	txn.Commit()
	return nil
}

// List returns the keys with the given prefix in lexicographic order.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(tblEntries, "id_prefix", prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	var keys []string
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		keys = append(keys, raw.(*entry).Key)
	}

	return keys, nil
}

// Delete removes the given key.
func (s *Store) Delete(_ context.Context, key string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(tblEntries, "id", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	txn.Commit()
	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	return nil
}
