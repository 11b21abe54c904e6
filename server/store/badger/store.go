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

// Package badger implements the store interface on an embedded Badger
// database.
package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/quince-team/quince/server/logging"
	"github.com/quince-team/quince/server/store"
)

// gcDiscardRatio is the fraction of stale data a value log file needs
// before it is rewritten.
const gcDiscardRatio = 0.5

// Store is a store backed by a Badger database directory.
type Store struct {
	db *badger.DB
}

// Open opens or creates the database in the given directory.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty directory: %w", store.ErrInvalidLocation)
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = &badgerLogger{logger: logging.New("badger")}
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w: %w", dir, store.ErrInvalidLocation, err)
	}

	return &Store{db: db}, nil
}

// Get returns the value of the given key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return nil, store.Transient("get "+key, err)
	}

	return value, nil
}

// Put stores the value under the given key.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	}); err != nil {
		return store.Transient("put "+key, err)
	}

	return nil
}

// List returns the keys with the given prefix. Badger iterates keys in
// byte order, which is lexicographic order for our keys.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, store.Transient("list "+prefix, err)
	}

	return keys, nil
}

// Delete removes the given key.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	}); err != nil {
		return store.Transient("delete "+key, err)
	}

	return nil
}

// CollectGarbage rewrites value log files until no file is worth
// rewriting. Compaction deletes update records, so the log needs this to
// shrink.
func (s *Store) CollectGarbage(ctx context.Context) error {
	for ctx.Err() == nil {
		err := s.db.RunValueLogGC(gcDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("badger value log gc: %w", err)
		}
	}

	return ctx.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}

	return nil
}

// badgerLogger adapts the server logger to Badger's Logger interface.
type badgerLogger struct {
	logger logging.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}
