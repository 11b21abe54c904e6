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

// Package filesystem implements the store interface on a local directory.
// Each key is a file; '/' in keys maps to subdirectories.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quince-team/quince/server/store"
)

// tempPrefix marks files that are still being written.
const tempPrefix = ".tmp-"

var (
	// ErrInvalidKey is returned when a key would escape the root directory.
	ErrInvalidKey = errors.New("invalid key")
)

// Store is a store backed by a directory.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a store on it.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("empty directory: %w", store.ErrInvalidLocation)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w: %w", root, store.ErrInvalidLocation, err)
	}

	return &Store{root: root}, nil
}

func (s *Store) pathOf(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key {
		return "", fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." || strings.HasPrefix(segment, tempPrefix) {
			return "", fmt.Errorf("%q: %w", key, ErrInvalidKey)
		}
	}

	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Get returns the value of the given key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.pathOf(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Clean(p))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return nil, store.Transient("read "+key, err)
	}

	return data, nil
}

// Put writes the value to a temporary file and renames it over the target,
// so a crash leaves either the old or the new value.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	p, err := s.pathOf(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return store.Transient("mkdir "+key, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return store.Transient("create "+key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return store.Transient("write "+key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return store.Transient("sync "+key, err)
	}
	if err := tmp.Close(); err != nil {
		return store.Transient("close "+key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return store.Transient("rename "+key, err)
	}

	return nil
}

// List returns the keys with the given prefix in lexicographic order.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	// walk only the deepest directory the prefix fully names
	base := s.root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		base = filepath.Join(s.root, filepath.FromSlash(prefix[:i]))
	}

	var keys []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, store.Transient("list "+prefix, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes the given key.
func (s *Store) Delete(_ context.Context, key string) error {
	p, err := s.pathOf(key)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return store.Transient("delete "+key, err)
	}

	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	return nil
}
