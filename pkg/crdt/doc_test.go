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

package crdt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quince-team/quince/pkg/crdt"
)

func encode(t *testing.T, u *crdt.Update) []byte {
	data, err := u.Encode()
	require.NoError(t, err)
	return data
}

func state(t *testing.T, d *crdt.Doc) []byte {
	data, err := d.EncodeStateAsUpdate()
	require.NoError(t, err)
	return data
}

func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}

	var result [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			next := append([]int{}, p[:i]...)
			next = append(next, n-1)
			next = append(next, p[i:]...)
			result = append(result, next)
		}
	}
	return result
}

func TestDoc(t *testing.T) {
	t.Run("concurrent writes converge in any order test", func(t *testing.T) {
		a, b, c := crdt.New("a"), crdt.New("b"), crdt.New("c")
		updates := [][]byte{
			encode(t, a.Set("title", "from a")),
			encode(t, b.Set("title", "from b")),
			encode(t, c.Set("body", "hello")),
			encode(t, a.Delete("body")),
		}

		var expected []byte
		for _, order := range permutations(len(updates)) {
			d := crdt.New("server")
			for _, i := range order {
				assert.NoError(t, d.ApplyUpdate(updates[i]))
			}

			if expected == nil {
				expected = state(t, d)
				continue
			}
			assert.Equal(t, expected, state(t, d), "order %v", order)
		}

		d := crdt.New("server")
		require.NoError(t, d.ApplyUpdate(expected))
		title, ok := d.Get("title")
		assert.True(t, ok)
		assert.Equal(t, "from b", title)
	})

	t.Run("applying an update twice is a no-op test", func(t *testing.T) {
		a := crdt.New("a")
		u1 := encode(t, a.Set("k", "v1"))
		u2 := encode(t, a.Set("k", "v2"))

		d := crdt.New("server")
		assert.NoError(t, d.ApplyUpdate(u1))
		assert.NoError(t, d.ApplyUpdate(u2))
		once := state(t, d)

		assert.NoError(t, d.ApplyUpdate(u1))
		assert.NoError(t, d.ApplyUpdate(u2))
		assert.Equal(t, once, state(t, d))

		v, _ := d.Get("k")
		assert.Equal(t, "v2", v)
	})

	t.Run("state round-trips through an empty replica test", func(t *testing.T) {
		a := crdt.New("a")
		a.Set("x", "1")
		a.Set("y", "2")
		a.Delete("x")

		b := crdt.New("b")
		require.NoError(t, b.ApplyUpdate(state(t, a)))
		assert.Equal(t, state(t, a), state(t, b))
		assert.Equal(t, 1, b.Len())

		// a delete known only as a tombstone still beats an older write
		late := crdt.New("z")
		stale := encode(t, late.Set("x", "stale"))
		require.NoError(t, b.ApplyUpdate(stale))
		_, ok := b.Get("x")
		assert.False(t, ok)
	})

	t.Run("local writes after a merge win over merged writes test", func(t *testing.T) {
		a, b := crdt.New("a"), crdt.New("b")
		for i := 0; i < 5; i++ {
			a.Set("k", "a")
		}
		require.NoError(t, b.ApplyUpdate(state(t, a)))
		b.Set("k", "b")

		v, _ := b.Get("k")
		assert.Equal(t, "b", v)

		require.NoError(t, a.ApplyUpdate(state(t, b)))
		v, _ = a.Get("k")
		assert.Equal(t, "b", v)
	})

	t.Run("malformed update test", func(t *testing.T) {
		d := crdt.New("server")
		assert.ErrorIs(t, d.ApplyUpdate(nil), crdt.ErrMalformedUpdate)
		assert.ErrorIs(t, d.ApplyUpdate([]byte("garbage")), crdt.ErrMalformedUpdate)

		invalid := encode(t, &crdt.Update{Ops: []crdt.Op{{Key: "k", Lamport: 1}}})
		assert.ErrorIs(t, d.ApplyUpdate(invalid), crdt.ErrMalformedUpdate)
		assert.Equal(t, 0, d.Len())
	})

	t.Run("entries list live keys in order test", func(t *testing.T) {
		d := crdt.New("a")
		d.Set("b", "2")
		d.Set("a", "1")
		d.Set("c", "3")
		d.Delete("c")

		entries := d.Entries()
		require.Len(t, entries, 2)
		assert.Equal(t, "a", entries[0].Key)
		assert.Equal(t, "1", entries[0].Value)
		assert.Equal(t, "b", entries[1].Key)
	})
}
