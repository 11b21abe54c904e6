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

package locker_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quince-team/quince/pkg/locker"
)

func TestLocker(t *testing.T) {
	t.Run("lock blocks the same name only test", func(t *testing.T) {
		l := locker.New()
		l.Lock("a")

		acquired := make(chan struct{})
		go func() {
			l.Lock("a")
			close(acquired)
		}()

		l.Lock("b")
		assert.NoError(t, l.Unlock("b"))

		select {
		case <-acquired:
			t.Fatal("lock acquired while held")
		case <-time.After(50 * time.Millisecond):
		}

		assert.NoError(t, l.Unlock("a"))
		<-acquired
		assert.NoError(t, l.Unlock("a"))
		assert.Equal(t, 0, l.Len())
	})

	t.Run("try lock test", func(t *testing.T) {
		l := locker.New()
		assert.True(t, l.TryLock("a"))
		assert.False(t, l.TryLock("a"))
		assert.NoError(t, l.Unlock("a"))
		assert.Equal(t, 0, l.Len())
	})

	t.Run("unlock without lock test", func(t *testing.T) {
		l := locker.New()
		assert.ErrorIs(t, l.Unlock("a"), locker.ErrNoSuchLock)
	})

	t.Run("mutual exclusion test", func(t *testing.T) {
		l := locker.New()
		counter := 0
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l.Lock("c")
				counter++
				assert.NoError(t, l.Unlock("c"))
			}()
		}
		wg.Wait()
		assert.Equal(t, 50, counter)
		assert.Equal(t, 0, l.Len())
	})
}
