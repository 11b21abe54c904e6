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

package memory_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quince-team/quince/server/store"
	"github.com/quince-team/quince/server/store/memory"
	"github.com/quince-team/quince/server/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.RunStoreTest(t, func(t *testing.T) store.Store {
		s, err := memory.New()
		require.NoError(t, err)
		return s
	})
}
