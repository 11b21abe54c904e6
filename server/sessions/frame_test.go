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

package sessions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quince-team/quince/server/sessions"
)

func TestFrame(t *testing.T) {
	t.Run("encode and decode test", func(t *testing.T) {
		f := sessions.Frame{Type: sessions.FrameAwareness, Origin: "c5kq", Payload: []byte("cursor")}
		decoded, err := sessions.DecodeFrame(f.Encode())
		require.NoError(t, err)
		assert.Equal(t, f, decoded)

		// clients send frames without origin
		decoded, err = sessions.DecodeFrame([]byte{byte(sessions.FrameUpdate), 0, 'u'})
		require.NoError(t, err)
		assert.Equal(t, sessions.FrameUpdate, decoded.Type)
		assert.Equal(t, "", decoded.Origin)
		assert.Equal(t, []byte("u"), decoded.Payload)
	})

	t.Run("malformed frame test", func(t *testing.T) {
		for _, data := range [][]byte{
			nil,
			{byte(sessions.FrameUpdate)},
			{9, 0},
			{byte(sessions.FrameUpdate), 5, 'a'},
			{byte(sessions.FrameUpdate), 0x80},
		} {
			_, err := sessions.DecodeFrame(data)
			assert.ErrorIs(t, err, sessions.ErrMalformedFrame, "%v", data)
		}
	})

	t.Run("frame type names test", func(t *testing.T) {
		assert.Equal(t, "sync", sessions.FrameSync.String())
		assert.Equal(t, "awareness-removed", sessions.FrameAwarenessRemoved.String())
	})
}
