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
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quince-team/quince/pkg/crdt"
	"github.com/quince-team/quince/server/auth"
	"github.com/quince-team/quince/server/documents"
	"github.com/quince-team/quince/server/profiling/prometheus"
	"github.com/quince-team/quince/server/sessions"
	"github.com/quince-team/quince/server/store/memory"
)

type testEnv struct {
	mux           *sessions.Multiplexer
	authenticator *auth.Authenticator
	documents     *documents.Manager
	serverToken   string
}

func newTestEnv(t *testing.T, options sessions.Options) *testEnv {
	metrics, err := prometheus.NewMetrics()
	require.NoError(t, err)
	st, err := memory.New()
	require.NoError(t, err)
	key, err := auth.GenerateKey()
	require.NoError(t, err)
	authenticator, err := auth.New(key)
	require.NoError(t, err)
	serverToken, err := authenticator.ServerToken()
	require.NoError(t, err)

	manager := documents.New(st, documents.Options{}, metrics)
	return &testEnv{
		mux:           sessions.New(authenticator, manager, metrics, options),
		authenticator: authenticator,
		documents:     manager,
		serverToken:   serverToken,
	}
}

func (e *testEnv) connect(t *testing.T, docID string) *sessions.Session {
	s, err := e.mux.Connect(context.Background(), e.serverToken, docID)
	require.NoError(t, err)
	assert.Equal(t, sessions.StateActive, s.State())
	return s
}

func recv(t *testing.T, s *sessions.Session) sessions.Frame {
	select {
	case f := <-s.Outbound():
		return f
	case <-time.After(time.Second):
		t.Fatalf("no frame for session %s", s.ID())
		return sessions.Frame{}
	}
}

func assertNoFrame(t *testing.T, s *sessions.Session) {
	select {
	case f := <-s.Outbound():
		t.Fatalf("unexpected %s frame for session %s", f.Type, s.ID())
	default:
	}
}

func updateFrame(t *testing.T, replica *crdt.Doc, key, value string) sessions.Frame {
	data, err := replica.Set(key, value).Encode()
	require.NoError(t, err)
	return sessions.Frame{Type: sessions.FrameUpdate, Payload: data}
}

func TestMultiplexer(t *testing.T) {
	ctx := context.Background()

	t.Run("sync then updates test", func(t *testing.T) {
		env := newTestEnv(t, sessions.Options{})
		alice := crdt.New("alice")

		a := env.connect(t, "doc")
		assert.Equal(t, sessions.FrameSync, recv(t, a).Type)

		require.NoError(t, env.mux.Submit(ctx, a, updateFrame(t, alice, "title", "hello")))
		assertNoFrame(t, a)

		// a late joiner gets the merged state in its sync frame
		b := env.connect(t, "doc")
		initial := recv(t, b)
		assert.Equal(t, sessions.FrameSync, initial.Type)
		replica := crdt.New("bob")
		require.NoError(t, replica.ApplyUpdate(initial.Payload))
		value, ok := replica.Get("title")
		assert.True(t, ok)
		assert.Equal(t, "hello", value)

		require.NoError(t, env.mux.Submit(ctx, a, updateFrame(t, alice, "title", "bye")))
		f := recv(t, b)
		assert.Equal(t, sessions.FrameUpdate, f.Type)
		assert.Equal(t, a.ID(), f.Origin)
		require.NoError(t, replica.ApplyUpdate(f.Payload))
		value, _ = replica.Get("title")
		assert.Equal(t, "bye", value)

		assert.Equal(t, 2, env.mux.Sessions("doc"))
		assert.True(t, env.mux.Disconnect(a, sessions.ReasonClient))
		assert.False(t, env.mux.Disconnect(a, sessions.ReasonClient))
		assert.Equal(t, sessions.ReasonClient, a.CloseReason())
		assert.Equal(t, sessions.StateClosed, a.State())
		assert.ErrorIs(t, env.mux.Submit(ctx, a, updateFrame(t, alice, "k", "v")), sessions.ErrSessionNotActive)
		assert.Equal(t, 1, env.mux.Sessions("doc"))
	})

	t.Run("token scoping test", func(t *testing.T) {
		env := newTestEnv(t, sessions.Options{})

		token, err := env.authenticator.DocumentToken("doc-1", 0)
		require.NoError(t, err)

		_, err = env.mux.Connect(ctx, token, "doc-2")
		assert.ErrorIs(t, err, auth.ErrUnauthorized)
		_, err = env.mux.Connect(ctx, "garbage", "doc-1")
		assert.ErrorIs(t, err, auth.ErrUnauthorized)
		assert.Equal(t, 0, env.documents.Len())

		s, err := env.mux.Connect(ctx, token, "doc-1")
		require.NoError(t, err)
		assert.True(t, s.ExpiresAt().IsZero())
	})

	t.Run("invalid update test", func(t *testing.T) {
		env := newTestEnv(t, sessions.Options{})
		a := env.connect(t, "doc")
		b := env.connect(t, "doc")
		recv(t, a)
		recv(t, b)

		err := env.mux.Submit(ctx, a, sessions.Frame{Type: sessions.FrameUpdate, Payload: []byte("junk")})
		assert.ErrorIs(t, err, documents.ErrInvalidUpdate)
		err = env.mux.Submit(ctx, a, sessions.Frame{Type: sessions.FrameSync})
		assert.ErrorIs(t, err, sessions.ErrUnexpectedFrame)
		assertNoFrame(t, b)
	})

	t.Run("concurrent sessions test", func(t *testing.T) {
		const numSessions, numUpdates = 4, 25
		env := newTestEnv(t, sessions.Options{})

		var all []*sessions.Session
		for i := 0; i < numSessions; i++ {
			s := env.connect(t, "doc")
			recv(t, s)
			all = append(all, s)
		}

		var wg sync.WaitGroup
		for i, s := range all {
			wg.Add(1)
			go func(i int, s *sessions.Session) {
				defer wg.Done()
				replica := crdt.New(fmt.Sprintf("actor-%d", i))
				for j := 0; j < numUpdates; j++ {
					data, err := replica.Set(fmt.Sprintf("k-%d-%d", i, j), "v").Encode()
					if !assert.NoError(t, err) {
						return
					}
					assert.NoError(t, env.mux.Submit(ctx, s, sessions.Frame{Type: sessions.FrameUpdate, Payload: data}))
				}
			}(i, s)
		}
		wg.Wait()

		// every session observes every update of the others exactly once
		for _, s := range all {
			replica := crdt.New("observer")
			for k := 0; k < (numSessions-1)*numUpdates; k++ {
				f := recv(t, s)
				assert.NotEqual(t, s.ID(), f.Origin)
				require.NoError(t, replica.ApplyUpdate(f.Payload))
			}
			assertNoFrame(t, s)
			assert.Equal(t, (numSessions-1)*numUpdates, replica.Len())
		}

		stats, ok := env.documents.Stats("doc")
		assert.True(t, ok)
		assert.Equal(t, int64(numSessions*numUpdates), stats.LastSeq)
	})

	t.Run("server update test", func(t *testing.T) {
		env := newTestEnv(t, sessions.Options{})
		a := env.connect(t, "doc")
		recv(t, a)

		data, err := crdt.New("http").Set("k", "v").Encode()
		require.NoError(t, err)
		seq, err := env.mux.ApplyUpdate(ctx, "doc", data)
		require.NoError(t, err)
		assert.Equal(t, int64(1), seq)

		f := recv(t, a)
		assert.Equal(t, sessions.FrameUpdate, f.Type)
		assert.Equal(t, "", f.Origin)
		assert.Equal(t, data, f.Payload)

		stats, _ := env.documents.Stats("doc")
		assert.Equal(t, 1, stats.Sessions)
	})

	t.Run("awareness test", func(t *testing.T) {
		env := newTestEnv(t, sessions.Options{AwarenessTimeout: time.Hour})
		a := env.connect(t, "doc")
		recv(t, a)

		require.NoError(t, env.mux.Submit(ctx, a, sessions.Frame{Type: sessions.FrameAwareness, Payload: []byte("a-cursor")}))

		b := env.connect(t, "doc")
		assert.Equal(t, sessions.FrameSync, recv(t, b).Type)
		f := recv(t, b)
		assert.Equal(t, sessions.FrameAwareness, f.Type)
		assert.Equal(t, a.ID(), f.Origin)
		assert.Equal(t, []byte("a-cursor"), f.Payload)

		count, err := env.mux.SweepAwareness(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		env.mux.Disconnect(a, sessions.ReasonClient)
		f = recv(t, b)
		assert.Equal(t, sessions.FrameAwarenessRemoved, f.Type)
		assert.Equal(t, a.ID(), f.Origin)
	})

	t.Run("awareness timeout test", func(t *testing.T) {
		env := newTestEnv(t, sessions.Options{AwarenessTimeout: time.Millisecond})
		a := env.connect(t, "doc")
		b := env.connect(t, "doc")
		recv(t, a)
		recv(t, b)

		require.NoError(t, env.mux.Submit(ctx, a, sessions.Frame{Type: sessions.FrameAwareness, Payload: []byte("x")}))
		recv(t, b)

		time.Sleep(5 * time.Millisecond)
		count, err := env.mux.SweepAwareness(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		f := recv(t, b)
		assert.Equal(t, sessions.FrameAwarenessRemoved, f.Type)
		assert.Equal(t, a.ID(), f.Origin)
	})

	t.Run("slow consumer test", func(t *testing.T) {
		env := newTestEnv(t, sessions.Options{OutboundBufferSize: 2})
		alice := crdt.New("alice")

		slow := env.connect(t, "doc")
		fast := env.connect(t, "doc")
		recv(t, fast)

		for i := 0; i < 3; i++ {
			require.NoError(t, env.mux.Submit(ctx, fast, updateFrame(t, alice, "k", fmt.Sprint(i))))
		}

		<-slow.Done()
		assert.Equal(t, sessions.ReasonSlowConsumer, slow.CloseReason())
		assert.Equal(t, 1, env.mux.Sessions("doc"))
		assert.Equal(t, sessions.StateActive, fast.State())
	})

	t.Run("token expiry test", func(t *testing.T) {
		env := newTestEnv(t, sessions.Options{})
		token, err := env.authenticator.DocumentToken("doc", 1500*time.Millisecond)
		require.NoError(t, err)

		s, err := env.mux.Connect(ctx, token, "doc")
		require.NoError(t, err)
		assert.False(t, s.ExpiresAt().IsZero())

		select {
		case <-s.Done():
		case <-time.After(3 * time.Second):
			t.Fatal("session outlived its token")
		}
		assert.Equal(t, sessions.ReasonExpired, s.CloseReason())

		stats, _ := env.documents.Stats("doc")
		assert.Equal(t, 0, stats.Sessions)
	})

	t.Run("close test", func(t *testing.T) {
		env := newTestEnv(t, sessions.Options{})
		a := env.connect(t, "doc-a")
		b := env.connect(t, "doc-b")

		env.mux.Close()
		<-a.Done()
		<-b.Done()
		assert.Equal(t, sessions.ReasonShutdown, a.CloseReason())
		assert.Equal(t, 0, env.mux.Sessions("doc-a"))

		_, err := env.mux.Connect(ctx, env.serverToken, "doc-a")
		assert.ErrorIs(t, err, sessions.ErrMultiplexerClosed)
	})

	t.Run("no auth test", func(t *testing.T) {
		metrics, err := prometheus.NewMetrics()
		require.NoError(t, err)
		st, err := memory.New()
		require.NoError(t, err)
		mux := sessions.New(nil, documents.New(st, documents.Options{}, metrics), metrics, sessions.Options{})

		s, err := mux.Connect(ctx, "", "doc")
		require.NoError(t, err)
		assert.Equal(t, sessions.StateActive, s.State())
	})
}
