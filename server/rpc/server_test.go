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

package rpc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quince-team/quince/pkg/crdt"
	"github.com/quince-team/quince/server/auth"
	"github.com/quince-team/quince/server/backend"
	"github.com/quince-team/quince/server/backend/housekeeping"
	"github.com/quince-team/quince/server/profiling/prometheus"
	"github.com/quince-team/quince/server/rpc"
	"github.com/quince-team/quince/server/sessions"
)

type testServer struct {
	*httptest.Server
	backend     *backend.Backend
	serverToken string
}

func newTestServer(t *testing.T) *testServer {
	key, err := auth.GenerateKey()
	require.NoError(t, err)
	metrics, err := prometheus.NewMetrics()
	require.NoError(t, err)

	be, err := backend.New(&backend.Config{
		StoreLocation:         "memory://",
		AuthKey:               key,
		CheckpointInterval:    "1h",
		CheckpointConcurrency: 4,
		IdleEvictionThreshold: "1h",
		AwarenessTimeout:      "1h",
		ShutdownTimeout:       "5s",
		CorruptUpdatePolicy:   "fail",
		OutboundBufferSize:    64,
	}, nil, nil, &housekeeping.Config{Interval: "1h", TaskTimeout: "1m"}, metrics)
	require.NoError(t, err)
	require.NoError(t, be.Start())

	serverToken, err := be.Authenticator.ServerToken()
	require.NoError(t, err)

	srv := rpc.NewServer(&rpc.Config{
		Host:            "127.0.0.1",
		Port:            8080,
		MaxMessageBytes: 1 << 20,
		WriteTimeout:    "5s",
	}, be)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		assert.NoError(t, be.Shutdown())
		ts.Close()
	})

	return &testServer{Server: ts, backend: be, serverToken: serverToken}
}

func (s *testServer) do(t *testing.T, method, path, token string, body []byte) *http.Response {
	req, err := http.NewRequest(method, s.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *testServer) dial(t *testing.T, docID, token string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/doc/ws/" + docID + "?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func readFrame(t *testing.T, conn *websocket.Conn) sessions.Frame {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, messageType)

	f, err := sessions.DecodeFrame(data)
	require.NoError(t, err)
	return f
}

func encodeSet(t *testing.T, actor, key, value string) []byte {
	data, err := crdt.New(actor).Set(key, value).Encode()
	require.NoError(t, err)
	return data
}

func TestServer(t *testing.T) {
	t.Run("check test", func(t *testing.T) {
		s := newTestServer(t)
		resp := s.do(t, http.MethodGet, "/check", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get(rpc.RequestIDHeader))

		body := map[string]bool{}
		decodeJSON(t, resp, &body)
		assert.True(t, body["ok"])
	})

	t.Run("new document test", func(t *testing.T) {
		s := newTestServer(t)

		resp := s.do(t, http.MethodPost, "/doc/new", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		errBody := map[string]string{}
		decodeJSON(t, resp, &errBody)
		assert.Equal(t, "unauthorized", errBody["error"])

		resp = s.do(t, http.MethodPost, "/doc/new", s.serverToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		created := rpc.NewDocResponse{}
		decodeJSON(t, resp, &created)
		assert.Len(t, created.DocID, 36)

		resp = s.do(t, http.MethodPost, "/doc/new", s.serverToken, []byte(`{"docId":"notes"}`))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		decodeJSON(t, resp, &created)
		assert.Equal(t, "notes", created.DocID)

		resp = s.do(t, http.MethodPost, "/doc/new", s.serverToken, []byte(`{"docId":"no/slash"}`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp = s.do(t, http.MethodPost, "/doc/new", s.serverToken, []byte(`{`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("document token test", func(t *testing.T) {
		s := newTestServer(t)

		resp := s.do(t, http.MethodPost, "/doc/missing/auth", s.serverToken, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		s.do(t, http.MethodPost, "/doc/new", s.serverToken, []byte(`{"docId":"notes"}`))
		s.do(t, http.MethodPost, "/doc/new", s.serverToken, []byte(`{"docId":"other"}`))

		resp = s.do(t, http.MethodPost, "/doc/notes/auth", s.serverToken, []byte(`{"expirationSeconds":60}`))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		grant := rpc.DocAuthResponse{}
		decodeJSON(t, resp, &grant)
		assert.Equal(t, "notes", grant.DocID)
		assert.Equal(t, "ws://"+strings.TrimPrefix(s.URL, "http://")+"/doc/ws/notes", grant.URL)
		claims, err := s.backend.Authenticator.Verify(grant.Token, "notes")
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(time.Minute), claims.ExpiresAt(), 5*time.Second)

		// a document token cannot mint tokens or reach other documents
		resp = s.do(t, http.MethodPost, "/doc/notes/auth", grant.Token, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp = s.do(t, http.MethodGet, "/doc/other/as-update", grant.Token, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp = s.do(t, http.MethodGet, "/doc/notes/as-update", grant.Token, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("token lifetime bound test", func(t *testing.T) {
		s := newTestServer(t)
		s.do(t, http.MethodPost, "/doc/new", s.serverToken, []byte(`{"docId":"notes"}`))

		resp := s.do(t, http.MethodPost, "/doc/notes/auth", s.serverToken, []byte(`{"expirationSeconds":10000000000}`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp = s.do(t, http.MethodPost, "/doc/notes/auth", s.serverToken, []byte(`{"expirationSeconds":-1}`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = s.do(t, http.MethodPost, "/doc/notes/auth", s.serverToken, []byte(`{"expirationSeconds":315360000}`))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		grant := rpc.DocAuthResponse{}
		decodeJSON(t, resp, &grant)
		claims, err := s.backend.Authenticator.Verify(grant.Token, "notes")
		require.NoError(t, err)
		assert.True(t, claims.ExpiresAt().After(time.Now().Add(9*365*24*time.Hour)))
	})

	t.Run("unknown document test", func(t *testing.T) {
		s := newTestServer(t)

		resp := s.do(t, http.MethodPost, "/doc/never-created/update", s.serverToken, encodeSet(t, "alice", "k", "v"))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp = s.do(t, http.MethodGet, "/doc/never-created/as-update", s.serverToken, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		url := "ws" + strings.TrimPrefix(s.URL, "http") + "/doc/ws/never-created?token=" + s.serverToken
		_, wsResp, err := websocket.DefaultDialer.Dial(url, nil)
		assert.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, wsResp)
		assert.Equal(t, http.StatusNotFound, wsResp.StatusCode)
		_ = wsResp.Body.Close()

		exists, err := s.backend.Documents.Exists(context.Background(), "never-created")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("update and read back test", func(t *testing.T) {
		s := newTestServer(t)
		s.do(t, http.MethodPost, "/doc/new", s.serverToken, []byte(`{"docId":"notes"}`))

		resp := s.do(t, http.MethodPost, "/doc/notes/update", s.serverToken, encodeSet(t, "alice", "title", "hi"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		applied := rpc.UpdateResponse{}
		decodeJSON(t, resp, &applied)
		assert.Equal(t, int64(1), applied.Seq)

		resp = s.do(t, http.MethodPost, "/doc/notes/update", s.serverToken, []byte("junk"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = s.do(t, http.MethodGet, "/doc/notes/as-update", s.serverToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		state, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		replica := crdt.New("bob")
		require.NoError(t, replica.ApplyUpdate(state))
		value, ok := replica.Get("title")
		assert.True(t, ok)
		assert.Equal(t, "hi", value)
	})

	t.Run("websocket session test", func(t *testing.T) {
		s := newTestServer(t)
		s.do(t, http.MethodPost, "/doc/new", s.serverToken, []byte(`{"docId":"notes"}`))
		token, err := s.backend.Authenticator.DocumentToken("notes", time.Minute)
		require.NoError(t, err)

		alice := s.dial(t, "notes", token)
		bob := s.dial(t, "notes", token)
		assert.Equal(t, sessions.FrameSync, readFrame(t, alice).Type)
		assert.Equal(t, sessions.FrameSync, readFrame(t, bob).Type)

		update := encodeSet(t, "alice", "k", "v")
		frame := sessions.Frame{Type: sessions.FrameUpdate, Payload: update}
		require.NoError(t, alice.WriteMessage(websocket.BinaryMessage, frame.Encode()))

		received := readFrame(t, bob)
		assert.Equal(t, sessions.FrameUpdate, received.Type)
		assert.NotEmpty(t, received.Origin)
		assert.Equal(t, update, received.Payload)

		// updates posted over HTTP reach every session
		posted := encodeSet(t, "http", "k2", "v2")
		s.do(t, http.MethodPost, "/doc/notes/update", s.serverToken, posted)
		assert.Equal(t, posted, readFrame(t, alice).Payload)
		assert.Equal(t, posted, readFrame(t, bob).Payload)
	})

	t.Run("websocket refused test", func(t *testing.T) {
		s := newTestServer(t)
		token, err := s.backend.Authenticator.DocumentToken("notes", 0)
		require.NoError(t, err)

		url := "ws" + strings.TrimPrefix(s.URL, "http") + "/doc/ws/other?token=" + token
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		assert.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("malformed frame closes the session test", func(t *testing.T) {
		s := newTestServer(t)
		s.do(t, http.MethodPost, "/doc/new", s.serverToken, []byte(`{"docId":"notes"}`))
		conn := s.dial(t, "notes", s.serverToken)
		readFrame(t, conn)

		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{42}))
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, _, err := conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseProtocolError), "%v", err)
	})
}
