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

package rpc

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/quince-team/quince/server/auth"
	"github.com/quince-team/quince/server/documents"
	"github.com/quince-team/quince/server/logging"
	"github.com/quince-team/quince/server/sessions"
)

const (
	// pongWait is how long a connection may stay silent.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = pongWait * 9 / 10
)

// closeCodes maps the reasons a session ends to websocket close codes.
var closeCodes = map[sessions.CloseReason]int{
	sessions.ReasonClient:       websocket.CloseNormalClosure,
	sessions.ReasonShutdown:     websocket.CloseGoingAway,
	sessions.ReasonExpired:      websocket.ClosePolicyViolation,
	sessions.ReasonSlowConsumer: websocket.CloseTryAgainLater,
	sessions.ReasonProtocol:     websocket.CloseProtocolError,
	sessions.ReasonServerError:  websocket.CloseInternalServerErr,
}

// handleSession admits the session before upgrading, so refused clients get
// a plain HTTP error. Sessions only open on documents that exist.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]
	multiplexer := s.backend.Sessions

	// refused tokens learn nothing about which documents exist
	if err := s.authorize(r, docID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ensureExists(r, docID); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := multiplexer.Connect(r.Context(), tokenFrom(r), docID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		multiplexer.Disconnect(session, sessions.ReasonProtocol)
		return
	}

	logger := logging.From(r.Context())
	logger.Debugf("session %s opened for %s", session.ID(), docID)

	ctx, cancel := context.WithCancel(logging.With(context.Background(), logger))
	defer cancel()

	go s.writePump(conn, session)
	s.readPump(ctx, conn, session)

	logger.Debugf("session %s closed: %s", session.ID(), session.CloseReason())
}

// readPump submits the frames of the client until the connection or the
// session ends.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, session *sessions.Session) {
	multiplexer := s.backend.Sessions
	conn.SetReadLimit(s.conf.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var limiter *rate.Limiter
	if s.conf.MaxMessagesPerSecond > 0 {
		burst := int(s.conf.MaxMessagesPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.conf.MaxMessagesPerSecond), burst)
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			multiplexer.Disconnect(session, sessions.ReasonClient)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if messageType != websocket.BinaryMessage {
			multiplexer.Disconnect(session, sessions.ReasonProtocol)
			return
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		frame, err := sessions.DecodeFrame(data)
		if err != nil {
			multiplexer.Disconnect(session, sessions.ReasonProtocol)
			return
		}

		if err := multiplexer.Submit(ctx, session, frame); err != nil {
			switch {
			case errors.Is(err, sessions.ErrSessionNotActive), errors.Is(err, auth.ErrUnauthorized):
				// already closed
			case errors.Is(err, documents.ErrInvalidUpdate), errors.Is(err, sessions.ErrUnexpectedFrame):
				multiplexer.Disconnect(session, sessions.ReasonProtocol)
			default:
				logging.From(ctx).Errorf("session %s: %v", session.ID(), err)
				multiplexer.Disconnect(session, sessions.ReasonServerError)
			}
			return
		}
	}
}

// writePump delivers the outbound frames of the session and closes the
// connection once the session is closed, which also ends readPump.
func (s *Server) writePump(conn *websocket.Conn, session *sessions.Session) {
	writeTimeout := s.conf.ParseWriteTimeout()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame := <-session.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame.Encode()); err != nil {
				s.backend.Sessions.Disconnect(session, sessions.ReasonClient)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(
				websocket.PingMessage,
				nil,
				time.Now().Add(writeTimeout),
			); err != nil {
				s.backend.Sessions.Disconnect(session, sessions.ReasonClient)
				return
			}
		case <-session.Done():
			reason := session.CloseReason()
			code, ok := closeCodes[reason]
			if !ok {
				code = websocket.CloseNormalClosure
			}
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(code, string(reason)),
				time.Now().Add(writeTimeout),
			)
			return
		}
	}
}
