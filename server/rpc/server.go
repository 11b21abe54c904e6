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

// Package rpc is the HTTP and websocket façade of the server.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"

	"github.com/quince-team/quince/server/backend"
	"github.com/quince-team/quince/server/logging"
)

// Server serves the document API and the websocket sessions.
type Server struct {
	conf       *Config
	backend    *backend.Backend
	router     *mux.Router
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates a new instance of Server.
func NewServer(conf *Config, be *backend.Backend) *Server {
	s := &Server{
		conf:    conf,
		backend: be,
		router:  mux.NewRouter(),
		upgrader: websocket.Upgrader{
			// tokens, not origins, decide access
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.router.Use(s.requestMiddleware)
	s.router.HandleFunc("/check", s.handleCheck).Methods(http.MethodGet)
	s.router.HandleFunc("/doc/new", s.handleNewDoc).Methods(http.MethodPost)
	s.router.HandleFunc("/doc/ws/{docId}", s.handleSession).Methods(http.MethodGet)
	s.router.HandleFunc("/doc/{docId}/auth", s.handleDocAuth).Methods(http.MethodPost)
	s.router.HandleFunc("/doc/{docId}/as-update", s.handleAsUpdate).Methods(http.MethodGet)
	s.router.HandleFunc("/doc/{docId}/update", s.handleUpdate).Methods(http.MethodPost)

	s.httpServer = &http.Server{Handler: s.router}
	return s
}

// Handler returns the root handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts this server by opening the rpc port.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", net.JoinHostPort(s.conf.Host, strconv.Itoa(s.conf.Port)))
	if err != nil {
		logging.DefaultLogger().Error(err)
		return err
	}
	if s.conf.MaxConnections > 0 {
		lis = netutil.LimitListener(lis, s.conf.MaxConnections)
	}

	go func() {
		logging.DefaultLogger().Infof("serving RPC on %s", lis.Addr())

		var err error
		if s.conf.UseTLS() {
			err = s.httpServer.ServeTLS(lis, s.conf.CertFile, s.conf.KeyFile)
		} else {
			err = s.httpServer.Serve(lis)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.DefaultLogger().Error(err)
		}
	}()

	return nil
}

// Shutdown shuts down this server. Hijacked websocket connections are not
// tracked by the HTTP server; they end when the backend closes the
// sessions.
func (s *Server) Shutdown(graceful bool) {
	if graceful {
		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			logging.DefaultLogger().Errorf("HTTP server shutdown: %v", err)
		}
		return
	}

	if err := s.httpServer.Close(); err != nil {
		logging.DefaultLogger().Errorf("HTTP server close: %v", err)
	}
}

// clientURL returns the websocket URL of the given document as seen by a
// client that reached the server through the given host.
func (s *Server) clientURL(host, docID string) string {
	scheme := "ws"
	if s.conf.UseHTTPS || s.conf.UseTLS() {
		scheme = "wss"
	}

	return fmt.Sprintf("%s://%s/doc/ws/%s", scheme, host, docID)
}
