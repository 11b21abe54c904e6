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
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/quince-team/quince/internal/validation"
	"github.com/quince-team/quince/pkg/errors"
	"github.com/quince-team/quince/server/logging"
)

var (
	// errDocumentNotFound is returned when a document has nothing stored.
	errDocumentNotFound = errors.NotFound("document not found").WithCode("ErrDocumentNotFound")

	// errInvalidBody is returned when a request body cannot be decoded.
	errInvalidBody = errors.InvalidArgument("invalid request body").WithCode("ErrInvalidBody")
)

// NewDocRequest is the body of POST /doc/new.
type NewDocRequest struct {
	DocID string `json:"docId,omitempty" validate:"omitempty,doc_id,max=256"`
}

// NewDocResponse is the response of POST /doc/new.
type NewDocResponse struct {
	DocID string `json:"docId"`
}

// DocAuthRequest is the body of POST /doc/{docId}/auth. Zero means a token
// that does not expire. The lifetime is capped at ten years, below the
// overflow of time.Duration.
type DocAuthRequest struct {
	ExpirationSeconds int64 `json:"expirationSeconds,omitempty" validate:"gte=0,lte=315360000"`
}

// DocAuthResponse is the response of POST /doc/{docId}/auth.
type DocAuthResponse struct {
	URL   string `json:"url"`
	DocID string `json:"docId"`
	Token string `json:"token,omitempty"`
}

// UpdateResponse is the response of POST /doc/{docId}/update.
type UpdateResponse struct {
	Seq int64 `json:"seq"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// tokenFrom reads the token of the request from the Authorization header or
// the token query parameter.
func tokenFrom(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}

	return r.URL.Query().Get("token")
}

func (s *Server) authorize(r *http.Request, docID string) error {
	_, err := s.backend.Sessions.Authorize(tokenFrom(r), docID)
	return err
}

// statusOf maps an error to the status of its response and the message the
// client is allowed to see.
func statusOf(err error) (int, string) {
	var violation validation.Violation
	var structErr *validation.StructError
	if errors.As(err, &violation) || errors.As(err, &structErr) {
		return http.StatusBadRequest, err.Error()
	}

	code := errors.StatusOf(err)
	switch code {
	case errors.ErrCodeUnauthenticated:
		// no detail on why a token was refused
		return code.HTTPStatus(), "unauthorized"
	case errors.ErrCodeUnavailable:
		return code.HTTPStatus(), "service unavailable"
	}

	if code.IsClientError() {
		return code.HTTPStatus(), err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusOf(err)
	if status >= http.StatusInternalServerError {
		logging.From(r.Context()).Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	}

	writeJSON(w, status, errorResponse{Error: message})
}

// decodeBody decodes an optional JSON body into v and validates it.
func (s *Server) decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.conf.MaxMessageBytes))
	if err != nil {
		return errInvalidBody
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, v); err != nil {
			return errInvalidBody
		}
	}

	return validation.ValidateStruct(v)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleNewDoc(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, ""); err != nil {
		writeError(w, r, err)
		return
	}

	req := &NewDocRequest{}
	if err := s.decodeBody(r, req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.DocID == "" {
		req.DocID = uuid.NewString()
	}

	if err := s.backend.Documents.Create(r.Context(), req.DocID); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, NewDocResponse{DocID: req.DocID})
}

func (s *Server) handleDocAuth(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]
	if err := s.authorize(r, ""); err != nil {
		writeError(w, r, err)
		return
	}

	req := &DocAuthRequest{}
	if err := s.decodeBody(r, req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.ensureExists(r, docID); err != nil {
		writeError(w, r, err)
		return
	}

	resp := DocAuthResponse{
		URL:   s.clientURL(r.Host, docID),
		DocID: docID,
	}
	if authenticator := s.backend.Authenticator; authenticator != nil {
		token, err := authenticator.DocumentToken(docID, time.Duration(req.ExpirationSeconds)*time.Second)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Token = token
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAsUpdate(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]
	if err := s.authorize(r, docID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ensureExists(r, docID); err != nil {
		writeError(w, r, err)
		return
	}

	handle, err := s.backend.Documents.Load(r.Context(), docID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer s.backend.Documents.Release(handle)

	state, err := handle.StateAsUpdate()
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(state)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docId"]
	if err := s.authorize(r, docID); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.ensureExists(r, docID); err != nil {
		writeError(w, r, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.conf.MaxMessageBytes))
	if err != nil {
		writeError(w, r, errInvalidBody)
		return
	}

	seq, err := s.backend.Sessions.ApplyUpdate(r.Context(), docID, body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UpdateResponse{Seq: seq})
}

func (s *Server) ensureExists(r *http.Request, docID string) error {
	if err := validation.ValidateDocID(docID); err != nil {
		return err
	}

	exists, err := s.backend.Documents.Exists(r.Context(), docID)
	if err != nil {
		return err
	}
	if !exists {
		return errDocumentNotFound
	}

	return nil
}
