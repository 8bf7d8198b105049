// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wingedpig/rho/internal/events"
	"github.com/wingedpig/rho/internal/session"
)

// SessionsHandler serves the session file endpoints.
type SessionsHandler struct {
	store  *session.Store
	events *events.Bus
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(store *session.Store, bus *events.Bus) *SessionsHandler {
	return &SessionsHandler{
		store:  store,
		events: bus,
	}
}

// List returns session summaries, newest first. The page's total lands in
// the X-Total-Count header.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := session.ListOptions{CWD: q.Get("cwd")}

	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "offset must be a non-negative integer")
			return
		}
		opts.Offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = n
	}

	result, err := h.store.List(opts)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "list sessions: "+err.Error())
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(result.Total))
	WriteJSON(w, http.StatusOK, result.Sessions)
}

// Get returns the parsed transcript of one session by header id.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	path, err := h.store.FindFileByID(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteError(w, http.StatusNotFound, ErrNotFound, "session not found: "+id)
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	parsed, err := h.store.Read(path)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "read session: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, parsed)
}

// forkRequest is the body of POST /api/sessions/{id}/fork.
type forkRequest struct {
	EntryID string `json:"entryId"`
}

// Fork copies the session's transcript through a fork point into a new file.
// Without an entryId the last fork point is used.
func (h *SessionsHandler) Fork(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var req forkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON: "+err.Error())
		return
	}

	path, err := h.store.FindFileByID(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteError(w, http.StatusNotFound, ErrNotFound, "session not found: "+id)
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	info, err := h.store.Fork(path, req.EntryID)
	if err != nil {
		if errors.Is(err, session.ErrBadForkPoint) {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "fork session: "+err.Error())
		return
	}

	h.events.Broadcast(events.SessionsChanged, nil)
	WriteJSON(w, http.StatusCreated, info)
}

// newRequest is the body of POST /api/sessions/new.
type newRequest struct {
	CWD string `json:"cwd"`
}

// New creates a header-only session file for the given cwd.
func (h *SessionsHandler) New(w http.ResponseWriter, r *http.Request) {
	var req newRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON: "+err.Error())
		return
	}

	info, err := h.store.WriteNew(req.CWD)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "create session: "+err.Error())
		return
	}

	h.events.Broadcast(events.SessionsChanged, nil)
	WriteJSON(w, http.StatusCreated, info)
}
