// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/wingedpig/rho/internal/review"
)

// ReviewHandler serves review creation, the review WebSocket, and the
// durable submission store passthroughs.
type ReviewHandler struct {
	bus      *review.Bus
	store    review.Store
	maxBytes int
}

// NewReviewHandler creates a new review handler.
func NewReviewHandler(bus *review.Bus, store review.Store, maxBytes int) *ReviewHandler {
	return &ReviewHandler{
		bus:      bus,
		store:    store,
		maxBytes: maxBytes,
	}
}

// wsSocket adapts a gorilla connection to the review socket interface with
// serialized, deadline-bounded writes.
type wsSocket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSocket) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(v)
}

func (s *wsSocket) Close() error {
	return s.conn.Close()
}

func (s *wsSocket) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// reviewClientFrame is a frame from a review UI socket.
type reviewClientFrame struct {
	Type     string           `json:"type"`
	Comments []review.Comment `json:"comments,omitempty"`
}

// createRequest is the body of POST /api/review: a tool-initiated review
// with pre-supplied snapshots.
type createRequest struct {
	Files   []review.FileSnapshot `json:"files"`
	Message string                `json:"message,omitempty"`
}

// Create opens a review session over snapshots supplied by the caller.
func (h *ReviewHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Files) == 0 {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "files is required")
		return
	}

	files, warnings := review.GuardSnapshots(req.Files, h.maxBytes)
	if len(files) == 0 {
		WriteErrorWithDetails(w, http.StatusBadRequest, ErrBadRequest, "no reviewable files", map[string]interface{}{
			"warnings": warnings,
		})
		return
	}

	sess, err := h.bus.Create(files, warnings, req.Message)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "create review: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, sess.Created())
}

// Sessions lists the live in-memory review sessions.
func (h *ReviewHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.bus.Snapshot())
}

// WebSocket attaches a tool or UI socket to a review session. UI sockets
// may send one terminal submit or cancel; everything after that is ignored.
// A disconnect never cancels the review.
func (h *ReviewHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	token := r.URL.Query().Get("token")
	role := r.URL.Query().Get("role")
	if role == "" {
		role = review.RoleUI
	}

	if _, ok := h.bus.Get(id); !ok {
		http.Error(w, "review not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sock := &wsSocket{conn: conn}
	if err := h.bus.Attach(id, token, role, sock); err != nil {
		// Wrong token or the session vanished: close without a frame.
		return
	}
	defer h.bus.Detach(id, sock)

	// Set up ping/pong
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(54 * time.Second)
	defer pingTicker.Stop()
	pingDone := make(chan struct{})
	defer close(pingDone)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if sock.ping() != nil {
					return
				}
			case <-pingDone:
				return
			}
		}
	}()

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if role != review.RoleUI {
			continue
		}

		var frame reviewClientFrame
		if err := json.Unmarshal(msgBytes, &frame); err != nil {
			sock.WriteJSON(map[string]string{"type": "error", "message": "invalid JSON frame"})
			continue
		}

		switch frame.Type {
		case "submit":
			if err := h.bus.Submit(id, frame.Comments); err != nil {
				if errors.Is(err, review.ErrInvalidInput) {
					sock.WriteJSON(map[string]string{"type": "error", "message": err.Error()})
				}
			}
		case "cancel":
			h.bus.Cancel(id)
		}
	}
}

// ListSubmissions returns durable review records, newest first.
func (h *ReviewHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := review.ListQuery{
		Status:    q.Get("status"),
		ClaimedBy: q.Get("claimedBy"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "limit must be a non-negative integer")
			return
		}
		query.Limit = n
	}

	records, err := h.store.List(query)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, records)
}

// GetSubmission returns one durable review record.
func (h *ReviewHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	record, err := h.store.Get(vars["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, record)
}

// claimRequest is the body of claim and resolve calls.
type claimRequest struct {
	By string `json:"by"`
}

// ClaimSubmission marks a submitted record as claimed by an agent.
func (h *ReviewHandler) ClaimSubmission(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := h.store.Claim(vars["id"], req.By); err != nil {
		writeStoreError(w, err)
		return
	}

	record, err := h.store.Get(vars["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, record)
}

// ResolveSubmission marks a submitted or claimed record as resolved.
func (h *ReviewHandler) ResolveSubmission(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := h.store.Resolve(vars["id"], req.By); err != nil {
		writeStoreError(w, err)
		return
	}

	record, err := h.store.Get(vars["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, record)
}

// writeStoreError maps the review store error kinds onto HTTP statuses.
// Anything unrecognized is a 500.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, review.ErrNotFound):
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
	case errors.Is(err, review.ErrConflict):
		WriteError(w, http.StatusConflict, ErrConflict, err.Error())
	case errors.Is(err, review.ErrInvalidState), errors.Is(err, review.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
	}
}
