// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wingedpig/rho/internal/crashes"
)

// CrashesHandler serves agent crash reports. These endpoints speak a bare
// {data}/{error} shape rather than the standard envelope; the pi tool's
// crash reader consumed them in that form before the envelope existed.
type CrashesHandler struct {
	journal *crashes.Journal
}

// NewCrashesHandler creates a new crashes handler. A nil journal is legal;
// reads return empty results and writes report not found.
func NewCrashesHandler(journal *crashes.Journal) *CrashesHandler {
	return &CrashesHandler{journal: journal}
}

// List returns crash summaries, newest first.
// GET /api/crashes
func (h *CrashesHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeCrashData(w, []interface{}{})
		return
	}

	summaries, err := h.journal.List()
	if err != nil {
		writeCrashError(w, http.StatusInternalServerError, "failed to list crashes: "+err.Error())
		return
	}
	writeCrashData(w, summaries)
}

// Get returns one full crash report.
// GET /api/crashes/{id}
func (h *CrashesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.journal == nil {
		writeCrashError(w, http.StatusNotFound, "crash not found: "+id)
		return
	}

	crash, err := h.journal.Get(id)
	if err != nil {
		writeCrashError(w, http.StatusNotFound, "crash not found: "+id)
		return
	}
	writeCrashData(w, crash)
}

// Newest returns the most recent crash report, or data null when the
// journal is empty.
// GET /api/crashes/newest
func (h *CrashesHandler) Newest(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeCrashData(w, nil)
		return
	}

	crash, err := h.journal.Newest()
	if err != nil {
		writeCrashError(w, http.StatusInternalServerError, "failed to read newest crash: "+err.Error())
		return
	}
	if crash == nil {
		writeCrashData(w, nil)
		return
	}
	writeCrashData(w, crash)
}

// Delete removes one crash report.
// DELETE /api/crashes/{id}
func (h *CrashesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.journal == nil {
		writeCrashError(w, http.StatusNotFound, "crash not found: "+id)
		return
	}

	if err := h.journal.Delete(id); err != nil {
		writeCrashError(w, http.StatusNotFound, "crash not found: "+id)
		return
	}
	writeCrashMessage(w, "crash deleted")
}

// Clear removes every crash report.
// DELETE /api/crashes
func (h *CrashesHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeCrashMessage(w, "no crashes to clear")
		return
	}

	if err := h.journal.Clear(); err != nil {
		writeCrashError(w, http.StatusInternalServerError, "failed to clear crashes: "+err.Error())
		return
	}
	writeCrashMessage(w, "all crashes cleared")
}

func writeCrashJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeCrashData(w http.ResponseWriter, v interface{}) {
	writeCrashJSON(w, http.StatusOK, map[string]interface{}{"data": v})
}

func writeCrashMessage(w http.ResponseWriter, msg string) {
	writeCrashJSON(w, http.StatusOK, map[string]interface{}{"message": msg})
}

func writeCrashError(w http.ResponseWriter, status int, msg string) {
	writeCrashJSON(w, status, map[string]interface{}{"error": msg})
}
