// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/wingedpig/rho/internal/brain"
)

// BrainHandler serves read-only views over the agent's brain store. The
// gateway never writes it.
type BrainHandler struct {
	path string
}

// NewBrainHandler creates a brain handler reading the log at path.
func NewBrainHandler(path string) *BrainHandler {
	return &BrainHandler{path: path}
}

// Entries returns the folded brain entries, optionally filtered by tag.
func (h *BrainHandler) Entries(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")

	var (
		entries []brain.Entry
		err     error
	)
	if tag != "" {
		entries, err = brain.ReadTag(h.path, tag)
	} else {
		entries, err = brain.Read(h.path)
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "read brain: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, brain.RawEntries(entries))
}

// Tasks returns the folded task and reminder entries.
func (h *BrainHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	entries, err := brain.ReadTasks(h.path)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "read brain: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, brain.RawEntries(entries))
}
