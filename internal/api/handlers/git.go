// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wingedpig/rho/internal/gitops"
	"github.com/wingedpig/rho/internal/review"
)

// GitHandler serves git status/diff against the active repository and the
// git-initiated review creation endpoint. The repository is resolved per
// request from the git context file, so an agent switching projects is
// picked up without a restart.
type GitHandler struct {
	contextPath string
	fallbackDir string
	reviews     *review.Bus
	maxBytes    int
}

// NewGitHandler creates a new git handler. fallbackDir is used when the git
// context file is missing or names no cwd.
func NewGitHandler(contextPath, fallbackDir string, reviews *review.Bus, maxBytes int) *GitHandler {
	return &GitHandler{
		contextPath: contextPath,
		fallbackDir: fallbackDir,
		reviews:     reviews,
		maxBytes:    maxBytes,
	}
}

func (h *GitHandler) repo() *gitops.Repo {
	return gitops.NewRepo(gitops.ResolveDir(h.contextPath, h.fallbackDir))
}

// Status returns the working tree status of the active repository.
func (h *GitHandler) Status(w http.ResponseWriter, r *http.Request) {
	repo := h.repo()
	status, err := repo.Status(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "git status: "+err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// Diff returns the diff for one file: unstaged first, then staged, then a
// synthetic full-add for untracked files.
func (h *GitHandler) Diff(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("file")
	if file == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "file query parameter is required")
		return
	}

	repo := h.repo()
	diff, err := repo.Diff(r.Context(), file)
	if err != nil {
		if errors.Is(err, gitops.ErrBadPath) {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "git diff: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"file": file,
		"diff": diff,
	})
}

// fromGitRequest is the body of POST /api/review/from-git.
type fromGitRequest struct {
	Files   []string `json:"files"`
	Message string   `json:"message,omitempty"`
}

// FromGit snapshots the named repository files and opens a review session
// over them. Files that trip the path, size, or binary guards are skipped
// with a warning; if nothing survives, the request fails.
func (h *GitHandler) FromGit(w http.ResponseWriter, r *http.Request) {
	var req fromGitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Files) == 0 {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "files is required")
		return
	}

	repo := h.repo()
	files, warnings := review.SnapshotFiles(r.Context(), repo.Dir(), req.Files, h.maxBytes)
	if len(files) == 0 {
		WriteErrorWithDetails(w, http.StatusBadRequest, ErrBadRequest, "no reviewable files", map[string]interface{}{
			"warnings": warnings,
		})
		return
	}

	sess, err := h.reviews.Create(files, warnings, req.Message)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "create review: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, sess.Created())
}
