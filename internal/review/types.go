// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package review implements the code-review bus: in-memory multi-socket
// review sessions with a single-shot terminal state, plus the durable
// submission store they persist into.
package review

import (
	"errors"
	"fmt"
	"time"
)

// Store error kinds. The HTTP layer maps these onto status codes; anything
// else surfaces as a 500.
var (
	ErrNotFound     = errors.New("review: not found")
	ErrConflict     = errors.New("review: conflict")
	ErrInvalidState = errors.New("review: invalid state")
	ErrInvalidInput = errors.New("review: invalid input")
)

// Record statuses. A record is created open, turns submitted or cancelled
// exactly once, and a submitted record may then be claimed and resolved.
const (
	StatusOpen      = "open"
	StatusSubmitted = "submitted"
	StatusCancelled = "cancelled"
	StatusClaimed   = "claimed"
	StatusResolved  = "resolved"
)

// FileSnapshot is one reviewed file, captured at review creation.
type FileSnapshot struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

// Comment is one line comment, as sent over the review WebSocket. Line
// numbers are 1-based and StartLine never exceeds EndLine.
type Comment struct {
	File         string `json:"file"`
	StartLine    int    `json:"startLine"`
	EndLine      int    `json:"endLine"`
	SelectedText string `json:"selectedText,omitempty"`
	Comment      string `json:"comment"`
}

// Result is the terminal outcome of a review session.
type Result struct {
	Cancelled bool      `json:"cancelled"`
	Comments  []Comment `json:"comments"`
}

// Record is a durable review submission.
type Record struct {
	ID         string         `json:"id"`
	Message    string         `json:"message,omitempty"`
	Files      []FileSnapshot `json:"files"`
	Warnings   []string       `json:"warnings,omitempty"`
	Status     string         `json:"status"`
	Comments   []Comment      `json:"comments,omitempty"`
	ClaimedBy  string         `json:"claimedBy,omitempty"`
	ResolvedBy string         `json:"resolvedBy,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// ListQuery filters List.
type ListQuery struct {
	Status    string
	ClaimedBy string
	Limit     int
}

// Store is the durable review record store.
type Store interface {
	Create(rec *Record) error
	Submit(id string, comments []Comment) error
	Cancel(id string) error
	Claim(id, by string) error
	Resolve(id, by string) error
	Get(id string) (*Record, error)
	List(q ListQuery) ([]*Record, error)
	Close() error
}

// ValidateComments rejects comments that name no file or carry an inverted
// or non-positive line range.
func ValidateComments(comments []Comment) error {
	for i, c := range comments {
		if c.File == "" {
			return fmt.Errorf("%w: comment %d has no file", ErrInvalidInput, i)
		}
		if c.StartLine < 1 {
			return fmt.Errorf("%w: comment %d startLine %d is not 1-based", ErrInvalidInput, i, c.StartLine)
		}
		if c.StartLine > c.EndLine {
			return fmt.Errorf("%w: comment %d startLine %d > endLine %d", ErrInvalidInput, i, c.StartLine, c.EndLine)
		}
	}
	return nil
}
