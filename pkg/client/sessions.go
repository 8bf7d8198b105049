// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// SessionClient provides access to session file operations.
//
// Session files are append-only JSONL transcripts; each live agent child
// runs against exactly one. Listings are newest first by the timestamp
// encoded in the filename.
//
// Access this client through [Client.Sessions]:
//
//	sessions, err := client.Sessions.List(ctx, client.ListSessionsOptions{})
type SessionClient struct {
	c *Client
}

// Session is a lightweight session summary returned by listings.
type Session struct {
	Path          string `json:"path"`
	ID            string `json:"id"`
	CWD           string `json:"cwd,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	ParentSession string `json:"parentSession,omitempty"`
	Name          string `json:"name,omitempty"`
	FirstPrompt   string `json:"firstPrompt,omitempty"`
	MessageCount  int    `json:"messageCount"`
	LastMessage   string `json:"lastMessage,omitempty"`
}

// SessionHeader is the first line of a session file.
type SessionHeader struct {
	Type          string `json:"type"`
	ID            string `json:"id"`
	Version       int    `json:"version,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	CWD           string `json:"cwd,omitempty"`
	ParentSession string `json:"parentSession,omitempty"`
}

// SessionMessage is one materialized transcript message.
type SessionMessage struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Timestamp string          `json:"timestamp,omitempty"`
	Text      string          `json:"text,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Synthetic bool            `json:"synthetic,omitempty"`
}

// ForkPoint is a user message on the current transcript; the only valid
// target for a fork.
type ForkPoint struct {
	EntryID   string `json:"entryId"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

// SessionStats summarizes a parsed session.
type SessionStats struct {
	MessageCount int          `json:"messageCount"`
	Usage        SessionUsage `json:"usage"`
}

// SessionUsage aggregates token usage over a transcript.
type SessionUsage struct {
	Input      int64   `json:"input"`
	Output     int64   `json:"output"`
	CacheRead  int64   `json:"cacheRead"`
	CacheWrite int64   `json:"cacheWrite"`
	Total      int64   `json:"total"`
	Cost       float64 `json:"cost"`
}

// SessionDetail is a fully parsed session transcript.
type SessionDetail struct {
	Path       string           `json:"path"`
	Header     SessionHeader    `json:"header"`
	Messages   []SessionMessage `json:"messages"`
	ForkPoints []ForkPoint      `json:"forkPoints"`
	Stats      SessionStats     `json:"stats"`
	Name       string           `json:"name,omitempty"`
}

// ListSessionsOptions configures session listing.
type ListSessionsOptions struct {
	// CWD filters to sessions whose header cwd matches exactly.
	CWD string

	// Offset skips this many sessions from the newest end.
	Offset int

	// Limit caps the page size. Zero returns everything.
	Limit int
}

// List returns session summaries, newest first.
func (s *SessionClient) List(ctx context.Context, opts ListSessionsOptions) ([]Session, error) {
	path := "/api/sessions"

	params := url.Values{}
	if opts.CWD != "" {
		params.Set("cwd", opts.CWD)
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	data, err := s.c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("failed to parse sessions: %w", err)
	}

	return sessions, nil
}

// Get retrieves a fully parsed session transcript by id.
func (s *SessionClient) Get(ctx context.Context, id string) (*SessionDetail, error) {
	data, err := s.c.get(ctx, "/api/sessions/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	var detail SessionDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}

	return &detail, nil
}

// New creates a fresh session file for the given working directory and
// returns its summary.
func (s *SessionClient) New(ctx context.Context, cwd string) (*Session, error) {
	data, err := s.c.postJSON(ctx, "/api/sessions/new", map[string]string{"cwd": cwd})
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}

	return &sess, nil
}

// Fork copies a session up to the given fork point into a new session file.
// An empty entryID forks at the last fork point.
func (s *SessionClient) Fork(ctx context.Context, id, entryID string) (*Session, error) {
	body := map[string]string{}
	if entryID != "" {
		body["entryId"] = entryID
	}

	data, err := s.c.postJSON(ctx, "/api/sessions/"+url.PathEscape(id)+"/fork", body)
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}

	return &sess, nil
}
