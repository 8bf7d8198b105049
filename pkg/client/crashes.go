// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// CrashClient provides access to agent crash reports.
//
// The gateway writes a crash report whenever an agent child exits
// unexpectedly, capturing the exit reason and a stderr tail.
type CrashClient struct {
	c *Client
}

// CrashSummary is a crash report summary.
type CrashSummary struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// Crash is a full crash report.
type Crash struct {
	Version     string    `json:"version"`
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	SessionFile string    `json:"session_file"`
	PID         int       `json:"pid"`
	Timestamp   time.Time `json:"timestamp"`
	Reason      string    `json:"reason"`
	StderrTail  []string  `json:"stderr_tail,omitempty"`
}

// List returns all crash summaries, newest first.
func (c *CrashClient) List(ctx context.Context) ([]CrashSummary, error) {
	data, err := c.c.get(ctx, "/api/crashes")
	if err != nil {
		return nil, err
	}

	var summaries []CrashSummary
	if err := json.Unmarshal(data, &summaries); err != nil {
		return nil, fmt.Errorf("failed to parse crashes: %w", err)
	}

	return summaries, nil
}

// Get retrieves a specific crash by ID.
func (c *CrashClient) Get(ctx context.Context, id string) (*Crash, error) {
	data, err := c.c.get(ctx, "/api/crashes/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	var crash Crash
	if err := json.Unmarshal(data, &crash); err != nil {
		return nil, fmt.Errorf("failed to parse crash: %w", err)
	}

	return &crash, nil
}

// Newest returns the most recent crash, or nil when there are none.
func (c *CrashClient) Newest(ctx context.Context) (*Crash, error) {
	data, err := c.c.get(ctx, "/api/crashes/newest")
	if err != nil {
		return nil, err
	}

	// Handle null response
	if string(data) == "null" {
		return nil, nil
	}

	var crash Crash
	if err := json.Unmarshal(data, &crash); err != nil {
		return nil, fmt.Errorf("failed to parse crash: %w", err)
	}

	return &crash, nil
}

// Delete removes a crash by ID.
func (c *CrashClient) Delete(ctx context.Context, id string) error {
	_, err := c.c.delete(ctx, "/api/crashes/"+url.PathEscape(id))
	return err
}

// Clear removes all crashes.
func (c *CrashClient) Clear(ctx context.Context) error {
	_, err := c.c.delete(ctx, "/api/crashes")
	return err
}
