// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// GitClient inspects the git repository the gateway runs in.
type GitClient struct {
	c *Client
}

// GitStatus summarizes the working tree.
type GitStatus struct {
	Branch    string   `json:"branch,omitempty"`
	Commit    string   `json:"commit,omitempty"`
	Detached  bool     `json:"detached,omitempty"`
	Clean     bool     `json:"clean"`
	Modified  []string `json:"modified,omitempty"`
	Added     []string `json:"added,omitempty"`
	Deleted   []string `json:"deleted,omitempty"`
	Renamed   []string `json:"renamed,omitempty"`
	Untracked []string `json:"untracked,omitempty"`
}

// GitDiff is the unified diff for a single file.
type GitDiff struct {
	File string `json:"file"`
	Diff string `json:"diff"`
}

// Status returns branch, commit and working-tree state.
func (g *GitClient) Status(ctx context.Context) (*GitStatus, error) {
	data, err := g.c.get(ctx, "/api/git/status")
	if err != nil {
		return nil, err
	}

	var status GitStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to parse git status: %w", err)
	}

	return &status, nil
}

// Diff returns the working-tree diff for file, relative to the repository
// root. Paths escaping the repository are rejected by the gateway.
func (g *GitClient) Diff(ctx context.Context, file string) (*GitDiff, error) {
	if file == "" {
		return nil, fmt.Errorf("file is required")
	}

	data, err := g.c.get(ctx, "/api/git/diff?file="+url.QueryEscape(file))
	if err != nil {
		return nil, err
	}

	var diff GitDiff
	if err := json.Unmarshal(data, &diff); err != nil {
		return nil, fmt.Errorf("failed to parse git diff: %w", err)
	}

	return &diff, nil
}
