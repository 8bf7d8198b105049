// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package gitops

import (
	"encoding/json"
	"fmt"
	"os"
)

// Context mirrors the git-context.json file the agent maintains. It names
// the repository the operator is currently working in and the session files
// attached to it.
type Context struct {
	CWD          string   `json:"cwd"`
	UpdatedAt    string   `json:"updatedAt"`
	SessionFiles []string `json:"sessionFiles"`
}

// ReadContext loads and parses the git context file. A missing file is not
// an error; it returns (nil, nil).
func ReadContext(path string) (*Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var gc Context
	if err := json.Unmarshal(data, &gc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &gc, nil
}

// ResolveDir picks the repository directory for git endpoints: the cwd
// recorded in the git context file when present, else fallback.
func ResolveDir(contextPath, fallback string) string {
	gc, err := ReadContext(contextPath)
	if err == nil && gc != nil && gc.CWD != "" {
		return gc.CWD
	}
	return fallback
}
