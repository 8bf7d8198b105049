// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Directories skipped while scanning for session files.
var skipDirs = map[string]bool{
	"subagent-artifacts": true,
	".git":               true,
	"node_modules":       true,
}

// SkipDir reports whether a directory inside the sessions tree is ignored by
// scanners and watchers.
func SkipDir(name string) bool {
	return skipDirs[name]
}

// ListOptions selects and pages a session listing.
type ListOptions struct {
	CWD    string // filter by header cwd, empty for all
	Offset int
	Limit  int // 0 means everything
}

// ListResult is a deterministic page of session summaries.
type ListResult struct {
	Total    int     `json:"total"`
	Sessions []*Info `json:"sessions"`
}

// List scans the sessions directory for session files, newest first by the
// timestamp encoded in the filename, and returns the requested page.
func (s *Store) List(opts ListOptions) (*ListResult, error) {
	candidates, err := s.scan()
	if err != nil {
		return nil, err
	}

	if opts.CWD != "" {
		filtered := candidates[:0]
		for _, path := range candidates {
			header, err := readHeader(path)
			if err != nil {
				continue
			}
			if header.CWD == opts.CWD {
				filtered = append(filtered, path)
			}
		}
		candidates = filtered
	}

	result := &ListResult{Total: len(candidates), Sessions: []*Info{}}

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(candidates) {
		start = len(candidates)
	}
	end := len(candidates)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}

	for _, path := range candidates[start:end] {
		info, err := s.Info(path)
		if err != nil {
			log.Printf("session: skipping unreadable file %s: %v", path, err)
			continue
		}
		result.Sessions = append(result.Sessions, info)
	}
	return result, nil
}

// scan walks the sessions root collecting session files, sorted descending
// by filename (the timestamp prefix is fixed width, so lexicographic order
// is chronological).
func (s *Store) scan() ([]string, error) {
	var paths []string

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == s.dir {
				return filepath.SkipAll
			}
			// Unreadable subtrees should not break the listing.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if IsSessionFilename(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(paths, func(i, j int) bool {
		return filepath.Base(paths[i]) > filepath.Base(paths[j])
	})
	return paths, nil
}

// FindFileByID locates the session file whose header id matches exactly,
// falling back to a filename substring match.
func (s *Store) FindFileByID(id string) (string, error) {
	if id == "" {
		return "", ErrNotFound
	}

	candidates, err := s.scan()
	if err != nil {
		return "", err
	}

	for _, path := range candidates {
		header, err := readHeader(path)
		if err != nil {
			continue
		}
		if header.ID == id {
			return path, nil
		}
	}

	// Fallback: the id may only survive in the filename when the header
	// line was lost or torn.
	for _, path := range candidates {
		if strings.Contains(filepath.Base(path), id) {
			return path, nil
		}
	}
	return "", ErrNotFound
}
