// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// sessionVersion is written into headers minted by this gateway.
const sessionVersion = 1

// WriteNew creates a header-only session file for cwd and returns its
// summary. The file lands under <root>/<slashified-cwd>/<ts>_<id>.jsonl.
func (s *Store) WriteNew(cwd string) (*Info, error) {
	if cwd == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve cwd: %w", err)
		}
	}

	dir := filepath.Join(s.dir, SlashifyCWD(cwd))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}

	now := time.Now()
	id := uuid.New().String()
	header := Header{
		Type:      EntryTypeHeader,
		ID:        id,
		Version:   sessionVersion,
		Timestamp: ISOTimestamp(now),
		CWD:       cwd,
	}

	path := filepath.Join(dir, FilenameTimestamp(now)+"_"+id+".jsonl")
	if err := writeHeaderFile(path, header); err != nil {
		return nil, err
	}

	return &Info{
		Path:      path,
		ID:        id,
		CWD:       cwd,
		Timestamp: header.Timestamp,
	}, nil
}

// Fork creates a new session file whose history is the source's transcript
// up to and including entryID. entryID must be a fork point of the source;
// when empty, the last fork point is used. The new header's parentSession is
// the source's id.
func (s *Store) Fork(srcPath, entryID string) (*Info, error) {
	parsed, err := s.Read(srcPath)
	if err != nil {
		return nil, err
	}

	if entryID == "" {
		if len(parsed.ForkPoints) == 0 {
			return nil, ErrBadForkPoint
		}
		entryID = parsed.ForkPoints[len(parsed.ForkPoints)-1].EntryID
	} else if !isForkPoint(parsed.ForkPoints, entryID) {
		return nil, fmt.Errorf("%w: %s", ErrBadForkPoint, entryID)
	}

	now := time.Now()
	id := uuid.New().String()
	header := Header{
		Type:          EntryTypeHeader,
		ID:            id,
		Version:       sessionVersion,
		Timestamp:     ISOTimestamp(now),
		CWD:           parsed.Header.CWD,
		ParentSession: parsed.Header.ID,
	}

	newPath := filepath.Join(filepath.Dir(srcPath), FilenameTimestamp(now)+"_"+id+".jsonl")
	if err := copyThroughEntry(srcPath, newPath, header, entryID); err != nil {
		return nil, err
	}

	return &Info{
		Path:          newPath,
		ID:            id,
		CWD:           header.CWD,
		Timestamp:     header.Timestamp,
		ParentSession: header.ParentSession,
	}, nil
}

// isForkPoint reports whether entryID is one of the session's fork points.
func isForkPoint(points []ForkPoint, entryID string) bool {
	for _, p := range points {
		if p.EntryID == entryID {
			return true
		}
	}
	return false
}

// writeHeaderFile writes a fresh session file containing only the header.
func writeHeaderFile(path string, header Header) error {
	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// copyThroughEntry writes header plus every source entry line up to and
// including the line whose id is entryID, verbatim. Writes go to a temp file
// renamed into place so a crash never leaves a torn fork.
func copyThroughEntry(srcPath, dstPath string, header Header, entryID string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source session: %w", err)
	}
	defer src.Close()

	headerData, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}

	tmpPath := dstPath + ".tmp"
	dst, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create fork file: %w", err)
	}

	fail := func(err error) error {
		dst.Close()
		os.Remove(tmpPath)
		return err
	}

	if _, err := dst.Write(append(headerData, '\n')); err != nil {
		return fail(fmt.Errorf("write fork header: %w", err))
	}

	found := false
	scanner := newScanner(src)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			if _, ok := parseHeaderLine(line); ok {
				continue
			}
		}

		var probe struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			continue
		}

		if _, err := dst.Write(line); err != nil {
			return fail(fmt.Errorf("write fork entry: %w", err))
		}
		if _, err := dst.Write([]byte{'\n'}); err != nil {
			return fail(fmt.Errorf("write fork entry: %w", err))
		}
		if probe.ID == entryID {
			found = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fail(fmt.Errorf("scan source session: %w", err))
	}
	if !found {
		return fail(fmt.Errorf("%w: %s", ErrBadForkPoint, entryID))
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close fork file: %w", err)
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename fork file: %w", err)
	}
	return nil
}
