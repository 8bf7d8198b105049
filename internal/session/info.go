// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

// Info returns a lightweight summary of a session file. The file is streamed
// line by line rather than fully parsed, and results are cached by mtime.
func (s *Store) Info(path string) (*Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat session file: %w", err)
	}

	s.mu.RLock()
	cached, ok := s.infoCache[path]
	s.mu.RUnlock()
	if ok && cached.mtime.Equal(stat.ModTime()) && cached.size == stat.Size() {
		info := cached.info
		return &info, nil
	}

	info, err := scanInfo(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.infoCache[path] = cachedInfo{mtime: stat.ModTime(), size: stat.Size(), info: *info}
	s.mu.Unlock()

	return info, nil
}

// scanInfo streams a session file once, collecting header fields, the first
// user prompt, a last-message preview, and the message count.
func scanInfo(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	info := &Info{Path: path}
	first := true

	scanner := newScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !gjson.ValidBytes(line) {
			continue
		}
		v := gjson.ParseBytes(line)
		typ := v.Get("type").String()

		if first {
			first = false
			if typ == EntryTypeHeader {
				info.ID = v.Get("id").String()
				info.CWD = v.Get("cwd").String()
				info.Timestamp = v.Get("timestamp").String()
				info.ParentSession = v.Get("parentSession").String()
				continue
			}
		}

		switch typ {
		case EntryTypeMessage, EntryTypeCustomMessage:
			info.MessageCount++
			text := textOf(v)
			if text != "" {
				info.LastMessage = previewOf(text)
			}
			if info.FirstPrompt == "" && roleOf(v) == "user" {
				info.FirstPrompt = previewOf(text)
			}
		case EntryTypeSessionInfo:
			if name := v.Get("name").String(); name != "" {
				info.Name = name
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan session file: %w", err)
	}

	base := filepath.Base(path)
	if info.ID == "" || info.Timestamp == "" {
		if ts, id, ok := filenameParts(base); ok {
			if info.ID == "" {
				info.ID = id
			}
			if info.Timestamp == "" {
				info.Timestamp = isoFromFilename(ts)
			}
		}
	}
	return info, nil
}

// roleOf reads a message role from either layout.
func roleOf(v gjson.Result) string {
	if role := v.Get("message.role"); role.Exists() {
		return role.String()
	}
	return v.Get("role").String()
}

// textOf extracts the first text fragment from a raw entry line.
func textOf(v gjson.Result) string {
	content := v.Get("message.content")
	if !content.Exists() {
		content = v.Get("content")
	}
	if !content.Exists() {
		return ""
	}
	return firstText([]byte(content.Raw))
}

// previewOf trims a text to a short single-line preview.
func previewOf(text string) string {
	const max = 200
	for i, r := range text {
		if r == '\n' {
			text = text[:i]
			break
		}
	}
	if len(text) > max {
		return text[:max] + "..."
	}
	return text
}

// readHeader parses just the first line of a session file, with filename
// fallbacks. Cheap enough to call while filtering listings.
func readHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	var header Header
	scanner := newScanner(f)
	if scanner.Scan() {
		if h, ok := parseHeaderLine(scanner.Bytes()); ok {
			header = h
		}
	}
	headerDefaults(&header, filepath.Base(path))
	return header, nil
}
