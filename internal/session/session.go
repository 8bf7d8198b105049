// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session reads and writes append-only JSONL session logs.
//
// A session file starts with a header record and grows by appended entries.
// Entries form a tree via parentId; the current transcript is the path from
// the newest leaf back to the root, reversed. The reader never rewrites a
// file; forks copy entries into a new file.
package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Entry types found in session files.
const (
	EntryTypeHeader        = "session"
	EntryTypeMessage       = "message"
	EntryTypeCustomMessage = "custom_message"
	EntryTypeCompaction    = "compaction"
	EntryTypeBranchSummary = "branch_summary"
	EntryTypeSessionInfo   = "session_info"
	EntryTypeLabel         = "label"
)

// ErrNotFound is returned when a session file cannot be located.
var ErrNotFound = errors.New("session not found")

// ErrBadForkPoint is returned when a fork targets an entry that is not a
// fork point of the source session.
var ErrBadForkPoint = errors.New("entry is not a fork point")

// Header is the first record of a session file.
type Header struct {
	Type          string `json:"type"`
	ID            string `json:"id"`
	Version       int    `json:"version,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
	CWD           string `json:"cwd,omitempty"`
	ParentSession string `json:"parentSession,omitempty"`
}

// MessagePayload is the nested message object carried by message entries.
type MessagePayload struct {
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Usage   map[string]any  `json:"usage,omitempty"`
}

// Entry is one JSON line of a session file. Fields the reader does not
// inspect stay in Raw and round-trip untouched.
type Entry struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	ParentID  string `json:"parentId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	// Message payload, either nested or inline.
	Message *MessagePayload `json:"message,omitempty"`
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Usage   map[string]any  `json:"usage,omitempty"`

	// Compaction fields.
	Summary          string `json:"summary,omitempty"`
	FirstKeptEntryID string `json:"firstKeptEntryId,omitempty"`

	// session_info fields.
	Name string `json:"name,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// role returns the entry's message role, wherever it lives.
func (e *Entry) role() string {
	if e.Message != nil && e.Message.Role != "" {
		return e.Message.Role
	}
	return e.Role
}

// contentRaw returns the entry's content bytes, wherever they live.
func (e *Entry) contentRaw() json.RawMessage {
	if e.Message != nil && len(e.Message.Content) > 0 {
		return e.Message.Content
	}
	return e.Content
}

// usageMap returns the entry's usage object, wherever it lives.
func (e *Entry) usageMap() map[string]any {
	if e.Message != nil && e.Message.Usage != nil {
		return e.Message.Usage
	}
	return e.Usage
}

// ParsedMessage is one transcript message materialized from an entry.
type ParsedMessage struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Timestamp string          `json:"timestamp,omitempty"`
	Text      string          `json:"text,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Synthetic bool            `json:"synthetic,omitempty"`
}

// ForkPoint is a user message on the current transcript; the only valid
// targets for fork operations.
type ForkPoint struct {
	EntryID   string `json:"entryId"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Stats summarizes a parsed session.
type Stats struct {
	MessageCount int   `json:"messageCount"`
	Usage        Usage `json:"usage"`
}

// Parsed is the result of reading a session file.
type Parsed struct {
	Path       string          `json:"path"`
	Header     Header          `json:"header"`
	Messages   []ParsedMessage `json:"messages"`
	ForkPoints []ForkPoint     `json:"forkPoints"`
	Stats      Stats           `json:"stats"`
	Name       string          `json:"name,omitempty"`
}

// Info is the lightweight session summary returned by listings.
type Info struct {
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

// Store reads session files under a root directory.
type Store struct {
	dir string

	mu        sync.RWMutex
	infoCache map[string]cachedInfo
}

type cachedInfo struct {
	mtime time.Time
	size  int64
	info  Info
}

// NewStore creates a store rooted at dir (the sessions directory).
func NewStore(dir string) *Store {
	return &Store{
		dir:       dir,
		infoCache: make(map[string]cachedInfo),
	}
}

// Dir returns the sessions root directory.
func (s *Store) Dir() string { return s.dir }

// sessionFileRe matches session filenames: an ISO-8601-ish timestamp with
// dots and colons replaced by dashes, an underscore, an id, ".jsonl".
var sessionFileRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{3}Z)_(.+)\.jsonl$`)

// IsSessionFilename reports whether base looks like a session file.
func IsSessionFilename(base string) bool {
	return sessionFileRe.MatchString(base)
}

// filenameParts extracts the timestamp and id encoded in a session filename.
func filenameParts(base string) (ts, id string, ok bool) {
	m := sessionFileRe.FindStringSubmatch(base)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// filenameTimestampRe captures the fields of a filename timestamp so it can
// be restored to ISO-8601.
var filenameTimestampRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})T(\d{2})-(\d{2})-(\d{2})-(\d{3})Z$`)

// isoFromFilename converts "2025-02-04T12-30-45-123Z" back to
// "2025-02-04T12:30:45.123Z". Returns the input unchanged if it does not
// match the expected shape.
func isoFromFilename(ts string) string {
	m := filenameTimestampRe.FindStringSubmatch(ts)
	if m == nil {
		return ts
	}
	return fmt.Sprintf("%sT%s:%s:%s.%sZ", m[1], m[2], m[3], m[4], m[5])
}

// FilenameTimestamp renders t the way session filenames encode it.
func FilenameTimestamp(t time.Time) string {
	iso := t.UTC().Format("2006-01-02T15:04:05.000Z")
	iso = strings.ReplaceAll(iso, ":", "-")
	return strings.ReplaceAll(iso, ".", "-")
}

// ISOTimestamp renders t as ISO-8601 with millisecond precision, the format
// used inside session files.
func ISOTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// SlashifyCWD converts a working directory to the directory name used under
// the sessions root, e.g. "/home/x/proj" -> "-home-x-proj".
func SlashifyCWD(cwd string) string {
	return strings.ReplaceAll(cwd, string(os.PathSeparator), "-")
}

// newScanner returns a line scanner sized for session files. Individual
// entries can be large when tool output is embedded.
func newScanner(f *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	return scanner
}

// parseHeaderLine parses a line as a session header. Returns false if the
// line is not a header record.
func parseHeaderLine(line []byte) (Header, bool) {
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return Header{}, false
	}
	if h.Type != EntryTypeHeader {
		return Header{}, false
	}
	return h, true
}

// headerDefaults fills missing header fields from the filename.
func headerDefaults(h *Header, base string) {
	ts, id, ok := filenameParts(base)
	if !ok {
		return
	}
	if h.ID == "" {
		h.ID = id
	}
	if h.Timestamp == "" {
		h.Timestamp = isoFromFilename(ts)
	}
}
