// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

// Read parses a session file into its current linear transcript.
//
// The leaf is the last non-label entry with an id. Walking parentId from the
// leaf to the root (reversed) yields the transcript. The last compaction on
// that path truncates it: a synthesized summary message comes first, then
// entries from firstKeptEntryId onward, or from the entry after the
// compaction when unset.
func (s *Store) Read(path string) (*Parsed, error) {
	header, entries, err := loadEntries(path)
	if err != nil {
		return nil, err
	}
	headerDefaults(&header, filepath.Base(path))

	parsed := &Parsed{
		Path:       path,
		Header:     header,
		Messages:   []ParsedMessage{},
		ForkPoints: []ForkPoint{},
	}

	leaf := findLeaf(entries)
	if leaf == nil {
		return parsed, nil
	}

	path2root := walkToRoot(leaf, indexByID(entries))

	// The walk collects leaf → root; the transcript reads root → leaf.
	chain := make([]*Entry, len(path2root))
	for i, e := range path2root {
		chain[len(chain)-1-i] = e
	}

	// Fork points and usage accumulate over the whole chain, before any
	// compaction truncation. Hidden user turns remain valid fork targets.
	for _, e := range chain {
		switch e.Type {
		case EntryTypeMessage:
			switch e.role() {
			case "user":
				parsed.ForkPoints = append(parsed.ForkPoints, ForkPoint{
					EntryID:   e.ID,
					Text:      firstText(e.contentRaw()),
					Timestamp: e.Timestamp,
				})
			case "assistant":
				if m := e.usageMap(); m != nil {
					parsed.Stats.Usage.Add(normalizeUsage(m))
				}
			}
		case EntryTypeSessionInfo:
			if e.Name != "" {
				parsed.Name = e.Name
			}
		}
	}

	visible, summary := applyCompaction(chain)
	if summary != nil {
		parsed.Messages = append(parsed.Messages, *summary)
	}
	for _, e := range visible {
		if msg, ok := materialize(e); ok {
			parsed.Messages = append(parsed.Messages, msg)
		}
	}

	parsed.Stats.MessageCount = len(parsed.Messages)
	return parsed, nil
}

// loadEntries reads every line of a session file. The header is returned
// separately; malformed lines are skipped.
func loadEntries(path string) (Header, []*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Header{}, nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Header{}, nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()

	var (
		header  Header
		entries []*Entry
		first   = true
	)

	scanner := newScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if first {
			first = false
			if h, ok := parseHeaderLine(line); ok {
				header = h
				continue
			}
			// No header; fall through and treat the line as an entry.
		}

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// Tolerate torn or garbage lines; the log is append-only and a
			// crashed writer can leave a partial tail.
			continue
		}
		if e.Type == EntryTypeHeader {
			continue
		}
		e.Raw = json.RawMessage(append([]byte(nil), line...))
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil {
		return header, entries, fmt.Errorf("scan session file: %w", err)
	}
	return header, entries, nil
}

// findLeaf returns the last non-label entry with an id, or nil.
func findLeaf(entries []*Entry) *Entry {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Type != EntryTypeLabel && e.ID != "" {
			return e
		}
	}
	return nil
}

// indexByID builds the id lookup used by tree walks. The first entry wins
// when an id repeats; later duplicates in an append-only log are bogus.
func indexByID(entries []*Entry) map[string]*Entry {
	index := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		if _, exists := index[e.ID]; !exists {
			index[e.ID] = e
		}
	}
	return index
}

// walkToRoot follows parentId links from leaf upward. A visited set guards
// against cycles, which should not occur but must not hang the reader.
func walkToRoot(leaf *Entry, index map[string]*Entry) []*Entry {
	var out []*Entry
	visited := make(map[string]bool)

	for e := leaf; e != nil; {
		if e.ID != "" {
			if visited[e.ID] {
				break
			}
			visited[e.ID] = true
		}
		out = append(out, e)
		if e.ParentID == "" {
			break
		}
		e = index[e.ParentID]
	}
	return out
}

// applyCompaction truncates the chain at the last compaction entry. It
// returns the visible tail and the synthesized summary message, if any.
func applyCompaction(chain []*Entry) ([]*Entry, *ParsedMessage) {
	last := -1
	for i, e := range chain {
		if e.Type == EntryTypeCompaction {
			last = i
		}
	}
	if last < 0 {
		return chain, nil
	}

	compaction := chain[last]
	start := last + 1
	if compaction.FirstKeptEntryID != "" {
		for i, e := range chain {
			if e.ID == compaction.FirstKeptEntryID {
				start = i
				break
			}
		}
	}

	summary := &ParsedMessage{
		ID:        compaction.ID,
		Role:      "summary",
		Timestamp: compaction.Timestamp,
		Text:      compaction.Summary,
		Synthetic: true,
	}
	return chain[start:], summary
}

// materialize converts an entry into a transcript message. Entry types that
// are structural rather than conversational return ok=false.
func materialize(e *Entry) (ParsedMessage, bool) {
	switch e.Type {
	case EntryTypeMessage:
		return ParsedMessage{
			ID:        e.ID,
			Role:      e.role(),
			Timestamp: e.Timestamp,
			Text:      firstText(e.contentRaw()),
			Content:   e.contentRaw(),
		}, true
	case EntryTypeCustomMessage:
		return ParsedMessage{
			ID:        e.ID,
			Role:      "custom",
			Timestamp: e.Timestamp,
			Text:      firstText(e.contentRaw()),
			Content:   e.contentRaw(),
		}, true
	case EntryTypeBranchSummary:
		return ParsedMessage{
			ID:        e.ID,
			Role:      "branch_summary",
			Timestamp: e.Timestamp,
			Text:      e.Summary,
		}, true
	}
	return ParsedMessage{}, false
}

// firstText extracts the first non-empty text fragment from a content value,
// which may be a bare string or an array of typed blocks.
func firstText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	v := gjson.ParseBytes(content)
	switch {
	case v.Type == gjson.String:
		return v.String()
	case v.IsArray():
		var text string
		v.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				if t := block.Get("text").String(); t != "" {
					text = t
					return false
				}
			}
			return true
		})
		return text
	}
	return ""
}
