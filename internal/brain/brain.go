// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package brain reads the agent's brain store, a newline-delimited JSON log
// of tagged entries. The gateway treats entries as opaque JSON; the only
// semantics applied here are the tombstone-aware fold and same-id
// replacement.
package brain

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/tidwall/gjson"
)

// Tags the agent writes. The log may carry others; unknown tags pass
// through the fold untouched.
const (
	TagBehavior   = "behavior"
	TagIdentity   = "identity"
	TagUser       = "user"
	TagLearning   = "learning"
	TagPreference = "preference"
	TagContext    = "context"
	TagTask       = "task"
	TagReminder   = "reminder"
	TagTombstone  = "tombstone"
)

// Entry is one folded brain record. Raw holds the entry's full JSON object
// exactly as logged; ID, Tag and Timestamp are extracted for filtering.
type Entry struct {
	ID        string
	Tag       string
	Timestamp string
	Raw       json.RawMessage
}

// Read folds the brain log at path. Later entries with the same id replace
// earlier ones in place; tombstone entries remove their targets and are not
// returned themselves. Malformed lines are skipped. A missing file yields an
// empty fold.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var (
		byID = map[string]int{}
		out  []Entry
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !gjson.ValidBytes(line) {
			continue
		}

		tag := gjson.GetBytes(line, "tag").String()
		if tag == "" {
			tag = gjson.GetBytes(line, "type").String()
		}

		if tag == TagTombstone {
			for _, id := range tombstoneTargets(line) {
				if idx, ok := byID[id]; ok {
					out[idx].Raw = nil
					delete(byID, id)
				}
			}
			continue
		}

		entry := Entry{
			ID:        gjson.GetBytes(line, "id").String(),
			Tag:       tag,
			Timestamp: gjson.GetBytes(line, "timestamp").String(),
			Raw:       append(json.RawMessage(nil), line...),
		}

		if entry.ID != "" {
			if idx, ok := byID[entry.ID]; ok {
				out[idx] = entry
				continue
			}
			byID[entry.ID] = len(out)
		}
		out = append(out, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	folded := make([]Entry, 0, len(out))
	for _, e := range out {
		if e.Raw == nil {
			continue
		}
		folded = append(folded, e)
	}
	return folded, nil
}

// ReadTag folds the log and keeps only entries with the given tag. An empty
// tag returns the whole fold.
func ReadTag(path, tag string) ([]Entry, error) {
	entries, err := Read(path)
	if err != nil {
		return nil, err
	}
	if tag == "" {
		return entries, nil
	}
	filtered := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Tag == tag {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// ReadTasks folds the log and keeps task and reminder entries, the view the
// tasks endpoint serves.
func ReadTasks(path string) ([]Entry, error) {
	entries, err := Read(path)
	if err != nil {
		return nil, err
	}
	tasks := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Tag == TagTask || e.Tag == TagReminder {
			tasks = append(tasks, e)
		}
	}
	return tasks, nil
}

// RawEntries strips the fold down to the raw JSON objects, for handlers
// that pass entries through verbatim.
func RawEntries(entries []Entry) []json.RawMessage {
	raw := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		raw[i] = e.Raw
	}
	return raw
}

// tombstoneTargets extracts the ids a tombstone entry deletes. Both a
// single "target" string and a "targets" array are honored.
func tombstoneTargets(line []byte) []string {
	var ids []string
	if t := gjson.GetBytes(line, "target"); t.Type == gjson.String && t.Str != "" {
		ids = append(ids, t.Str)
	}
	for _, t := range gjson.GetBytes(line, "targets").Array() {
		if t.Type == gjson.String && t.Str != "" {
			ids = append(ids, t.Str)
		}
	}
	return ids
}
