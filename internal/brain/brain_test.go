// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package brain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBrain(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "brain.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestReadFoldsLog(t *testing.T) {
	path := writeBrain(t,
		`{"id":"b1","tag":"behavior","timestamp":"2025-02-01T10:00:00.000Z","text":"be terse"}`,
		`{"id":"u1","tag":"user","text":"prefers vim"}`,
		`{"id":"t1","tag":"task","text":"ship it"}`,
	)

	entries, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "u1", "t1"}, ids(entries))
	assert.Equal(t, TagBehavior, entries[0].Tag)
	assert.Equal(t, "2025-02-01T10:00:00.000Z", entries[0].Timestamp)
	assert.JSONEq(t, `{"id":"u1","tag":"user","text":"prefers vim"}`, string(entries[1].Raw))
}

func TestReadTombstoneRemovesTarget(t *testing.T) {
	path := writeBrain(t,
		`{"id":"b1","tag":"behavior","text":"keep"}`,
		`{"id":"b2","tag":"behavior","text":"drop"}`,
		`{"tag":"tombstone","target":"b2"}`,
	)

	entries, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, ids(entries))
}

func TestReadTombstoneTargetsArray(t *testing.T) {
	path := writeBrain(t,
		`{"id":"a","tag":"learning","text":"one"}`,
		`{"id":"b","tag":"learning","text":"two"}`,
		`{"id":"c","tag":"learning","text":"three"}`,
		`{"tag":"tombstone","targets":["a","c"]}`,
	)

	entries, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(entries))
}

func TestReadSameIDReplacesInPlace(t *testing.T) {
	path := writeBrain(t,
		`{"id":"p1","tag":"preference","text":"tabs"}`,
		`{"id":"p2","tag":"preference","text":"dark mode"}`,
		`{"id":"p1","tag":"preference","text":"spaces"}`,
	)

	entries, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, ids(entries))
	assert.Contains(t, string(entries[0].Raw), "spaces")
}

func TestReadReassertAfterTombstone(t *testing.T) {
	path := writeBrain(t,
		`{"id":"x","tag":"context","text":"old"}`,
		`{"tag":"tombstone","target":"x"}`,
		`{"id":"x","tag":"context","text":"new"}`,
	)

	entries, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, ids(entries))
	assert.Contains(t, string(entries[0].Raw), "new")
}

func TestReadSkipsMalformedAndBlank(t *testing.T) {
	path := writeBrain(t,
		`{"id":"ok","tag":"identity","text":"fine"}`,
		`not json at all`,
		``,
		`{"id":"ok2","tag":"identity","text":"also fine"}`,
	)

	entries, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "ok2"}, ids(entries))
}

func TestReadTypeFieldFallback(t *testing.T) {
	path := writeBrain(t,
		`{"id":"r1","type":"reminder","text":"water plants"}`,
	)

	entries, err := Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, TagReminder, entries[0].Tag)
}

func TestReadMissingFile(t *testing.T) {
	entries, err := Read(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadTag(t *testing.T) {
	path := writeBrain(t,
		`{"id":"b1","tag":"behavior","text":"a"}`,
		`{"id":"t1","tag":"task","text":"b"}`,
		`{"id":"b2","tag":"behavior","text":"c"}`,
	)

	entries, err := ReadTag(path, TagBehavior)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2"}, ids(entries))

	all, err := ReadTag(path, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestReadTasks(t *testing.T) {
	path := writeBrain(t,
		`{"id":"t1","tag":"task","text":"ship"}`,
		`{"id":"b1","tag":"behavior","text":"noise"}`,
		`{"id":"r1","tag":"reminder","text":"standup"}`,
		`{"tag":"tombstone","target":"t1"}`,
	)

	entries, err := ReadTasks(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, ids(entries))
}

func TestRawEntries(t *testing.T) {
	path := writeBrain(t, `{"id":"a","tag":"user","text":"x"}`)

	entries, err := Read(path)
	require.NoError(t, err)
	raw := RawEntries(entries)
	require.Len(t, raw, 1)
	assert.JSONEq(t, `{"id":"a","tag":"user","text":"x"}`, string(raw[0]))
}
