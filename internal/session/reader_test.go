// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jsonLine marshals v as a single session-file line.
func jsonLine(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

// msgEntry builds a message entry with nested message payload.
func msgEntry(id, parent, role, text string) map[string]any {
	return map[string]any{
		"type":      EntryTypeMessage,
		"id":        id,
		"parentId":  parent,
		"timestamp": "2025-02-04T12:30:45.123Z",
		"message": map[string]any{
			"role":    role,
			"content": []map[string]any{{"type": "text", "text": text}},
		},
	}
}

// writeSession writes a session file from raw lines and returns its path.
func writeSession(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "2025-02-04T12-30-45-123Z_test-session-1.jsonl")
	content := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testHeader() string {
	return `{"type":"session","id":"sess-1","version":1,"timestamp":"2025-02-04T12:30:45.123Z","cwd":"/work/proj"}`
}

func TestReadLinearTranscript(t *testing.T) {
	dir := t.TempDir()
	path := writeSession(t, dir,
		testHeader(),
		jsonLine(t, msgEntry("u1", "", "user", "first question")),
		jsonLine(t, msgEntry("a1", "u1", "assistant", "first answer")),
		jsonLine(t, msgEntry("u2", "a1", "user", "second question")),
		jsonLine(t, msgEntry("a2", "u2", "assistant", "second answer")),
	)

	parsed, err := NewStore(dir).Read(path)
	require.NoError(t, err)

	assert.Equal(t, "sess-1", parsed.Header.ID)
	assert.Equal(t, "/work/proj", parsed.Header.CWD)

	require.Len(t, parsed.Messages, 4)
	assert.Equal(t, []string{"u1", "a1", "u2", "a2"}, messageIDs(parsed.Messages))
	assert.Equal(t, "first question", parsed.Messages[0].Text)
	assert.Equal(t, "assistant", parsed.Messages[3].Role)

	require.Len(t, parsed.ForkPoints, 2)
	assert.Equal(t, "u1", parsed.ForkPoints[0].EntryID)
	assert.Equal(t, "u2", parsed.ForkPoints[1].EntryID)
	assert.Equal(t, "second question", parsed.ForkPoints[1].Text)

	assert.Equal(t, 4, parsed.Stats.MessageCount)
}

func TestReadFollowsLeafBranch(t *testing.T) {
	dir := t.TempDir()
	// Two branches off a1. The later append (u2b chain) is the current leaf;
	// the abandoned u2a branch must not appear in the transcript.
	path := writeSession(t, dir,
		testHeader(),
		jsonLine(t, msgEntry("u1", "", "user", "root question")),
		jsonLine(t, msgEntry("a1", "u1", "assistant", "root answer")),
		jsonLine(t, msgEntry("u2a", "a1", "user", "abandoned branch")),
		jsonLine(t, msgEntry("u2b", "a1", "user", "taken branch")),
		jsonLine(t, msgEntry("a2b", "u2b", "assistant", "branch answer")),
	)

	parsed, err := NewStore(dir).Read(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"u1", "a1", "u2b", "a2b"}, messageIDs(parsed.Messages))
	assert.Equal(t, []string{"u1", "u2b"}, forkIDs(parsed.ForkPoints))
}

func TestReadCompactionWithFirstKept(t *testing.T) {
	dir := t.TempDir()
	compaction := map[string]any{
		"type": EntryTypeCompaction, "id": "c1", "parentId": "a2",
		"timestamp": "2025-02-04T12:31:00.000Z",
		"summary":   "everything so far", "firstKeptEntryId": "u2",
	}
	path := writeSession(t, dir,
		testHeader(),
		jsonLine(t, msgEntry("u1", "", "user", "old question")),
		jsonLine(t, msgEntry("a1", "u1", "assistant", "old answer")),
		jsonLine(t, msgEntry("u2", "a1", "user", "kept question")),
		jsonLine(t, msgEntry("a2", "u2", "assistant", "kept answer")),
		jsonLine(t, compaction),
		jsonLine(t, msgEntry("u3", "c1", "user", "new question")),
	)

	parsed, err := NewStore(dir).Read(path)
	require.NoError(t, err)

	require.Len(t, parsed.Messages, 4)
	assert.Equal(t, "summary", parsed.Messages[0].Role)
	assert.True(t, parsed.Messages[0].Synthetic)
	assert.Equal(t, "everything so far", parsed.Messages[0].Text)
	assert.Equal(t, []string{"c1", "u2", "a2", "u3"}, messageIDs(parsed.Messages))

	// Hidden user turns remain fork points.
	assert.Equal(t, []string{"u1", "u2", "u3"}, forkIDs(parsed.ForkPoints))
}

func TestReadCompactionWithoutFirstKept(t *testing.T) {
	dir := t.TempDir()
	compaction := map[string]any{
		"type": EntryTypeCompaction, "id": "c1", "parentId": "a1",
		"timestamp": "2025-02-04T12:31:00.000Z",
		"summary":   "all of it",
	}
	path := writeSession(t, dir,
		testHeader(),
		jsonLine(t, msgEntry("u1", "", "user", "question")),
		jsonLine(t, msgEntry("a1", "u1", "assistant", "answer")),
		jsonLine(t, compaction),
	)

	parsed, err := NewStore(dir).Read(path)
	require.NoError(t, err)

	// The synthesized summary is the only message.
	require.Len(t, parsed.Messages, 1)
	assert.Equal(t, "c1", parsed.Messages[0].ID)
	assert.Equal(t, "all of it", parsed.Messages[0].Text)
	assert.Equal(t, 1, parsed.Stats.MessageCount)
}

func TestReadHeaderOnly(t *testing.T) {
	dir := t.TempDir()
	path := writeSession(t, dir, testHeader())

	parsed, err := NewStore(dir).Read(path)
	require.NoError(t, err)

	assert.Empty(t, parsed.Messages)
	assert.Empty(t, parsed.ForkPoints)
	assert.Equal(t, 0, parsed.Stats.MessageCount)
}

func TestReadSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := writeSession(t, dir,
		testHeader(),
		jsonLine(t, msgEntry("u1", "", "user", "hello")),
		`{"type":"message","id":"torn`,
		"not json at all",
		jsonLine(t, msgEntry("a1", "u1", "assistant", "world")),
	)

	parsed, err := NewStore(dir).Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "a1"}, messageIDs(parsed.Messages))
}

func TestReadWithoutHeader(t *testing.T) {
	dir := t.TempDir()
	path := writeSession(t, dir,
		jsonLine(t, msgEntry("u1", "", "user", "orphan line")),
	)

	parsed, err := NewStore(dir).Read(path)
	require.NoError(t, err)

	// Header fields fall back to the filename.
	assert.Equal(t, "test-session-1", parsed.Header.ID)
	assert.Equal(t, "2025-02-04T12:30:45.123Z", parsed.Header.Timestamp)
	assert.Equal(t, []string{"u1"}, messageIDs(parsed.Messages))
}

func TestReadCycleDoesNotHang(t *testing.T) {
	dir := t.TempDir()
	path := writeSession(t, dir,
		testHeader(),
		jsonLine(t, msgEntry("u1", "a1", "user", "cyclic")),
		jsonLine(t, msgEntry("a1", "u1", "assistant", "also cyclic")),
	)

	parsed, err := NewStore(dir).Read(path)
	require.NoError(t, err)

	// Walk terminates; both entries visited once.
	assert.Len(t, parsed.Messages, 2)
}

func TestReadLeafSkipsLabels(t *testing.T) {
	dir := t.TempDir()
	label := map[string]any{
		"type": EntryTypeLabel, "id": "l1", "parentId": "a1",
		"timestamp": "2025-02-04T12:31:00.000Z", "label": "bookmark",
	}
	path := writeSession(t, dir,
		testHeader(),
		jsonLine(t, msgEntry("u1", "", "user", "hello")),
		jsonLine(t, msgEntry("a1", "u1", "assistant", "world")),
		jsonLine(t, label),
	)

	parsed, err := NewStore(dir).Read(path)
	require.NoError(t, err)

	// The label is not the leaf; the transcript still ends at a1.
	assert.Equal(t, []string{"u1", "a1"}, messageIDs(parsed.Messages))
}

func TestReadCustomMessage(t *testing.T) {
	dir := t.TempDir()
	custom := map[string]any{
		"type": EntryTypeCustomMessage, "id": "x1", "parentId": "u1",
		"timestamp": "2025-02-04T12:31:00.000Z",
		"content":   []map[string]any{{"type": "text", "text": "extension output"}},
	}
	path := writeSession(t, dir,
		testHeader(),
		jsonLine(t, msgEntry("u1", "", "user", "hello")),
		jsonLine(t, custom),
	)

	parsed, err := NewStore(dir).Read(path)
	require.NoError(t, err)

	require.Len(t, parsed.Messages, 2)
	assert.Equal(t, "custom", parsed.Messages[1].Role)
	assert.Equal(t, "extension output", parsed.Messages[1].Text)
}

func TestReadSessionName(t *testing.T) {
	dir := t.TempDir()
	info := map[string]any{
		"type": EntryTypeSessionInfo, "id": "i1", "parentId": "u1",
		"timestamp": "2025-02-04T12:31:00.000Z", "name": "refactor plan",
	}
	path := writeSession(t, dir,
		testHeader(),
		jsonLine(t, msgEntry("u1", "", "user", "hello")),
		jsonLine(t, info),
	)

	parsed, err := NewStore(dir).Read(path)
	require.NoError(t, err)
	assert.Equal(t, "refactor plan", parsed.Name)
}

func TestReadStringContent(t *testing.T) {
	dir := t.TempDir()
	entry := map[string]any{
		"type": EntryTypeMessage, "id": "u1",
		"timestamp": "2025-02-04T12:30:45.123Z",
		"message":   map[string]any{"role": "user", "content": "plain string content"},
	}
	path := writeSession(t, dir, testHeader(), jsonLine(t, entry))

	parsed, err := NewStore(dir).Read(path)
	require.NoError(t, err)
	require.Len(t, parsed.Messages, 1)
	assert.Equal(t, "plain string content", parsed.Messages[0].Text)
}

func TestReadMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := NewStore(dir).Read(filepath.Join(dir, "nope.jsonl"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func messageIDs(msgs []ParsedMessage) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func forkIDs(points []ForkPoint) []string {
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.EntryID
	}
	return ids
}
