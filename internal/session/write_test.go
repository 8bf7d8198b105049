// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteNew(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	info, err := store.WriteNew("/work/proj")
	require.NoError(t, err)

	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "/work/proj", info.CWD)
	assert.True(t, IsSessionFilename(filepath.Base(info.Path)))
	assert.Equal(t, filepath.Join(dir, SlashifyCWD("/work/proj")), filepath.Dir(info.Path))

	// The new file parses as an empty session.
	parsed, err := store.Read(info.Path)
	require.NoError(t, err)
	assert.Equal(t, info.ID, parsed.Header.ID)
	assert.Empty(t, parsed.Messages)
}

func TestFilenameTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2025, 2, 4, 12, 30, 45, 123_000_000, time.UTC)
	stamp := FilenameTimestamp(ts)
	assert.Equal(t, "2025-02-04T12-30-45-123Z", stamp)
	assert.Equal(t, "2025-02-04T12:30:45.123Z", ISOTimestamp(ts))
}

func TestForkAtEntry(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	src := writeSession(t, dir,
		testHeader(),
		jsonLine(t, msgEntry("u1", "", "user", "first")),
		jsonLine(t, msgEntry("a1", "u1", "assistant", "answer one")),
		jsonLine(t, msgEntry("u2", "a1", "user", "second")),
		jsonLine(t, msgEntry("a2", "u2", "assistant", "answer two")),
		jsonLine(t, msgEntry("u3", "a2", "user", "third")),
	)

	info, err := store.Fork(src, "u2")
	require.NoError(t, err)
	assert.NotEqual(t, src, info.Path)
	assert.Equal(t, filepath.Dir(src), filepath.Dir(info.Path))

	forked, err := store.Read(info.Path)
	require.NoError(t, err)

	// Transcript is the source prefix ending at the fork entry.
	assert.Equal(t, []string{"u1", "a1", "u2"}, messageIDs(forked.Messages))
	assert.Equal(t, "sess-1", forked.Header.ParentSession)
	assert.NotEqual(t, "sess-1", forked.Header.ID)
	assert.Equal(t, "/work/proj", forked.Header.CWD)
}

func TestForkDefaultsToLastForkPoint(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	src := writeSession(t, dir,
		testHeader(),
		jsonLine(t, msgEntry("u1", "", "user", "first")),
		jsonLine(t, msgEntry("a1", "u1", "assistant", "answer")),
		jsonLine(t, msgEntry("u2", "a1", "user", "second")),
		jsonLine(t, msgEntry("a2", "u2", "assistant", "answer two")),
	)

	info, err := store.Fork(src, "")
	require.NoError(t, err)

	forked, err := store.Read(info.Path)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "a1", "u2"}, messageIDs(forked.Messages))
}

func TestForkRejectsNonForkPoint(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	src := writeSession(t, dir,
		testHeader(),
		jsonLine(t, msgEntry("u1", "", "user", "first")),
		jsonLine(t, msgEntry("a1", "u1", "assistant", "answer")),
	)

	// Assistant entries are not fork points.
	_, err := store.Fork(src, "a1")
	assert.ErrorIs(t, err, ErrBadForkPoint)

	_, err = store.Fork(src, "missing")
	assert.ErrorIs(t, err, ErrBadForkPoint)
}

func TestForkEmptySession(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	src := writeSession(t, dir, testHeader())

	_, err := store.Fork(src, "")
	assert.ErrorIs(t, err, ErrBadForkPoint)
}

func TestForkPreservesRawLines(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	// A line with fields the parser does not model must survive the copy.
	exotic := `{"type":"message","id":"u1","parentId":"","timestamp":"2025-02-04T12:30:45.123Z","message":{"role":"user","content":"hi"},"vendorExtra":{"nested":[1,2,3]}}`
	src := writeSession(t, dir, testHeader(), exotic)

	info, err := store.Fork(src, "u1")
	require.NoError(t, err)

	data, err := os.ReadFile(info.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"vendorExtra":{"nested":[1,2,3]}`)
}
