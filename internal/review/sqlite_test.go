// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "review.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func sampleRecord(id string) *Record {
	return &Record{
		ID:      id,
		Message: "take a look",
		Files: []FileSnapshot{
			{Path: "a.go", Content: "package a\n", Language: "go"},
		},
		Warnings: []string{"Skipped: bin.png (binary file)"},
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	store, _ := openTestStore(t)

	require.NoError(t, store.Create(sampleRecord("r1")))

	rec, err := store.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", rec.ID)
	assert.Equal(t, "take a look", rec.Message)
	assert.Equal(t, StatusOpen, rec.Status)
	require.Len(t, rec.Files, 1)
	assert.Equal(t, "a.go", rec.Files[0].Path)
	assert.Equal(t, []string{"Skipped: bin.png (binary file)"}, rec.Warnings)
	assert.Empty(t, rec.Comments)
	assert.WithinDuration(t, time.Now(), rec.CreatedAt, 5*time.Second)
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)
}

func TestStoreCreateValidation(t *testing.T) {
	store, _ := openTestStore(t)

	assert.ErrorIs(t, store.Create(&Record{}), ErrInvalidInput)
	assert.ErrorIs(t, store.Create(&Record{ID: "r1"}), ErrInvalidInput)

	require.NoError(t, store.Create(sampleRecord("r1")))
	assert.ErrorIs(t, store.Create(sampleRecord("r1")), ErrConflict)
}

func TestStoreGetMissing(t *testing.T) {
	store, _ := openTestStore(t)

	_, err := store.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreSubmit(t *testing.T) {
	store, _ := openTestStore(t)
	require.NoError(t, store.Create(sampleRecord("r1")))

	comments := []Comment{{File: "a.go", StartLine: 1, EndLine: 1, Comment: "nit"}}
	require.NoError(t, store.Submit("r1", comments))

	rec, err := store.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, rec.Status)
	assert.Equal(t, comments, rec.Comments)
	assert.True(t, rec.UpdatedAt.After(rec.CreatedAt) || rec.UpdatedAt.Equal(rec.CreatedAt))

	// Terminal transitions happen once.
	assert.ErrorIs(t, store.Submit("r1", comments), ErrInvalidState)
	assert.ErrorIs(t, store.Cancel("r1"), ErrInvalidState)
	assert.ErrorIs(t, store.Submit("missing", comments), ErrNotFound)
}

func TestStoreSubmitValidatesComments(t *testing.T) {
	store, _ := openTestStore(t)
	require.NoError(t, store.Create(sampleRecord("r1")))

	bad := []Comment{{File: "a.go", StartLine: 9, EndLine: 3, Comment: "x"}}
	assert.ErrorIs(t, store.Submit("r1", bad), ErrInvalidInput)

	rec, err := store.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, rec.Status)
}

func TestStoreCancel(t *testing.T) {
	store, _ := openTestStore(t)
	require.NoError(t, store.Create(sampleRecord("r1")))

	require.NoError(t, store.Cancel("r1"))

	rec, err := store.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, rec.Status)

	assert.ErrorIs(t, store.Cancel("r1"), ErrInvalidState)
	assert.ErrorIs(t, store.Cancel("missing"), ErrNotFound)
}

func TestStoreClaim(t *testing.T) {
	store, _ := openTestStore(t)
	require.NoError(t, store.Create(sampleRecord("r1")))

	// Only submitted records can be claimed.
	assert.ErrorIs(t, store.Claim("r1", "agent-a"), ErrInvalidState)

	require.NoError(t, store.Submit("r1", []Comment{{File: "a.go", StartLine: 1, EndLine: 1, Comment: "x"}}))
	assert.ErrorIs(t, store.Claim("r1", ""), ErrInvalidInput)
	require.NoError(t, store.Claim("r1", "agent-a"))

	rec, err := store.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, rec.Status)
	assert.Equal(t, "agent-a", rec.ClaimedBy)

	// A second claimant collides.
	assert.ErrorIs(t, store.Claim("r1", "agent-b"), ErrConflict)
	assert.ErrorIs(t, store.Claim("missing", "agent-a"), ErrNotFound)
}

func TestStoreResolve(t *testing.T) {
	store, _ := openTestStore(t)
	require.NoError(t, store.Create(sampleRecord("r1")))
	require.NoError(t, store.Create(sampleRecord("r2")))

	assert.ErrorIs(t, store.Resolve("r1", "agent-a"), ErrInvalidState)

	comments := []Comment{{File: "a.go", StartLine: 1, EndLine: 1, Comment: "x"}}
	require.NoError(t, store.Submit("r1", comments))
	require.NoError(t, store.Claim("r1", "agent-a"))
	require.NoError(t, store.Resolve("r1", "agent-a"))

	rec, err := store.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, rec.Status)
	assert.Equal(t, "agent-a", rec.ResolvedBy)

	// Resolving without claiming first is allowed; the claimant is optional.
	require.NoError(t, store.Submit("r2", comments))
	require.NoError(t, store.Resolve("r2", ""))

	rec, err = store.Get("r2")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, rec.Status)
	assert.Empty(t, rec.ResolvedBy)

	assert.ErrorIs(t, store.Resolve("r1", "agent-a"), ErrInvalidState)
	assert.ErrorIs(t, store.Resolve("missing", ""), ErrNotFound)
}

func TestStoreList(t *testing.T) {
	store, _ := openTestStore(t)

	comments := []Comment{{File: "a.go", StartLine: 1, EndLine: 1, Comment: "x"}}
	for _, id := range []string{"r1", "r2", "r3", "r4"} {
		rec := sampleRecord(id)
		require.NoError(t, store.Create(rec))
	}
	require.NoError(t, store.Submit("r2", comments))
	require.NoError(t, store.Submit("r3", comments))
	require.NoError(t, store.Claim("r3", "agent-a"))
	require.NoError(t, store.Cancel("r4"))

	all, err := store.List(ListQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	submitted, err := store.List(ListQuery{Status: StatusSubmitted})
	require.NoError(t, err)
	require.Len(t, submitted, 1)
	assert.Equal(t, "r2", submitted[0].ID)

	claimed, err := store.List(ListQuery{ClaimedBy: "agent-a"})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "r3", claimed[0].ID)

	limited, err := store.List(ListQuery{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStoreListNewestFirst(t *testing.T) {
	store, _ := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		rec := sampleRecord(id)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Create(rec))
	}

	records, err := store.List(ListQuery{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "new", records[0].ID)
	assert.Equal(t, "mid", records[1].ID)
	assert.Equal(t, "old", records[2].ID)
}

func TestStoreSurvivesReopen(t *testing.T) {
	store, path := openTestStore(t)

	require.NoError(t, store.Create(sampleRecord("r1")))
	comments := []Comment{{File: "a.go", StartLine: 2, EndLine: 4, SelectedText: "y", Comment: "extract"}}
	require.NoError(t, store.Submit("r1", comments))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck

	rec, err := reopened.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, rec.Status)
	assert.Equal(t, comments, rec.Comments)
}
