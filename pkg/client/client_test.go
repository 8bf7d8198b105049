// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// mockServer creates a test server that returns the given response.
func mockServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

// apiHandler creates a handler that returns a standard API response.
func apiHandler(data interface{}, statusCode int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		resp := map[string]interface{}{
			"data": data,
		}
		json.NewEncoder(w).Encode(resp)
	}
}

// apiErrorHandler creates a handler that returns an API error.
func apiErrorHandler(code, message string, statusCode int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		resp := map[string]interface{}{
			"error": map[string]string{
				"code":    code,
				"message": message,
			},
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestNew(t *testing.T) {
	c := New("http://localhost:3141")

	if c.BaseURL() != "http://localhost:3141" {
		t.Errorf("BaseURL() = %q, want %q", c.BaseURL(), "http://localhost:3141")
	}

	if c.Version() != LatestVersion {
		t.Errorf("Version() = %q, want %q", c.Version(), LatestVersion)
	}

	// Test sub-clients are initialized
	if c.Sessions == nil {
		t.Error("Sessions client is nil")
	}
	if c.Review == nil {
		t.Error("Review client is nil")
	}
	if c.Git == nil {
		t.Error("Git client is nil")
	}
	if c.Brain == nil {
		t.Error("Brain client is nil")
	}
	if c.Crashes == nil {
		t.Error("Crashes client is nil")
	}
	if c.Ops == nil {
		t.Error("Ops client is nil")
	}
}

func TestNewWithOptions(t *testing.T) {
	t.Run("WithVersion", func(t *testing.T) {
		c := New("http://localhost:3141", WithVersion("2026-01-01"))
		if c.Version() != "2026-01-01" {
			t.Errorf("Version() = %q, want %q", c.Version(), "2026-01-01")
		}
	})

	t.Run("WithTimeout", func(t *testing.T) {
		c := New("http://localhost:3141", WithTimeout(60*time.Second))
		// We can't directly check the timeout, but we verify it doesn't panic
		if c == nil {
			t.Error("Client is nil")
		}
	})

	t.Run("WithHTTPClient", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := New("http://localhost:3141", WithHTTPClient(customClient))
		if c == nil {
			t.Error("Client is nil")
		}
	})

	t.Run("trailing slash removed", func(t *testing.T) {
		c := New("http://localhost:3141/")
		if c.BaseURL() != "http://localhost:3141" {
			t.Errorf("BaseURL() = %q, want trailing slash removed", c.BaseURL())
		}
	})
}

func TestAPIError(t *testing.T) {
	err := &APIError{
		Code:    "NOT_FOUND",
		Message: "session not found",
	}

	expected := "NOT_FOUND: session not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}

	// Test without code
	err2 := &APIError{
		Message: "something went wrong",
	}
	if err2.Error() != "something went wrong" {
		t.Errorf("Error() = %q, want %q", err2.Error(), "something went wrong")
	}
}

func TestVersionHeader(t *testing.T) {
	var receivedVersion string
	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		receivedVersion = r.Header.Get("Rho-Version")
		apiHandler([]Session{}, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL, WithVersion("2026-06-02"))
	_, _ = c.Sessions.List(context.Background(), ListSessionsOptions{})

	if receivedVersion != "2026-06-02" {
		t.Errorf("Rho-Version header = %q, want %q", receivedVersion, "2026-06-02")
	}
}

func TestSessionClient_List(t *testing.T) {
	sessions := []Session{
		{
			Path:         "/home/user/.pi/sessions/--home-user-proj/20260817T101500_0196a.jsonl",
			ID:           "0196a",
			CWD:          "/home/user/proj",
			MessageCount: 4,
			FirstPrompt:  "fix the login bug",
		},
		{
			Path:         "/home/user/.pi/sessions/--home-user-proj/20260816T091200_0195b.jsonl",
			ID:           "0195b",
			CWD:          "/home/user/proj",
			MessageCount: 12,
		},
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		apiHandler(sessions, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Sessions.List(context.Background(), ListSessionsOptions{})

	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if len(result) != 2 {
		t.Errorf("List() returned %d sessions, want 2", len(result))
	}

	if result[0].ID != "0196a" {
		t.Errorf("result[0].ID = %q, want %q", result[0].ID, "0196a")
	}

	if result[0].FirstPrompt != "fix the login bug" {
		t.Errorf("result[0].FirstPrompt = %q, want %q", result[0].FirstPrompt, "fix the login bug")
	}
}

func TestSessionClient_ListWithOptions(t *testing.T) {
	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("cwd") != "/home/user/proj" {
			t.Errorf("cwd param = %q, want %q", q.Get("cwd"), "/home/user/proj")
		}
		if q.Get("offset") != "10" {
			t.Errorf("offset param = %q, want %q", q.Get("offset"), "10")
		}
		if q.Get("limit") != "5" {
			t.Errorf("limit param = %q, want %q", q.Get("limit"), "5")
		}
		apiHandler([]Session{}, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	_, err := c.Sessions.List(context.Background(), ListSessionsOptions{
		CWD:    "/home/user/proj",
		Offset: 10,
		Limit:  5,
	})

	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
}

func TestSessionClient_Get(t *testing.T) {
	detail := SessionDetail{
		Path: "/home/user/.pi/sessions/--home-user-proj/20260817T101500_0196a.jsonl",
		Header: SessionHeader{
			Type: "session",
			ID:   "0196a",
			CWD:  "/home/user/proj",
		},
		Messages: []SessionMessage{
			{ID: "m1", Role: "user", Text: "hello"},
			{ID: "m2", Role: "assistant", Text: "hi"},
		},
		ForkPoints: []ForkPoint{
			{EntryID: "m1", Text: "hello"},
		},
		Stats: SessionStats{MessageCount: 2},
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/0196a" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		apiHandler(detail, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Sessions.Get(context.Background(), "0196a")

	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if result.Header.ID != "0196a" {
		t.Errorf("Header.ID = %q, want %q", result.Header.ID, "0196a")
	}

	if len(result.Messages) != 2 {
		t.Errorf("len(Messages) = %d, want 2", len(result.Messages))
	}

	if result.ForkPoints[0].EntryID != "m1" {
		t.Errorf("ForkPoints[0].EntryID = %q, want %q", result.ForkPoints[0].EntryID, "m1")
	}
}

func TestSessionClient_Get_NotFound(t *testing.T) {
	server := mockServer(t, apiErrorHandler("NOT_FOUND", "session not found: nope", http.StatusNotFound))
	defer server.Close()

	c := New(server.URL)
	_, err := c.Sessions.Get(context.Background(), "nope")

	if err == nil {
		t.Fatal("expected error, got nil")
	}

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}

	if apiErr.Code != "NOT_FOUND" {
		t.Errorf("Code = %q, want %q", apiErr.Code, "NOT_FOUND")
	}
}

func TestSessionClient_New(t *testing.T) {
	created := Session{
		Path: "/home/user/.pi/sessions/--home-user-proj/20260825T120000_0199f.jsonl",
		ID:   "0199f",
		CWD:  "/home/user/proj",
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/sessions/new" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["cwd"] != "/home/user/proj" {
			t.Errorf("cwd = %q, want %q", body["cwd"], "/home/user/proj")
		}

		apiHandler(created, http.StatusCreated)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Sessions.New(context.Background(), "/home/user/proj")

	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if result.ID != "0199f" {
		t.Errorf("ID = %q, want %q", result.ID, "0199f")
	}
}

func TestSessionClient_Fork(t *testing.T) {
	forked := Session{
		ID:            "019a0",
		ParentSession: "0196a",
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/sessions/0196a/fork" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["entryId"] != "m3" {
			t.Errorf("entryId = %q, want %q", body["entryId"], "m3")
		}

		apiHandler(forked, http.StatusCreated)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Sessions.Fork(context.Background(), "0196a", "m3")

	if err != nil {
		t.Fatalf("Fork() error = %v", err)
	}

	if result.ParentSession != "0196a" {
		t.Errorf("ParentSession = %q, want %q", result.ParentSession, "0196a")
	}
}

func TestSessionClient_Fork_DefaultEntry(t *testing.T) {
	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if _, ok := body["entryId"]; ok {
			t.Error("entryId should be omitted when empty")
		}
		apiHandler(Session{ID: "019a1"}, http.StatusCreated)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	_, err := c.Sessions.Fork(context.Background(), "0196a", "")

	if err != nil {
		t.Fatalf("Fork() error = %v", err)
	}
}

func TestReviewClient_Create(t *testing.T) {
	created := ReviewCreated{
		ID:    "8f2b",
		Token: "tok123",
		URL:   "http://localhost:3141/review/8f2b",
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/review" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var body struct {
			Files   []ReviewFile `json:"files"`
			Message string       `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if len(body.Files) != 1 || body.Files[0].Path != "main.go" {
			t.Errorf("files = %+v, want one entry for main.go", body.Files)
		}
		if body.Message != "please check" {
			t.Errorf("message = %q, want %q", body.Message, "please check")
		}

		apiHandler(created, http.StatusCreated)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	files := []ReviewFile{{Path: "main.go", Content: "package main\n"}}
	result, err := c.Review.Create(context.Background(), files, "please check")

	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if result.Token != "tok123" {
		t.Errorf("Token = %q, want %q", result.Token, "tok123")
	}

	if result.URL == "" {
		t.Error("URL is empty")
	}
}

func TestReviewClient_FromGit(t *testing.T) {
	created := ReviewCreated{
		ID:       "9c1d",
		Token:    "tok456",
		URL:      "http://localhost:3141/review/9c1d",
		Warnings: []string{"skipped missing.go: not found"},
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/review/from-git" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var body struct {
			Files []string `json:"files"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if len(body.Files) != 2 {
			t.Errorf("len(files) = %d, want 2", len(body.Files))
		}

		apiHandler(created, http.StatusCreated)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Review.FromGit(context.Background(), []string{"main.go", "missing.go"}, "")

	if err != nil {
		t.Fatalf("FromGit() error = %v", err)
	}

	if len(result.Warnings) != 1 {
		t.Errorf("len(Warnings) = %d, want 1", len(result.Warnings))
	}
}

func TestReviewClient_Sessions(t *testing.T) {
	sessions := []ReviewStatus{
		{ID: "8f2b", FileCount: 2, ToolSockets: 1, UISockets: 1},
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/review/sessions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		apiHandler(sessions, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Review.Sessions(context.Background())

	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}

	if len(result) != 1 {
		t.Fatalf("len(result) = %d, want 1", len(result))
	}

	if result[0].FileCount != 2 {
		t.Errorf("FileCount = %d, want 2", result[0].FileCount)
	}
}

func TestReviewClient_Submissions(t *testing.T) {
	subs := []Submission{
		{ID: "8f2b", Status: "submitted", Comments: []ReviewComment{
			{File: "main.go", StartLine: 3, EndLine: 3, Comment: "typo"},
		}},
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/review/submissions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("status") != "submitted" {
			t.Errorf("status param = %q, want %q", q.Get("status"), "submitted")
		}
		if q.Get("limit") != "10" {
			t.Errorf("limit param = %q, want %q", q.Get("limit"), "10")
		}
		apiHandler(subs, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Review.Submissions(context.Background(), SubmissionsQuery{Status: "submitted", Limit: 10})

	if err != nil {
		t.Fatalf("Submissions() error = %v", err)
	}

	if len(result) != 1 {
		t.Fatalf("len(result) = %d, want 1", len(result))
	}

	if result[0].Comments[0].Comment != "typo" {
		t.Errorf("Comments[0].Comment = %q, want %q", result[0].Comments[0].Comment, "typo")
	}
}

func TestReviewClient_Claim(t *testing.T) {
	claimed := Submission{ID: "8f2b", Status: "claimed", ClaimedBy: "agent-1"}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/review/submissions/8f2b/claim" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["by"] != "agent-1" {
			t.Errorf("by = %q, want %q", body["by"], "agent-1")
		}

		apiHandler(claimed, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Review.Claim(context.Background(), "8f2b", "agent-1")

	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	if result.ClaimedBy != "agent-1" {
		t.Errorf("ClaimedBy = %q, want %q", result.ClaimedBy, "agent-1")
	}
}

func TestReviewClient_Claim_Conflict(t *testing.T) {
	server := mockServer(t, apiErrorHandler("CONFLICT", "already claimed by agent-1", http.StatusConflict))
	defer server.Close()

	c := New(server.URL)
	_, err := c.Review.Claim(context.Background(), "8f2b", "agent-2")

	if err == nil {
		t.Fatal("expected error, got nil")
	}

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}

	if apiErr.Code != "CONFLICT" {
		t.Errorf("Code = %q, want %q", apiErr.Code, "CONFLICT")
	}
}

func TestReviewClient_Resolve(t *testing.T) {
	resolved := Submission{ID: "8f2b", Status: "resolved", ResolvedBy: "agent-1"}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/review/submissions/8f2b/resolve" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		apiHandler(resolved, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Review.Resolve(context.Background(), "8f2b", "agent-1")

	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if result.Status != "resolved" {
		t.Errorf("Status = %q, want %q", result.Status, "resolved")
	}
}

func TestGitClient_Status(t *testing.T) {
	status := GitStatus{
		Branch:   "main",
		Commit:   "abc1234",
		Clean:    false,
		Modified: []string{"main.go"},
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/git/status" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		apiHandler(status, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Git.Status(context.Background())

	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if result.Branch != "main" {
		t.Errorf("Branch = %q, want %q", result.Branch, "main")
	}

	if len(result.Modified) != 1 {
		t.Errorf("len(Modified) = %d, want 1", len(result.Modified))
	}
}

func TestGitClient_Diff(t *testing.T) {
	diff := GitDiff{
		File: "main.go",
		Diff: "--- a/main.go\n+++ b/main.go\n",
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/git/diff" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("file") != "main.go" {
			t.Errorf("file param = %q, want %q", r.URL.Query().Get("file"), "main.go")
		}
		apiHandler(diff, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Git.Diff(context.Background(), "main.go")

	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}

	if result.File != "main.go" {
		t.Errorf("File = %q, want %q", result.File, "main.go")
	}

	if result.Diff == "" {
		t.Error("Diff is empty")
	}
}

func TestGitClient_Diff_RequiresFile(t *testing.T) {
	c := New("http://localhost:3141")
	_, err := c.Git.Diff(context.Background(), "")

	if err == nil {
		t.Fatal("expected error for empty file")
	}
}

func TestBrainClient_Entries(t *testing.T) {
	entries := []map[string]interface{}{
		{"id": "b1", "tag": "task", "timestamp": "2026-08-20T10:00:00Z", "text": "ship the release", "extra": 42},
		{"id": "b2", "tag": "learning", "text": "tests need -race"},
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/brain" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		apiHandler(entries, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Brain.Entries(context.Background(), "")

	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("len(result) = %d, want 2", len(result))
	}

	if result[0].ID != "b1" || result[0].Tag != "task" {
		t.Errorf("result[0] = %+v, want id b1 tag task", result[0])
	}

	if result[0].Text != "ship the release" {
		t.Errorf("Text = %q, want %q", result[0].Text, "ship the release")
	}

	// Raw preserves fields the typed view drops
	var raw map[string]interface{}
	if err := json.Unmarshal(result[0].Raw, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["extra"] != float64(42) {
		t.Errorf("raw extra = %v, want 42", raw["extra"])
	}
}

func TestBrainClient_Entries_TagFilter(t *testing.T) {
	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tag") != "task" {
			t.Errorf("tag param = %q, want %q", r.URL.Query().Get("tag"), "task")
		}
		apiHandler([]map[string]interface{}{}, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	_, err := c.Brain.Entries(context.Background(), "task")

	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
}

func TestBrainClient_Tasks(t *testing.T) {
	tasks := []map[string]interface{}{
		{"id": "b1", "tag": "task", "text": "ship the release"},
		{"id": "b3", "tag": "reminder", "text": "rotate the token"},
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tasks" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		apiHandler(tasks, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Brain.Tasks(context.Background())

	if err != nil {
		t.Fatalf("Tasks() error = %v", err)
	}

	if len(result) != 2 {
		t.Errorf("len(result) = %d, want 2", len(result))
	}

	if result[1].Tag != "reminder" {
		t.Errorf("result[1].Tag = %q, want %q", result[1].Tag, "reminder")
	}
}

func TestCrashClient_List(t *testing.T) {
	crashes := []CrashSummary{
		{ID: "c1", SessionID: "0196a", PID: 4242, Reason: "exit status 1"},
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/crashes" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		apiHandler(crashes, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Crashes.List(context.Background())

	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if len(result) != 1 {
		t.Fatalf("len(result) = %d, want 1", len(result))
	}

	if result[0].Reason != "exit status 1" {
		t.Errorf("Reason = %q, want %q", result[0].Reason, "exit status 1")
	}
}

func TestCrashClient_Get(t *testing.T) {
	crash := Crash{
		ID:         "c1",
		SessionID:  "0196a",
		PID:        4242,
		Reason:     "exit status 1",
		StderrTail: []string{"panic: boom"},
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/crashes/c1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		apiHandler(crash, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Crashes.Get(context.Background(), "c1")

	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if len(result.StderrTail) != 1 {
		t.Errorf("len(StderrTail) = %d, want 1", len(result.StderrTail))
	}
}

func TestCrashClient_Newest_Empty(t *testing.T) {
	server := mockServer(t, apiHandler(nil, http.StatusOK))
	defer server.Close()

	c := New(server.URL)
	result, err := c.Crashes.Newest(context.Background())

	if err != nil {
		t.Fatalf("Newest() error = %v", err)
	}

	if result != nil {
		t.Errorf("Newest() = %+v, want nil", result)
	}
}

func TestCrashClient_Delete(t *testing.T) {
	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("Method = %s, want DELETE", r.Method)
		}
		if r.URL.Path != "/api/crashes/c1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		apiHandler(nil, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	if err := c.Crashes.Delete(context.Background(), "c1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestCrashClient_Clear(t *testing.T) {
	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("Method = %s, want DELETE", r.Method)
		}
		if r.URL.Path != "/api/crashes" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		apiHandler(nil, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	if err := c.Crashes.Clear(context.Background()); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
}

func TestOpsClient_Status(t *testing.T) {
	status := GatewayStatus{
		Version: "1.2.3",
		Uptime:  "5m0s",
		RPCSessions: []RPCSession{
			{SessionID: "0196a", PID: 4242, Subscribers: 1},
		},
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		apiHandler(status, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	result, err := c.Ops.Status(context.Background())

	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if result.Version != "1.2.3" {
		t.Errorf("Version = %q, want %q", result.Version, "1.2.3")
	}

	if len(result.RPCSessions) != 1 {
		t.Fatalf("len(RPCSessions) = %d, want 1", len(result.RPCSessions))
	}

	if result.RPCSessions[0].PID != 4242 {
		t.Errorf("PID = %d, want 4242", result.RPCSessions[0].PID)
	}
}

func TestOpsClient_Version(t *testing.T) {
	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		apiHandler(map[string]string{"version": "1.2.3"}, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	version, err := c.Ops.Version(context.Background())

	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}

	if version != "1.2.3" {
		t.Errorf("Version() = %q, want %q", version, "1.2.3")
	}
}

func TestOpsClient_Config(t *testing.T) {
	cfg := map[string]interface{}{
		"home": "/home/user/.pi",
		"server": map[string]interface{}{
			"port": 3141,
		},
	}

	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/config" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		apiHandler(cfg, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	raw, err := c.Ops.Config(context.Background())

	if err != nil {
		t.Fatalf("Config() error = %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}

	if parsed["home"] != "/home/user/.pi" {
		t.Errorf("home = %v, want /home/user/.pi", parsed["home"])
	}
}

func TestContextCancellation(t *testing.T) {
	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		apiHandler([]Session{}, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := c.Sessions.List(ctx, ListSessionsOptions{})
	if err == nil {
		t.Error("expected error due to cancelled context")
	}
}

// invalidJSONHandler returns a handler that sends invalid JSON.
func invalidJSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"data": invalid json}`)
	}
}

func TestSessionClient_InvalidJSON(t *testing.T) {
	server := mockServer(t, invalidJSONHandler())
	defer server.Close()

	c := New(server.URL)
	_, err := c.Sessions.List(context.Background(), ListSessionsOptions{})
	if err == nil {
		t.Error("expected error for invalid JSON response")
	}
}

func TestReviewClient_InvalidJSON(t *testing.T) {
	server := mockServer(t, invalidJSONHandler())
	defer server.Close()

	c := New(server.URL)
	_, err := c.Review.Submissions(context.Background(), SubmissionsQuery{})
	if err == nil {
		t.Error("expected error for invalid JSON response")
	}
}

func TestCrashClient_InvalidJSON(t *testing.T) {
	server := mockServer(t, invalidJSONHandler())
	defer server.Close()

	c := New(server.URL)
	_, err := c.Crashes.List(context.Background())
	if err == nil {
		t.Error("expected error for invalid JSON response")
	}
}
