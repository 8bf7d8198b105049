// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// ReviewClient provides access to the review flow.
//
// A review carries file snapshots from a tool to a browser UI; the UI
// submits line comments (or cancels), and the terminal result is stored
// durably as a submission.
//
// Access this client through [Client.Review]:
//
//	created, err := client.Review.Create(ctx, files, "please review")
type ReviewClient struct {
	c *Client
}

// ReviewFile is one file snapshot in a review.
type ReviewFile struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

// ReviewComment is one line comment from a submitted review. Line numbers
// are 1-based.
type ReviewComment struct {
	File         string `json:"file"`
	StartLine    int    `json:"startLine"`
	EndLine      int    `json:"endLine"`
	SelectedText string `json:"selectedText,omitempty"`
	Comment      string `json:"comment"`
}

// ReviewCreated is the response to creating a review session.
type ReviewCreated struct {
	ID       string   `json:"id"`
	Token    string   `json:"token"`
	URL      string   `json:"url"`
	Warnings []string `json:"warnings,omitempty"`
}

// ReviewStatus describes one live review session.
type ReviewStatus struct {
	ID          string    `json:"id"`
	Message     string    `json:"message,omitempty"`
	FileCount   int       `json:"fileCount"`
	Done        bool      `json:"done"`
	Cancelled   bool      `json:"cancelled,omitempty"`
	ToolSockets int       `json:"toolSockets"`
	UISockets   int       `json:"uiSockets"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Submission is a durable review record.
type Submission struct {
	ID         string          `json:"id"`
	Message    string          `json:"message,omitempty"`
	Files      []ReviewFile    `json:"files"`
	Warnings   []string        `json:"warnings,omitempty"`
	Status     string          `json:"status"`
	Comments   []ReviewComment `json:"comments,omitempty"`
	ClaimedBy  string          `json:"claimedBy,omitempty"`
	ResolvedBy string          `json:"resolvedBy,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// SubmissionsQuery filters submission listings.
type SubmissionsQuery struct {
	// Status filters by lifecycle state: open, submitted, cancelled,
	// claimed, or resolved.
	Status string

	// ClaimedBy filters to submissions claimed by this agent.
	ClaimedBy string

	// Limit caps the number of records returned.
	Limit int
}

// Create opens a review session over pre-supplied file snapshots and
// returns the join credentials for the UI.
func (r *ReviewClient) Create(ctx context.Context, files []ReviewFile, message string) (*ReviewCreated, error) {
	body := map[string]interface{}{
		"files": files,
	}
	if message != "" {
		body["message"] = message
	}

	data, err := r.c.postJSON(ctx, "/api/review", body)
	if err != nil {
		return nil, err
	}

	var created ReviewCreated
	if err := json.Unmarshal(data, &created); err != nil {
		return nil, fmt.Errorf("failed to parse review: %w", err)
	}

	return &created, nil
}

// FromGit opens a review session by snapshotting the named files from the
// current git context directory on the server.
func (r *ReviewClient) FromGit(ctx context.Context, files []string, message string) (*ReviewCreated, error) {
	body := map[string]interface{}{
		"files": files,
	}
	if message != "" {
		body["message"] = message
	}

	data, err := r.c.postJSON(ctx, "/api/review/from-git", body)
	if err != nil {
		return nil, err
	}

	var created ReviewCreated
	if err := json.Unmarshal(data, &created); err != nil {
		return nil, fmt.Errorf("failed to parse review: %w", err)
	}

	return &created, nil
}

// Sessions returns the live review sessions on the bus.
func (r *ReviewClient) Sessions(ctx context.Context) ([]ReviewStatus, error) {
	data, err := r.c.get(ctx, "/api/review/sessions")
	if err != nil {
		return nil, err
	}

	var sessions []ReviewStatus
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("failed to parse review sessions: %w", err)
	}

	return sessions, nil
}

// Submissions returns durable review records matching the query.
func (r *ReviewClient) Submissions(ctx context.Context, q SubmissionsQuery) ([]Submission, error) {
	path := "/api/review/submissions"

	params := url.Values{}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.ClaimedBy != "" {
		params.Set("claimedBy", q.ClaimedBy)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	data, err := r.c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var subs []Submission
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("failed to parse submissions: %w", err)
	}

	return subs, nil
}

// GetSubmission retrieves one durable review record by id.
func (r *ReviewClient) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	data, err := r.c.get(ctx, "/api/review/submissions/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	var sub Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to parse submission: %w", err)
	}

	return &sub, nil
}

// Claim marks a submitted review as being worked by the named agent.
// Claiming an already-claimed submission returns a CONFLICT error.
func (r *ReviewClient) Claim(ctx context.Context, id, by string) (*Submission, error) {
	data, err := r.c.postJSON(ctx, "/api/review/submissions/"+url.PathEscape(id)+"/claim", map[string]string{"by": by})
	if err != nil {
		return nil, err
	}

	var sub Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to parse submission: %w", err)
	}

	return &sub, nil
}

// Resolve marks a claimed review as addressed.
func (r *ReviewClient) Resolve(ctx context.Context, id, by string) (*Submission, error) {
	body := map[string]string{}
	if by != "" {
		body["by"] = by
	}

	data, err := r.c.postJSON(ctx, "/api/review/submissions/"+url.PathEscape(id)+"/resolve", body)
	if err != nil {
		return nil, err
	}

	var sub Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to parse submission: %w", err)
	}

	return &sub, nil
}
