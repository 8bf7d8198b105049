// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// BrainClient provides read-only access to the agent's brain store.
//
// The brain is an append-only NDJSON log the agent maintains; the gateway
// serves the folded view (same-id entries replaced, tombstoned entries
// removed).
type BrainClient struct {
	c *Client
}

// BrainEntry is one folded brain entry. Entries are freeform JSON objects;
// the common fields are lifted out and Raw preserves the full line.
type BrainEntry struct {
	ID        string
	Tag       string
	Timestamp string
	Text      string
	Raw       json.RawMessage
}

// UnmarshalJSON keeps the raw object while extracting the common fields.
func (e *BrainEntry) UnmarshalJSON(data []byte) error {
	var fields struct {
		ID        string `json:"id"`
		Tag       string `json:"tag"`
		Type      string `json:"type"`
		Timestamp string `json:"timestamp"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	e.ID = fields.ID
	e.Tag = fields.Tag
	if e.Tag == "" {
		e.Tag = fields.Type
	}
	e.Timestamp = fields.Timestamp
	e.Text = fields.Text
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON emits the original raw object.
func (e BrainEntry) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	return []byte("null"), nil
}

// Entries returns the folded brain entries, optionally filtered by tag.
// An empty tag returns everything.
func (b *BrainClient) Entries(ctx context.Context, tag string) ([]BrainEntry, error) {
	path := "/api/brain"
	if tag != "" {
		path += "?tag=" + url.QueryEscape(tag)
	}

	data, err := b.c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var entries []BrainEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse brain entries: %w", err)
	}

	return entries, nil
}

// Tasks returns the folded task and reminder entries.
func (b *BrainClient) Tasks(ctx context.Context) ([]BrainEntry, error) {
	data, err := b.c.get(ctx, "/api/tasks")
	if err != nil {
		return nil, err
	}

	var entries []BrainEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse tasks: %w", err)
	}

	return entries, nil
}
