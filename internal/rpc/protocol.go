// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package rpc owns the child agent processes. Each live session file has at
// most one child speaking line-delimited JSON on stdin/stdout; events flow
// through the reliability layer (sequence numbers, replay ring, command
// dedupe) and fan out to subscribers.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Command types the gateway routes on. Everything else passes through opaque.
const (
	CommandPrompt        = "prompt"
	CommandAbort         = "abort"
	CommandGetState      = "get_state"
	CommandSwitchSession = "switch_session"
)

// Event types the gateway inspects or synthesizes.
const (
	EventResponse           = "response"
	EventProcessCrashed     = "rpc_process_crashed"
	EventSessionStopped     = "rpc_session_stopped"
	EventExtensionUIRequest = "extension_ui_request"
)

// Command is an inbound RPC command bound for a child process. Raw holds the
// original object; the gateway forwards it verbatim and routes only on Type
// and ID.
type Command struct {
	Type string
	ID   string
	Raw  json.RawMessage
}

// ParseCommand validates that raw is a JSON object whose type field is a
// non-empty string and extracts the routing fields.
func ParseCommand(raw json.RawMessage) (Command, error) {
	if !gjson.ValidBytes(raw) {
		return Command{}, fmt.Errorf("command is not valid JSON")
	}
	t := gjson.GetBytes(raw, "type")
	if t.Type != gjson.String || t.Str == "" {
		return Command{}, fmt.Errorf("command type must be a string")
	}
	return Command{
		Type: t.Str,
		ID:   gjson.GetBytes(raw, "id").String(),
		Raw:  raw,
	}, nil
}

// SessionFileHint digs a session file path out of a command payload.
// switch_session clients put it under any of a few well-known keys.
func SessionFileHint(raw json.RawMessage) string {
	for _, key := range []string{"sessionFile", "sessionPath", "path"} {
		if v := gjson.GetBytes(raw, key); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// SequencedEvent is a child (or synthesized) event stamped with its
// per-session sequence number.
type SequencedEvent struct {
	Seq   uint64          `json:"seq"`
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event"`
}

// GetStateCommand is the command injected when a socket attaches to an
// already-running session so the client can resync.
func GetStateCommand() json.RawMessage {
	return json.RawMessage(`{"type":"get_state"}`)
}

func abortCommand() json.RawMessage {
	return json.RawMessage(`{"type":"abort"}`)
}

func crashedEvent(message string) json.RawMessage {
	payload, _ := json.Marshal(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{EventProcessCrashed, message})
	return payload
}

func stoppedEvent() json.RawMessage {
	return json.RawMessage(`{"type":"rpc_session_stopped"}`)
}

// ExtensionUIResponse wraps a client's answer to an extension_ui_request so
// it can be written to the child verbatim.
func ExtensionUIResponse(id string, value json.RawMessage) (json.RawMessage, error) {
	if id == "" {
		return nil, fmt.Errorf("extension_ui_response requires an id")
	}
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return json.Marshal(struct {
		Type  string          `json:"type"`
		ID    string          `json:"id"`
		Value json.RawMessage `json:"value"`
	}{"extension_ui_response", id, value})
}
