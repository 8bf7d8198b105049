// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package crashes

import "time"

// Crash is one captured agent child crash.
type Crash struct {
	Version     string    `json:"version"`              // Report format version
	ID          string    `json:"id"`                   // Unique crash ID (timestamp-based)
	SessionID   string    `json:"session_id"`           // RPC session the child served
	SessionFile string    `json:"session_file"`         // Session file the child was attached to
	PID         int       `json:"pid"`                  // Child process id
	Timestamp   time.Time `json:"timestamp"`            // When the crash occurred
	Reason      string    `json:"reason"`               // Exit status or signal description
	StderrTail  []string  `json:"stderr_tail,omitempty"` // Last stderr lines before exit
}

// Summary is a minimal representation for listing crashes.
type Summary struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}
