// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package crashes keeps an on-disk journal of agent child crashes, one JSON
// report per crash under the rho home directory.
package crashes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wingedpig/rho/internal/rpc"
)

const (
	crashReportVersion = "1.0"
	// crashIDLayout is the timestamp prefix of report filenames.
	crashIDLayout = "20060102-150405.000"
)

// Config holds configuration for crash storage.
type Config struct {
	ReportsDir string        // Directory to store crash files
	MaxAge     time.Duration // Max age of crashes to keep
	MaxCount   int           // Max number of crashes to keep
}

// Journal handles crash capture and storage.
type Journal struct {
	mu     sync.RWMutex
	config Config
}

// NewJournal creates a crash journal, creating the reports directory if
// needed.
func NewJournal(cfg Config) (*Journal, error) {
	if cfg.ReportsDir == "" {
		return nil, fmt.Errorf("crashes: reports directory required")
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 7 * 24 * time.Hour
	}
	if cfg.MaxCount == 0 {
		cfg.MaxCount = 100
	}

	if err := os.MkdirAll(cfg.ReportsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create crashes directory: %w", err)
	}

	return &Journal{config: cfg}, nil
}

// Record captures a child crash reported by the RPC manager. It is the
// manager's OnCrash hook.
func (j *Journal) Record(info rpc.CrashInfo) {
	at := info.At
	if at.IsZero() {
		at = time.Now()
	}

	crash := Crash{
		Version:     crashReportVersion,
		ID:          generateCrashID(at, info.SessionID),
		SessionID:   info.SessionID,
		SessionFile: info.SessionFile,
		PID:         info.PID,
		Timestamp:   at,
		Reason:      info.Reason,
		StderrTail:  info.StderrTail,
	}

	if err := j.Save(crash); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save crash: %v\n", err)
	}

	j.cleanup()
}

// generateCrashID builds a unique id from the crash time plus a session
// fragment, so simultaneous crashes never collide on filename.
func generateCrashID(at time.Time, sessionID string) string {
	id := at.Format(crashIDLayout)
	if len(sessionID) >= 8 {
		id += "-" + sessionID[:8]
	} else if sessionID != "" {
		id += "-" + sessionID
	}
	return id
}

// Save writes a crash report to disk.
func (j *Journal) Save(crash Crash) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	filename := filepath.Join(j.config.ReportsDir, crash.ID+".json")
	data, err := json.MarshalIndent(crash, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal crash: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write crash file: %w", err)
	}

	return nil
}

// List returns all crashes, sorted by timestamp (newest first).
func (j *Journal) List() ([]Summary, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	entries, err := os.ReadDir(j.config.ReportsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read crashes directory: %w", err)
	}

	var summaries []Summary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		crash, err := j.loadCrash(entry.Name())
		if err != nil {
			continue
		}

		summaries = append(summaries, Summary{
			ID:        crash.ID,
			SessionID: crash.SessionID,
			PID:       crash.PID,
			Timestamp: crash.Timestamp,
			Reason:    crash.Reason,
		})
	}

	sort.Slice(summaries, func(i, k int) bool {
		return summaries[i].Timestamp.After(summaries[k].Timestamp)
	})

	return summaries, nil
}

// Get retrieves a specific crash by ID.
func (j *Journal) Get(id string) (*Crash, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.loadCrash(id + ".json")
}

// Newest returns the most recent crash, or nil when the journal is empty.
func (j *Journal) Newest() (*Crash, error) {
	summaries, err := j.List()
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, nil
	}

	return j.Get(summaries[0].ID)
}

// Delete removes a crash by ID.
func (j *Journal) Delete(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	filename := filepath.Join(j.config.ReportsDir, id+".json")
	if err := os.Remove(filename); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("crash not found: %s", id)
		}
		return fmt.Errorf("failed to delete crash: %w", err)
	}
	return nil
}

// Clear removes all crashes.
func (j *Journal) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := os.ReadDir(j.config.ReportsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read crashes directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		os.Remove(filepath.Join(j.config.ReportsDir, entry.Name()))
	}

	return nil
}

// loadCrash loads a crash from disk.
func (j *Journal) loadCrash(filename string) (*Crash, error) {
	data, err := os.ReadFile(filepath.Join(j.config.ReportsDir, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read crash file: %w", err)
	}

	var crash Crash
	if err := json.Unmarshal(data, &crash); err != nil {
		return nil, fmt.Errorf("failed to unmarshal crash: %w", err)
	}

	return &crash, nil
}

// cleanup removes old crashes based on age and count limits.
func (j *Journal) cleanup() {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := os.ReadDir(j.config.ReportsDir)
	if err != nil {
		return
	}

	type crashFile struct {
		name      string
		timestamp time.Time
	}

	var files []crashFile
	cutoff := time.Now().Add(-j.config.MaxAge)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		// Filenames start with the timestamp prefix; the session fragment
		// after it does not take part in age sorting.
		idPart := strings.TrimSuffix(entry.Name(), ".json")
		if len(idPart) < len(crashIDLayout) {
			continue
		}
		ts, err := time.ParseInLocation(crashIDLayout, idPart[:len(crashIDLayout)], time.Local)
		if err != nil {
			continue
		}

		if ts.Before(cutoff) {
			os.Remove(filepath.Join(j.config.ReportsDir, entry.Name()))
			continue
		}

		files = append(files, crashFile{name: entry.Name(), timestamp: ts})
	}

	sort.Slice(files, func(i, k int) bool {
		return files[i].timestamp.After(files[k].timestamp)
	})

	if len(files) > j.config.MaxCount {
		for _, f := range files[j.config.MaxCount:] {
			os.Remove(filepath.Join(j.config.ReportsDir, f.name))
		}
	}
}
