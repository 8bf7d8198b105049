// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package review

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/rho/internal/gitops"
)

const (
	// DefaultMaxFileBytes caps a single review snapshot.
	DefaultMaxFileBytes = 512000
	// binarySniffLen is how much of a file the binary heuristic inspects.
	binarySniffLen = 8192
	// snapshotReaders bounds concurrent file reads.
	snapshotReaders = 8
)

// SnapshotFiles reads repository-relative paths into review snapshots.
// Paths that are invalid, unreadable, oversized, or binary are skipped with
// a warning; the remaining snapshots keep the input order. maxBytes <= 0
// uses the default cap.
func SnapshotFiles(ctx context.Context, dir string, paths []string, maxBytes int) ([]FileSnapshot, []string) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}

	type slot struct {
		snap    *FileSnapshot
		warning string
	}
	slots := make([]slot, len(paths))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(snapshotReaders)
	for i, path := range paths {
		g.Go(func() error {
			if err := gitops.ValidateRelPath(path); err != nil {
				slots[i].warning = fmt.Sprintf("Skipped: %s (bad path)", path)
				return nil
			}
			data, err := os.ReadFile(filepath.Join(dir, path))
			if err != nil {
				slots[i].warning = fmt.Sprintf("Skipped: %s (unreadable)", path)
				return nil
			}
			if warning := guard(path, data, maxBytes); warning != "" {
				slots[i].warning = warning
				return nil
			}
			slots[i].snap = &FileSnapshot{
				Path:     path,
				Content:  string(data),
				Language: DetectLanguage(path),
			}
			return nil
		})
	}
	_ = g.Wait()

	files := make([]FileSnapshot, 0, len(paths))
	var warnings []string
	for _, s := range slots {
		if s.snap != nil {
			files = append(files, *s.snap)
		}
		if s.warning != "" {
			warnings = append(warnings, s.warning)
		}
	}
	return files, warnings
}

// GuardSnapshots applies the size and binary guards to pre-supplied
// snapshots, for tool-initiated reviews that carry their own content.
// Language is filled in when the caller left it empty.
func GuardSnapshots(files []FileSnapshot, maxBytes int) ([]FileSnapshot, []string) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}

	kept := make([]FileSnapshot, 0, len(files))
	var warnings []string
	for _, f := range files {
		if f.Path == "" {
			warnings = append(warnings, "Skipped: snapshot with empty path")
			continue
		}
		if warning := guard(f.Path, []byte(f.Content), maxBytes); warning != "" {
			warnings = append(warnings, warning)
			continue
		}
		if f.Language == "" {
			f.Language = DetectLanguage(f.Path)
		}
		kept = append(kept, f)
	}
	return kept, warnings
}

// guard returns a warning string when content trips the size or binary
// heuristics, empty otherwise.
func guard(path string, data []byte, maxBytes int) string {
	if len(data) > maxBytes {
		return fmt.Sprintf("Skipped: %s (file too large)", path)
	}
	sniff := data
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return fmt.Sprintf("Skipped: %s (binary file)", path)
	}
	return ""
}

// languageByExt maps file extensions to the language names the review UI's
// highlighter understands.
var languageByExt = map[string]string{
	".go":    "go",
	".ts":    "typescript",
	".tsx":   "typescript",
	".js":    "javascript",
	".jsx":   "javascript",
	".py":    "python",
	".rs":    "rust",
	".rb":    "ruby",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".scss":  "scss",
	".json":  "json",
	".jsonl": "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".md":    "markdown",
	".swift": "swift",
	".kt":    "kotlin",
	".php":   "php",
	".lua":   "lua",
	".zig":   "zig",
	".proto": "protobuf",
}

// DetectLanguage guesses a highlighter language from the file extension.
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	switch filepath.Base(path) {
	case "Makefile", "makefile":
		return "makefile"
	case "Dockerfile":
		return "dockerfile"
	}
	return "plaintext"
}
