// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gitops runs git against the active repository for the status and
// diff endpoints and reads the git context file the agent maintains.
package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrBadPath is returned for request paths that are absolute, escape the
// repository, or contain a NUL byte.
var ErrBadPath = errors.New("gitops: bad path")

// Repo runs git commands against a single repository directory.
type Repo struct {
	dir string
}

// NewRepo returns a Repo bound to dir. The directory is not checked here;
// git reports missing or non-repository directories on first use.
func NewRepo(dir string) *Repo {
	return &Repo{dir: dir}
}

// Dir returns the repository directory.
func (r *Repo) Dir() string {
	return r.dir
}

// Status describes the working tree of the repository.
type Status struct {
	Branch    string   `json:"branch,omitempty"`
	Commit    string   `json:"commit,omitempty"`
	Detached  bool     `json:"detached,omitempty"`
	Clean     bool     `json:"clean"`
	Modified  []string `json:"modified,omitempty"`
	Added     []string `json:"added,omitempty"`
	Deleted   []string `json:"deleted,omitempty"`
	Renamed   []string `json:"renamed,omitempty"`
	Untracked []string `json:"untracked,omitempty"`
}

// HasChanges returns true if there are any changes in the working directory.
func (s *Status) HasChanges() bool {
	return len(s.Modified) > 0 || len(s.Added) > 0 ||
		len(s.Deleted) > 0 || len(s.Renamed) > 0 ||
		len(s.Untracked) > 0
}

// Status returns the working-tree status plus the current branch.
func (r *Repo) Status(ctx context.Context) (Status, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return Status{}, err
	}
	status := ParseStatus(out)

	branch, err := r.run(ctx, "branch", "--show-current")
	if err == nil && strings.TrimSpace(branch) != "" {
		status.Branch = strings.TrimSpace(branch)
		return status, nil
	}

	// Detached HEAD has no current branch; report the commit instead.
	commit, err := r.run(ctx, "rev-parse", "--short", "HEAD")
	if err == nil {
		status.Detached = true
		status.Commit = strings.TrimSpace(commit)
	}
	return status, nil
}

// Diff returns the diff for a single repository-relative file. It tries
// unstaged changes first, then staged changes, and finally synthesizes a
// full-add diff for untracked files. Tracked files with no changes and
// paths that do not exist yield an empty diff.
func (r *Repo) Diff(ctx context.Context, file string) (string, error) {
	if err := ValidateRelPath(file); err != nil {
		return "", err
	}

	out, err := r.run(ctx, "diff", "--", file)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) != "" {
		return out, nil
	}

	out, err = r.run(ctx, "diff", "--cached", "--", file)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) != "" {
		return out, nil
	}

	// Tracked and unchanged: nothing to show. The no-index fallback below
	// is only for files git does not know about yet.
	if _, err := r.run(ctx, "ls-files", "--error-unmatch", "--", file); err == nil {
		return "", nil
	}
	if _, err := os.Stat(filepath.Join(r.dir, file)); err != nil {
		return "", nil
	}
	return r.diffNoIndex(ctx, file)
}

// diffNoIndex produces a full-add diff for an untracked file by diffing it
// against /dev/null. git exits 1 when the sides differ, which is the
// expected outcome here.
func (r *Repo) diffNoIndex(ctx context.Context, file string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", r.dir, "diff", "--no-index", "--", "/dev/null", file)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return stdout.String(), nil
		}
		return "", gitError(stderr.String(), err)
	}
	return stdout.String(), nil
}

// run executes git -C <dir> with the given arguments and returns stdout.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-C", r.dir}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", gitError(stderr.String(), err)
	}
	return stdout.String(), nil
}

func gitError(stderr string, err error) error {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// ValidateRelPath rejects request paths that are absolute, escape the
// repository root, or contain a NUL byte. The check is lexical; callers
// join accepted paths against the repository directory.
func ValidateRelPath(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("%w: empty", ErrBadPath)
	case strings.ContainsRune(path, 0):
		return fmt.Errorf("%w: contains NUL", ErrBadPath)
	case filepath.IsAbs(path):
		return fmt.Errorf("%w: absolute", ErrBadPath)
	case !filepath.IsLocal(path):
		return fmt.Errorf("%w: escapes repository", ErrBadPath)
	}
	return nil
}

// ParseStatus parses the output of `git status --porcelain`.
func ParseStatus(output string) Status {
	var status Status

	// Only trim trailing whitespace, not leading (the status indicators
	// include leading spaces).
	output = strings.TrimRight(output, " \t\n\r")
	if output == "" {
		status.Clean = true
		return status
	}

	lines := strings.Split(output, "\n")
	for _, line := range lines {
		if len(line) < 3 {
			continue
		}

		// Porcelain format: XY PATH, where X is the index status and Y the
		// worktree status. Position 2 is a space, position 3+ is the path.
		indicator := line[:2]
		filename := line[3:]

		// Check specific statuses first (A, R) before general contains
		// checks (M, D) so combined statuses like AM or RM classify by
		// their primary letter.
		switch {
		case strings.HasPrefix(indicator, "A"):
			status.Added = append(status.Added, filename)
		case strings.HasPrefix(indicator, "R"):
			status.Renamed = append(status.Renamed, filename)
		case indicator == "??":
			status.Untracked = append(status.Untracked, filename)
		case strings.Contains(indicator, "D"):
			status.Deleted = append(status.Deleted, filename)
		case strings.Contains(indicator, "M"):
			status.Modified = append(status.Modified, filename)
		}
	}

	status.Clean = !status.HasChanges()
	return status
}
