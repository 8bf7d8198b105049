// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// rho-ctl is a command-line tool for controlling a running rho gateway.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wingedpig/rho/pkg/client"
)

var (
	version    = "0.9"
	apiURL     = "http://localhost:3141"
	jsonOutput = false

	// API client instance
	apiClient *client.Client
)

func main() {
	// Check for RHO_API environment variable
	if env := os.Getenv("RHO_API"); env != "" {
		apiURL = strings.TrimSuffix(env, "/")
	}

	// Parse global flags and filter them out
	var filteredArgs []string
	for _, arg := range os.Args[1:] {
		if arg == "-json" {
			jsonOutput = true
		} else {
			filteredArgs = append(filteredArgs, arg)
		}
	}

	// Initialize API client
	apiClient = client.New(apiURL)

	if len(filteredArgs) < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd := filteredArgs[0]
	args := filteredArgs[1:]

	var err error
	switch cmd {
	case "sessions":
		err = cmdSessions(args)
	case "review":
		err = cmdReview(args)
	case "crash":
		err = cmdCrash(args)
	case "git":
		err = cmdGit(args)
	case "brain":
		err = cmdBrain(args)
	case "tasks":
		err = cmdTasks(args)
	case "status":
		err = cmdStatus(args)
	case "version", "-v", "--version":
		fmt.Printf("rho-ctl %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`rho-ctl - Control a running rho gateway

Usage:
  rho-ctl [-json] <command> [arguments]

Global Flags:
  -json          Output in JSON format

Environment:
  RHO_API        Base URL of rho API (default: http://localhost:3141)

Commands:
  sessions list [options]     List session files, newest first
    -cwd <dir>                Only sessions for this working directory
    -n N                      Page size (default: 50)
    -offset N                 Skip the newest N sessions
  sessions show <id>          Show a session transcript
  sessions new [cwd]          Create a new session file (default: current directory)
  sessions fork <id> [entry]  Fork a session at a fork point (default: last)

  review submissions [options]  List review submissions
    -status <s>               Filter: open, submitted, cancelled, claimed, resolved
    -claimed-by <agent>       Filter by claiming agent
    -n N                      Limit the number of records
  review show <id>            Show a submission with its comments
  review claim <id> <agent>   Claim a submitted review
  review resolve <id> [agent] Resolve a claimed review
  review sessions             List live review sessions

  crash list                  List all agent crashes
  crash newest                Get the most recent crash
  crash <id>                  Get a specific crash by ID
  crash delete <id>           Delete a crash by ID
  crash clear                 Clear all crashes

  git status                  Show the gateway's git working tree
  git diff <file>             Show the working-tree diff for a file

  brain [-tag <tag>]          Show brain entries
  tasks                       Show open tasks and reminders

  status                      Show gateway status
  version                     Show version
  help                        Show this help`)
}

// printJSON outputs any value as formatted JSON
func printJSON(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

// truncate shortens s to max characters with an ellipsis.
func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}

func cmdSessions(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rho-ctl sessions <list|show|new|fork> [args]")
	}

	subcmd := args[0]
	subargs := args[1:]

	switch subcmd {
	case "list":
		return cmdSessionsList(subargs)
	case "show":
		return cmdSessionsShow(subargs)
	case "new":
		return cmdSessionsNew(subargs)
	case "fork":
		return cmdSessionsFork(subargs)
	default:
		return fmt.Errorf("unknown sessions subcommand: %s", subcmd)
	}
}

func cmdSessionsList(args []string) error {
	opts := client.ListSessionsOptions{Limit: 50}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-cwd" && i+1 < len(args):
			i++
			opts.CWD = args[i]
		case arg == "-n" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid value for -n: %s", args[i])
			}
			opts.Limit = n
		case arg == "-offset" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid value for -offset: %s", args[i])
			}
			opts.Offset = n
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	ctx := context.Background()
	sessions, err := apiClient.Sessions.List(ctx, opts)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(sessions)
		return nil
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return nil
	}

	fmt.Printf("%-16s %-6s %-30s %s\n", "ID", "MSGS", "CWD", "FIRST PROMPT")
	fmt.Println(strings.Repeat("-", 90))
	for _, s := range sessions {
		fmt.Printf("%-16s %-6d %-30s %s\n",
			truncate(s.ID, 16),
			s.MessageCount,
			truncate(s.CWD, 30),
			truncate(s.FirstPrompt, 40),
		)
	}

	return nil
}

func cmdSessionsShow(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rho-ctl sessions show <id>")
	}

	ctx := context.Background()
	detail, err := apiClient.Sessions.Get(ctx, args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(detail)
		return nil
	}

	fmt.Printf("Session: %s\n", detail.Header.ID)
	if detail.Name != "" {
		fmt.Printf("  Name: %s\n", detail.Name)
	}
	fmt.Printf("  File: %s\n", detail.Path)
	if detail.Header.CWD != "" {
		fmt.Printf("  CWD: %s\n", detail.Header.CWD)
	}
	if detail.Header.ParentSession != "" {
		fmt.Printf("  Forked from: %s\n", detail.Header.ParentSession)
	}
	fmt.Printf("  Messages: %d\n", detail.Stats.MessageCount)
	if detail.Stats.Usage.Total > 0 {
		fmt.Printf("  Tokens: %d in, %d out (cost: $%.4f)\n",
			detail.Stats.Usage.Input, detail.Stats.Usage.Output, detail.Stats.Usage.Cost)
	}
	fmt.Println()

	if len(detail.Messages) > 0 {
		fmt.Println("Transcript:")
		for _, m := range detail.Messages {
			text := strings.ReplaceAll(m.Text, "\n", " ")
			fmt.Printf("  %-10s %s\n", "["+m.Role+"]", truncate(text, 100))
		}
		fmt.Println()
	}

	if len(detail.ForkPoints) > 0 {
		fmt.Println("Fork Points:")
		for _, fp := range detail.ForkPoints {
			text := strings.ReplaceAll(fp.Text, "\n", " ")
			fmt.Printf("  %-16s %s\n", fp.EntryID, truncate(text, 70))
		}
	}

	return nil
}

func cmdSessionsNew(args []string) error {
	cwd := ""
	if len(args) > 0 {
		cwd = args[0]
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("cannot determine working directory: %w", err)
		}
		cwd = wd
	}

	ctx := context.Background()
	sess, err := apiClient.Sessions.New(ctx, cwd)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(sess)
		return nil
	}

	fmt.Printf("Created session %s\n", sess.ID)
	fmt.Printf("  File: %s\n", sess.Path)
	return nil
}

func cmdSessionsFork(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rho-ctl sessions fork <id> [entry]")
	}

	id := args[0]
	entryID := ""
	if len(args) > 1 {
		entryID = args[1]
	}

	ctx := context.Background()
	sess, err := apiClient.Sessions.Fork(ctx, id, entryID)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(sess)
		return nil
	}

	fmt.Printf("Forked %s into %s\n", id, sess.ID)
	fmt.Printf("  File: %s\n", sess.Path)
	return nil
}

func cmdReview(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rho-ctl review <submissions|show|claim|resolve|sessions> [args]")
	}

	subcmd := args[0]
	subargs := args[1:]

	switch subcmd {
	case "submissions":
		return cmdReviewSubmissions(subargs)
	case "show":
		return cmdReviewShow(subargs)
	case "claim":
		return cmdReviewClaim(subargs)
	case "resolve":
		return cmdReviewResolve(subargs)
	case "sessions":
		return cmdReviewSessions()
	default:
		return fmt.Errorf("unknown review subcommand: %s", subcmd)
	}
}

func cmdReviewSubmissions(args []string) error {
	var query client.SubmissionsQuery

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-status" && i+1 < len(args):
			i++
			query.Status = args[i]
		case arg == "-claimed-by" && i+1 < len(args):
			i++
			query.ClaimedBy = args[i]
		case arg == "-n" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid value for -n: %s", args[i])
			}
			query.Limit = n
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	ctx := context.Background()
	subs, err := apiClient.Review.Submissions(ctx, query)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(subs)
		return nil
	}

	if len(subs) == 0 {
		fmt.Println("No submissions found")
		return nil
	}

	fmt.Printf("%-14s %-10s %-6s %-9s %-12s %s\n", "ID", "STATUS", "FILES", "COMMENTS", "CLAIMED BY", "CREATED")
	fmt.Println(strings.Repeat("-", 80))
	for _, s := range subs {
		claimedBy := s.ClaimedBy
		if claimedBy == "" {
			claimedBy = "-"
		}
		fmt.Printf("%-14s %-10s %-6d %-9d %-12s %s\n",
			truncate(s.ID, 14),
			s.Status,
			len(s.Files),
			len(s.Comments),
			truncate(claimedBy, 12),
			s.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	return nil
}

func cmdReviewShow(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rho-ctl review show <id>")
	}

	ctx := context.Background()
	sub, err := apiClient.Review.GetSubmission(ctx, args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(sub)
		return nil
	}

	fmt.Printf("Review: %s\n", sub.ID)
	fmt.Printf("  Status: %s\n", sub.Status)
	if sub.Message != "" {
		fmt.Printf("  Message: %s\n", sub.Message)
	}
	if sub.ClaimedBy != "" {
		fmt.Printf("  Claimed by: %s\n", sub.ClaimedBy)
	}
	if sub.ResolvedBy != "" {
		fmt.Printf("  Resolved by: %s\n", sub.ResolvedBy)
	}
	fmt.Printf("  Created: %s\n", sub.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Println()

	if len(sub.Files) > 0 {
		fmt.Println("Files:")
		for _, f := range sub.Files {
			fmt.Printf("  %s\n", f.Path)
		}
		fmt.Println()
	}

	if len(sub.Warnings) > 0 {
		fmt.Println("Warnings:")
		for _, w := range sub.Warnings {
			fmt.Printf("  %s\n", w)
		}
		fmt.Println()
	}

	if len(sub.Comments) > 0 {
		fmt.Println("Comments:")
		for _, c := range sub.Comments {
			lines := strconv.Itoa(c.StartLine)
			if c.EndLine > c.StartLine {
				lines += "-" + strconv.Itoa(c.EndLine)
			}
			fmt.Printf("  %s:%s\n", c.File, lines)
			if c.SelectedText != "" {
				fmt.Printf("    > %s\n", truncate(strings.ReplaceAll(c.SelectedText, "\n", " "), 80))
			}
			fmt.Printf("    %s\n", c.Comment)
		}
	}

	return nil
}

func cmdReviewClaim(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: rho-ctl review claim <id> <agent>")
	}

	ctx := context.Background()
	sub, err := apiClient.Review.Claim(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(sub)
		return nil
	}

	fmt.Printf("Claimed %s for %s\n", sub.ID, sub.ClaimedBy)
	return nil
}

func cmdReviewResolve(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rho-ctl review resolve <id> [agent]")
	}

	by := ""
	if len(args) > 1 {
		by = args[1]
	}

	ctx := context.Background()
	sub, err := apiClient.Review.Resolve(ctx, args[0], by)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(sub)
		return nil
	}

	fmt.Printf("Resolved %s\n", sub.ID)
	return nil
}

func cmdReviewSessions() error {
	ctx := context.Background()
	sessions, err := apiClient.Review.Sessions(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(sessions)
		return nil
	}

	if len(sessions) == 0 {
		fmt.Println("No live review sessions")
		return nil
	}

	fmt.Printf("%-14s %-6s %-6s %-4s %-6s %s\n", "ID", "FILES", "TOOL", "UI", "DONE", "CREATED")
	fmt.Println(strings.Repeat("-", 60))
	for _, s := range sessions {
		done := "-"
		if s.Done {
			done = "yes"
			if s.Cancelled {
				done = "cancel"
			}
		}
		fmt.Printf("%-14s %-6d %-6d %-4d %-6s %s\n",
			truncate(s.ID, 14),
			s.FileCount,
			s.ToolSockets,
			s.UISockets,
			done,
			s.CreatedAt.Format("15:04:05"),
		)
	}

	return nil
}

func cmdCrash(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rho-ctl crash <list|newest|delete|clear|id>")
	}

	subcmd := args[0]
	subargs := args[1:]

	switch subcmd {
	case "list":
		return cmdCrashList()
	case "newest":
		return cmdCrashNewest()
	case "delete":
		return cmdCrashDelete(subargs)
	case "clear":
		return cmdCrashClear()
	default:
		// Treat as crash ID
		return cmdCrashGet(subcmd)
	}
}

func cmdCrashList() error {
	ctx := context.Background()
	crashes, err := apiClient.Crashes.List(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(crashes)
		return nil
	}

	if len(crashes) == 0 {
		fmt.Println("No crashes recorded")
		return nil
	}

	fmt.Printf("%-25s %-16s %-8s %-20s %s\n", "ID", "SESSION", "PID", "TIME", "REASON")
	fmt.Println(strings.Repeat("-", 100))
	for _, c := range crashes {
		fmt.Printf("%-25s %-16s %-8d %-20s %s\n",
			truncate(c.ID, 25),
			truncate(c.SessionID, 16),
			c.PID,
			c.Timestamp.Format("2006-01-02 15:04:05"),
			truncate(c.Reason, 30),
		)
	}

	return nil
}

func cmdCrashNewest() error {
	ctx := context.Background()
	crash, err := apiClient.Crashes.Newest(ctx)
	if err != nil {
		return err
	}

	if crash == nil {
		if jsonOutput {
			printJSON(nil)
			return nil
		}
		fmt.Println("No crashes recorded")
		return nil
	}

	if jsonOutput {
		printJSON(crash)
		return nil
	}

	printCrashDetail(crash)
	return nil
}

func cmdCrashGet(id string) error {
	ctx := context.Background()
	crash, err := apiClient.Crashes.Get(ctx, id)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(crash)
		return nil
	}

	printCrashDetail(crash)
	return nil
}

func cmdCrashDelete(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rho-ctl crash delete <id>")
	}

	ctx := context.Background()
	id := args[0]
	if err := apiClient.Crashes.Delete(ctx, id); err != nil {
		return err
	}

	if !jsonOutput {
		fmt.Printf("Deleted crash: %s\n", id)
	}

	return nil
}

func cmdCrashClear() error {
	ctx := context.Background()
	if err := apiClient.Crashes.Clear(ctx); err != nil {
		return err
	}

	if !jsonOutput {
		fmt.Println("Cleared all crashes")
	}

	return nil
}

func printCrashDetail(crash *client.Crash) {
	fmt.Printf("Crash: %s\n", crash.ID)
	fmt.Printf("  Session: %s\n", crash.SessionID)
	if crash.SessionFile != "" {
		fmt.Printf("  File: %s\n", crash.SessionFile)
	}
	fmt.Printf("  PID: %d\n", crash.PID)
	fmt.Printf("  Timestamp: %s\n", crash.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Reason: %s\n", crash.Reason)

	if len(crash.StderrTail) > 0 {
		fmt.Println()
		fmt.Println("Stderr:")
		for _, line := range crash.StderrTail {
			fmt.Printf("  %s\n", line)
		}
	}
}

func cmdGit(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rho-ctl git <status|diff> [args]")
	}

	subcmd := args[0]
	subargs := args[1:]

	switch subcmd {
	case "status":
		return cmdGitStatus()
	case "diff":
		return cmdGitDiff(subargs)
	default:
		return fmt.Errorf("unknown git subcommand: %s", subcmd)
	}
}

func cmdGitStatus() error {
	ctx := context.Background()
	status, err := apiClient.Git.Status(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(status)
		return nil
	}

	branch := status.Branch
	if status.Detached {
		branch = "(detached)"
	}
	fmt.Printf("Branch: %s\n", branch)
	fmt.Printf("Commit: %s\n", status.Commit)

	if status.Clean {
		fmt.Println("Working tree clean")
		return nil
	}

	printFileList := func(label string, files []string) {
		if len(files) == 0 {
			return
		}
		fmt.Printf("%s:\n", label)
		for _, f := range files {
			fmt.Printf("  %s\n", f)
		}
	}

	printFileList("Modified", status.Modified)
	printFileList("Added", status.Added)
	printFileList("Deleted", status.Deleted)
	printFileList("Renamed", status.Renamed)
	printFileList("Untracked", status.Untracked)

	return nil
}

func cmdGitDiff(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: rho-ctl git diff <file>")
	}

	ctx := context.Background()
	diff, err := apiClient.Git.Diff(ctx, args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(diff)
		return nil
	}

	if diff.Diff == "" {
		fmt.Printf("No changes in %s\n", diff.File)
		return nil
	}

	fmt.Print(diff.Diff)
	if !strings.HasSuffix(diff.Diff, "\n") {
		fmt.Println()
	}

	return nil
}

func cmdBrain(args []string) error {
	tag := ""
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-tag" && i+1 < len(args):
			i++
			tag = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	ctx := context.Background()
	entries, err := apiClient.Brain.Entries(ctx, tag)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(entries)
		return nil
	}

	printBrainEntries(entries)
	return nil
}

func cmdTasks(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("usage: rho-ctl tasks")
	}

	ctx := context.Background()
	entries, err := apiClient.Brain.Tasks(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(entries)
		return nil
	}

	printBrainEntries(entries)
	return nil
}

func printBrainEntries(entries []client.BrainEntry) {
	if len(entries) == 0 {
		fmt.Println("No entries found")
		return
	}

	fmt.Printf("%-14s %-10s %-20s %s\n", "ID", "TAG", "TIME", "TEXT")
	fmt.Println(strings.Repeat("-", 90))
	for _, e := range entries {
		ts := e.Timestamp
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			ts = t.Format("2006-01-02 15:04")
		}
		text := strings.ReplaceAll(e.Text, "\n", " ")
		fmt.Printf("%-14s %-10s %-20s %s\n",
			truncate(e.ID, 14),
			truncate(e.Tag, 10),
			ts,
			truncate(text, 50),
		)
	}
}

func cmdStatus(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("usage: rho-ctl status")
	}

	ctx := context.Background()
	status, err := apiClient.Ops.Status(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(status)
		return nil
	}

	fmt.Printf("rho %s, up %s\n", status.Version, status.Uptime)
	fmt.Println()

	if len(status.RPCSessions) == 0 {
		fmt.Println("No live agent sessions")
	} else {
		fmt.Printf("%-16s %-8s %-6s %s\n", "SESSION", "PID", "SUBS", "STARTED")
		fmt.Println(strings.Repeat("-", 50))
		for _, s := range status.RPCSessions {
			fmt.Printf("%-16s %-8d %-6d %s\n",
				truncate(s.SessionID, 16),
				s.PID,
				s.Subscribers,
				s.StartedAt.Format("15:04:05"),
			)
		}
	}

	if len(status.ReviewSessions) > 0 {
		fmt.Println()
		fmt.Printf("%d live review session(s)\n", len(status.ReviewSessions))
	}

	return nil
}
