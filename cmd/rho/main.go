// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wingedpig/rho/internal/app"
)

var (
	version = "0.9"
)

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Parse flags
	var (
		configPath  string
		host        string
		port        int
		showVersion bool
		debug       bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&host, "host", "", "HTTP server host (overrides config)")
	flag.IntVar(&port, "port", 0, "HTTP server port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.BoolVar(&debug, "debug", false, "Enable debug mode")
	flag.Parse()

	if showVersion {
		fmt.Printf("rho %s\n", version)
		os.Exit(0)
	}

	// Create and run app
	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Host:       host,
		Port:       port,
		Debug:      debug,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	ctx := context.Background()
	if err := application.Run(ctx); err != nil {
		log.Fatalf("App error: %v", err)
	}
}

// runInit handles the "rho init" command
func runInit() error {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	showHelp := initFlags.Bool("help", false, "Show help for init command")
	initFlags.BoolVar(showHelp, "h", false, "Show help for init command")
	initFlags.Parse(os.Args[2:])

	if *showHelp {
		fmt.Println(`Usage: rho init [options]

Create a new rho.hjson configuration file in the current directory.

This command walks you through setting up a rho configuration with
interactive prompts. The generated file is fully commented to help you
understand and customize all available options.

Options:
  -h, -help    Show this help message

The command will ask about:
  - Rho home directory (session files, crash reports, review store)
  - Server port (defaults to 3141)
  - Agent command (the child process spawned per session)

Examples:
  rho init              Create config with interactive prompts

After running init:
  1. Review and edit rho.hjson as needed
  2. Run: ./rho
  3. Connect a UI to ws://localhost:3141/ws`)
		return nil
	}

	configFile := "rho.hjson"

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use a different directory", configFile)
	}

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Rho Configuration Setup")
	fmt.Println("=======================")
	fmt.Println()
	fmt.Println("This will create a rho.hjson configuration file in the current directory.")
	fmt.Println("Press Enter to accept defaults shown in [brackets].")
	fmt.Println()

	defaultHome := ".pi"
	if home, err := os.UserHomeDir(); err == nil {
		defaultHome = filepath.Join(home, ".pi")
	}

	// Question 1: Home directory
	rhoHome := prompt(reader, "Rho home directory", defaultHome)

	// Question 2: Port
	portStr := prompt(reader, "Server port", "3141")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 3141
	}

	// Question 3: Agent command
	fmt.Println()
	fmt.Println("The agent command is spawned once per session; {file} expands to the")
	fmt.Println("session file path.")
	agentCommand := prompt(reader, "Agent command", "pi --mode rpc --session-file {file}")

	configContent := generateConfig(rhoHome, port, agentCommand)

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Println()
	fmt.Printf("Created %s\n", configFile)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit rho.hjson as needed")
	fmt.Println("  2. Run: ./rho")
	fmt.Println("  3. Connect a UI to ws://localhost:" + strconv.Itoa(port) + "/ws")
	fmt.Println()

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}

// escapeHJSONValue escapes a string for safe inclusion in an HJSON double-quoted value.
func escapeHJSONValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func generateConfig(rhoHome string, port int, agentCommand string) string {
	var sb strings.Builder

	sb.WriteString(`{
  // =============================================================================
  // Rho Configuration
  // =============================================================================
  //
  // This is an HJSON file (JSON with comments and relaxed syntax).

  // Rho home directory. Session files live under <home>/agent/sessions,
  // crash reports under <home>/agent/crashes, and the review store at
  // <home>/agent/review.db.
  home: "`)
	sb.WriteString(escapeHJSONValue(rhoHome))
	sb.WriteString(`"

  // ---------------------------------------------------------------------------
  // Server Settings
  // ---------------------------------------------------------------------------
  server: {
    // Host to bind to (use "0.0.0.0" to allow remote access)
    host: "127.0.0.1"

    // Port for the API and WebSocket gateway
    port: `)
	sb.WriteString(strconv.Itoa(port))
	sb.WriteString(`

    // For HTTPS from certificate files, uncomment and set paths:
    // tls_mode: "files"
    // tls_cert: "~/.pi/cert.pem"
    // tls_key: "~/.pi/key.pem"

    // For HTTPS via the local tailscaled:
    // tls_mode: "tailscale"
  }

  // ---------------------------------------------------------------------------
  // Agent
  // ---------------------------------------------------------------------------
  agent: {
    // Argv for the child process spawned per session. {file} expands to the
    // session file path.
    command: [`)
	parts := strings.Fields(agentCommand)
	for i, part := range parts {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(`"` + escapeHJSONValue(part) + `"`)
	}
	sb.WriteString(`]

    // Kill leftover agent processes found at startup instead of only
    // reporting them.
    kill_stale: false
  }

  // ---------------------------------------------------------------------------
  // Gateway Tuning
  // ---------------------------------------------------------------------------
  // gateway: {
  //   // Events buffered per session for reconnect replay
  //   event_buffer_size: 800
  //
  //   // How long command ids are remembered for retry dedupe
  //   command_retention_ms: 300000
  //
  //   // How long a session may run with no connected client before the
  //   // gateway aborts it
  //   orphan_grace_ms: 60000
  // }

  // ---------------------------------------------------------------------------
  // Review
  // ---------------------------------------------------------------------------
  // review: {
  //   // Auto-cancel reviews that stay open longer than this
  //   open_ttl_ms: 1800000
  //
  //   // Per-file snapshot size guard
  //   max_file_bytes: 512000
  // }
}
`)

	return sb.String()
}
