// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the rho gateway.
package config

import (
	"path/filepath"
	"time"
)

// Config is the root configuration structure for rho.
type Config struct {
	Version string        `json:"version"`
	Home    string        `json:"home"` // rho home directory, default ~/.pi
	Server  ServerConfig  `json:"server"`
	Agent   AgentConfig   `json:"agent"`
	Gateway GatewayConfig `json:"gateway"`
	Review  ReviewConfig  `json:"review"`
	Watch   WatchConfig   `json:"watch"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	TLSCert     string `json:"tls_cert"` // Path to TLS certificate file (enables HTTPS if both cert and key set)
	TLSKey      string `json:"tls_key"`  // Path to TLS private key file
	TLSMode     string `json:"tls_mode"` // "", "files", or "tailscale" (cert via tailscaled)
	MaxConns    int    `json:"max_conns"`
	DebugTiming bool   `json:"debug_timing"` // Log per-request timings
}

// AgentConfig configures how agent child processes are spawned.
type AgentConfig struct {
	// Command is the argv template for the RPC child. The token "{file}"
	// is replaced with the session file path.
	Command []string `json:"command"`
	// KillStale kills leftover agent children found at startup instead of
	// only logging them.
	KillStale bool `json:"kill_stale"`
}

// GatewayConfig configures the RPC reliability layer.
type GatewayConfig struct {
	EventBufferSize    int `json:"event_buffer_size"`     // Ring size per session
	CommandRetentionMS int `json:"command_retention_ms"`  // Command dedupe cache TTL
	OrphanGraceMS      int `json:"orphan_grace_ms"`       // Grace before abort when unsubscribed
	OrphanAbortDelayMS int `json:"orphan_abort_delay_ms"` // Delay between abort and stop
}

// ReviewConfig configures the review bus.
type ReviewConfig struct {
	OpenTTLMS    int `json:"open_ttl_ms"`    // Auto-cancel reviews still open after this
	MaxFileBytes int `json:"max_file_bytes"` // Per-file snapshot size guard
}

// WatchConfig configures file watching.
type WatchConfig struct {
	Debounce string `json:"debounce"` // e.g. "100ms"
}

// CommandRetention returns the command cache TTL as a duration.
func (g GatewayConfig) CommandRetention() time.Duration {
	return time.Duration(g.CommandRetentionMS) * time.Millisecond
}

// OrphanGrace returns the orphan grace period as a duration.
func (g GatewayConfig) OrphanGrace() time.Duration {
	return time.Duration(g.OrphanGraceMS) * time.Millisecond
}

// OrphanAbortDelay returns the abort-to-stop delay as a duration.
func (g GatewayConfig) OrphanAbortDelay() time.Duration {
	return time.Duration(g.OrphanAbortDelayMS) * time.Millisecond
}

// OpenTTL returns the review open TTL as a duration.
func (r ReviewConfig) OpenTTL() time.Duration {
	return time.Duration(r.OpenTTLMS) * time.Millisecond
}

// DebounceDuration parses the watch debounce, falling back to 100ms.
func (w WatchConfig) DebounceDuration() time.Duration {
	d, err := time.ParseDuration(w.Debounce)
	if err != nil || d <= 0 {
		return 100 * time.Millisecond
	}
	return d
}

// SessionsDir returns the directory session files live under.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.Home, "agent", "sessions")
}

// CrashesDir returns the directory crash reports are written to.
func (c *Config) CrashesDir() string {
	return filepath.Join(c.Home, "agent", "crashes")
}

// ReviewDBPath returns the path of the durable review store.
func (c *Config) ReviewDBPath() string {
	return filepath.Join(c.Home, "agent", "review.db")
}

// GitContextPath returns the path of the git context file.
func (c *Config) GitContextPath() string {
	return filepath.Join(c.Home, "git-context.json")
}

// BrainPath returns the path of the brain NDJSON log.
func (c *Config) BrainPath() string {
	return filepath.Join(c.Home, "brain.jsonl")
}
