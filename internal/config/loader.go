// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with defaults and environment overrides applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with all defaults applied and no file read.
// The gateway runs fine without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg
}

// FindConfig searches for a config file. It looks for rho.hjson and rho.json
// in the current directory, then in the rho home, then under /etc/rho.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"rho.hjson",
		"rho.json",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".pi", "rho.hjson"))
	}
	candidates = append(candidates, "/etc/rho/rho.hjson")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for rho.hjson, rho.json)")
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3141
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.MaxConns == 0 {
		cfg.Server.MaxConns = 256
	}

	// Home defaults to ~/.pi
	if cfg.Home == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Home = filepath.Join(home, ".pi")
		} else {
			cfg.Home = ".pi"
		}
	}

	// Agent defaults
	if len(cfg.Agent.Command) == 0 {
		cfg.Agent.Command = []string{"pi", "--mode", "rpc", "--session-file", "{file}"}
	}

	// Gateway defaults
	if cfg.Gateway.EventBufferSize == 0 {
		cfg.Gateway.EventBufferSize = 800
	}
	if cfg.Gateway.CommandRetentionMS == 0 {
		cfg.Gateway.CommandRetentionMS = 300000
	}
	if cfg.Gateway.OrphanGraceMS == 0 {
		cfg.Gateway.OrphanGraceMS = 60000
	}
	if cfg.Gateway.OrphanAbortDelayMS == 0 {
		cfg.Gateway.OrphanAbortDelayMS = 5000
	}

	// Review defaults
	if cfg.Review.OpenTTLMS == 0 {
		cfg.Review.OpenTTLMS = 86400000
	}
	if cfg.Review.MaxFileBytes == 0 {
		cfg.Review.MaxFileBytes = 512000
	}

	// Watch defaults
	if cfg.Watch.Debounce == "" {
		cfg.Watch.Debounce = "100ms"
	}
}

// applyEnv overrides config fields from RHO_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RHO_HOME"); v != "" {
		cfg.Home = v
	}
	setIntEnv("RHO_EVENT_BUFFER_SIZE", &cfg.Gateway.EventBufferSize)
	setIntEnv("RHO_COMMAND_RETENTION_MS", &cfg.Gateway.CommandRetentionMS)
	setIntEnv("RHO_ORPHAN_GRACE_MS", &cfg.Gateway.OrphanGraceMS)
	setIntEnv("RHO_ORPHAN_ABORT_DELAY_MS", &cfg.Gateway.OrphanAbortDelayMS)
	setIntEnv("RHO_REVIEW_OPEN_TTL_MS", &cfg.Review.OpenTTLMS)
	setIntEnv("RHO_REVIEW_MAX_FILE_BYTES", &cfg.Review.MaxFileBytes)
	if v := os.Getenv("RHO_DEBUG_TIMING"); v != "" && v != "0" && v != "off" && v != "false" {
		cfg.Server.DebugTiming = true
	}
}

func setIntEnv(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return
	}
	*dst = n
}

// validate rejects configurations the gateway cannot run with.
func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	switch cfg.Server.TLSMode {
	case "", "files", "tailscale":
	default:
		return fmt.Errorf("invalid tls_mode %q (want files or tailscale)", cfg.Server.TLSMode)
	}
	if cfg.Server.TLSMode == "files" {
		if cfg.Server.TLSCert == "" || cfg.Server.TLSKey == "" {
			return fmt.Errorf("tls_mode files requires both tls_cert and tls_key")
		}
	}
	if len(cfg.Agent.Command) == 0 {
		return fmt.Errorf("agent.command must not be empty")
	}
	return nil
}
